// Package catalog queries the imagery catalog for scene identifiers.
//
// Search results are paginated. The client follows every continuation link
// until the catalog stops returning one, accepting both the quick-search
// form ("_links._next") and STAC item collections ("links" with rel=next).
package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	gostac "github.com/planetlabs/go-stac"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/3leaps/glourbee/pkg/temporal"
)

const (
	// DefaultBaseURL is the default catalog endpoint.
	DefaultBaseURL = "https://api.planet.com/data/v1"

	// DefaultItemType is the default item type searched.
	DefaultItemType = "PSScene"

	// DefaultMaxPages bounds pagination to protect against link loops.
	DefaultMaxPages = 1000

	maxErrorBody = 4 << 10
)

// Config configures a Client.
type Config struct {
	BaseURL string
	APIKey  string

	// RateLimit caps requests per second. Zero disables limiting.
	RateLimit float64

	Timeout    time.Duration
	MaxPages   int
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client searches the catalog.
type Client struct {
	baseURL    string
	apiKey     string
	maxPages   int
	limiter    *rate.Limiter
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a catalog client.
func NewClient(cfg Config) (*Client, error) {
	base := strings.TrimSuffix(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	if cfg.RateLimit < 0 {
		return nil, fmt.Errorf("catalog rate limit must be >= 0")
	}
	c := &Client{
		baseURL:    base,
		apiKey:     cfg.APIKey,
		maxPages:   cfg.MaxPages,
		httpClient: cfg.HTTPClient,
		logger:     cfg.Logger,
	}
	if c.maxPages <= 0 {
		c.maxPages = DefaultMaxPages
	}
	if c.httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		c.httpClient = &http.Client{Timeout: timeout}
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	if cfg.RateLimit > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}
	return c, nil
}

type searchRequest struct {
	ItemTypes []string `json:"item_types"`
	Filter    Filter   `json:"filter"`
}

type feature struct {
	ID string `json:"id"`
}

// searchPage accepts both pagination dialects.
type searchPage struct {
	Features []feature `json:"features"`
	Links    struct {
		Next string `json:"_next"`
	} `json:"_links"`
	STACLinks []*gostac.Link `json:"links"`
}

func (p *searchPage) next() string {
	if p.Links.Next != "" {
		return p.Links.Next
	}
	for _, l := range p.STACLinks {
		if l != nil && l.Rel == "next" && l.Href != "" {
			return l.Href
		}
	}
	return ""
}

// SearchIDs returns the identifiers of every item matching filter,
// following continuation links until exhausted.
func (c *Client) SearchIDs(ctx context.Context, itemTypes []string, filter Filter) ([]string, error) {
	if len(itemTypes) == 0 {
		itemTypes = []string{DefaultItemType}
	}
	body, err := json.Marshal(searchRequest{ItemTypes: itemTypes, Filter: filter})
	if err != nil {
		return nil, fmt.Errorf("encode search: %w", err)
	}

	page, err := c.fetch(ctx, http.MethodPost, c.baseURL+"/quick-search", body)
	if err != nil {
		return nil, err
	}

	var ids []string
	visited := map[string]bool{}
	for n := 1; ; n++ {
		for _, f := range page.Features {
			ids = append(ids, f.ID)
		}
		next := page.next()
		c.logger.Debug("catalog page",
			zap.Int("page", n),
			zap.Int("features", len(page.Features)),
			zap.Bool("has_next", next != ""))

		if next == "" || len(page.Features) == 0 {
			return ids, nil
		}
		if visited[next] {
			return nil, fmt.Errorf("catalog pagination loops back to %s", next)
		}
		if n >= c.maxPages {
			return nil, fmt.Errorf("catalog pagination exceeded %d pages", c.maxPages)
		}
		visited[next] = true

		if page, err = c.fetch(ctx, http.MethodGet, next, nil); err != nil {
			return nil, err
		}
	}
}

func (c *Client) fetch(ctx context.Context, method, url string, body []byte) (*searchPage, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("create catalog request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.SetBasicAuth(c.apiKey, "")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("catalog request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, fmt.Errorf("catalog returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var page searchPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("decode catalog response: %w", err)
	}
	return &page, nil
}

// SelectByInterval keeps scenes at least intervalDays apart. Scene ids
// carry their acquisition date as a YYYYMMDD prefix.
func SelectByInterval(ids []string, intervalDays int) ([]string, error) {
	return temporal.Select(ids, intervalDays)
}
