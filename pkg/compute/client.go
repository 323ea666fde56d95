package compute

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/glourbee/pkg/graph"
)

const (
	// DefaultBaseURL is the default compute service endpoint.
	DefaultBaseURL = "https://earthengine.googleapis.com/v1"

	// DefaultProject is the default cloud project.
	DefaultProject = "ee-glourb"

	// DefaultTimeout bounds a single remote call.
	DefaultTimeout = 60 * time.Second

	// DefaultPageSize is the task listing page size.
	DefaultPageSize = 500

	userAgent = "glourbee"

	// maxErrorBody caps how much of an error response is kept.
	maxErrorBody = 4 << 10
)

// Config configures a Client.
type Config struct {
	// BaseURL is the service endpoint. Defaults to DefaultBaseURL.
	BaseURL string

	// Project owns tasks and exported assets. Defaults to DefaultProject.
	Project string

	// Token is sent as a bearer token when set.
	Token string

	// AssetFolder is the folder receiving exports. Defaults to
	// DefaultAssetFolder.
	AssetFolder string

	// Timeout bounds each call. Defaults to DefaultTimeout.
	Timeout time.Duration

	// PageSize is the task listing page size. Defaults to DefaultPageSize.
	PageSize int

	// HTTPClient overrides the transport (tests).
	HTTPClient *http.Client

	Logger *zap.Logger
}

// Client talks to the compute service over REST.
type Client struct {
	baseURL     string
	project     string
	token       string
	assetFolder string
	pageSize    int
	httpClient  *http.Client
	logger      *zap.Logger
}

var (
	_ Service       = (*Client)(nil)
	_ TableSource   = (*Client)(nil)
	_ FeatureLister = (*Client)(nil)
)

// NewClient creates a compute client.
func NewClient(cfg Config) (*Client, error) {
	base := strings.TrimSuffix(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("invalid compute base url %q: %w", cfg.BaseURL, err)
	}
	project := strings.TrimSpace(cfg.Project)
	if project == "" {
		project = DefaultProject
	}
	folder := cfg.AssetFolder
	if folder == "" {
		folder = DefaultAssetFolder
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		httpClient = &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 100,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		baseURL:     base,
		project:     project,
		token:       cfg.Token,
		assetFolder: folder,
		pageSize:    pageSize,
		httpClient:  httpClient,
		logger:      logger,
	}, nil
}

// Project returns the project owning tasks and assets.
func (c *Client) Project() string { return c.project }

// AssetID returns the export asset id for name in the configured folder.
func (c *Client) AssetID(name string) string {
	return AssetID(c.project, c.assetFolder, name)
}

// Export submits an asynchronous table export.
func (c *Client) Export(ctx context.Context, req ExportRequest) (*Task, error) {
	if req.Expression == nil {
		return nil, &RemoteError{Op: "Export", Message: "missing expression", Err: ErrRejected}
	}
	var task Task
	if err := c.doJSON(ctx, "Export", http.MethodPost, c.projectPath("table:export"), nil, req, &task); err != nil {
		return nil, err
	}
	if task.Description == "" {
		task.Description = req.Description
	}
	if task.State == "" {
		task.State = StatePending
	}
	c.logger.Debug("export submitted",
		zap.String("task_id", task.ID),
		zap.String("asset_id", req.AssetID),
		zap.String("description", req.Description))
	return &task, nil
}

type listTasksResponse struct {
	Tasks         []Task `json:"tasks"`
	NextPageToken string `json:"nextPageToken"`
}

// ListTasks returns every task of the project, following page tokens until
// exhausted.
func (c *Client) ListTasks(ctx context.Context) ([]Task, error) {
	var out []Task
	token := ""
	for page := 0; ; page++ {
		q := url.Values{}
		q.Set("pageSize", fmt.Sprint(c.pageSize))
		if token != "" {
			q.Set("pageToken", token)
		}

		var resp listTasksResponse
		if err := c.doJSON(ctx, "ListTasks", http.MethodGet, c.projectPath("tasks"), q, nil, &resp); err != nil {
			return nil, err
		}
		out = append(out, resp.Tasks...)

		c.logger.Debug("task page listed",
			zap.Int("page", page),
			zap.Int("tasks", len(resp.Tasks)),
			zap.Bool("has_next", resp.NextPageToken != ""))

		if resp.NextPageToken == "" || resp.NextPageToken == token {
			return out, nil
		}
		token = resp.NextPageToken
	}
}

// CancelTask requests cancellation of taskID.
func (c *Client) CancelTask(ctx context.Context, taskID string) error {
	p := c.projectPath("tasks/" + url.PathEscape(taskID) + ":cancel")
	return c.doJSON(ctx, "CancelTask", http.MethodPost, p, nil, struct{}{}, nil)
}

// DeleteAsset deletes assetID.
func (c *Client) DeleteAsset(ctx context.Context, assetID string) error {
	return c.doJSON(ctx, "DeleteAsset", http.MethodDelete, "/"+assetID, nil, nil, nil)
}

type aggregateResponse struct {
	Values []json.RawMessage `json:"values"`
}

// FeatureIDs returns the values of property for every feature of assetID,
// rendered as strings. Numbers keep their literal form.
func (c *Client) FeatureIDs(ctx context.Context, assetID, property string) ([]string, error) {
	q := url.Values{}
	q.Set("property", property)

	var resp aggregateResponse
	if err := c.doJSON(ctx, "FeatureIDs", http.MethodGet, "/"+assetID+":aggregateArray", q, nil, &resp); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(resp.Values))
	for _, raw := range resp.Values {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			ids = append(ids, s)
			continue
		}
		ids = append(ids, strings.TrimSpace(string(raw)))
	}
	return ids, nil
}

// DownloadTable writes assetID as CSV to w.
func (c *Client) DownloadTable(ctx context.Context, assetID string, columns []string, w io.Writer) error {
	q := url.Values{}
	q.Set("format", "CSV")
	if len(columns) > 0 {
		q.Set("selectors", strings.Join(columns, ","))
	}
	return c.stream(ctx, "DownloadTable", http.MethodGet, "/"+assetID+":download", q, nil, w)
}

type computeTableRequest struct {
	Expression *graph.Node `json:"expression"`
	Format     string      `json:"fileFormat"`
}

// ComputeTable evaluates expr synchronously and writes the table as CSV to w.
func (c *Client) ComputeTable(ctx context.Context, expr *graph.Node, w io.Writer) error {
	if expr == nil {
		return &RemoteError{Op: "ComputeTable", Message: "missing expression", Err: ErrRejected}
	}
	body := computeTableRequest{Expression: expr, Format: "CSV"}
	return c.stream(ctx, "ComputeTable", http.MethodPost, c.projectPath("table:compute"), nil, body, w)
}

func (c *Client) projectPath(suffix string) string {
	return "/projects/" + url.PathEscape(c.project) + "/" + suffix
}

func (c *Client) doJSON(ctx context.Context, op, method, p string, q url.Values, body, out any) error {
	resp, err := c.send(ctx, op, method, p, q, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &RemoteError{Op: op, StatusCode: resp.StatusCode, Message: fmt.Sprintf("decode response: %v", err), Err: ErrUnavailable}
	}
	return nil
}

func (c *Client) stream(ctx context.Context, op, method, p string, q url.Values, body any, w io.Writer) error {
	resp, err := c.send(ctx, op, method, p, q, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if _, err := io.Copy(w, resp.Body); err != nil {
		return NewTransportError(op, err)
	}
	return nil
}

// send performs the request and returns the response only for 2xx status.
func (c *Client) send(ctx context.Context, op, method, p string, q url.Values, body any) (*http.Response, error) {
	target := c.baseURL + p
	if len(q) > 0 {
		target += "?" + q.Encode()
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("compute %s: encode request: %w", op, err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("compute %s: create request: %w", op, err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		c.logger.Debug("compute request failed",
			zap.String("op", op),
			zap.String("url", target),
			zap.Error(err))
		return nil, NewTransportError(op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		c.logger.Debug("compute request rejected",
			zap.String("op", op),
			zap.Int("status_code", resp.StatusCode),
			zap.String("response_body", string(raw)))
		return nil, NewStatusError(op, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return resp, nil
}
