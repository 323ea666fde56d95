// Package dataset retrieves exported tables into a local cache.
//
// Downloads are idempotent: a cached file is reused unless an overwrite is
// requested, and new files appear atomically (temp file + rename), so
// concurrent fetches of the same asset never observe a partial table.
package dataset

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/3leaps/glourbee/pkg/compute"
	"github.com/3leaps/glourbee/pkg/table"
)

// FormatFallbackError reports that the service refused a column-restricted
// download. Fetch handles it by downloading the full table and selecting
// the columns locally; callers only see it through FetchResult.
type FormatFallbackError struct {
	AssetID string
	Columns []string
	Err     error
}

func (e *FormatFallbackError) Error() string {
	return fmt.Sprintf("column-restricted download of %s rejected (%s): %v",
		e.AssetID, strings.Join(e.Columns, ","), e.Err)
}

func (e *FormatFallbackError) Unwrap() error {
	return e.Err
}

// FetchOptions controls a single fetch.
type FetchOptions struct {
	// Columns pre-filters the download. Entries may be doublestar
	// patterns when the fallback path applies; the service receives them
	// verbatim.
	Columns []string

	// Overwrite re-downloads even when a cached file exists.
	Overwrite bool
}

// FetchResult describes how a table was obtained.
type FetchResult struct {
	Path string

	// Cached is true when an existing file was reused.
	Cached bool

	// Fallback is set when the column-restricted download was rejected
	// and the full table was downloaded instead.
	Fallback *FormatFallbackError

	Rows int
}

// Fetcher downloads tables from a compute.TableSource.
type Fetcher struct {
	src    compute.TableSource
	logger *zap.Logger
}

// NewFetcher creates a fetcher. A nil logger disables logging.
func NewFetcher(src compute.TableSource, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{src: src, logger: logger}
}

// Fetch stores the normalized table of assetID at dest. System columns
// are removed before the file is written.
func (f *Fetcher) Fetch(ctx context.Context, assetID, dest string, opts FetchOptions) (FetchResult, error) {
	res := FetchResult{Path: dest}
	if !opts.Overwrite {
		if st, err := os.Stat(dest); err == nil && st.Mode().IsRegular() {
			res.Cached = true
			return res, nil
		}
	}

	tbl, fallback, err := f.download(ctx, assetID, opts.Columns)
	if err != nil {
		return res, err
	}
	res.Fallback = fallback

	tbl = Normalize(tbl)
	if err := tbl.WriteCSVFile(dest); err != nil {
		return res, err
	}
	res.Rows = tbl.Len()
	return res, nil
}

func (f *Fetcher) download(ctx context.Context, assetID string, columns []string) (*table.Table, *FormatFallbackError, error) {
	if len(columns) == 0 {
		tbl, err := f.get(ctx, assetID, nil)
		return tbl, nil, err
	}

	tbl, err := f.get(ctx, assetID, columns)
	if err == nil {
		return tbl, nil, nil
	}
	if !rejectsSelectors(err) {
		return nil, nil, err
	}

	fallback := &FormatFallbackError{AssetID: assetID, Columns: columns, Err: err}
	f.logger.Debug("column-restricted download rejected, downloading full table",
		zap.String("asset_id", assetID),
		zap.Error(err))

	full, err := f.get(ctx, assetID, nil)
	if err != nil {
		return nil, fallback, err
	}
	patterns := append([]string(nil), columns...)
	patterns = append(patterns, table.SystemColumns...)
	selected, err := full.SelectColumns(patterns...)
	if err != nil {
		return nil, fallback, err
	}
	return selected, fallback, nil
}

func (f *Fetcher) get(ctx context.Context, assetID string, columns []string) (*table.Table, error) {
	var buf bytes.Buffer
	if err := f.src.DownloadTable(ctx, assetID, columns, &buf); err != nil {
		return nil, err
	}
	tbl, err := table.ReadCSV(&buf)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", assetID, err)
	}
	return tbl, nil
}

// rejectsSelectors reports whether err is a client-side refusal that a
// plain download may avoid. Auth, not-found and throttling responses are
// not.
func rejectsSelectors(err error) bool {
	if errors.Is(err, compute.ErrRejected) {
		return true
	}
	code := compute.StatusCode(err)
	return code >= 400 && code < 500 &&
		!compute.IsNotFound(err) &&
		!errors.Is(err, compute.ErrUnauthorized) &&
		!compute.IsTransient(err)
}

// Normalize drops the system columns added by the compute service.
func Normalize(t *table.Table) *table.Table {
	return t.DropColumns(table.SystemColumns...)
}
