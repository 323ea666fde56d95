// Package ledger records per-item fan-out outcomes in a SQLite database.
//
// Every remote side effect of a run (submission, cancellation, download,
// deletion) produces one row, so partial failures stay visible after the
// process exits. Local builds use modernc.org/sqlite; cgo builds use libsql,
// which also accepts remote Turso URLs.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

type Config struct {
	// Path is a local filesystem path to the ledger database.
	// If set, it is converted into a libsql-compatible DSN (file:<path>).
	Path string

	// URL is a libsql/Turso URL, e.g. libsql://your-db.turso.io.
	URL string

	// AuthToken is appended to URL-based DSNs as authToken=... when not already present.
	AuthToken string
}

func buildDSN(cfg Config) (string, error) {
	if u := strings.TrimSpace(cfg.URL); u != "" {
		if strings.TrimSpace(cfg.AuthToken) == "" {
			return u, nil
		}
		parsed, err := url.Parse(u)
		if err != nil {
			return "", fmt.Errorf("invalid ledger url: %w", err)
		}
		q := parsed.Query()
		if q.Get("authToken") == "" {
			q.Set("authToken", cfg.AuthToken)
			parsed.RawQuery = q.Encode()
		}
		return parsed.String(), nil
	}

	p := strings.TrimSpace(cfg.Path)
	switch {
	case p == "":
		return "", errors.New("ledger path or url is required")
	case p == ":memory:":
		return p, nil
	case strings.HasPrefix(p, "file:"):
		local := strings.TrimPrefix(strings.TrimPrefix(p, "file:"), "//")
		if i := strings.IndexByte(local, '?'); i >= 0 {
			local = local[:i]
		}
		if err := ensureDir(local); err != nil {
			return "", err
		}
		return p, nil
	}

	if err := ensureDir(p); err != nil {
		return "", err
	}
	return "file:" + filepath.Clean(p), nil
}

func ensureDir(p string) error {
	dir := filepath.Dir(filepath.Clean(p))
	if dir == "." || dir == string(filepath.Separator) {
		return nil
	}
	// #nosec G301 -- data directories use 0755 for multi-user access compatibility
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create ledger directory: %w", err)
	}
	return nil
}

// tuneLocal applies WAL and a busy timeout to local file databases so
// concurrent CLI invocations wait instead of failing.
func tuneLocal(ctx context.Context, db *sql.DB, dsn string) error {
	if !strings.HasPrefix(dsn, "file:") {
		return nil
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var journalMode string
	if err := db.QueryRowContext(ctx, "PRAGMA journal_mode=WAL").Scan(&journalMode); err != nil {
		return fmt.Errorf("enable WAL mode: %w", err)
	}
	var busyTimeout int
	if err := db.QueryRowContext(ctx, "PRAGMA busy_timeout=5000").Scan(&busyTimeout); err != nil {
		return fmt.Errorf("set busy timeout: %w", err)
	}
	return nil
}

// openDSN is shared by both driver builds.
func openDSN(ctx context.Context, driver, dsn string) (*sql.DB, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	if dsn == ":memory:" {
		// Every pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping ledger: %w", err)
	}
	if err := tuneLocal(ctx, db, dsn); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}
