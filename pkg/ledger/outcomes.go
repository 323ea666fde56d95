package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Operations recorded in the ledger.
const (
	OpSubmit   = "submit"
	OpCancel   = "cancel"
	OpDownload = "download"
	OpDelete   = "delete"
)

// Outcomes recorded in the ledger.
const (
	OutcomeOK       = "ok"
	OutcomeFailed   = "failed"
	OutcomeSkipped  = "skipped"
	OutcomeCached   = "cached"
	OutcomeFallback = "fallback"
)

// Entry is one per-item outcome.
type Entry struct {
	RunID      string    `json:"run_id"`
	Op         string    `json:"op"`
	Index      int       `json:"index"`
	Target     string    `json:"target"`
	Outcome    string    `json:"outcome"`
	Detail     string    `json:"detail,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// OutcomeCount aggregates entries of one run by operation and outcome.
type OutcomeCount struct {
	Op      string `json:"op"`
	Outcome string `json:"outcome"`
	Count   int    `json:"count"`
}

// Record inserts e. A zero RecordedAt is set to now.
func Record(ctx context.Context, db *sql.DB, e Entry) error {
	if db == nil {
		return fmt.Errorf("db is nil")
	}
	if strings.TrimSpace(e.RunID) == "" || strings.TrimSpace(e.Op) == "" || strings.TrimSpace(e.Outcome) == "" {
		return fmt.Errorf("run_id, op and outcome are required")
	}
	if e.RecordedAt.IsZero() {
		e.RecordedAt = time.Now().UTC()
	}

	_, err := db.ExecContext(ctx,
		`INSERT INTO outcomes (run_id, op, item_index, target, outcome, detail, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.RunID, e.Op, e.Index, e.Target, e.Outcome, nullString(e.Detail), e.RecordedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert outcome: %w", err)
	}
	return nil
}

// Summarize counts the outcomes of runID by operation and outcome.
func Summarize(ctx context.Context, db *sql.DB, runID string) ([]OutcomeCount, error) {
	if db == nil {
		return nil, fmt.Errorf("db is nil")
	}
	rows, err := db.QueryContext(ctx,
		`SELECT op, outcome, COUNT(*) FROM outcomes
		 WHERE run_id = ?
		 GROUP BY op, outcome
		 ORDER BY op, outcome`, runID)
	if err != nil {
		return nil, fmt.Errorf("summarize outcomes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []OutcomeCount
	for rows.Next() {
		var c OutcomeCount
		if err := rows.Scan(&c.Op, &c.Outcome, &c.Count); err != nil {
			return nil, fmt.Errorf("scan outcome count: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// History returns the entries of runID in insertion order. An empty op
// returns every operation.
func History(ctx context.Context, db *sql.DB, runID, op string) ([]Entry, error) {
	if db == nil {
		return nil, fmt.Errorf("db is nil")
	}
	q := `SELECT run_id, op, item_index, target, outcome, detail, recorded_at
		FROM outcomes WHERE run_id = ?`
	args := []any{runID}
	if op != "" {
		q += ` AND op = ?`
		args = append(args, op)
	}
	q += ` ORDER BY id`

	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query outcomes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Entry
	for rows.Next() {
		var (
			e        Entry
			detail   sql.NullString
			recorded string
		)
		if err := rows.Scan(&e.RunID, &e.Op, &e.Index, &e.Target, &e.Outcome, &detail, &recorded); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		e.Detail = detail.String
		if ts, err := time.Parse(time.RFC3339Nano, recorded); err == nil {
			e.RecordedAt = ts
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// DeleteRun removes every entry of runID and returns how many were removed.
func DeleteRun(ctx context.Context, db *sql.DB, runID string) (int64, error) {
	if db == nil {
		return 0, fmt.Errorf("db is nil")
	}
	res, err := db.ExecContext(ctx, `DELETE FROM outcomes WHERE run_id = ?`, runID)
	if err != nil {
		return 0, fmt.Errorf("delete outcomes: %w", err)
	}
	return res.RowsAffected()
}

// Ledger binds the package functions to one database.
type Ledger struct {
	db *sql.DB
}

// New wraps db. The schema must already be migrated.
func New(db *sql.DB) *Ledger {
	return &Ledger{db: db}
}

// Record inserts e.
func (l *Ledger) Record(ctx context.Context, e Entry) error {
	return Record(ctx, l.db, e)
}

// Summarize counts the outcomes of runID.
func (l *Ledger) Summarize(ctx context.Context, runID string) ([]OutcomeCount, error) {
	return Summarize(ctx, l.db, runID)
}

// History returns the entries of runID.
func (l *Ledger) History(ctx context.Context, runID, op string) ([]Entry, error) {
	return History(ctx, l.db, runID, op)
}

// DeleteRun removes every entry of runID.
func (l *Ledger) DeleteRun(ctx context.Context, runID string) (int64, error) {
	return DeleteRun(ctx, l.db, runID)
}

// Ping checks the database connection.
func (l *Ledger) Ping(ctx context.Context) error {
	return l.db.PingContext(ctx)
}

// Close closes the underlying database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
