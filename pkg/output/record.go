// Package output provides JSONL output for run reports.
//
// Output is structured as typed record envelopes containing runs, tasks,
// per-item outcomes, errors and summaries. Each line is a self-contained
// JSON object that can be parsed independently.
package output

import (
	"encoding/json"
	"errors"
	"time"
)

// Record type constants follow the pattern glourbee.<type>.v<version>.
const (
	TypeRun     = "glourbee.run.v1"
	TypeTask    = "glourbee.task.v1"
	TypeItem    = "glourbee.item.v1"
	TypeImage   = "glourbee.image.v1"
	TypeError   = "glourbee.error.v1"
	TypeSummary = "glourbee.summary.v1"
)

// Record is the envelope for all JSONL output.
type Record struct {
	// Type identifies the record type (e.g. "glourbee.task.v1").
	Type string `json:"type"`

	TS time.Time `json:"ts"`

	// RunID is the run token the record belongs to, if any.
	RunID string `json:"run_id,omitempty"`

	// Project is the compute project.
	Project string `json:"project,omitempty"`

	Data json.RawMessage `json:"data"`
}

// RunRecord describes a run as registered.
type RunRecord struct {
	Name      string    `json:"name,omitempty"`
	Kind      string    `json:"kind"`
	Phase     string    `json:"phase,omitempty"`
	Satellite string    `json:"satellite,omitempty"`
	DGOAsset  string    `json:"dgo_asset,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
	Total     int       `json:"total"`
	Submitted int       `json:"submitted"`
	Failed    int       `json:"failed"`
}

// TaskRecord is the observed state of one remote task.
type TaskRecord struct {
	Index        int    `json:"index"`
	TaskID       string `json:"task_id"`
	State        string `json:"state"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// ItemRecord is the outcome of one per-sub-job operation.
type ItemRecord struct {
	// Op is the operation: submit, cancel, download or delete.
	Op      string `json:"op"`
	Index   int    `json:"index"`
	TaskID  string `json:"task_id,omitempty"`
	Target  string `json:"target,omitempty"`
	Outcome string `json:"outcome"`
	Error   string `json:"error,omitempty"`
}

// ImageRecord is one catalog scene kept by the temporal selector.
type ImageRecord struct {
	ID   string `json:"id"`
	Date string `json:"date"`
}

// ErrorRecord is the data payload for errors.
//
// Errors are emitted as records rather than failing the whole command,
// allowing partial results when some sub-jobs fail.
type ErrorRecord struct {
	// Code is a machine-readable error code.
	Code string `json:"code"`

	Message string `json:"message"`

	// Target is the task or asset related to this error, if applicable.
	Target string `json:"target,omitempty"`

	Details any `json:"details,omitempty"`
}

// Error codes for ErrorRecord.
const (
	ErrCodeConfiguration = "CONFIGURATION"
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeRejected      = "REJECTED"
	ErrCodeThrottled     = "THROTTLED"
	ErrCodeUnavailable   = "UNAVAILABLE"
	ErrCodeTimeout       = "TIMEOUT"
	ErrCodeInternal      = "INTERNAL"
)

// SummaryRecord closes the output of one command.
type SummaryRecord struct {
	// Op is the command that produced the output (status, collect, ...).
	Op string `json:"op"`

	Total int `json:"total"`

	// Counts maps a state or outcome to its count.
	Counts map[string]int `json:"counts,omitempty"`

	Errors int `json:"errors"`

	Duration      time.Duration `json:"duration_ns"`
	DurationHuman string        `json:"duration"`

	// Path is the written output, for collect.
	Path string `json:"path,omitempty"`
}

// ErrWriterClosed is returned when writing to a closed writer.
var ErrWriterClosed = errors.New("writer is closed")

// WriteError wraps errors that occur during write operations.
type WriteError struct {
	Op  string // marshal_data, marshal_record or write
	Err error
}

func (e *WriteError) Error() string {
	return "output: " + e.Op + ": " + e.Err.Error()
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
