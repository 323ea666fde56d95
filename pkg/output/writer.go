package output

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// Writer outputs JSONL records for run reports.
//
// Implementations must be safe for concurrent use. Each Write* method emits
// a complete record as a single line of JSON followed by a newline.
type Writer interface {
	WriteRun(ctx context.Context, run *RunRecord) error
	WriteTask(ctx context.Context, task *TaskRecord) error
	WriteItem(ctx context.Context, item *ItemRecord) error
	WriteImage(ctx context.Context, img *ImageRecord) error
	WriteError(ctx context.Context, err *ErrorRecord) error
	WriteSummary(ctx context.Context, sum *SummaryRecord) error

	// Close flushes any buffered output and releases resources.
	Close() error
}

// JSONLWriter writes records as newline-delimited JSON to an io.Writer.
//
// Writes are serialized with a mutex so lines never interleave.
type JSONLWriter struct {
	w       io.Writer
	runID   string
	project string
	mu      sync.Mutex
	now     func() time.Time

	closed bool
}

// NewJSONLWriter creates a JSONL writer stamping every record with runID
// and project. runID may be empty for output not tied to a run.
func NewJSONLWriter(w io.Writer, runID, project string) *JSONLWriter {
	return &JSONLWriter{
		w:       w,
		runID:   runID,
		project: project,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (jw *JSONLWriter) WriteRun(ctx context.Context, run *RunRecord) error {
	return jw.writeRecord(ctx, TypeRun, run)
}

func (jw *JSONLWriter) WriteTask(ctx context.Context, task *TaskRecord) error {
	return jw.writeRecord(ctx, TypeTask, task)
}

func (jw *JSONLWriter) WriteItem(ctx context.Context, item *ItemRecord) error {
	return jw.writeRecord(ctx, TypeItem, item)
}

func (jw *JSONLWriter) WriteImage(ctx context.Context, img *ImageRecord) error {
	return jw.writeRecord(ctx, TypeImage, img)
}

// WriteError emits an error record.
func (jw *JSONLWriter) WriteError(ctx context.Context, err *ErrorRecord) error {
	return jw.writeRecord(ctx, TypeError, err)
}

// WriteSummary emits a summary record.
func (jw *JSONLWriter) WriteSummary(ctx context.Context, sum *SummaryRecord) error {
	return jw.writeRecord(ctx, TypeSummary, sum)
}

// Close stops further writes. The underlying io.Writer stays open; it
// belongs to the caller.
func (jw *JSONLWriter) Close() error {
	jw.mu.Lock()
	jw.closed = true
	jw.mu.Unlock()
	return nil
}

func (jw *JSONLWriter) writeRecord(ctx context.Context, recordType string, data any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return &WriteError{Op: "marshal_data", Err: err}
	}

	jw.mu.Lock()
	defer jw.mu.Unlock()
	switch {
	case jw.closed:
		return ErrWriterClosed
	case ctx.Err() != nil:
		return ctx.Err()
	}

	var line bytes.Buffer
	env := Record{Type: recordType, TS: jw.now(), RunID: jw.runID, Project: jw.project, Data: payload}
	if err := json.NewEncoder(&line).Encode(env); err != nil {
		return &WriteError{Op: "marshal_record", Err: err}
	}
	// Retry short writes so a line is never truncated.
	for rest := line.Bytes(); len(rest) > 0; {
		n, err := jw.w.Write(rest)
		if err == nil && n == 0 {
			err = io.ErrShortWrite
		}
		if err != nil {
			return &WriteError{Op: "write", Err: err}
		}
		rest = rest[n:]
	}
	return nil
}

var _ Writer = (*JSONLWriter)(nil)
