package output

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRun = "0123456789abcdef0123456789abcdef"

func decodeLines(t *testing.T, buf *bytes.Buffer) []Record {
	t.Helper()
	var out []Record
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var rec Record
		require.NoError(t, json.Unmarshal([]byte(line), &rec), "line: %s", line)
		out = append(out, rec)
	}
	return out
}

func TestJSONLWriter_Envelope(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, testRun, "ee-glourb")
	fixed := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	w.now = func() time.Time { return fixed }

	require.NoError(t, w.WriteTask(context.Background(), &TaskRecord{Index: 2, TaskID: "T002", State: "RUNNING"}))

	recs := decodeLines(t, &buf)
	require.Len(t, recs, 1)
	assert.Equal(t, TypeTask, recs[0].Type)
	assert.Equal(t, testRun, recs[0].RunID)
	assert.Equal(t, "ee-glourb", recs[0].Project)
	assert.Equal(t, fixed, recs[0].TS)

	var task TaskRecord
	require.NoError(t, json.Unmarshal(recs[0].Data, &task))
	assert.Equal(t, TaskRecord{Index: 2, TaskID: "T002", State: "RUNNING"}, task)
}

func TestJSONLWriter_RecordTypes(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, testRun, "ee-glourb")
	ctx := context.Background()

	require.NoError(t, w.WriteRun(ctx, &RunRecord{Kind: "fanout", Total: 3, Submitted: 3}))
	require.NoError(t, w.WriteItem(ctx, &ItemRecord{Op: "submit", Index: 1, TaskID: "T001", Outcome: "ok"}))
	require.NoError(t, w.WriteImage(ctx, &ImageRecord{ID: "20200101_101010_1_0f22", Date: "2020-01-01"}))
	require.NoError(t, w.WriteError(ctx, &ErrorRecord{Code: ErrCodeRejected, Message: "bad selector"}))
	require.NoError(t, w.WriteSummary(ctx, &SummaryRecord{Op: "status", Total: 3, Counts: map[string]int{"COMPLETED": 3}}))

	recs := decodeLines(t, &buf)
	types := make([]string, len(recs))
	for i, r := range recs {
		types[i] = r.Type
	}
	assert.Equal(t, []string{TypeRun, TypeItem, TypeImage, TypeError, TypeSummary}, types)

	var sum SummaryRecord
	require.NoError(t, json.Unmarshal(recs[4].Data, &sum))
	assert.Equal(t, 3, sum.Counts["COMPLETED"])
}

func TestJSONLWriter_OmitRunID(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "", "")
	require.NoError(t, w.WriteImage(context.Background(), &ImageRecord{ID: "x", Date: "2020-01-01"}))
	assert.NotContains(t, buf.String(), "run_id")
	assert.NotContains(t, buf.String(), "project")
}

func TestJSONLWriter_Close(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, testRun, "p")

	require.NoError(t, w.Close())
	err := w.WriteTask(context.Background(), &TaskRecord{TaskID: "T001"})
	assert.ErrorIs(t, err, ErrWriterClosed)
}

func TestJSONLWriter_ConcurrentWrites(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, testRun, "p")

	const writers = 10
	const perWriter = 100

	var wg sync.WaitGroup
	wg.Add(writers)
	for i := 0; i < writers; i++ {
		go func(id int) {
			defer wg.Done()
			for j := 0; j < perWriter; j++ {
				_ = w.WriteItem(context.Background(), &ItemRecord{Op: "download", Index: id*perWriter + j, Outcome: "ok"})
			}
		}(i)
	}
	wg.Wait()

	assert.Len(t, decodeLines(t, &buf), writers*perWriter)
}

func TestJSONLWriter_ContextCancellation(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, testRun, "p")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := w.WriteTask(ctx, &TaskRecord{TaskID: "T001"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, buf.String())
}

// flakyWriter accepts at most chunk bytes per call and then fails with err
// once budget calls are spent.
type flakyWriter struct {
	buf    bytes.Buffer
	chunk  int
	budget int
	err    error
}

func (f *flakyWriter) Write(p []byte) (int, error) {
	if f.budget == 0 {
		return 0, f.err
	}
	f.budget--
	return f.buf.Write(p[:min(len(p), f.chunk)])
}

func TestJSONLWriter_UnderlyingWrites(t *testing.T) {
	diskFull := errors.New("disk full")
	tests := []struct {
		name    string
		w       *flakyWriter
		wantErr error
	}{
		{"short writes are retried", &flakyWriter{chunk: 7, budget: -1}, nil},
		{"write failure", &flakyWriter{chunk: 7, budget: 2, err: diskFull}, diskFull},
		{"zero-length write", &flakyWriter{chunk: 0, budget: -1}, io.ErrShortWrite},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := NewJSONLWriter(tt.w, testRun, "p")
			err := w.WriteTask(context.Background(), &TaskRecord{Index: 1, TaskID: "T001", State: "COMPLETED"})
			if tt.wantErr == nil {
				require.NoError(t, err)
				assert.Len(t, decodeLines(t, &tt.w.buf), 1)
				return
			}
			var we *WriteError
			require.ErrorAs(t, err, &we)
			assert.Equal(t, "write", we.Op)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestWriteError(t *testing.T) {
	underlying := errors.New("underlying error")
	err := &WriteError{Op: "marshal_data", Err: underlying}

	assert.Equal(t, "output: marshal_data: underlying error", err.Error())
	assert.ErrorIs(t, err, underlying)
}

func TestErrorRecord_OmitEmpty(t *testing.T) {
	data, err := json.Marshal(&ErrorRecord{Code: ErrCodeNotFound, Message: "gone"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"code":"NOT_FOUND","message":"gone"}`, string(data))
}
