package compute

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/glourbee/pkg/graph"
)

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	c, err := NewClient(Config{BaseURL: srv.URL, Project: "proj", Token: "secret", PageSize: 2})
	require.NoError(t, err)
	return c
}

func TestNewClient_Defaults(t *testing.T) {
	c, err := NewClient(Config{})
	require.NoError(t, err)
	assert.Equal(t, DefaultProject, c.Project())
	assert.Equal(t, "projects/ee-glourb/assets/metrics/tmp/run_1", c.AssetID("run_1"))
}

func TestClient_Export(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/projects/proj/table:export", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Computation task 1-2 for run abc", body["description"])
		assert.Equal(t, "projects/proj/assets/metrics/tmp/abc_1", body["assetId"])
		assert.NotNil(t, body["expression"])

		_ = json.NewEncoder(w).Encode(map[string]any{"id": "T1", "state": "READY"})
	}))

	task, err := c.Export(context.Background(), ExportRequest{
		Description: "Computation task 1-2 for run abc",
		AssetID:     "projects/proj/assets/metrics/tmp/abc_1",
		Expression:  graph.Call("FeatureCollection.load", map[string]any{"tableId": "x"}),
	})
	require.NoError(t, err)
	assert.Equal(t, "T1", task.ID)
	assert.Equal(t, StateReady, task.State)
	assert.Equal(t, "Computation task 1-2 for run abc", task.Description)
}

func TestClient_ExportRequiresExpression(t *testing.T) {
	c, err := NewClient(Config{})
	require.NoError(t, err)

	_, err = c.Export(context.Background(), ExportRequest{Description: "x"})
	require.Error(t, err)
	assert.True(t, IsRejected(err))
}

func TestClient_ListTasksPaginates(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "2", r.URL.Query().Get("pageSize"))
		switch r.URL.Query().Get("pageToken") {
		case "":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"tasks": []map[string]any{
					{"id": "a", "description": "d1", "state": "RUNNING"},
					{"id": "b", "description": "d2", "state": "COMPLETED", "destination_uris": []string{"u"}},
				},
				"nextPageToken": "p2",
			})
		case "p2":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"tasks": []map[string]any{{"id": "c", "description": "d3", "state": "WEIRD"}},
			})
		default:
			t.Errorf("unexpected page token %q", r.URL.Query().Get("pageToken"))
		}
	}))

	tasks, err := c.ListTasks(context.Background())
	require.NoError(t, err)
	require.Len(t, tasks, 3)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, []string{"u"}, tasks[1].DestinationURIs)
	assert.Equal(t, TaskState("WEIRD"), tasks[2].State)
	assert.False(t, tasks[2].State.Known())
}

func TestClient_ErrorClassification(t *testing.T) {
	tests := []struct {
		status    int
		sentinel  error
		transient bool
	}{
		{http.StatusNotFound, ErrNotFound, false},
		{http.StatusForbidden, ErrUnauthorized, false},
		{http.StatusTooManyRequests, ErrThrottled, true},
		{http.StatusBadGateway, ErrUnavailable, true},
		{http.StatusBadRequest, ErrRejected, false},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tt.status)
			}))

			err := c.CancelTask(context.Background(), "T1")
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.sentinel))
			assert.Equal(t, tt.transient, IsTransient(err))
			assert.Equal(t, tt.status, StatusCode(err))

			var re *RemoteError
			require.True(t, errors.As(err, &re))
			assert.Equal(t, "CancelTask", re.Op)
			assert.Contains(t, re.Message, "nope")
		})
	}
}

func TestClient_TransportErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := NewClient(Config{BaseURL: url})
	require.NoError(t, err)

	_, err = c.ListTasks(context.Background())
	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.Equal(t, 0, StatusCode(err))
}

func TestClient_CancelAndDeletePaths(t *testing.T) {
	var seen []string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.Method+" "+r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))

	require.NoError(t, c.CancelTask(context.Background(), "T1"))
	require.NoError(t, c.DeleteAsset(context.Background(), "projects/proj/assets/metrics/tmp/abc_1"))
	assert.Equal(t, []string{
		"POST /projects/proj/tasks/T1:cancel",
		"DELETE /projects/proj/assets/metrics/tmp/abc_1",
	}, seen)
}

func TestClient_FeatureIDs(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/projects/proj/assets/dgos:aggregateArray", r.URL.Path)
		assert.Equal(t, "DGO_FID", r.URL.Query().Get("property"))
		_, _ = w.Write([]byte(`{"values":[1, 2, "x3", 40]}`))
	}))

	ids, err := c.FeatureIDs(context.Background(), "projects/proj/assets/dgos", "DGO_FID")
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2", "x3", "40"}, ids)
}

func TestClient_DownloadTable(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "CSV", r.URL.Query().Get("format"))
		assert.Equal(t, "DATE,DGO_FID", r.URL.Query().Get("selectors"))
		_, _ = w.Write([]byte("DATE,DGO_FID\n2020-01-01,1\n"))
	}))

	var buf bytes.Buffer
	err := c.DownloadTable(context.Background(), "projects/proj/assets/t", []string{"DATE", "DGO_FID"}, &buf)
	require.NoError(t, err)
	assert.Equal(t, "DATE,DGO_FID\n2020-01-01,1\n", buf.String())
}

func TestClient_ComputeTable(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/projects/proj/table:compute", r.URL.Path)
		_, _ = w.Write([]byte("a,b\n1,2\n"))
	}))

	var buf bytes.Buffer
	require.NoError(t, c.ComputeTable(context.Background(), graph.GSWIndicators("projects/proj/assets/dgos"), &buf))
	assert.Equal(t, "a,b\n1,2\n", buf.String())
}

func TestResolveAssetID(t *testing.T) {
	tests := []struct {
		uri     string
		want    string
		wantErr bool
	}{
		{uri: "https://code.earthengine.google.com/?asset=projects/proj/assets/metrics/tmp/abc_1", want: "projects/proj/assets/metrics/tmp/abc_1"},
		{uri: "projects/proj/assets/metrics/tmp/abc_2", want: "projects/proj/assets/metrics/tmp/abc_2"},
		{uri: "https://host/proj/assets/x/y?foo=bar", want: "projects/proj/assets/x/y"},
		{uri: "https://host/other/assets/x", wantErr: true},
		{uri: "projects/proj/assets/", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ResolveAssetID(tt.uri, "proj")
		if tt.wantErr {
			assert.Error(t, err, tt.uri)
			continue
		}
		require.NoError(t, err, tt.uri)
		assert.Equal(t, tt.want, got)
	}
}

func TestTaskStateTerminal(t *testing.T) {
	assert.True(t, StateCompleted.Terminal())
	assert.True(t, StateFailed.Terminal())
	assert.True(t, StateCancelled.Terminal())
	assert.False(t, StateRunning.Terminal())
	assert.False(t, StateCancelRequested.Terminal())
	assert.False(t, TaskState("SOMETHING").Terminal())
}
