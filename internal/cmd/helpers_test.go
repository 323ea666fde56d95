package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/3leaps/glourbee/pkg/compute"
)

// resetFlags restores every flag of c and its children to its default so
// consecutive executions of rootCmd do not leak state.
func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

// execute runs rootCmd with args and returns what it wrote to stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

// isolate points every config and data location at temp dirs.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", home+"/config")
	t.Setenv("XDG_DATA_HOME", home+"/data")
	t.Setenv("GLOURBEE_PROJECT", "proj")
	return t.TempDir()
}

// fakeCompute is an in-memory compute service. Exports complete
// immediately unless pending is set.
type fakeCompute struct {
	mu      sync.Mutex
	tasks   []compute.Task
	deleted []string
	ids     []string
	pending bool
	table   string
}

func newFakeCompute(t *testing.T, ids ...string) *fakeCompute {
	t.Helper()
	f := &fakeCompute{ids: ids, table: "DATE,DGO_FID,AC_AREA\n2020-01-01,1,1.5\n"}
	srv := httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(srv.Close)
	t.Setenv("GLOURBEE_COMPUTE_URL", srv.URL)
	return f
}

func (f *fakeCompute) serve(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	p := r.URL.Path
	switch {
	case r.Method == http.MethodPost && p == "/projects/proj/table:export":
		var req compute.ExportRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		state := compute.StateCompleted
		if f.pending {
			state = compute.StateRunning
		}
		task := compute.Task{
			ID:              fmt.Sprintf("T%03d", len(f.tasks)+1),
			Description:     req.Description,
			State:           state,
			DestinationURIs: []string{req.AssetID},
		}
		f.tasks = append(f.tasks, task)
		_ = json.NewEncoder(w).Encode(task)
	case r.Method == http.MethodPost && p == "/projects/proj/table:compute":
		_, _ = w.Write([]byte("system:index,DGO_FID,occurrence\n0,1,0.5\n1,2,0.25\n"))
	case r.Method == http.MethodGet && p == "/projects/proj/tasks":
		_ = json.NewEncoder(w).Encode(map[string]any{"tasks": f.tasks})
	case r.Method == http.MethodPost && strings.HasSuffix(p, ":cancel"):
		id := strings.TrimSuffix(strings.TrimPrefix(p, "/projects/proj/tasks/"), ":cancel")
		for i := range f.tasks {
			if f.tasks[i].ID == id {
				f.tasks[i].State = compute.StateCancelRequested
			}
		}
		_, _ = w.Write([]byte("{}"))
	case r.Method == http.MethodGet && strings.HasSuffix(p, ":aggregateArray"):
		_ = json.NewEncoder(w).Encode(map[string]any{"values": f.ids})
	case r.Method == http.MethodGet && strings.HasSuffix(p, ":download"):
		_, _ = w.Write([]byte(f.table))
	case r.Method == http.MethodDelete:
		f.deleted = append(f.deleted, strings.TrimPrefix(p, "/"))
		_, _ = w.Write([]byte("{}"))
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeCompute) states() []compute.TaskState {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]compute.TaskState, len(f.tasks))
	for i, t := range f.tasks {
		out[i] = t.State
	}
	return out
}
