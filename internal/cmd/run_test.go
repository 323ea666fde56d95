package cmd

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/glourbee/pkg/compute"
	"github.com/3leaps/glourbee/pkg/fanout"
	"github.com/3leaps/glourbee/pkg/ledger"
	"github.com/3leaps/glourbee/pkg/runregistry"
)

func startTestRun(t *testing.T, dir string) fanout.SubmitReport {
	t.Helper()
	out, err := execute(t, "run", "start",
		"--data-dir", dir,
		"--dgo-asset", "projects/proj/assets/dgos",
		"--satellite", "Sentinel-2",
		"--split-size", "2",
		"--format", "json")
	require.NoError(t, err)

	var report fanout.SubmitReport
	require.NoError(t, json.Unmarshal([]byte(out), &report), out)
	return report
}

func TestRunLifecycle(t *testing.T) {
	dir := isolate(t)
	fake := newFakeCompute(t, "1", "2", "3", "4", "5")

	report := startTestRun(t, dir)
	assert.Len(t, report.RunID, 32)
	assert.Equal(t, 3, report.Total)
	assert.Equal(t, 3, report.Submitted)
	assert.Zero(t, report.Failed)
	require.Len(t, fake.states(), 3)

	t.Run("status", func(t *testing.T) {
		out, err := execute(t, "run", "status", report.RunID[:8], "--data-dir", dir, "--format", "json")
		require.NoError(t, err)

		var status fanout.StatusReport
		require.NoError(t, json.Unmarshal([]byte(out), &status), out)
		assert.Equal(t, report.RunID, status.RunID)
		assert.Equal(t, 3, status.Total)
		assert.Equal(t, 3, status.Counts[compute.StateCompleted])
		assert.True(t, status.Done())
	})

	t.Run("wait returns once terminal", func(t *testing.T) {
		out, err := execute(t, "run", "wait", report.RunID, "--data-dir", dir, "--interval", "10ms")
		require.NoError(t, err)
		assert.Contains(t, out, "COMPLETED")
	})

	dest := filepath.Join(dir, "out", "metrics.csv")
	t.Run("collect", func(t *testing.T) {
		out, err := execute(t, "run", "collect", report.RunID, "--data-dir", dir, "--output", dest, "--format", "json")
		require.NoError(t, err)

		var collected struct {
			fanout.CollectReport
			Output string `json:"output"`
		}
		require.NoError(t, json.Unmarshal([]byte(out), &collected), out)
		assert.Equal(t, 3, collected.Completed)
		assert.Equal(t, 3, collected.Downloaded)
		assert.Equal(t, 3, collected.Rows)
		assert.Equal(t, dest, collected.Output)

		data, err := os.ReadFile(dest)
		require.NoError(t, err)
		lines := strings.Split(strings.TrimSpace(string(data)), "\n")
		assert.Len(t, lines, 4)
		assert.Contains(t, lines[0], "AC_AREA")
	})

	t.Run("collect refuses to overwrite", func(t *testing.T) {
		_, err := execute(t, "run", "collect", report.RunID, "--data-dir", dir, "--output", dest)
		require.Error(t, err)
		assert.Equal(t, ExitFileWriteError, exitCode(err))
	})

	t.Run("show records collection", func(t *testing.T) {
		out, err := execute(t, "run", "show", report.RunID, "--data-dir", dir, "--format", "json")
		require.NoError(t, err)
		assert.Contains(t, out, string(runregistry.RunPhaseCollected))
		assert.Contains(t, out, dest)
	})

	t.Run("history", func(t *testing.T) {
		out, err := execute(t, "run", "history", report.RunID, "--data-dir", dir, "--op", ledger.OpSubmit, "--format", "json")
		require.NoError(t, err)

		var entries []ledger.Entry
		require.NoError(t, json.Unmarshal([]byte(out), &entries), out)
		assert.Len(t, entries, 3)
		for _, e := range entries {
			assert.Equal(t, ledger.OpSubmit, e.Op)
		}
	})

	t.Run("purge", func(t *testing.T) {
		_, err := execute(t, "run", "purge", report.RunID, "--data-dir", dir)
		require.NoError(t, err)
		fake.mu.Lock()
		defer fake.mu.Unlock()
		assert.Len(t, fake.deleted, 3)
		assert.Contains(t, fake.deleted, "projects/proj/assets/metrics/tmp/"+report.RunID+"_1")
	})

	t.Run("list", func(t *testing.T) {
		out, err := execute(t, "run", "list", "--data-dir", dir)
		require.NoError(t, err)
		assert.Contains(t, out, shortRunID(report.RunID))
	})
}

func TestRunCancel(t *testing.T) {
	dir := isolate(t)
	fake := newFakeCompute(t, "1", "2", "3")
	fake.pending = true

	report := startTestRun(t, dir)
	require.Equal(t, 2, report.Submitted)

	out, err := execute(t, "run", "cancel", report.RunID, "--data-dir", dir, "--format", "json")
	require.NoError(t, err)

	var cancel fanout.CancelReport
	require.NoError(t, json.Unmarshal([]byte(out), &cancel), out)
	assert.Equal(t, 2, cancel.Matched)
	assert.Equal(t, 2, cancel.Requested)
	assert.Equal(t, []compute.TaskState{compute.StateCancelRequested, compute.StateCancelRequested}, fake.states())
}

func TestRunWaitTimeout(t *testing.T) {
	dir := isolate(t)
	fake := newFakeCompute(t, "1")
	fake.pending = true
	report := startTestRun(t, dir)

	_, err := execute(t, "run", "wait", report.RunID, "--data-dir", dir, "--interval", "5ms", "--timeout", "30ms")
	require.Error(t, err)
	assert.Equal(t, ExitTimeout, exitCode(err))
}

func TestRunUnknownRun(t *testing.T) {
	dir := isolate(t)
	newFakeCompute(t, "1")
	const unknown = "0123456789abcdef0123456789abcdef"

	out, err := execute(t, "run", "status", unknown, "--data-dir", dir, "--format", "json")
	require.NoError(t, err)
	var status fanout.StatusReport
	require.NoError(t, json.Unmarshal([]byte(out), &status), out)
	assert.Zero(t, status.Total)

	_, err = execute(t, "run", "wait", unknown, "--data-dir", dir, "--interval", "5ms")
	require.Error(t, err)
	assert.Equal(t, ExitNotFound, exitCode(err))
}

func TestRunStartDryRun(t *testing.T) {
	dir := isolate(t)
	fake := newFakeCompute(t, "1")

	path := filepath.Join(dir, "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`version: "1.0"
name: from-manifest
workflow:
  satellite: Landsat
  dgo_asset: projects/proj/assets/dgos
  split_size: 50
`), 0o644))

	out, err := execute(t, "run", "start", "--data-dir", dir, "-m", path, "--split-size", "10", "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, "from-manifest")
	assert.Empty(t, fake.states())

	var params map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &params), out)
	assert.EqualValues(t, 10, params["split_size"])
}

func TestRunStartRejectsBadParams(t *testing.T) {
	dir := isolate(t)
	fake := newFakeCompute(t, "1")

	tests := []struct {
		name string
		args []string
	}{
		{name: "missing asset", args: []string{"--split-size", "5"}},
		{name: "bad satellite", args: []string{"--dgo-asset", "a", "--satellite", "Spot"}},
		{name: "bad date", args: []string{"--dgo-asset", "a", "--start", "2020/01/01"}},
		{name: "zero split", args: []string{"--dgo-asset", "a", "--split-size", "0"}},
		{name: "bad format", args: []string{"--dgo-asset", "a", "--format", "xml"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"run", "start", "--data-dir", dir}, tt.args...)
			_, err := execute(t, args...)
			require.Error(t, err)
			assert.Equal(t, ExitInvalidArgument, exitCode(err))
		})
	}
	assert.Empty(t, fake.states())
}

func TestRunStartPlanet(t *testing.T) {
	dir := isolate(t)
	fake := newFakeCompute(t)

	out, err := execute(t, "run", "start-planet",
		"--data-dir", dir,
		"--dgo-asset", "projects/proj/assets/dgos",
		"--collection-asset", "projects/proj/assets/planet",
		"--image-ids", "20200101_101010_1_0f22,20200120_101010_1_0f22",
		"--format", "json")
	require.NoError(t, err)

	var report fanout.SubmitReport
	require.NoError(t, json.Unmarshal([]byte(out), &report), out)
	assert.Equal(t, 1, report.Total)
	require.Len(t, fake.tasks, 1)
	assert.Equal(t, "Computation task for run "+report.RunID, fake.tasks[0].Description)

	// Without --columns a Planet run keeps only the standard properties.
	fake.table = "DATE,DGO_FID,AC_AREA,system:index,.geo\n2020-01-01,1,1.5,x,{}\n"
	dest := filepath.Join(dir, "planet.csv")
	_, err = execute(t, "run", "collect", report.RunID, "--data-dir", dir, "--output", dest)
	require.NoError(t, err)
	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "DATE,DGO_FID,AC_AREA\n2020-01-01,1,1.5\n", string(data))
}

func TestRunCollectWithoutCompletedTasks(t *testing.T) {
	dir := isolate(t)
	fake := newFakeCompute(t, "1", "2", "3")
	fake.pending = true
	report := startTestRun(t, dir)
	dest := filepath.Join(dir, "out", "empty.csv")

	out, err := execute(t, "run", "collect", report.RunID, "--data-dir", dir, "--output", dest)
	require.NoError(t, err)
	assert.Contains(t, out, "completed=0")
	assert.Contains(t, out, "output="+dest)

	info, err := os.Stat(dest)
	require.NoError(t, err)
	assert.Zero(t, info.Size())

	_, err = execute(t, "run", "collect", report.RunID, "--data-dir", dir, "--output", dest)
	require.Error(t, err)
	assert.Equal(t, ExitFileWriteError, exitCode(err))

	_, err = execute(t, "run", "collect", report.RunID, "--data-dir", dir, "--output", dest, "--overwrite")
	require.NoError(t, err)
}

func TestRunGC(t *testing.T) {
	dir := isolate(t)
	newFakeCompute(t, "1", "2")

	collected := startTestRun(t, dir)
	pending := startTestRun(t, dir)
	_, err := execute(t, "run", "collect", collected.RunID, "--data-dir", dir, "--output", filepath.Join(dir, "m.csv"))
	require.NoError(t, err)

	out, err := execute(t, "run", "gc", "--data-dir", dir, "--max-age", "0s", "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, "would delete "+collected.RunID)
	assert.Contains(t, out, "1 run(s) would be deleted")

	out, err = execute(t, "run", "gc", "--data-dir", dir, "--max-age", "0s")
	require.NoError(t, err)
	assert.Contains(t, out, "deleted 1 run(s)")

	out, err = execute(t, "run", "list", "--data-dir", dir, "--format", "json")
	require.NoError(t, err)
	var runs []runregistry.RunRecord
	require.NoError(t, json.Unmarshal([]byte(out), &runs), out)
	require.Len(t, runs, 1)
	assert.Equal(t, pending.RunID, runs[0].RunID)

	out, err = execute(t, "run", "gc", "--data-dir", dir, "--max-age", "0s", "--all")
	require.NoError(t, err)
	assert.Contains(t, out, "deleted 1 run(s)")
}
