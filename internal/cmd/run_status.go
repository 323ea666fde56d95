package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/glourbee/internal/observability"
	"github.com/3leaps/glourbee/pkg/compute"
	"github.com/3leaps/glourbee/pkg/fanout"
	"github.com/3leaps/glourbee/pkg/output"
)

var runStatusCmd = &cobra.Command{
	Use:   "status <run>",
	Short: "Show the task states of a run",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunStatus,
}

var runWaitCmd = &cobra.Command{
	Use:   "wait <run>",
	Short: "Poll a run until every task is terminal",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunWait,
}

var runCancelCmd = &cobra.Command{
	Use:   "cancel <run>",
	Short: "Request cancellation of every unfinished task of a run",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunCancel,
}

func init() {
	runCmd.AddCommand(runStatusCmd)
	runCmd.AddCommand(runWaitCmd)
	runCmd.AddCommand(runCancelCmd)

	addFormatFlag(runStatusCmd)
	addFormatFlag(runWaitCmd)
	addFormatFlag(runCancelCmd)

	runWaitCmd.Flags().Duration("interval", 30*time.Second, "Polling interval")
	runWaitCmd.Flags().Duration("timeout", 0, "Give up after this long (0 = wait forever)")
}

func runRunStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	format, err := reportFormat(cmd)
	if err != nil {
		return err
	}
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	runID, err := a.resolveRunID(trimArg(args))
	if err != nil {
		return err
	}
	report, err := a.tracker.QueryStatus(ctx, runID)
	if err != nil {
		return classifyRemote("Status query failed", err)
	}
	return printStatusReport(ctx, cmd.OutOrStdout(), format, a.compute.Project(), report)
}

func runRunWait(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	format, err := reportFormat(cmd)
	if err != nil {
		return err
	}
	interval, _ := cmd.Flags().GetDuration("interval")
	if interval <= 0 {
		return exitError(ExitInvalidArgument, "Invalid --interval value", fmt.Errorf("interval must be > 0"))
	}
	if timeout, _ := cmd.Flags().GetDuration("timeout"); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	runID, err := a.resolveRunID(trimArg(args))
	if err != nil {
		return err
	}

	report, err := waitRun(ctx, a.tracker, runID, interval)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return exitError(ExitTimeout, "Run still in progress", err)
		}
		return classifyRemote("Status query failed", err)
	}
	if err := printStatusReport(ctx, cmd.OutOrStdout(), format, a.compute.Project(), report); err != nil {
		return err
	}
	if bad := report.Count(compute.StateFailed) + report.Count(compute.StateCancelled); bad > 0 {
		return exitError(ExitPartialFailure, "Run finished with unsuccessful tasks",
			fmt.Errorf("%d of %d tasks did not complete", bad, report.Total))
	}
	return nil
}

// waitRun polls until every matched task is terminal. A run with no
// matched task is reported as not found.
func waitRun(ctx context.Context, tracker *fanout.Tracker, runID string, interval time.Duration) (*fanout.StatusReport, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		report, err := tracker.QueryStatus(ctx, runID)
		if err != nil {
			return nil, err
		}
		if report.Total == 0 {
			return nil, exitError(ExitNotFound, "No tasks matched", fmt.Errorf("run %s", runID))
		}
		if report.Done() {
			return report, nil
		}
		observability.CLILogger.Info("Waiting for run",
			zap.String("run_id", shortRunID(runID)),
			zap.Int("terminal", report.Terminal()),
			zap.Int("total", report.Total))

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func printStatusReport(ctx context.Context, w io.Writer, format, project string, r *fanout.StatusReport) error {
	switch format {
	case formatJSON:
		return writeJSON(w, r)
	case formatJSONL:
		jw := output.NewJSONLWriter(w, r.RunID, project)
		defer func() { _ = jw.Close() }()
		for _, t := range r.Tasks {
			if err := jw.WriteTask(ctx, &output.TaskRecord{
				Index:        t.Index,
				TaskID:       t.TaskID,
				State:        string(t.State),
				ErrorMessage: t.Error,
			}); err != nil {
				return err
			}
		}
		counts := make(map[string]int, len(r.Counts)+1)
		for state, n := range r.Counts {
			counts[string(state)] = n
		}
		counts["UNKNOWN"] = r.Unknown
		return jw.WriteSummary(ctx, &output.SummaryRecord{
			Op:     "status",
			Total:  r.Total,
			Counts: counts,
			Errors: r.Count(compute.StateFailed),
		})
	}

	_, _ = fmt.Fprintf(w, "run_id=%s source=%s tasks=%d\n", r.RunID, r.Source, r.Total)
	states := make([]string, 0, len(r.Counts))
	for state := range r.Counts {
		states = append(states, string(state))
	}
	sort.Strings(states)
	for _, state := range states {
		if n := r.Counts[compute.TaskState(state)]; n > 0 {
			_, _ = fmt.Fprintf(w, "  %-16s %d\n", state, n)
		}
	}
	if r.Unknown > 0 {
		_, _ = fmt.Fprintf(w, "  %-16s %d\n", "UNKNOWN", r.Unknown)
	}
	if r.Unsubmitted > 0 {
		_, _ = fmt.Fprintf(w, "  %-16s %d\n", "NOT SUBMITTED", r.Unsubmitted)
	}
	if r.Missing > 0 {
		_, _ = fmt.Fprintf(w, "  %-16s %d\n", "MISSING", r.Missing)
	}
	if len(r.Tasks) == 0 {
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	defer func() { _ = tw.Flush() }()
	_, _ = fmt.Fprintln(tw, "SUB-JOB\tTASK ID\tSTATE\tERROR")
	for _, t := range r.Tasks {
		_, _ = fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", t.Index, t.TaskID, t.State, dash(t.Error))
	}
	return nil
}

func runRunCancel(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	format, err := reportFormat(cmd)
	if err != nil {
		return err
	}
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	runID, err := a.resolveRunID(trimArg(args))
	if err != nil {
		return err
	}
	start := time.Now()
	report, err := a.tracker.Cancel(ctx, runID)
	if err != nil {
		return classifyRemote("Cancel failed", err)
	}

	w := cmd.OutOrStdout()
	switch format {
	case formatJSON:
		err = writeJSON(w, report)
	case formatJSONL:
		jw := output.NewJSONLWriter(w, report.RunID, a.compute.Project())
		err = writeItems(ctx, jw, "cancel", report.Items, time.Since(start))
		_ = jw.Close()
	default:
		_, _ = fmt.Fprintf(w, "run_id=%s matched=%d requested=%d skipped=%d failed=%d\n",
			report.RunID, report.Matched, report.Requested, report.Skipped, report.Failed)
		for _, item := range report.Items {
			if item.Error != "" {
				_, _ = fmt.Fprintf(w, "  task %s: %s\n", item.TaskID, item.Error)
			}
		}
	}
	if err != nil {
		return err
	}
	if report.Failed > 0 {
		return exitError(ExitPartialFailure, "Some cancellations failed",
			fmt.Errorf("%d of %d requests failed", report.Failed, report.Matched))
	}
	return nil
}
