package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/glourbee/internal/observability"
	"github.com/3leaps/glourbee/pkg/ledger"
	"github.com/3leaps/glourbee/pkg/output"
	"github.com/3leaps/glourbee/pkg/runregistry"
)

var runListCmd = &cobra.Command{
	Use:   "list",
	Short: "List locally registered runs",
	RunE:  runRunList,
}

var runShowCmd = &cobra.Command{
	Use:   "show <run>",
	Short: "Show the registered record of a run",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunShow,
}

var runHistoryCmd = &cobra.Command{
	Use:   "history <run>",
	Short: "Show the recorded per-item outcomes of a run",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunHistory,
}

var runGCCmd = &cobra.Command{
	Use:   "gc",
	Short: "Delete old run records, caches and outcomes",
	Long: `Delete the records, download caches and ledger outcomes of runs older
than --max-age. Only collected or purged runs are removed unless --all is set.`,
	RunE: runRunGC,
}

func init() {
	runCmd.AddCommand(runListCmd)
	runCmd.AddCommand(runShowCmd)
	runCmd.AddCommand(runHistoryCmd)
	runCmd.AddCommand(runGCCmd)

	addFormatFlag(runListCmd)
	addFormatFlag(runShowCmd)
	addFormatFlag(runHistoryCmd)
	runHistoryCmd.Flags().String("op", "", "Only show this operation (submit, cancel, download, delete)")
	runGCCmd.Flags().Duration("max-age", 7*24*time.Hour, "Delete runs older than this duration")
	runGCCmd.Flags().Bool("all", false, "Also delete runs that were never collected")
	runGCCmd.Flags().Bool("dry-run", false, "Show which runs would be deleted")
}

func runRunList(cmd *cobra.Command, _ []string) error {
	format, err := reportFormat(cmd)
	if err != nil {
		return err
	}
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	runs, err := a.registry.List()
	if err != nil {
		return err
	}
	w := cmd.OutOrStdout()
	if format != formatText {
		if runs == nil {
			runs = []runregistry.RunRecord{}
		}
		return writeJSON(w, runs)
	}
	if len(runs) == 0 {
		_, _ = fmt.Fprintln(w, "No runs found")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	defer func() { _ = tw.Flush() }()
	_, _ = fmt.Fprintln(tw, "RUN ID\tNAME\tKIND\tSATELLITE\tPHASE\tSUB-JOBS\tNOT SUBMITTED\tCREATED\tOUTPUT")
	for _, r := range runs {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			shortRunID(r.RunID),
			dash(r.Name),
			r.Kind,
			dash(r.Satellite),
			r.Phase,
			len(r.SubJobs),
			r.Unsubmitted(),
			r.CreatedAt.UTC().Format(time.RFC3339),
			dash(r.OutputPath),
		)
	}
	return nil
}

func runRunShow(cmd *cobra.Command, args []string) error {
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

	runID, err := a.registry.Resolve(trimArg(args))
	if err != nil {
		return exitError(exitCode(err), "Run not found", err)
	}
	rec, err := a.registry.Get(runID)
	if err != nil {
		return exitError(exitCode(err), "Run not found", err)
	}
	var outcomes []ledger.OutcomeCount
	if a.ledger != nil {
		if outcomes, err = a.ledger.Summarize(ctx, runID); err != nil {
			observability.CLILogger.Warn("Failed to read outcomes", zap.Error(err))
		}
	}

	w := cmd.OutOrStdout()
	if format != formatText {
		return writeJSON(w, struct {
			*runregistry.RunRecord
			Outcomes []ledger.OutcomeCount `json:"outcomes,omitempty"`
		}{rec, outcomes})
	}

	_, _ = fmt.Fprintf(w, "run_id=%s\n", rec.RunID)
	if rec.Name != "" {
		_, _ = fmt.Fprintf(w, "name=%s\n", rec.Name)
	}
	_, _ = fmt.Fprintf(w, "kind=%s\n", rec.Kind)
	_, _ = fmt.Fprintf(w, "phase=%s\n", rec.Phase)
	_, _ = fmt.Fprintf(w, "project=%s\n", dash(rec.Project))
	_, _ = fmt.Fprintf(w, "satellite=%s\n", dash(rec.Satellite))
	_, _ = fmt.Fprintf(w, "dgo_asset=%s\n", dash(rec.DGOAsset))
	_, _ = fmt.Fprintf(w, "created_at=%s\n", rec.CreatedAt.UTC().Format(time.RFC3339))
	_, _ = fmt.Fprintf(w, "collected_at=%s\n", formatOptionalTime(rec.CollectedAt))
	_, _ = fmt.Fprintf(w, "purged_at=%s\n", formatOptionalTime(rec.PurgedAt))
	if rec.OutputPath != "" {
		_, _ = fmt.Fprintf(w, "output=%s\n", rec.OutputPath)
	}
	for _, oc := range outcomes {
		_, _ = fmt.Fprintf(w, "outcome.%s.%s=%d\n", oc.Op, oc.Outcome, oc.Count)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	defer func() { _ = tw.Flush() }()
	_, _ = fmt.Fprintln(tw, "\nSUB-JOB\tTASK ID\tDGOS\tASSET\tERROR")
	for _, sj := range rec.SubJobs {
		_, _ = fmt.Fprintf(tw, "%d/%d\t%s\t%d\t%s\t%s\n",
			sj.Index, sj.Total, dash(sj.TaskID), sj.FeatureCount, dash(sj.AssetID), dash(sj.SubmitError))
	}
	return nil
}

func runRunHistory(cmd *cobra.Command, args []string) error {
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
	if a.ledger == nil {
		return exitError(ExitConfigError, "Outcome ledger unavailable", fmt.Errorf("cannot open %s", a.cfg.LedgerPath()))
	}

	runID, err := a.resolveRunID(trimArg(args))
	if err != nil {
		return err
	}
	op, _ := cmd.Flags().GetString("op")
	entries, err := a.ledger.History(ctx, runID, strings.TrimSpace(op))
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	switch format {
	case formatJSON:
		if entries == nil {
			entries = []ledger.Entry{}
		}
		return writeJSON(w, entries)
	case formatJSONL:
		jw := output.NewJSONLWriter(w, runID, a.compute.Project())
		defer func() { _ = jw.Close() }()
		for _, e := range entries {
			if err := jw.WriteItem(ctx, &output.ItemRecord{
				Op:      e.Op,
				Index:   e.Index,
				Target:  e.Target,
				Outcome: e.Outcome,
				Error:   e.Detail,
			}); err != nil {
				return err
			}
		}
		return nil
	}

	if len(entries) == 0 {
		_, _ = fmt.Fprintln(w, "No outcomes recorded")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	defer func() { _ = tw.Flush() }()
	_, _ = fmt.Fprintln(tw, "RECORDED\tOP\tSUB-JOB\tTARGET\tOUTCOME\tDETAIL")
	for _, e := range entries {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\n",
			e.RecordedAt.UTC().Format(time.RFC3339), e.Op, e.Index, dash(e.Target), e.Outcome, dash(e.Detail))
	}
	return nil
}

func runRunGC(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	maxAge, _ := cmd.Flags().GetDuration("max-age")
	all, _ := cmd.Flags().GetBool("all")
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	if maxAge < 0 {
		return exitError(ExitInvalidArgument, "Invalid --max-age value", fmt.Errorf("max-age must be >= 0"))
	}

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	runs, err := a.registry.List()
	if err != nil {
		return err
	}
	cutoff := time.Now().UTC().Add(-maxAge)
	w := cmd.OutOrStdout()
	deleted := 0
	for _, r := range runs {
		if r.CreatedAt.After(cutoff) {
			continue
		}
		finished := r.Phase == runregistry.RunPhaseCollected || r.Phase == runregistry.RunPhasePurged
		if !finished && !all {
			continue
		}
		if dryRun {
			_, _ = fmt.Fprintf(w, "would delete %s (%s, %s)\n", r.RunID, r.Phase, r.CreatedAt.UTC().Format(time.RFC3339))
			deleted++
			continue
		}
		if err := releaseWorkspace(a.registry, r.RunID); err != nil {
			observability.CLILogger.Warn("Failed to release workspace", zap.String("run_id", r.RunID), zap.Error(err))
		}
		if a.ledger != nil {
			if _, err := a.ledger.DeleteRun(ctx, r.RunID); err != nil {
				observability.CLILogger.Warn("Failed to delete outcomes", zap.String("run_id", r.RunID), zap.Error(err))
			}
		}
		if err := a.registry.Delete(r.RunID); err != nil {
			return err
		}
		deleted++
	}

	if dryRun {
		_, _ = fmt.Fprintf(w, "%d run(s) would be deleted\n", deleted)
		return nil
	}
	_, _ = fmt.Fprintf(w, "deleted %d run(s)\n", deleted)
	return nil
}
