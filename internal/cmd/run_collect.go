package cmd

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/thoas/go-funk"
	"go.uber.org/zap"

	"github.com/3leaps/glourbee/internal/observability"
	"github.com/3leaps/glourbee/pkg/fanout"
	"github.com/3leaps/glourbee/pkg/manifest"
	"github.com/3leaps/glourbee/pkg/output"
	"github.com/3leaps/glourbee/pkg/provider"
	"github.com/3leaps/glourbee/pkg/provider/file"
	"github.com/3leaps/glourbee/pkg/provider/s3"
	"github.com/3leaps/glourbee/pkg/runregistry"
	"github.com/3leaps/glourbee/pkg/table"
	"github.com/3leaps/glourbee/pkg/workflow"
)

// Table formats accepted by collect.
var tableFormats = []string{"csv", "xlsx"}

const metricsSheet = "metrics"

var runCollectCmd = &cobra.Command{
	Use:   "collect <run>",
	Short: "Download and combine the result tables of a run",
	Long: `Download the exported table of every completed task of a run into the
run's working directory, concatenate them in sub-job order and publish the
combined table.

--output accepts a local path or s3://bucket/key. The format follows the
extension (.xlsx or CSV) unless --table-format is set. Existing outputs are
never replaced without --overwrite.`,
	Args: cobra.ExactArgs(1),
	RunE: runRunCollect,
}

var runPurgeCmd = &cobra.Command{
	Use:   "purge <run>",
	Short: "Delete the exported result assets of a run",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunPurge,
}

func init() {
	runCmd.AddCommand(runCollectCmd)
	runCmd.AddCommand(runPurgeCmd)

	runCollectCmd.Flags().StringP("output", "o", "", "Destination path or s3:// URI (default: the run's manifest output, else <run>.csv)")
	runCollectCmd.Flags().String("table-format", "", "Table format: csv or xlsx (default: from extension)")
	runCollectCmd.Flags().StringSlice("columns", nil, "Keep only columns matching these glob patterns")
	runCollectCmd.Flags().Bool("refresh", false, "Re-download tables already cached in the run directory")
	runCollectCmd.Flags().Bool("overwrite", false, "Replace an existing output")
	runCollectCmd.Flags().Bool("release", false, "Delete the run's download cache afterwards")
	runCollectCmd.Flags().Bool("purge", false, "Delete the remote result assets after publishing")
	addFormatFlag(runCollectCmd)
	addFormatFlag(runPurgeCmd)
}

func runRunCollect(cmd *cobra.Command, args []string) error {
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

	// Runs found only by task discovery have no record.
	rec, recErr := a.registry.Get(runID)
	if recErr != nil {
		rec = nil
	}

	dest, _ := cmd.Flags().GetString("output")
	if dest == "" && rec != nil {
		dest = rec.OutputPath
	}
	if dest == "" {
		dest = runID + ".csv"
	}
	tableFormat, _ := cmd.Flags().GetString("table-format")
	if tableFormat == "" {
		tableFormat = manifest.InferFormat(dest)
	}
	tableFormat = strings.ToLower(tableFormat)
	if !funk.ContainsString(tableFormats, tableFormat) {
		return exitError(ExitInvalidArgument, "Invalid --table-format value",
			fmt.Errorf("format %q must be one of %s", tableFormat, strings.Join(tableFormats, ", ")))
	}
	loc, err := provider.ParseDestination(dest)
	if err != nil {
		return exitError(ExitInvalidArgument, "Invalid --output value", err)
	}

	columns, _ := cmd.Flags().GetStringSlice("columns")
	if len(columns) == 0 && rec != nil && rec.Kind == runregistry.RunKindSingle {
		columns = workflow.PlanetProperties
	}
	refresh, _ := cmd.Flags().GetBool("refresh")
	overwrite, _ := cmd.Flags().GetBool("overwrite")
	release, _ := cmd.Flags().GetBool("release")
	purge, _ := cmd.Flags().GetBool("purge")

	start := time.Now()
	report, err := a.tracker.CollectResults(ctx, runID, fanout.CollectOptions{
		Overwrite: refresh,
		Columns:   columns,
		Release:   release,
	})
	if err != nil {
		return classifyRemote("Collect failed", err)
	}

	result := report.Table
	if len(columns) > 0 && !result.Empty() {
		if result, err = result.SelectColumns(columns...); err != nil {
			return exitError(ExitInvalidArgument, "Invalid --columns value", err)
		}
	}

	if report.Completed == 0 {
		observability.CLILogger.Warn("No completed tasks; publishing an empty table", zap.String("run_id", runID))
	}
	if err := publishTable(ctx, a, loc, result, tableFormat, overwrite); err != nil {
		return err
	}
	published := loc.String()
	if rec != nil && rec.OutputPath != published {
		// Re-read: collection may have advanced the phase.
		if cur, err := a.registry.Get(runID); err == nil {
			cur.OutputPath = published
			_ = a.registry.Write(cur)
		}
	}
	observability.CLILogger.Info("Results published",
		zap.String("destination", published),
		zap.Int("rows", result.Len()))

	if err := printCollectReport(ctx, cmd.OutOrStdout(), format, a.compute.Project(), report, published, time.Since(start)); err != nil {
		return err
	}

	if purge && report.Completed > 0 && report.Failed == 0 {
		preport, err := a.tracker.PurgeResults(ctx, runID)
		if err != nil {
			return classifyRemote("Purge failed", err)
		}
		if preport.Failed > 0 {
			return exitError(ExitPartialFailure, "Some result assets were not deleted",
				fmt.Errorf("%d of %d deletes failed", preport.Failed, preport.Assets))
		}
	}
	if report.Failed > 0 {
		return exitError(ExitPartialFailure, "Some result tables were not collected",
			fmt.Errorf("%d of %d downloads failed", report.Failed, report.Assets))
	}
	return nil
}

// publishTable encodes t and writes it through the sink matching loc.
func publishTable(ctx context.Context, a *app, loc provider.Location, t *table.Table, format string, overwrite bool) error {
	var buf bytes.Buffer
	contentType := "text/csv"
	if format == "xlsx" {
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
		if err := t.WriteXLSX(&buf, metricsSheet); err != nil {
			return exitError(ExitFailure, "Failed to encode table", err)
		}
	} else if err := t.WriteCSV(&buf); err != nil {
		return exitError(ExitFailure, "Failed to encode table", err)
	}

	sink, err := openSink(ctx, a, loc)
	if err != nil {
		return err
	}
	defer func() { _ = sink.Close() }()

	if err := provider.Publish(ctx, sink, loc.Key, buf.Bytes(), contentType, overwrite); err != nil {
		if provider.IsExists(err) {
			return exitError(ExitFileWriteError, "Output exists (use --overwrite)", err)
		}
		return exitError(ExitFileWriteError, "Failed to publish results", err)
	}
	return nil
}

func openSink(ctx context.Context, a *app, loc provider.Location) (provider.Sink, error) {
	switch loc.Provider {
	case provider.ProviderS3:
		s3cfg := a.cfg.Output.S3
		p, err := s3.New(ctx, s3.Config{
			Bucket:         loc.Bucket,
			Region:         s3cfg.Region,
			Endpoint:       s3cfg.Endpoint,
			Profile:        s3cfg.Profile,
			ForcePathStyle: s3cfg.ForcePathStyle,
		})
		if err != nil {
			observability.CLILogger.Error("Failed to create provider", zap.Error(err))
			return nil, exitError(ExitExternalServiceUnavailable, "Failed to connect to storage provider", err)
		}
		return p, nil
	case provider.ProviderFile:
		p, err := file.New(file.Config{BaseDir: loc.Bucket})
		if err != nil {
			return nil, exitError(ExitFileWriteError, "Failed to create output", err)
		}
		return p, nil
	default:
		return nil, exitError(ExitInvalidArgument, "Unsupported provider", fmt.Errorf("provider %q is not supported", loc.Provider))
	}
}

func printCollectReport(ctx context.Context, w io.Writer, format, project string, r *fanout.CollectReport, dest string, elapsed time.Duration) error {
	switch format {
	case formatJSON:
		return writeJSON(w, struct {
			*fanout.CollectReport
			Output string `json:"output,omitempty"`
		}{r, dest})
	case formatJSONL:
		jw := output.NewJSONLWriter(w, r.RunID, project)
		defer func() { _ = jw.Close() }()
		if err := writeItems(ctx, jw, "download", r.Items, elapsed); err != nil {
			return err
		}
		return jw.WriteSummary(ctx, &output.SummaryRecord{
			Op:            "collect",
			Total:         r.Rows,
			Errors:        r.Failed,
			Duration:      elapsed,
			DurationHuman: elapsed.Round(time.Millisecond).String(),
			Path:          dest,
		})
	}

	_, _ = fmt.Fprintf(w, "run_id=%s completed=%d assets=%d downloaded=%d cached=%d fallbacks=%d failed=%d rows=%d\n",
		r.RunID, r.Completed, r.Assets, r.Downloaded, r.Cached, r.Fallbacks, r.Failed, r.Rows)
	if dest != "" {
		_, _ = fmt.Fprintf(w, "output=%s\n", dest)
	}
	for _, item := range r.Items {
		if item.Error != "" {
			_, _ = fmt.Fprintf(w, "  sub-job %d %s: %s\n", item.Index, item.Outcome, item.Error)
		}
	}
	return nil
}

func runRunPurge(cmd *cobra.Command, args []string) error {
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
	report, err := a.tracker.PurgeResults(ctx, runID)
	if err != nil {
		return classifyRemote("Purge failed", err)
	}

	w := cmd.OutOrStdout()
	switch format {
	case formatJSON:
		err = writeJSON(w, report)
	case formatJSONL:
		jw := output.NewJSONLWriter(w, report.RunID, a.compute.Project())
		err = writeItems(ctx, jw, "delete", report.Items, time.Since(start))
		_ = jw.Close()
	default:
		_, _ = fmt.Fprintf(w, "run_id=%s assets=%d deleted=%d skipped=%d failed=%d\n",
			report.RunID, report.Assets, report.Deleted, report.Skipped, report.Failed)
	}
	if err != nil {
		return err
	}
	if report.Failed > 0 {
		return exitError(ExitPartialFailure, "Some result assets were not deleted",
			fmt.Errorf("%d of %d deletes failed", report.Failed, report.Assets))
	}
	return nil
}

// releaseWorkspace removes the download cache of runID.
func releaseWorkspace(store *runregistry.Store, runID string) error {
	ws, err := store.Workspace(runID)
	if err != nil {
		return err
	}
	return ws.Release()
}
