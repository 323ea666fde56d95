package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/glourbee/internal/observability"
	"github.com/3leaps/glourbee/pkg/fanout"
	"github.com/3leaps/glourbee/pkg/graph"
	"github.com/3leaps/glourbee/pkg/manifest"
	"github.com/3leaps/glourbee/pkg/output"
	"github.com/3leaps/glourbee/pkg/workflow"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start, track and collect metrics runs",
	Long: `Manage metrics runs.

A run is one logical computation split into sub-jobs of at most --split-size
DGOs. Every sub-job becomes one remote task whose description carries the
run id, so the run can be tracked as a unit:

  glourbee run start --dgo-asset projects/p/assets/dgos --satellite Sentinel-2
  glourbee run wait <run>
  glourbee run collect <run> --output s3://bucket/metrics.csv
  glourbee run purge <run>`,
}

var runStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Submit a partitioned metrics run",
	Long: `Fetch the DGO identifiers of --dgo-asset, split them into consecutive
groups of --split-size and submit one metrics task per group.

Parameters come from flags, a workflow manifest (--manifest), or both; flags
override the manifest.`,
	RunE: runRunStart,
}

var runStartPlanetCmd = &cobra.Command{
	Use:   "start-planet",
	Short: "Submit a single-task Planet metrics run",
	Long: `Submit one metrics task over every DGO of --dgo-asset using the images
of --collection-asset. --image-ids restricts the computation to selected
images, typically the output of 'glourbee catalog search --ids-only'.`,
	RunE: runRunStartPlanet,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.AddCommand(runStartCmd)
	runCmd.AddCommand(runStartPlanetCmd)

	for _, c := range []*cobra.Command{runStartCmd, runStartPlanetCmd} {
		c.Flags().StringP("manifest", "m", "", "Workflow manifest (YAML or JSON)")
		c.Flags().String("name", "", "Run label")
		c.Flags().String("dgo-asset", "", "DGO feature collection asset id")
		c.Flags().String("fid-field", workflow.DefaultFIDField, "DGO identifier property")
		c.Flags().Int("cloud-filter", workflow.DefaultCloudFilter, "Maximum scene cloud cover percentage")
		c.Flags().Bool("cloud-masking", true, "Mask cloudy pixels")
		c.Flags().Bool("dry-run", false, "Validate parameters without submitting")
		addFormatFlag(c)
	}

	runStartCmd.Flags().String("satellite", string(graph.Landsat), "Satellite: Landsat or Sentinel-2")
	runStartCmd.Flags().String("start", workflow.DefaultStart.Format(workflow.DateLayout), "First acquisition date (YYYY-MM-DD)")
	runStartCmd.Flags().String("end", workflow.DefaultEnd.Format(workflow.DateLayout), "Last acquisition date (YYYY-MM-DD)")
	runStartCmd.Flags().Bool("mosaic-same-day", true, "Mosaic images acquired the same day")
	runStartCmd.Flags().Int("split-size", workflow.DefaultSplitSize, "Maximum DGOs per sub-job")

	runStartPlanetCmd.Flags().String("collection-asset", "", "Planet image collection asset id")
	runStartPlanetCmd.Flags().StringSlice("image-ids", nil, "Restrict to these image ids")
}

// startParams merges the manifest (if any) with explicitly set flags.
// force, when set, overrides the satellite of both sources.
func startParams(cmd *cobra.Command, force graph.Satellite) (workflow.Params, *manifest.Manifest, error) {
	p := workflow.DefaultParams()
	var m *manifest.Manifest

	if path, _ := cmd.Flags().GetString("manifest"); path != "" {
		loaded, err := manifest.Load(path)
		if err != nil {
			observability.CLILogger.Error("Failed to load manifest", zap.String("path", path), zap.Error(err))
			return p, nil, exitError(ExitInvalidArgument, "Invalid manifest", err)
		}
		if p, err = loaded.Params(); err != nil {
			return p, nil, exitError(ExitInvalidArgument, "Invalid manifest parameters", err)
		}
		m = loaded
		observability.CLILogger.Debug("Loaded manifest",
			zap.String("path", path),
			zap.String("satellite", string(p.Satellite)),
			zap.String("dgo_asset", p.DGOAsset))
	}

	flags := cmd.Flags()
	changed := flags.Changed
	str := func(name string, dst *string) {
		if changed(name) {
			*dst, _ = flags.GetString(name)
		}
	}
	str("name", &p.Name)
	str("dgo-asset", &p.DGOAsset)
	str("fid-field", &p.FIDField)
	str("collection-asset", &p.CollectionAsset)
	if changed("satellite") {
		s, _ := flags.GetString("satellite")
		p.Satellite = graph.Satellite(s)
	}
	for _, d := range []struct {
		flag string
		dst  *time.Time
	}{{"start", &p.Start}, {"end", &p.End}} {
		if !changed(d.flag) {
			continue
		}
		s, _ := flags.GetString(d.flag)
		t, err := workflow.ParseDate(d.flag, s)
		if err != nil {
			return p, m, exitError(ExitInvalidArgument, "Invalid --"+d.flag+" value", err)
		}
		*d.dst = t
	}
	if changed("cloud-filter") {
		p.CloudFilter, _ = flags.GetInt("cloud-filter")
	}
	if changed("cloud-masking") {
		p.CloudMasking, _ = flags.GetBool("cloud-masking")
	}
	if changed("mosaic-same-day") {
		p.MosaicSameDay, _ = flags.GetBool("mosaic-same-day")
	}
	if changed("split-size") {
		p.SplitSize, _ = flags.GetInt("split-size")
	}
	if changed("image-ids") {
		p.ImageIDs, _ = flags.GetStringSlice("image-ids")
	}
	if force != "" {
		p.Satellite = force
	}

	if err := p.Validate(); err != nil {
		return p, m, exitError(ExitInvalidArgument, "Invalid run parameters", err)
	}
	return p, m, nil
}

// applyManifestCompute lets a manifest override the compute settings of
// the loaded configuration.
func applyManifestCompute(m *manifest.Manifest) {
	if m == nil || appConfig == nil {
		return
	}
	c := m.Compute
	if c.Project != "" {
		appConfig.Compute.Project = c.Project
	}
	if c.AssetFolder != "" {
		appConfig.Compute.AssetFolder = c.AssetFolder
	}
	if c.Concurrency > 0 {
		appConfig.Fanout.Concurrency = c.Concurrency
	}
	if c.RateLimit > 0 {
		appConfig.Fanout.RateLimit = c.RateLimit
	}
}

func runRunStart(cmd *cobra.Command, _ []string) error {
	return startRun(cmd, false)
}

func runRunStartPlanet(cmd *cobra.Command, _ []string) error {
	return startRun(cmd, true)
}

func startRun(cmd *cobra.Command, single bool) error {
	ctx := cmd.Context()
	format, err := reportFormat(cmd)
	if err != nil {
		return err
	}

	var force graph.Satellite
	if single {
		force = graph.Planet
	}
	p, m, err := startParams(cmd, force)
	if err != nil {
		return err
	}
	applyManifestCompute(m)

	if dryRun, _ := cmd.Flags().GetBool("dry-run"); dryRun {
		return writeJSON(cmd.OutOrStdout(), p)
	}

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	observability.CLILogger.Info("Starting run",
		zap.String("satellite", string(p.Satellite)),
		zap.String("dgo_asset", p.DGOAsset),
		zap.Bool("single", single),
		zap.String("project", a.compute.Project()))

	start := time.Now()
	var report *fanout.SubmitReport
	if single {
		report, err = a.runner().StartSingle(ctx, p)
	} else {
		report, err = a.runner().Start(ctx, p)
	}
	if err != nil {
		if fanout.IsConfiguration(err) {
			return exitError(ExitInvalidArgument, "Run not started", err)
		}
		return classifyRemote("Run not started", err)
	}

	if m != nil && m.Output.Destination != "" {
		if rec, gerr := a.registry.Get(report.RunID); gerr == nil {
			rec.OutputPath = m.Output.Destination
			if werr := a.registry.Write(rec); werr != nil {
				observability.CLILogger.Warn("Failed to record output destination", zap.Error(werr))
			}
		}
	}

	kind := "fanout"
	if single {
		kind = "single"
	}
	if err := printSubmitReport(ctx, cmd.OutOrStdout(), format, a.compute.Project(), kind, p, report, time.Since(start)); err != nil {
		return err
	}
	if report.Failed > 0 {
		return exitError(ExitPartialFailure, "Run partially submitted",
			fmt.Errorf("%d of %d sub-jobs failed", report.Failed, report.Total))
	}
	return nil
}

func printSubmitReport(ctx context.Context, w io.Writer, format, project, kind string, p workflow.Params, r *fanout.SubmitReport, elapsed time.Duration) error {
	switch format {
	case formatJSON:
		return writeJSON(w, r)
	case formatJSONL:
		jw := output.NewJSONLWriter(w, r.RunID, project)
		defer func() { _ = jw.Close() }()
		if err := jw.WriteRun(ctx, &output.RunRecord{
			Name:      p.Name,
			Kind:      kind,
			Phase:     "submitted",
			Satellite: string(p.Satellite),
			DGOAsset:  p.DGOAsset,
			CreatedAt: time.Now().UTC(),
			Total:     r.Total,
			Submitted: r.Submitted,
			Failed:    r.Failed,
		}); err != nil {
			return err
		}
		return writeItems(ctx, jw, "submit", r.Items, elapsed)
	}

	_, _ = fmt.Fprintf(w, "run_id=%s\n", r.RunID)
	_, _ = fmt.Fprintf(w, "sub_jobs=%d submitted=%d failed=%d\n", r.Total, r.Submitted, r.Failed)
	for _, item := range r.Items {
		if item.Error == "" {
			continue
		}
		_, _ = fmt.Fprintf(w, "  sub-job %d: %s\n", item.Index, item.Error)
	}
	return nil
}

// writeItems emits one item record per result followed by a summary.
func writeItems(ctx context.Context, jw *output.JSONLWriter, op string, items []fanout.ItemResult, elapsed time.Duration) error {
	counts := map[string]int{}
	errs := 0
	for _, item := range items {
		counts[item.Outcome]++
		if item.Error != "" {
			errs++
		}
		if err := jw.WriteItem(ctx, &output.ItemRecord{
			Op:      op,
			Index:   item.Index,
			TaskID:  item.TaskID,
			Target:  item.Target,
			Outcome: item.Outcome,
			Error:   item.Error,
		}); err != nil {
			return err
		}
	}
	return jw.WriteSummary(ctx, &output.SummaryRecord{
		Op:            op,
		Total:         len(items),
		Counts:        counts,
		Errors:        errs,
		Duration:      elapsed,
		DurationHuman: elapsed.Round(time.Millisecond).String(),
	})
}

func trimArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return strings.TrimSpace(args[0])
}
