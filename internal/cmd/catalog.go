package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/glourbee/internal/observability"
	"github.com/3leaps/glourbee/pkg/catalog"
	"github.com/3leaps/glourbee/pkg/output"
	"github.com/3leaps/glourbee/pkg/temporal"
	"github.com/3leaps/glourbee/pkg/workflow"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Search the image catalog",
}

var catalogSearchCmd = &cobra.Command{
	Use:   "search",
	Short: "Search scenes and thin them to a minimum revisit interval",
	Long: `Search the image catalog and keep, in acquisition order, only the scenes
at least --interval-days after the previously kept date. Scenes sharing a
kept date are all kept.

Example:
  glourbee catalog search --start 2021-01-01 --end 2021-12-31 \
    --geometry aoi.geojson --cloud-cover 0.1 --interval-days 10 --ids-only`,
	RunE: runCatalogSearch,
}

func init() {
	rootCmd.AddCommand(catalogCmd)
	catalogCmd.AddCommand(catalogSearchCmd)

	f := catalogSearchCmd.Flags()
	f.String("start", "", "First acquisition date (YYYY-MM-DD)")
	f.String("end", "", "Last acquisition date (YYYY-MM-DD)")
	f.Float64("cloud-cover", -1, "Maximum cloud cover fraction 0..1 (negative = no filter)")
	f.String("geometry", "", "GeoJSON geometry file restricting the search")
	f.StringSlice("item-type", nil, "Item types (default from config)")
	f.Int("interval-days", 0, "Minimum days between kept acquisition dates")
	f.Bool("ids-only", false, "Print one id per line, comma-joinable into --image-ids")
	addFormatFlag(catalogSearchCmd)
}

func searchFilter(cmd *cobra.Command) (catalog.Filter, error) {
	flags := cmd.Flags()
	var parts []catalog.Filter

	var start, end time.Time
	for _, d := range []struct {
		flag string
		dst  *time.Time
	}{{"start", &start}, {"end", &end}} {
		s, _ := flags.GetString(d.flag)
		if s == "" {
			continue
		}
		t, err := workflow.ParseDate(d.flag, s)
		if err != nil {
			return nil, exitError(ExitInvalidArgument, "Invalid --"+d.flag+" value", err)
		}
		*d.dst = t
	}
	if !end.IsZero() {
		end = end.Add(24*time.Hour - time.Second)
	}
	if !start.IsZero() || !end.IsZero() {
		parts = append(parts, catalog.Acquired(start, end))
	}

	if cc, _ := flags.GetFloat64("cloud-cover"); cc >= 0 {
		if cc > 1 {
			return nil, exitError(ExitInvalidArgument, "Invalid --cloud-cover value", fmt.Errorf("cloud cover must be a fraction in 0..1"))
		}
		parts = append(parts, catalog.CloudCover(cc))
	}

	if path, _ := flags.GetString("geometry"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, exitError(ExitInvalidArgument, "Failed to read --geometry", err)
		}
		if !json.Valid(raw) {
			return nil, exitError(ExitInvalidArgument, "Invalid --geometry", fmt.Errorf("%s is not JSON", path))
		}
		parts = append(parts, catalog.Geometry(raw))
	}
	return catalog.And(parts...), nil
}

func runCatalogSearch(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	format, err := reportFormat(cmd)
	if err != nil {
		return err
	}
	interval, _ := cmd.Flags().GetInt("interval-days")
	if interval < 0 {
		return exitError(ExitInvalidArgument, "Invalid --interval-days value", fmt.Errorf("interval must be >= 0"))
	}
	filter, err := searchFilter(cmd)
	if err != nil {
		return err
	}

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()
	client, err := a.catalog()
	if err != nil {
		return err
	}

	itemTypes, _ := cmd.Flags().GetStringSlice("item-type")
	if len(itemTypes) == 0 && a.cfg.Catalog.ItemType != "" {
		itemTypes = []string{a.cfg.Catalog.ItemType}
	}

	ids, err := workflow.SelectImages(ctx, client, itemTypes, filter, interval)
	if err != nil {
		if temporal.IsDataIntegrity(err) {
			return exitError(ExitDataError, "Catalog returned an undated identifier", err)
		}
		return classifyRemote("Catalog search failed", err)
	}
	observability.CLILogger.Debug("Catalog search", zap.Int("selected", len(ids)), zap.Int("interval_days", interval))

	w := cmd.OutOrStdout()
	if idsOnly, _ := cmd.Flags().GetBool("ids-only"); idsOnly {
		for _, id := range ids {
			_, _ = fmt.Fprintln(w, id)
		}
		return nil
	}

	dates := make([]time.Time, len(ids))
	for i, id := range ids {
		if dates[i], err = temporal.ParseDate(id); err != nil {
			return exitError(ExitDataError, "Catalog returned an undated identifier", err)
		}
	}
	switch format {
	case formatJSON:
		images := make([]output.ImageRecord, len(ids))
		for i, id := range ids {
			images[i] = output.ImageRecord{ID: id, Date: dates[i].Format(workflow.DateLayout)}
		}
		return writeJSON(w, images)
	case formatJSONL:
		jw := output.NewJSONLWriter(w, "", "")
		defer func() { _ = jw.Close() }()
		for i, id := range ids {
			if err := jw.WriteImage(ctx, &output.ImageRecord{ID: id, Date: dates[i].Format(workflow.DateLayout)}); err != nil {
				return err
			}
		}
		return jw.WriteSummary(ctx, &output.SummaryRecord{Op: "catalog.search", Total: len(ids)})
	}

	_, _ = fmt.Fprintf(w, "selected=%d interval_days=%d\n", len(ids), interval)
	for i, id := range ids {
		_, _ = fmt.Fprintf(w, "%s  %s\n", dates[i].Format(workflow.DateLayout), id)
	}
	return nil
}
