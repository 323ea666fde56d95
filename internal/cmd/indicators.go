package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/glourbee/internal/observability"
	"github.com/3leaps/glourbee/pkg/manifest"
	"github.com/3leaps/glourbee/pkg/provider"
)

var indicatorsCmd = &cobra.Command{
	Use:   "indicators",
	Short: "Compute Global Surface Water indicators for every DGO",
	Long: `Compute the Global Surface Water indicators of every DGO of --dgo-asset
synchronously and publish the table to --output (local path or s3://).`,
	RunE: runIndicators,
}

func init() {
	rootCmd.AddCommand(indicatorsCmd)
	indicatorsCmd.Flags().String("dgo-asset", "", "DGO feature collection asset id (required)")
	indicatorsCmd.Flags().StringP("output", "o", "gsw_indicators.csv", "Destination path or s3:// URI")
	indicatorsCmd.Flags().Bool("overwrite", false, "Replace an existing output")
	_ = indicatorsCmd.MarkFlagRequired("dgo-asset")
}

func runIndicators(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	dgoAsset, _ := cmd.Flags().GetString("dgo-asset")
	dest, _ := cmd.Flags().GetString("output")
	overwrite, _ := cmd.Flags().GetBool("overwrite")

	loc, err := provider.ParseDestination(dest)
	if err != nil {
		return exitError(ExitInvalidArgument, "Invalid --output value", err)
	}

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	observability.CLILogger.Info("Computing GSW indicators", zap.String("dgo_asset", dgoAsset))
	tbl, err := a.runner().Indicators(ctx, dgoAsset)
	if err != nil {
		return classifyRemote("Indicators failed", err)
	}
	if err := publishTable(ctx, a, loc, tbl, manifest.InferFormat(dest), overwrite); err != nil {
		return err
	}
	observability.CLILogger.Info("Indicators published",
		zap.String("destination", loc.String()),
		zap.Int("rows", tbl.Len()))
	return nil
}
