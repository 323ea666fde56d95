// Package cmd implements the glourbee command line.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/3leaps/glourbee/internal/config"
	"github.com/3leaps/glourbee/internal/observability"
	"github.com/3leaps/glourbee/internal/server/handlers"
)

// VersionInfo is the build metadata injected by main.
type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
}

var versionInfo = VersionInfo{Version: "dev", Commit: "unknown", BuildDate: "unknown"}

// appIdentity is set once configuration has been loaded.
var appIdentity *config.Identity

// appConfig is the configuration loaded by the root pre-run hook.
var appConfig *config.Config

var (
	cfgFile string
	dataDir string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "glourbee",
	Short: "Fan out river DGO metrics computations and collect their results",
	Long: `glourbee splits a DGO (disaggregated geographic object) collection into
bounded partitions, submits one remote metrics computation per partition,
tracks the resulting tasks as a single run, and collects their tables into
one result.

Examples:
  glourbee run start --dgo-asset projects/p/assets/dgos --satellite Landsat
  glourbee run status 5f0c
  glourbee run collect 5f0c --output metrics.csv
  glourbee catalog search --start 2021-01-01 --end 2021-12-31 --interval-days 10`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: loadConfig,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default $XDG_CONFIG_HOME/glourbee/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Directory holding run records and the outcome ledger")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
}

// SetVersionInfo records the build metadata.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
	handlers.SetVersionInfo(version, commit, buildDate)
}

// GetAppIdentity returns the identity of the loaded configuration, or nil
// before loading.
func GetAppIdentity() *config.Identity {
	return appIdentity
}

func loadConfig(cmd *cobra.Command, _ []string) error {
	observability.InitCLILogger("glourbee", verbose)

	overrides := map[string]any{}
	if dataDir != "" {
		overrides["data_dir"] = dataDir
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.LoadFile(ctx, cfgFile, overrides)
	if err != nil {
		return exitError(ExitConfigError, "Failed to load configuration", err)
	}
	appConfig = cfg
	identity := config.DefaultIdentity
	appIdentity = &identity
	return nil
}

// Execute runs the root command and returns the process exit code.
func Execute(ctx context.Context) int {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "Error:", err)
		return exitCode(err)
	}
	return ExitSuccess
}
