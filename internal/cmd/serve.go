package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/glourbee/internal/observability"
	"github.com/3leaps/glourbee/internal/server"
	"github.com/3leaps/glourbee/internal/server/handlers"
	"github.com/3leaps/glourbee/pkg/ledger"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve run status over HTTP",
	Long: `Start the HTTP status API: health probes, /version, /metrics and the
/runs endpoints (list, show, live status, cancel).`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("host", "", "Listen host (default from config)")
	serveCmd.Flags().Int("port", 0, "Listen port (default from config)")
}

// registryHealthChecker verifies the run registry directory is usable.
type registryHealthChecker struct {
	dir string
}

func (c registryHealthChecker) CheckHealth(ctx context.Context) error {
	if c.dir == "" {
		return errors.New("run registry not configured")
	}
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("run registry: %w", err)
	}
	return nil
}

// ledgerHealthChecker pings the outcome ledger.
type ledgerHealthChecker struct {
	ledger *ledger.Ledger
}

func (c ledgerHealthChecker) CheckHealth(ctx context.Context) error {
	if c.ledger == nil {
		return errors.New("outcome ledger not initialized")
	}
	return c.ledger.Ping(ctx)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	cfg := a.cfg
	host, port := cfg.Server.Host, cfg.Server.Port
	if h, _ := cmd.Flags().GetString("host"); h != "" {
		host = h
	}
	if p, _ := cmd.Flags().GetInt("port"); p > 0 {
		port = p
	}

	logger, err := observability.NewLogger(cfg.Logging.Level, cfg.Logging.Profile)
	if err != nil {
		return exitError(ExitConfigError, "Invalid logging configuration", err)
	}
	defer func() { _ = logger.Sync() }()

	handlers.InitHealthManager(versionInfo.Version)
	health := handlers.GetHealthManager()
	health.RegisterChecker("registry", registryHealthChecker{dir: cfg.RunsDir()})
	health.RegisterChecker("ledger", ledgerHealthChecker{ledger: a.ledger})

	runs := &handlers.RunsHandler{Store: a.registry, Tracker: a.tracker}
	if a.ledger != nil {
		runs.Outcomes = a.ledger
	}

	srv := server.New(host, port,
		server.WithRuns(runs),
		server.WithMetrics(cfg.Metrics.Enabled),
		server.WithLogger(logger),
		server.WithTimeouts(server.Timeouts{
			Read:     cfg.Server.ReadTimeout,
			Write:    cfg.Server.WriteTimeout,
			Idle:     cfg.Server.IdleTimeout,
			Shutdown: cfg.Server.ShutdownTimeout,
		}),
	)

	observability.CLILogger.Info("Starting server", zap.String("addr", srv.Addr()))
	if err := srv.Run(ctx); err != nil {
		return exitError(ExitFailure, "Server failed", err)
	}
	return nil
}
