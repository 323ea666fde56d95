package cmd

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/3leaps/glourbee/internal/config"
	"github.com/3leaps/glourbee/internal/observability"
	"github.com/3leaps/glourbee/pkg/catalog"
	"github.com/3leaps/glourbee/pkg/compute"
	"github.com/3leaps/glourbee/pkg/fanout"
	"github.com/3leaps/glourbee/pkg/ledger"
	"github.com/3leaps/glourbee/pkg/runregistry"
	"github.com/3leaps/glourbee/pkg/workflow"
)

// app holds the services a command needs, built from the loaded config.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	compute  *compute.Client
	registry *runregistry.Store
	ledger   *ledger.Ledger
	tracker  *fanout.Tracker
}

// newApp wires the compute client, run registry, outcome ledger and
// tracker. A ledger that cannot be opened is logged and skipped; outcomes
// are then only counted in metrics.
func newApp(ctx context.Context) (*app, error) {
	cfg := appConfig
	if cfg == nil {
		return nil, exitError(ExitConfigError, "Configuration not loaded", errors.New("root pre-run did not run"))
	}
	logger := observability.CLILogger

	client, err := compute.NewClient(compute.Config{
		BaseURL:     cfg.Compute.BaseURL,
		Project:     cfg.Compute.Project,
		Token:       cfg.Compute.Token,
		AssetFolder: cfg.Compute.AssetFolder,
		Timeout:     cfg.Compute.Timeout,
		PageSize:    cfg.Compute.PageSize,
		Logger:      logger.Named("compute"),
	})
	if err != nil {
		return nil, exitError(ExitConfigError, "Invalid compute configuration", err)
	}

	a := &app{
		cfg:      cfg,
		logger:   logger,
		compute:  client,
		registry: runregistry.NewStore(cfg.RunsDir()),
	}

	if l, err := openLedger(ctx, cfg); err != nil {
		logger.Warn("Outcome ledger unavailable", zap.String("path", cfg.LedgerPath()), zap.Error(err))
	} else {
		a.ledger = l
	}

	opts := fanout.Options{
		Project:     client.Project(),
		Concurrency: cfg.Fanout.Concurrency,
		RateLimit:   cfg.Fanout.RateLimit,
		Registry:    a.registry,
		Logger:      logger.Named("fanout"),
	}
	if a.ledger != nil {
		opts.Recorder = a.ledger
	}
	tracker, err := fanout.NewTracker(client, client, opts)
	if err != nil {
		_ = a.Close()
		return nil, exitError(ExitConfigError, "Invalid fan-out configuration", err)
	}
	a.tracker = tracker
	return a, nil
}

func openLedger(ctx context.Context, cfg *config.Config) (*ledger.Ledger, error) {
	db, err := ledger.Open(ctx, ledger.Config{
		Path:      cfg.LedgerPath(),
		URL:       cfg.Ledger.URL,
		AuthToken: cfg.Ledger.AuthToken,
	})
	if err != nil {
		return nil, err
	}
	if err := ledger.Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate ledger: %w", err)
	}
	return ledger.New(db), nil
}

// Close releases the ledger.
func (a *app) Close() error {
	if a.ledger == nil {
		return nil
	}
	return a.ledger.Close()
}

func (a *app) runner() *workflow.Runner {
	return workflow.NewRunner(a.compute, a.tracker, a.logger.Named("workflow"))
}

func (a *app) catalog() (*catalog.Client, error) {
	c, err := catalog.NewClient(catalog.Config{
		BaseURL:   a.cfg.Catalog.BaseURL,
		APIKey:    a.cfg.Catalog.APIKey,
		RateLimit: a.cfg.Catalog.RateLimit,
		Timeout:   a.cfg.Catalog.Timeout,
		MaxPages:  a.cfg.Catalog.MaxPages,
		Logger:    a.logger.Named("catalog"),
	})
	if err != nil {
		return nil, exitError(ExitConfigError, "Invalid catalog configuration", err)
	}
	return c, nil
}

// resolveRunID expands a registered run id prefix. Ids with no local
// record pass through unchanged so runs started elsewhere are discovered
// from the remote task listing.
func (a *app) resolveRunID(input string) (string, error) {
	id, err := a.registry.Resolve(input)
	if errors.Is(err, runregistry.ErrNotFound) {
		return input, nil
	}
	if err != nil {
		return "", exitError(ExitInvalidArgument, "Invalid run id", err)
	}
	return id, nil
}
