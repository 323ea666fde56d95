// Package workflow assembles DGO metrics runs: it lists the DGOs, splits
// them into sub-jobs, builds one computation graph per sub-job and hands
// the exports to the fan-out tracker.
package workflow

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/3leaps/glourbee/pkg/catalog"
	"github.com/3leaps/glourbee/pkg/compute"
	"github.com/3leaps/glourbee/pkg/dataset"
	"github.com/3leaps/glourbee/pkg/fanout"
	"github.com/3leaps/glourbee/pkg/graph"
	"github.com/3leaps/glourbee/pkg/table"
	"github.com/3leaps/glourbee/pkg/temporal"
)

// Service is what a workflow needs from the compute service.
type Service interface {
	compute.FeatureLister

	// AssetID returns the export asset id for an asset name.
	AssetID(name string) string

	// ComputeTable evaluates a graph synchronously as CSV.
	ComputeTable(ctx context.Context, expr *graph.Node, w io.Writer) error
}

// Submitter dispatches sub-jobs. *fanout.Tracker implements it.
type Submitter interface {
	Submit(ctx context.Context, spec fanout.RunSpec, groups [][]string, build fanout.RequestBuilder) (*fanout.SubmitReport, error)
}

// Searcher finds catalog scenes. *catalog.Client implements it.
type Searcher interface {
	SearchIDs(ctx context.Context, itemTypes []string, filter catalog.Filter) ([]string, error)
}

// Runner starts workflows.
type Runner struct {
	svc       Service
	submitter Submitter
	logger    *zap.Logger
}

// NewRunner creates a runner.
func NewRunner(svc Service, submitter Submitter, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{svc: svc, submitter: submitter, logger: logger}
}

// Start lists every DGO, partitions them by SplitSize and submits one
// metrics export per partition. The returned report carries the run token.
func (r *Runner) Start(ctx context.Context, p Params) (*fanout.SubmitReport, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if p.Satellite == graph.Planet {
		return nil, &ValidationError{Field: "satellite", Message: "Planet imagery runs as a single task; use StartSingle"}
	}

	ids, err := r.svc.FeatureIDs(ctx, p.DGOAsset, p.FIDField)
	if err != nil {
		return nil, fmt.Errorf("list %s of %s: %w", p.FIDField, p.DGOAsset, err)
	}
	if len(ids) == 0 {
		return nil, &ValidationError{Field: "dgo_asset", Message: fmt.Sprintf("%s has no %s values", p.DGOAsset, p.FIDField)}
	}

	groups, err := fanout.Partition(ids, p.SplitSize)
	if err != nil {
		return nil, err
	}

	r.logger.Debug("partitioned DGOs",
		zap.String("dgo_asset", p.DGOAsset),
		zap.Int("dgos", len(ids)),
		zap.Int("sub_jobs", len(groups)))

	spec := fanout.RunSpec{Name: p.Name, Satellite: string(p.Satellite), DGOAsset: p.DGOAsset}
	return r.submitter.Submit(ctx, spec, groups, r.builder(p))
}

// PlanetProperties are the columns kept when collecting a single-task
// (Planet) run without an explicit column selection.
var PlanetProperties = []string{
	"DATE", "DGO_FID", "acquired", "AC_AREA", "CLEAR_SCORE", "COVERAGE_SCORE",
	"MEAN_AC_NDWI", "MEAN_AC_NDVI", "MEAN_NDWI", "MEAN_NDVI",
	"MEAN_VEGETATION_NDWI", "MEAN_VEGETATION_NDVI", "MEAN_WATER_NDWI",
	"VEGETATION_AREA", "VEGETATION_PERIMETER", "WATER_AREA", "WATER_PERIMETER",
}

// StartSingle submits one export covering every DGO. It is the Planet
// imagery path.
func (r *Runner) StartSingle(ctx context.Context, p Params) (*fanout.SubmitReport, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	spec := fanout.RunSpec{Name: p.Name, Single: true, Satellite: string(p.Satellite), DGOAsset: p.DGOAsset}
	return r.submitter.Submit(ctx, spec, [][]string{nil}, r.builder(p))
}

func (r *Runner) builder(p Params) fanout.RequestBuilder {
	return func(sub fanout.SubJob) (compute.ExportRequest, error) {
		expr, err := graph.Metrics(p.metricsRequest(sub.FeatureIDs))
		if err != nil {
			return compute.ExportRequest{}, err
		}
		return compute.ExportRequest{
			AssetID:    r.svc.AssetID(sub.AssetName()),
			Expression: expr,
		}, nil
	}
}

// Indicators computes the Global Surface Water indicators of every DGO
// synchronously.
func (r *Runner) Indicators(ctx context.Context, dgoAsset string) (*table.Table, error) {
	if dgoAsset == "" {
		return nil, &ValidationError{Field: "dgo_asset", Message: "is required"}
	}
	var buf bytes.Buffer
	if err := r.svc.ComputeTable(ctx, graph.GSWIndicators(dgoAsset), &buf); err != nil {
		return nil, fmt.Errorf("compute indicators: %w", err)
	}
	tbl, err := table.ReadCSV(&buf)
	if err != nil {
		return nil, fmt.Errorf("parse indicators: %w", err)
	}
	return dataset.Normalize(tbl), nil
}

// SelectImages searches the catalog and keeps scenes at least
// intervalDays apart.
func SelectImages(ctx context.Context, s Searcher, itemTypes []string, filter catalog.Filter, intervalDays int) ([]string, error) {
	ids, err := s.SearchIDs(ctx, itemTypes, filter)
	if err != nil {
		return nil, err
	}
	return temporal.Select(ids, intervalDays)
}
