// Package fanout splits a unit of work into bounded sub-jobs, submits each
// as an independent remote task tagged with a shared run token, and later
// reconciles status, results and cleanup across the run.
//
// Run membership comes from the run registry when the run was started
// locally. Runs without a local record are discovered from the remote task
// list by exact run-token match on the task description.
//
// Per-item failures never abort sibling items. They are returned in the
// operation's report and recorded in the outcome ledger when one is
// configured.
package fanout

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/3leaps/glourbee/pkg/compute"
	"github.com/3leaps/glourbee/pkg/dataset"
	"github.com/3leaps/glourbee/pkg/ledger"
	"github.com/3leaps/glourbee/pkg/metrics"
	"github.com/3leaps/glourbee/pkg/runregistry"
	"github.com/3leaps/glourbee/pkg/table"
)

// DefaultConcurrency caps in-flight remote calls when unset.
const DefaultConcurrency = 4

// RequestBuilder builds the export request of one sub-job. The tracker
// overwrites Description so every task carries the run tag.
type RequestBuilder func(sub SubJob) (compute.ExportRequest, error)

// Registry persists run membership.
type Registry interface {
	Write(record *runregistry.RunRecord) error
	Get(runID string) (*runregistry.RunRecord, error)
	Workspace(runID string) (*runregistry.Workspace, error)
}

// Recorder stores per-item outcomes.
type Recorder interface {
	Record(ctx context.Context, e ledger.Entry) error
}

// Options configures a Tracker.
type Options struct {
	// Project owns the exported assets; destination URIs are resolved
	// against it.
	Project string

	// Concurrency caps in-flight remote calls. Defaults to
	// DefaultConcurrency.
	Concurrency int

	// RateLimit caps remote calls per second. Zero disables limiting.
	RateLimit float64

	Registry Registry
	Recorder Recorder
	Logger   *zap.Logger

	// Now overrides the clock (tests).
	Now func() time.Time
}

// RunSpec describes a run about to be submitted.
type RunSpec struct {
	// RunID is the run token. Empty generates one.
	RunID string

	Name      string
	Single    bool
	Satellite string
	DGOAsset  string
}

// Tracker drives fan-out runs against a compute service.
type Tracker struct {
	svc         compute.Service
	fetcher     *dataset.Fetcher
	project     string
	concurrency int
	limiter     *rate.Limiter
	registry    Registry
	recorder    Recorder
	logger      *zap.Logger
	now         func() time.Time
}

// NewTracker creates a tracker. tables may be nil when results are never
// collected.
func NewTracker(svc compute.Service, tables compute.TableSource, opts Options) (*Tracker, error) {
	if svc == nil {
		return nil, &ConfigError{Field: "service", Message: "is required"}
	}
	if strings.TrimSpace(opts.Project) == "" {
		return nil, &ConfigError{Field: "project", Message: "is required"}
	}
	if opts.Concurrency < 0 {
		return nil, &ConfigError{Field: "concurrency", Message: "must be >= 0"}
	}
	if opts.RateLimit < 0 {
		return nil, &ConfigError{Field: "rate_limit", Message: "must be >= 0"}
	}

	t := &Tracker{
		svc:         svc,
		project:     strings.TrimSpace(opts.Project),
		concurrency: opts.Concurrency,
		registry:    opts.Registry,
		recorder:    opts.Recorder,
		logger:      opts.Logger,
		now:         opts.Now,
	}
	if t.concurrency == 0 {
		t.concurrency = DefaultConcurrency
	}
	if t.logger == nil {
		t.logger = zap.NewNop()
	}
	if t.now == nil {
		t.now = func() time.Time { return time.Now().UTC() }
	}
	if opts.RateLimit > 0 {
		burst := max(1, int(opts.RateLimit))
		t.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	if tables != nil {
		t.fetcher = dataset.NewFetcher(tables, t.logger)
	}
	return t, nil
}

// Submit builds one export request per group, persists the run record and
// dispatches every sub-job. Build and configuration errors abort before any
// remote call. Dispatch failures are reported per item.
func (t *Tracker) Submit(ctx context.Context, spec RunSpec, groups [][]string, build RequestBuilder) (*SubmitReport, error) {
	if build == nil {
		return nil, &ConfigError{Field: "builder", Message: "is required"}
	}
	if len(groups) == 0 {
		return nil, &ConfigError{Field: "groups", Message: "at least one sub-job is required"}
	}
	if spec.Single && len(groups) != 1 {
		return nil, &ConfigError{Field: "groups", Message: "single-task runs take exactly one group"}
	}
	for i, g := range groups {
		if len(g) == 0 && !spec.Single {
			return nil, &ConfigError{Field: "groups", Message: fmt.Sprintf("group %d is empty", i+1)}
		}
	}

	runID := strings.TrimSpace(spec.RunID)
	if runID == "" {
		runID = NewRunToken()
	} else if !validToken(runID) {
		return nil, &ConfigError{Field: "run_id", Message: fmt.Sprintf("%q is not a hex token", runID)}
	}

	n := len(groups)
	reqs := make([]compute.ExportRequest, n)
	record := &runregistry.RunRecord{
		RunID:     runID,
		Name:      spec.Name,
		Kind:      runregistry.RunKindFanout,
		Phase:     runregistry.RunPhaseSubmitted,
		Satellite: spec.Satellite,
		Project:   t.project,
		DGOAsset:  spec.DGOAsset,
		CreatedAt: t.now(),
		SubJobs:   make([]runregistry.SubJobRecord, n),
	}
	if spec.Single {
		record.Kind = runregistry.RunKindSingle
	}

	for i, g := range groups {
		sub := SubJob{RunID: runID, Index: i + 1, Total: n, Single: spec.Single, FeatureIDs: g}
		req, err := build(sub)
		if err != nil {
			return nil, &BuildError{Index: sub.Index, Err: err}
		}
		req.Description = Description(sub)
		reqs[i] = req
		record.SubJobs[i] = runregistry.SubJobRecord{
			Index:        sub.Index,
			Total:        n,
			Description:  req.Description,
			AssetID:      req.AssetID,
			FeatureCount: len(g),
		}
	}

	if t.registry != nil {
		if err := t.registry.Write(record); err != nil {
			return nil, fmt.Errorf("persist run record: %w", err)
		}
	}

	t.logger.Info("submitting run",
		zap.String("run_id", runID),
		zap.Int("sub_jobs", n),
		zap.Int("concurrency", t.concurrency))

	report := &SubmitReport{RunID: runID, Total: n, Items: make([]ItemResult, n)}
	t.each(ctx, n, ledger.OpSubmit, func(ctx context.Context, i int) {
		item := &report.Items[i]
		item.Index = i + 1
		item.Target = reqs[i].AssetID

		task, err := t.svc.Export(ctx, reqs[i])
		if err != nil {
			item.fail(ledger.OutcomeFailed, err)
			t.logger.Warn("sub-job submission failed",
				zap.String("run_id", runID),
				zap.Int("index", item.Index),
				zap.Error(err))
		} else {
			item.TaskID = task.ID
			item.Outcome = ledger.OutcomeOK
		}
		t.record(ctx, runID, ledger.OpSubmit, *item)
	})

	for i, item := range report.Items {
		if item.Err != nil {
			report.Failed++
			record.SubJobs[i].SubmitError = item.Error
			continue
		}
		report.Submitted++
		record.SubJobs[i].TaskID = item.TaskID
	}
	if report.Failed > 0 {
		record.Phase = runregistry.RunPhasePartial
	}

	if t.registry != nil {
		if err := t.registry.Write(record); err != nil {
			return report, fmt.Errorf("persist run record: %w", err)
		}
	}
	return report, nil
}

// member is one matched task with its sub-job ordinal.
type member struct {
	index int
	task  RemoteTask
}

type membership struct {
	source      string
	record      *runregistry.RunRecord
	members     []member
	missing     []string
	unsubmitted int
}

// Tasks returns the matched remote tasks of runID in sub-job order.
func (t *Tracker) Tasks(ctx context.Context, runID string) ([]RemoteTask, error) {
	m, err := t.resolve(ctx, runID)
	if err != nil {
		return nil, err
	}
	out := make([]RemoteTask, len(m.members))
	for i, mem := range m.members {
		out[i] = mem.task
	}
	return out, nil
}

func (t *Tracker) resolve(ctx context.Context, runID string) (*membership, error) {
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return nil, &ConfigError{Field: "run_id", Message: "is required"}
	}

	rec, err := t.lookup(runID)
	if err != nil {
		return nil, err
	}

	listing, err := t.svc.ListTasks(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}

	m := &membership{record: rec}
	if rec != nil {
		m.source = SourceRegistry
		m.unsubmitted = rec.Unsubmitted()

		byID := make(map[string]compute.Task, len(listing))
		for _, task := range listing {
			byID[task.ID] = task
		}
		for _, sj := range rec.SubJobs {
			if !sj.Submitted() {
				continue
			}
			task, ok := byID[sj.TaskID]
			if !ok {
				m.missing = append(m.missing, sj.TaskID)
				continue
			}
			m.members = append(m.members, member{index: sj.Index, task: NewRemoteTask(task, t.svc)})
		}
		return m, nil
	}

	m.source = SourceDiscovery
	seen := map[string]bool{}
	for _, task := range listing {
		if seen[task.ID] || !MatchesRun(task.Description, runID) {
			continue
		}
		seen[task.ID] = true
		idx := 0
		if sub, err := ParseDescription(task.Description); err == nil {
			idx = sub.Index
		}
		m.members = append(m.members, member{index: idx, task: NewRemoteTask(task, t.svc)})
	}
	sort.SliceStable(m.members, func(i, j int) bool {
		return m.members[i].index < m.members[j].index
	})
	return m, nil
}

// lookup returns nil without error when the run has no local record.
func (t *Tracker) lookup(runID string) (*runregistry.RunRecord, error) {
	if t.registry == nil {
		return nil, nil
	}
	rec, err := t.registry.Get(runID)
	if errors.Is(err, runregistry.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load run record: %w", err)
	}
	return rec, nil
}

// QueryStatus takes a snapshot of the run's task states.
func (t *Tracker) QueryStatus(ctx context.Context, runID string) (*StatusReport, error) {
	m, err := t.resolve(ctx, runID)
	if err != nil {
		return nil, err
	}

	report := &StatusReport{
		RunID:       runID,
		Source:      m.source,
		Total:       len(m.members),
		Counts:      make(map[compute.TaskState]int, len(compute.KnownStates)),
		Unsubmitted: m.unsubmitted,
		Missing:     len(m.missing),
		Tasks:       make([]TaskStatus, 0, len(m.members)),
	}
	for _, s := range compute.KnownStates {
		report.Counts[s] = 0
	}
	for _, mem := range m.members {
		state := mem.task.Status()
		if state.Known() {
			report.Counts[state]++
		} else {
			report.Unknown++
		}
		report.Tasks = append(report.Tasks, TaskStatus{
			Index:  mem.index,
			TaskID: mem.task.ID(),
			State:  state,
			Error:  errorMessage(mem.task),
		})
	}

	metrics.ResetRunTasks()
	for state, c := range report.Counts {
		metrics.UpdateRunTasks(string(state), c)
	}
	metrics.UpdateRunTasks("UNKNOWN", report.Unknown)

	return report, nil
}

// Cancel requests cancellation of every matched non-terminal task. It
// does not wait for the service to honor the requests.
func (t *Tracker) Cancel(ctx context.Context, runID string) (*CancelReport, error) {
	m, err := t.resolve(ctx, runID)
	if err != nil {
		return nil, err
	}

	report := &CancelReport{RunID: runID, Matched: len(m.members), Items: make([]ItemResult, len(m.members))}
	t.each(ctx, len(m.members), ledger.OpCancel, func(ctx context.Context, i int) {
		mem := m.members[i]
		item := &report.Items[i]
		item.Index = mem.index
		item.TaskID = mem.task.ID()
		item.Target = mem.task.ID()

		state := mem.task.Status()
		switch {
		case state.Terminal() || state == compute.StateCancelRequested:
			item.Outcome = ledger.OutcomeSkipped
		default:
			if err := mem.task.Cancel(ctx); err != nil {
				item.fail(ledger.OutcomeFailed, err)
			} else {
				item.Outcome = ledger.OutcomeOK
			}
		}
		t.record(ctx, runID, ledger.OpCancel, *item)
	})

	for _, item := range report.Items {
		switch item.Outcome {
		case ledger.OutcomeOK:
			report.Requested++
		case ledger.OutcomeSkipped:
			report.Skipped++
		default:
			report.Failed++
		}
	}
	return report, nil
}

// CollectOptions controls CollectResults.
type CollectOptions struct {
	// Overwrite re-downloads tables already in the workspace cache.
	Overwrite bool

	// Columns pre-filters downloads. DATE-like key columns must be listed
	// explicitly.
	Columns []string

	// Workspace overrides the run's registry workspace.
	Workspace *runregistry.Workspace

	// Release deletes the workspace once the combined table is built.
	Release bool
}

// resultAsset is one resolved output of a completed task.
type resultAsset struct {
	index   int
	taskID  string
	assetID string
}

// completedAssets resolves the outputs of completed members. Unresolvable
// destinations become failed items.
func (t *Tracker) completedAssets(m *membership) (completed int, assets []resultAsset, failed []ItemResult) {
	project := t.project
	if m.record != nil && m.record.Project != "" {
		project = m.record.Project
	}
	for _, mem := range m.members {
		if mem.task.Status() != compute.StateCompleted {
			continue
		}
		completed++
		locs := mem.task.ResultLocations()
		if len(locs) == 0 {
			item := ItemResult{Index: mem.index, TaskID: mem.task.ID()}
			item.fail(ledger.OutcomeFailed, fmt.Errorf("task %s has no destination", mem.task.ID()))
			failed = append(failed, item)
			continue
		}
		for _, uri := range locs {
			assetID, err := compute.ResolveAssetID(uri, project)
			if err != nil {
				item := ItemResult{Index: mem.index, TaskID: mem.task.ID(), Target: uri}
				item.fail(ledger.OutcomeFailed, err)
				failed = append(failed, item)
				continue
			}
			assets = append(assets, resultAsset{index: mem.index, taskID: mem.task.ID(), assetID: assetID})
		}
	}
	return completed, assets, failed
}

// CollectResults downloads the tables of every completed task into the
// run workspace and concatenates them in sub-job order. A run without
// completed tasks yields an empty table.
func (t *Tracker) CollectResults(ctx context.Context, runID string, opts CollectOptions) (*CollectReport, error) {
	m, err := t.resolve(ctx, runID)
	if err != nil {
		return nil, err
	}

	completed, assets, unresolved := t.completedAssets(m)
	report := &CollectReport{RunID: runID, Completed: completed, Assets: len(assets), Table: table.New()}
	if len(assets) == 0 {
		report.Items = unresolved
		report.Failed = len(unresolved)
		for _, item := range unresolved {
			t.record(ctx, runID, ledger.OpDownload, item)
		}
		if opts.Release {
			ws := opts.Workspace
			if ws == nil && t.registry != nil {
				ws, _ = t.registry.Workspace(runID)
			}
			t.release(runID, ws)
		}
		return report, nil
	}

	if t.fetcher == nil {
		return nil, &ConfigError{Field: "tables", Message: "no table source configured"}
	}
	ws := opts.Workspace
	if ws == nil {
		if t.registry == nil {
			return nil, &ConfigError{Field: "workspace", Message: "no workspace or registry configured"}
		}
		if ws, err = t.registry.Workspace(runID); err != nil {
			return nil, fmt.Errorf("open workspace: %w", err)
		}
	}

	items := make([]ItemResult, len(assets))
	tables := make([]*table.Table, len(assets))
	t.each(ctx, len(assets), ledger.OpDownload, func(ctx context.Context, i int) {
		a := assets[i]
		item := &items[i]
		item.Index = a.index
		item.TaskID = a.taskID
		item.Target = a.assetID

		res, err := t.fetcher.Fetch(ctx, a.assetID, ws.CachePath(a.assetID), dataset.FetchOptions{
			Columns:   opts.Columns,
			Overwrite: opts.Overwrite,
		})
		if err == nil {
			tables[i], err = table.ReadCSVFile(res.Path)
		}
		switch {
		case err != nil:
			item.fail(ledger.OutcomeFailed, err)
		case res.Cached:
			item.Outcome = ledger.OutcomeCached
		case res.Fallback != nil:
			item.Outcome = ledger.OutcomeFallback
			item.Error = res.Fallback.Error()
		default:
			item.Outcome = ledger.OutcomeOK
		}
		t.record(ctx, runID, ledger.OpDownload, *item)
	})

	for _, item := range unresolved {
		t.record(ctx, runID, ledger.OpDownload, item)
	}

	ordered := make([]*table.Table, 0, len(tables))
	for i, item := range items {
		switch item.Outcome {
		case ledger.OutcomeFailed:
			report.Failed++
			continue
		case ledger.OutcomeCached:
			report.Cached++
		case ledger.OutcomeFallback:
			report.Fallbacks++
			report.Downloaded++
		default:
			report.Downloaded++
		}
		ordered = append(ordered, tables[i])
	}
	report.Failed += len(unresolved)
	report.Items = append(items, unresolved...)
	report.Table = table.Concat(ordered...)
	report.Rows = report.Table.Len()

	if opts.Release {
		t.release(runID, ws)
	}
	if m.record != nil && report.Failed == 0 {
		now := t.now()
		m.record.Phase = runregistry.RunPhaseCollected
		m.record.CollectedAt = &now
		t.persist(m.record)
	}
	return report, nil
}

func (t *Tracker) release(runID string, ws *runregistry.Workspace) {
	if ws == nil {
		return
	}
	if err := ws.Release(); err != nil {
		t.logger.Warn("release workspace failed", zap.String("run_id", runID), zap.Error(err))
	}
}

// PurgeResults deletes the exported asset of every completed task. A failed
// delete never stops the remaining ones; assets already gone are skipped.
func (t *Tracker) PurgeResults(ctx context.Context, runID string) (*PurgeReport, error) {
	m, err := t.resolve(ctx, runID)
	if err != nil {
		return nil, err
	}

	_, assets, unresolved := t.completedAssets(m)
	report := &PurgeReport{RunID: runID, Assets: len(assets)}

	items := make([]ItemResult, len(assets))
	t.each(ctx, len(assets), ledger.OpDelete, func(ctx context.Context, i int) {
		a := assets[i]
		item := &items[i]
		item.Index = a.index
		item.TaskID = a.taskID
		item.Target = a.assetID

		err := t.svc.DeleteAsset(ctx, a.assetID)
		switch {
		case err == nil:
			item.Outcome = ledger.OutcomeOK
		case compute.IsNotFound(err):
			item.Outcome = ledger.OutcomeSkipped
			item.Error = err.Error()
		default:
			item.fail(ledger.OutcomeFailed, err)
		}
		t.record(ctx, runID, ledger.OpDelete, *item)
	})
	for _, item := range unresolved {
		t.record(ctx, runID, ledger.OpDelete, item)
	}

	for _, item := range items {
		switch item.Outcome {
		case ledger.OutcomeOK:
			report.Deleted++
		case ledger.OutcomeSkipped:
			report.Skipped++
		default:
			report.Failed++
		}
	}
	report.Failed += len(unresolved)
	report.Items = append(items, unresolved...)

	if m.record != nil && report.Failed == 0 && report.Assets > 0 {
		now := t.now()
		m.record.Phase = runregistry.RunPhasePurged
		m.record.PurgedAt = &now
		t.persist(m.record)
	}
	return report, nil
}

// each runs fn for items [0, n) with bounded concurrency and rate
// limiting. fn stores its own result; a cancelled context is reported to
// fn through ctx.
func (t *Tracker) each(ctx context.Context, n int, op string, fn func(ctx context.Context, i int)) {
	var g errgroup.Group
	g.SetLimit(t.concurrency)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			if t.limiter != nil {
				// Wait fails only when ctx is done; the remote call then
				// fails with the same error and is reported per item.
				_ = t.limiter.Wait(ctx)
			}
			start := time.Now()
			fn(ctx, i)
			metrics.ObserveRemoteCall(op, time.Since(start).Seconds())
			return nil
		})
	}
	_ = g.Wait()
}

func (t *Tracker) record(ctx context.Context, runID, op string, item ItemResult) {
	metrics.IncreaseFanoutOutcome(op, item.Outcome)
	if t.recorder == nil {
		return
	}
	err := t.recorder.Record(context.WithoutCancel(ctx), ledger.Entry{
		RunID:      runID,
		Op:         op,
		Index:      item.Index,
		Target:     item.Target,
		Outcome:    item.Outcome,
		Detail:     item.Error,
		RecordedAt: t.now(),
	})
	if err != nil {
		t.logger.Warn("record outcome failed",
			zap.String("run_id", runID),
			zap.String("op", op),
			zap.Error(err))
	}
}

func (t *Tracker) persist(rec *runregistry.RunRecord) {
	if t.registry == nil {
		return
	}
	if err := t.registry.Write(rec); err != nil {
		t.logger.Warn("update run record failed", zap.String("run_id", rec.RunID), zap.Error(err))
	}
}
