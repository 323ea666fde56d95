package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/3leaps/glourbee/pkg/fanout"
	"github.com/3leaps/glourbee/pkg/ledger"
	"github.com/3leaps/glourbee/pkg/runregistry"
)

// RunStore is the read side of the run registry.
type RunStore interface {
	List() ([]runregistry.RunRecord, error)
	Get(runID string) (*runregistry.RunRecord, error)
	Resolve(prefix string) (string, error)
}

// RunTracker queries and cancels remote tasks of a run.
type RunTracker interface {
	QueryStatus(ctx context.Context, runID string) (*fanout.StatusReport, error)
	Cancel(ctx context.Context, runID string) (*fanout.CancelReport, error)
}

// OutcomeSummarizer aggregates recorded per-item outcomes.
type OutcomeSummarizer interface {
	Summarize(ctx context.Context, runID string) ([]ledger.OutcomeCount, error)
}

// RunsHandler serves the run endpoints.
type RunsHandler struct {
	Store    RunStore
	Tracker  RunTracker
	Outcomes OutcomeSummarizer
}

// RunSummary is one entry of GET /runs.
type RunSummary struct {
	RunID   string `json:"run_id"`
	Name    string `json:"name,omitempty"`
	Kind    string `json:"kind"`
	Phase   string `json:"phase"`
	SubJobs int    `json:"sub_jobs"`
	Failed  int    `json:"failed"`

	CreatedAt string `json:"created_at"`
}

// RunDetail is the body of GET /runs/{run}.
type RunDetail struct {
	Run      *runregistry.RunRecord `json:"run"`
	Outcomes []ledger.OutcomeCount  `json:"outcomes,omitempty"`
}

// Routes mounts the run endpoints on r.
func (h *RunsHandler) Routes(r chi.Router) {
	r.Get("/", h.List)
	r.Get("/{run}", h.Show)
	r.Get("/{run}/status", h.Status)
	r.Post("/{run}/cancel", h.Cancel)
}

// List serves every registered run, newest first.
func (h *RunsHandler) List(w http.ResponseWriter, r *http.Request) {
	runs, err := h.Store.List()
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	out := make([]RunSummary, 0, len(runs))
	for _, run := range runs {
		out = append(out, RunSummary{
			RunID:     run.RunID,
			Name:      run.Name,
			Kind:      string(run.Kind),
			Phase:     string(run.Phase),
			SubJobs:   len(run.SubJobs),
			Failed:    run.Unsubmitted(),
			CreatedAt: run.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// Show serves the run record with its outcome summary.
func (h *RunsHandler) Show(w http.ResponseWriter, r *http.Request) {
	runID, err := h.Store.Resolve(chi.URLParam(r, "run"))
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	rec, err := h.Store.Get(runID)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	detail := RunDetail{Run: rec}
	if h.Outcomes != nil {
		counts, err := h.Outcomes.Summarize(r.Context(), runID)
		if err != nil {
			respondWithError(w, r, err)
			return
		}
		detail.Outcomes = counts
	}
	writeJSON(w, http.StatusOK, detail)
}

// Status serves a live status snapshot.
func (h *RunsHandler) Status(w http.ResponseWriter, r *http.Request) {
	runID, err := h.runID(r)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	report, err := h.Tracker.QueryStatus(r.Context(), runID)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// Cancel requests cancellation of the run's non-terminal tasks.
func (h *RunsHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	runID, err := h.runID(r)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	report, err := h.Tracker.Cancel(r.Context(), runID)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, report)
}

// runID expands a registered prefix. Unregistered ids pass through so the
// tracker can discover runs started elsewhere.
func (h *RunsHandler) runID(r *http.Request) (string, error) {
	raw := chi.URLParam(r, "run")
	id, err := h.Store.Resolve(raw)
	if errors.Is(err, runregistry.ErrNotFound) {
		return raw, nil
	}
	return id, err
}
