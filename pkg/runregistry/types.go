package runregistry

import "time"

// RunKind distinguishes fan-out runs from single-task runs.
//
// NOTE: These values are persisted in run.json and are part of the stable
// on-disk contract.
type RunKind string

const (
	RunKindFanout RunKind = "fanout"
	RunKindSingle RunKind = "single"
)

// RunPhase is the local bookkeeping phase of a run. The remote task states
// are never stored here; they are always queried.
type RunPhase string

const (
	RunPhaseSubmitted RunPhase = "submitted"
	RunPhasePartial   RunPhase = "partial"
	RunPhaseCollected RunPhase = "collected"
	RunPhasePurged    RunPhase = "purged"
)

// SubJobRecord is one submitted (or attempted) sub-job of a run.
type SubJobRecord struct {
	// Index is the 1-based ordinal within the run.
	Index int `json:"index"`

	// Total is the number of sub-jobs in the run.
	Total int `json:"total"`

	Description  string `json:"description"`
	AssetID      string `json:"asset_id,omitempty"`
	TaskID       string `json:"task_id,omitempty"`
	FeatureCount int    `json:"feature_count,omitempty"`

	// SubmitError is set when submission failed; TaskID is then empty.
	SubmitError string `json:"submit_error,omitempty"`
}

// Submitted reports whether the remote service accepted the sub-job.
func (s SubJobRecord) Submitted() bool {
	return s.TaskID != "" && s.SubmitError == ""
}

// RunRecord is the persistent record written to run.json.
//
// The schema is designed for backward-compatible extension (additive fields).
type RunRecord struct {
	RunID     string    `json:"run_id"`
	Name      string    `json:"name,omitempty"`
	Kind      RunKind   `json:"kind"`
	Phase     RunPhase  `json:"phase"`
	Satellite string    `json:"satellite,omitempty"`
	Project   string    `json:"project,omitempty"`
	DGOAsset  string    `json:"dgo_asset,omitempty"`
	CreatedAt time.Time `json:"created_at"`

	CollectedAt *time.Time `json:"collected_at,omitempty"`
	PurgedAt    *time.Time `json:"purged_at,omitempty"`
	OutputPath  string     `json:"output_path,omitempty"`

	SubJobs []SubJobRecord `json:"sub_jobs"`
}

// TaskIDs returns the remote task ids of every submitted sub-job, in
// sub-job order.
func (r *RunRecord) TaskIDs() []string {
	out := make([]string, 0, len(r.SubJobs))
	for _, sj := range r.SubJobs {
		if sj.Submitted() {
			out = append(out, sj.TaskID)
		}
	}
	return out
}

// Unsubmitted counts sub-jobs whose submission failed.
func (r *RunRecord) Unsubmitted() int {
	n := 0
	for _, sj := range r.SubJobs {
		if !sj.Submitted() {
			n++
		}
	}
	return n
}

// SubJobByTask returns the sub-job that produced taskID.
func (r *RunRecord) SubJobByTask(taskID string) (SubJobRecord, bool) {
	for _, sj := range r.SubJobs {
		if sj.TaskID != "" && sj.TaskID == taskID {
			return sj, true
		}
	}
	return SubJobRecord{}, false
}
