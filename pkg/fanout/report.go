package fanout

import (
	"github.com/3leaps/glourbee/pkg/compute"
	"github.com/3leaps/glourbee/pkg/table"
)

// Membership sources reported in StatusReport.Source.
const (
	SourceRegistry  = "registry"
	SourceDiscovery = "discovery"
)

// ItemResult is the outcome of one per-item remote operation.
type ItemResult struct {
	// Index is the 1-based sub-job ordinal, 0 when unknown.
	Index   int    `json:"index"`
	TaskID  string `json:"task_id,omitempty"`
	Target  string `json:"target,omitempty"`
	Outcome string `json:"outcome"`
	Error   string `json:"error,omitempty"`

	Err error `json:"-"`
}

func (r *ItemResult) fail(outcome string, err error) {
	r.Outcome = outcome
	r.Err = err
	if err != nil {
		r.Error = err.Error()
	}
}

// SubmitReport summarizes a fan-out submission. Failed sub-jobs are not
// retried or rolled back.
type SubmitReport struct {
	RunID     string       `json:"run_id"`
	Total     int          `json:"total"`
	Submitted int          `json:"submitted"`
	Failed    int          `json:"failed"`
	Items     []ItemResult `json:"items"`
}

// TaskStatus is the observed state of one matched task.
type TaskStatus struct {
	Index  int               `json:"index"`
	TaskID string            `json:"task_id"`
	State  compute.TaskState `json:"state"`
	Error  string            `json:"error,omitempty"`
}

// StatusReport buckets the matched tasks of a run by state. The buckets
// in Counts plus Unknown always sum to Total.
type StatusReport struct {
	RunID  string `json:"run_id"`
	Source string `json:"source"`

	// Total is the number of matched tasks.
	Total int `json:"total"`

	// Counts holds every known state, including zero counts.
	Counts map[compute.TaskState]int `json:"counts"`

	// Unknown counts tasks in states this client does not recognize.
	Unknown int `json:"unknown"`

	// Unsubmitted counts registered sub-jobs whose submission failed.
	Unsubmitted int `json:"unsubmitted"`

	// Missing counts registered task ids absent from the remote listing.
	Missing int `json:"missing"`

	Tasks []TaskStatus `json:"tasks"`
}

// Count returns the bucket of state.
func (r *StatusReport) Count(state compute.TaskState) int {
	return r.Counts[state]
}

// Terminal counts matched tasks that reached a terminal state.
func (r *StatusReport) Terminal() int {
	n := 0
	for state, c := range r.Counts {
		if state.Terminal() {
			n += c
		}
	}
	return n
}

// Done reports whether every matched task is terminal.
func (r *StatusReport) Done() bool {
	return r.Total > 0 && r.Terminal() == r.Total
}

// CancelReport summarizes a cancellation request.
type CancelReport struct {
	RunID     string       `json:"run_id"`
	Matched   int          `json:"matched"`
	Requested int          `json:"requested"`
	Skipped   int          `json:"skipped"`
	Failed    int          `json:"failed"`
	Items     []ItemResult `json:"items"`
}

// CollectReport summarizes result collection. Table holds the combined
// rows in sub-job order; it is empty, not nil, when nothing completed.
type CollectReport struct {
	RunID      string       `json:"run_id"`
	Completed  int          `json:"completed"`
	Assets     int          `json:"assets"`
	Downloaded int          `json:"downloaded"`
	Cached     int          `json:"cached"`
	Fallbacks  int          `json:"fallbacks"`
	Failed     int          `json:"failed"`
	Rows       int          `json:"rows"`
	Items      []ItemResult `json:"items"`

	Table *table.Table `json:"-"`
}

// PurgeReport summarizes asset deletion.
type PurgeReport struct {
	RunID   string       `json:"run_id"`
	Assets  int          `json:"assets"`
	Deleted int          `json:"deleted"`
	Skipped int          `json:"skipped"`
	Failed  int          `json:"failed"`
	Items   []ItemResult `json:"items"`
}
