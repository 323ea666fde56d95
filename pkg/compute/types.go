// Package compute is a client for the remote geospatial compute and export
// service.
//
// The service evaluates computation graphs (see package graph) and exports
// the resulting tables to project assets as asynchronous tasks. This package
// submits exports, lists and cancels tasks, deletes assets and downloads
// exported tables. Task lifecycle is owned by the remote service; callers
// only observe the reported state.
package compute

import (
	"context"
	"io"
	"time"

	"github.com/3leaps/glourbee/pkg/graph"
)

// TaskState is the remote task state as reported by the service.
type TaskState string

const (
	StatePending         TaskState = "PENDING"
	StateReady           TaskState = "READY"
	StateRunning         TaskState = "RUNNING"
	StateCompleted       TaskState = "COMPLETED"
	StateFailed          TaskState = "FAILED"
	StateCancelRequested TaskState = "CANCEL_REQUESTED"
	StateCancelled       TaskState = "CANCELLED"
)

// KnownStates lists every state this client understands, in lifecycle order.
var KnownStates = []TaskState{
	StatePending,
	StateReady,
	StateRunning,
	StateCompleted,
	StateFailed,
	StateCancelRequested,
	StateCancelled,
}

// Terminal reports whether no further transitions are expected.
func (s TaskState) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled:
		return true
	default:
		return false
	}
}

// Known reports whether s is one of KnownStates.
func (s TaskState) Known() bool {
	for _, k := range KnownStates {
		if s == k {
			return true
		}
	}
	return false
}

// Task is a remote export task.
type Task struct {
	ID              string    `json:"id"`
	Description     string    `json:"description"`
	State           TaskState `json:"state"`
	DestinationURIs []string  `json:"destination_uris,omitempty"`
	ErrorMessage    string    `json:"error_message,omitempty"`
	CreateTime      time.Time `json:"creation_timestamp,omitempty"`
	UpdateTime      time.Time `json:"update_timestamp,omitempty"`
}

// ExportRequest asks the service to evaluate Expression and store the
// resulting table as AssetID.
type ExportRequest struct {
	Description string      `json:"description"`
	AssetID     string      `json:"assetId"`
	Expression  *graph.Node `json:"expression"`
}

// Service is the subset of the remote compute service used by the fan-out
// tracker.
type Service interface {
	// Export submits an asynchronous table export.
	Export(ctx context.Context, req ExportRequest) (*Task, error)

	// ListTasks returns every task visible to the caller.
	ListTasks(ctx context.Context) ([]Task, error)

	// CancelTask requests cancellation. It does not wait.
	CancelTask(ctx context.Context, taskID string) error

	// DeleteAsset deletes an exported asset.
	DeleteAsset(ctx context.Context, assetID string) error
}

// TableSource downloads exported tables.
type TableSource interface {
	// DownloadTable writes the asset as CSV to w. A non-empty columns list
	// asks the service to pre-filter the export to those columns.
	DownloadTable(ctx context.Context, assetID string, columns []string, w io.Writer) error
}

// FeatureLister lists property values of a feature collection.
type FeatureLister interface {
	FeatureIDs(ctx context.Context, assetID, property string) ([]string, error)
}
