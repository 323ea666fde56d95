package fanout

import (
	"context"

	"github.com/3leaps/glourbee/pkg/compute"
)

// RemoteTask is the tracker's view of one remote task. The remote service
// owns the lifecycle; the view only reports it and forwards cancellation.
type RemoteTask interface {
	ID() string
	Description() string
	Status() compute.TaskState
	ResultLocations() []string
	Cancel(ctx context.Context) error
}

type remoteTask struct {
	task compute.Task
	svc  compute.Service
}

// NewRemoteTask wraps a task snapshot listed from svc.
func NewRemoteTask(task compute.Task, svc compute.Service) RemoteTask {
	return &remoteTask{task: task, svc: svc}
}

func (r *remoteTask) ID() string                { return r.task.ID }
func (r *remoteTask) Description() string       { return r.task.Description }
func (r *remoteTask) Status() compute.TaskState { return r.task.State }

func (r *remoteTask) ResultLocations() []string {
	return append([]string(nil), r.task.DestinationURIs...)
}

func (r *remoteTask) Cancel(ctx context.Context) error {
	return r.svc.CancelTask(ctx, r.task.ID)
}

// errorMessage returns the remote failure message when the view carries one.
func errorMessage(t RemoteTask) string {
	if rt, ok := t.(*remoteTask); ok {
		return rt.task.ErrorMessage
	}
	return ""
}
