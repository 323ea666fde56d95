package cmd

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/3leaps/glourbee/pkg/compute"
	"github.com/3leaps/glourbee/pkg/fanout"
	"github.com/3leaps/glourbee/pkg/manifest"
	"github.com/3leaps/glourbee/pkg/provider"
	"github.com/3leaps/glourbee/pkg/runregistry"
	"github.com/3leaps/glourbee/pkg/temporal"
)

func TestExitCode(t *testing.T) {
	remote := func(sentinel error) error {
		return &compute.RemoteError{Op: "ListTasks", Message: "boom", Err: sentinel}
	}

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"explicit", exitError(ExitPartialFailure, "partial", nil), ExitPartialFailure},
		{"wrapped explicit", fmt.Errorf("outer: %w", exitError(ExitTimeout, "slow", nil)), ExitTimeout},
		{"fanout config", &fanout.ConfigError{Field: "split_size", Message: "must be > 0"}, ExitInvalidArgument},
		{"interval", fmt.Errorf("select: %w", temporal.ErrInvalidInterval), ExitInvalidArgument},
		{"manifest", fmt.Errorf("load: %w", manifest.ErrValidationFailed), ExitInvalidArgument},
		{"destination", fmt.Errorf("publish: %w", provider.ErrInvalidDestination), ExitInvalidArgument},
		{"undated id", fmt.Errorf("select: %w", temporal.ErrDataIntegrity), ExitDataError},
		{"unknown run", fmt.Errorf("get: %w", runregistry.ErrNotFound), ExitNotFound},
		{"remote not found", remote(compute.ErrNotFound), ExitNotFound},
		{"deadline", context.DeadlineExceeded, ExitTimeout},
		{"throttled", remote(compute.ErrThrottled), ExitExternalServiceUnavailable},
		{"unavailable", remote(compute.ErrUnavailable), ExitExternalServiceUnavailable},
		{"unauthorized", remote(compute.ErrUnauthorized), ExitExternalServiceUnavailable},
		{"other", errors.New("boom"), ExitFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.err))
		})
	}
}

func TestClassifyRemote(t *testing.T) {
	err := classifyRemote("Status query failed", errors.New("connection reset"))
	assert.Equal(t, ExitExternalServiceUnavailable, exitCode(err))

	err = classifyRemote("Status query failed", &compute.RemoteError{Op: "ListTasks", Err: compute.ErrNotFound})
	assert.Equal(t, ExitNotFound, exitCode(err))
	assert.ErrorIs(t, err, compute.ErrNotFound)
}

func TestExitError_Message(t *testing.T) {
	assert.Equal(t, "Run not started", exitError(ExitFailure, "Run not started", nil).Error())
	assert.Equal(t, "Run not started: boom", exitError(ExitFailure, "Run not started", errors.New("boom")).Error())
}
