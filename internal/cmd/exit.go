package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/3leaps/glourbee/pkg/compute"
	"github.com/3leaps/glourbee/pkg/fanout"
	"github.com/3leaps/glourbee/pkg/manifest"
	"github.com/3leaps/glourbee/pkg/provider"
	"github.com/3leaps/glourbee/pkg/runregistry"
	"github.com/3leaps/glourbee/pkg/temporal"
)

// Process exit codes.
const (
	ExitSuccess                    = 0
	ExitFailure                    = 1
	ExitInvalidArgument            = 2
	ExitConfigError                = 3
	ExitNotFound                   = 4
	ExitExternalServiceUnavailable = 5
	ExitFileWriteError             = 6
	ExitPartialFailure             = 7
	ExitTimeout                    = 8
	ExitDataError                  = 9
)

// ExitError carries the exit code of a failed command.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// exitError creates an error that will cause the CLI to exit with the given code.
func exitError(code int, message string, err error) error {
	return &ExitError{Code: code, Message: message, Err: err}
}

// exitCode maps err to a process exit code. Explicit ExitErrors win;
// everything else is classified by its sentinel.
func exitCode(err error) int {
	var ee *ExitError
	switch {
	case err == nil:
		return ExitSuccess
	case errors.As(err, &ee):
		return ee.Code
	case fanout.IsConfiguration(err), errors.Is(err, temporal.ErrInvalidInterval):
		return ExitInvalidArgument
	case errors.Is(err, manifest.ErrValidationFailed), errors.Is(err, provider.ErrInvalidDestination):
		return ExitInvalidArgument
	case temporal.IsDataIntegrity(err):
		return ExitDataError
	case errors.Is(err, runregistry.ErrNotFound), compute.IsNotFound(err):
		return ExitNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return ExitTimeout
	case compute.IsTransient(err), errors.Is(err, compute.ErrUnauthorized):
		return ExitExternalServiceUnavailable
	default:
		return ExitFailure
	}
}

// classifyRemote picks the exit code for a failed remote call.
func classifyRemote(message string, err error) error {
	code := exitCode(err)
	if code == ExitFailure {
		code = ExitExternalServiceUnavailable
	}
	return exitError(code, message, err)
}
