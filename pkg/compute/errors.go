package compute

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for remote calls.
var (
	// ErrNotFound indicates the task or asset does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized indicates missing or rejected credentials.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrThrottled indicates the request was rate limited.
	ErrThrottled = errors.New("request throttled")

	// ErrUnavailable indicates a network failure or a server-side error.
	ErrUnavailable = errors.New("service unavailable")

	// ErrRejected indicates the service refused the request as invalid.
	ErrRejected = errors.New("request rejected")
)

// RemoteError describes a failed remote call.
type RemoteError struct {
	// Op is the operation that failed (e.g., "Export", "ListTasks").
	Op string

	// StatusCode is the HTTP status, or 0 when no response was received.
	StatusCode int

	// Message is the response body or transport error text.
	Message string

	// Err is the sentinel classifying the failure.
	Err error
}

func (e *RemoteError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("compute %s: status %d: %v: %s", e.Op, e.StatusCode, e.Err, e.Message)
	}
	return fmt.Sprintf("compute %s: %v: %s", e.Op, e.Err, e.Message)
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

// NewStatusError classifies an unsuccessful HTTP response.
func NewStatusError(op string, status int, body string) *RemoteError {
	return &RemoteError{Op: op, StatusCode: status, Message: body, Err: classifyStatus(status)}
}

// NewTransportError wraps a failure to obtain any response.
func NewTransportError(op string, err error) *RemoteError {
	return &RemoteError{Op: op, Message: err.Error(), Err: ErrUnavailable}
}

func classifyStatus(status int) error {
	switch {
	case status == http.StatusNotFound:
		return ErrNotFound
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrUnauthorized
	case status == http.StatusTooManyRequests:
		return ErrThrottled
	case status >= 500:
		return ErrUnavailable
	default:
		return ErrRejected
	}
}

// IsNotFound returns true if the error indicates a missing task or asset.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsRejected returns true if the service refused the request as invalid.
func IsRejected(err error) bool {
	return errors.Is(err, ErrRejected)
}

// IsTransient returns true if retrying the call later may succeed.
func IsTransient(err error) bool {
	return errors.Is(err, ErrThrottled) || errors.Is(err, ErrUnavailable)
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var re *RemoteError
	if errors.As(err, &re) {
		return re.StatusCode
	}
	return 0
}
