// Package errors renders service errors as the JSON error envelope served
// by the HTTP API.
package errors

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"

	"github.com/3leaps/glourbee/pkg/compute"
	"github.com/3leaps/glourbee/pkg/fanout"
	"github.com/3leaps/glourbee/pkg/runregistry"
	"github.com/3leaps/glourbee/pkg/temporal"
)

// Envelope codes.
const (
	CodeBadRequest         = "BAD_REQUEST"
	CodeNotFound           = "NOT_FOUND"
	CodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"
	CodeConflict           = "CONFLICT"
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeTooManyRequests    = "TOO_MANY_REQUESTS"
	CodeBadGateway         = "BAD_GATEWAY"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeGatewayTimeout     = "GATEWAY_TIMEOUT"
	CodeInternal           = "INTERNAL_ERROR"
)

// HTTPError is the body of an error response.
type HTTPError struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
}

// HTTPErrorResponse wraps HTTPError under the "error" key.
type HTTPErrorResponse struct {
	Error HTTPError `json:"error"`
}

// StatusError carries an explicit status and code through handler code.
type StatusError struct {
	Status  int
	Code    string
	Message string
	Details map[string]any
	Err     error
}

// New creates a StatusError.
func New(status int, code, message string) *StatusError {
	return &StatusError{Status: status, Code: code, Message: message}
}

// WithDetails attaches details to the envelope.
func (e *StatusError) WithDetails(details map[string]any) *StatusError {
	e.Details = details
	return e
}

func (e *StatusError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

// Classify maps err to an HTTP status and envelope code.
func Classify(err error) (int, string) {
	var se *StatusError
	switch {
	case stderrors.As(err, &se):
		return se.Status, se.Code
	case stderrors.Is(err, runregistry.ErrNotFound), compute.IsNotFound(err):
		return http.StatusNotFound, CodeNotFound
	case stderrors.Is(err, runregistry.ErrAmbiguous):
		return http.StatusConflict, CodeConflict
	case fanout.IsConfiguration(err),
		stderrors.Is(err, temporal.ErrInvalidInterval),
		stderrors.Is(err, temporal.ErrDataIntegrity):
		return http.StatusBadRequest, CodeBadRequest
	case stderrors.Is(err, compute.ErrUnauthorized):
		return http.StatusBadGateway, CodeUnauthorized
	case stderrors.Is(err, compute.ErrThrottled):
		return http.StatusTooManyRequests, CodeTooManyRequests
	case stderrors.Is(err, compute.ErrUnavailable):
		return http.StatusServiceUnavailable, CodeServiceUnavailable
	case compute.IsRejected(err):
		return http.StatusBadGateway, CodeBadGateway
	case stderrors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, CodeGatewayTimeout
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

// RespondWithError writes err as an error envelope.
func RespondWithError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := Classify(err)
	body := HTTPError{
		Code:    code,
		Message: err.Error(),
	}
	var se *StatusError
	if stderrors.As(err, &se) {
		body.Message = se.Message
		body.Details = se.Details
	}
	if status == http.StatusInternalServerError && se == nil {
		body.Message = http.StatusText(status)
	}
	if r != nil {
		body.RequestID = RequestIDFromContext(r.Context())
	}
	Write(w, status, body)
}

// Write encodes body with status.
func Write(w http.ResponseWriter, status int, body HTTPError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(HTTPErrorResponse{Error: body})
}

// NotFound is the router fallback for unknown paths.
func NotFound(w http.ResponseWriter, r *http.Request) {
	RespondWithError(w, r, New(http.StatusNotFound, CodeNotFound, "resource not found: "+r.URL.Path))
}

// MethodNotAllowed is the router fallback for unsupported methods.
func MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	RespondWithError(w, r, New(http.StatusMethodNotAllowed, CodeMethodNotAllowed, "method "+r.Method+" not allowed"))
}

type requestIDKey struct{}

// WithRequestID stores the request id in ctx.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFromContext returns the request id stored in ctx, or "".
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
