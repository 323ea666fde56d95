package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/3leaps/glourbee/internal/errors"
)

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) apperrors.HTTPError {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Error
}

func TestRecovery(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("3 tasks"))
	})
	rec := serve(Recovery(ok), httptest.NewRequest(http.MethodGet, "/runs", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "3 tasks", rec.Body.String())

	for _, v := range []any{"ledger closed", assert.AnError} {
		boom := http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic(v) })
		for _, mw := range []func(http.Handler) http.Handler{Recovery, ErrorHandler} {
			var rec *httptest.ResponseRecorder
			assert.NotPanics(t, func() {
				rec = serve(mw(boom), httptest.NewRequest(http.MethodGet, "/runs", nil))
			})
			assert.Equal(t, http.StatusInternalServerError, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			body := decodeEnvelope(t, rec)
			assert.Equal(t, apperrors.CodeInternal, body.Code)
			assert.Contains(t, body.Message, "panic: ")
		}
	}
}

func TestRecovery_AbortHandlerPropagates(t *testing.T) {
	h := Recovery(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic(http.ErrAbortHandler) }))
	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		serve(h, httptest.NewRequest(http.MethodGet, "/runs", nil))
	})
}

func TestRequestID(t *testing.T) {
	var seen string
	capture := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = apperrors.RequestIDFromContext(r.Context())
	})

	rec := serve(RequestID(capture), httptest.NewRequest(http.MethodGet, "/runs", nil))
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/runs", nil)
	req.Header.Set(RequestIDHeader, "req-42")
	boom := http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("x") })
	rec = serve(RequestID(Recovery(boom)), req)
	assert.Equal(t, "req-42", decodeEnvelope(t, rec).RequestID)
}

func TestWriteErrorResponse(t *testing.T) {
	rec := httptest.NewRecorder()
	writeErrorResponse(rec, &apperrors.HTTPError{
		Code:    apperrors.CodeBadRequest,
		Message: "invalid run id",
		Details: map[string]any{"field": "run"},
	}, http.StatusBadRequest)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeEnvelope(t, rec)
	assert.Equal(t, "invalid run id", body.Message)
	assert.Equal(t, "run", body.Details["field"])
}

func TestLogger_PassesThrough(t *testing.T) {
	h := Logger(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	assert.Equal(t, http.StatusAccepted, serve(h, httptest.NewRequest(http.MethodPost, "/runs/x/cancel", nil)).Code)
}
