package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okCheck(context.Context) error { return nil }

func blockingCheck(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func probe(t *testing.T, h http.HandlerFunc) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	return rec
}

func TestHealthManager_Checks(t *testing.T) {
	tests := []struct {
		name     string
		ledger   HealthCheckerFunc
		timeout  time.Duration
		wantCode int
		want     string
		ledgerAs string
	}{
		{"all healthy", okCheck, DefaultCheckTimeout, http.StatusOK, StatusHealthy, StatusHealthy},
		{"slow ledger degrades", blockingCheck, 10 * time.Millisecond, http.StatusOK, StatusDegraded, StatusTimeout},
		{"broken ledger", func(context.Context) error { return errors.New("database is locked") }, DefaultCheckTimeout, http.StatusServiceUnavailable, "", StatusUnhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewHealthManager("0.4.0")
			m.timeout = tt.timeout
			m.RegisterChecker("run_registry", HealthCheckerFunc(okCheck))
			m.RegisterChecker("outcome_ledger", tt.ledger)

			rec := probe(t, m.ReadinessHandler)
			require.Equal(t, tt.wantCode, rec.Code)

			if tt.wantCode == http.StatusOK {
				var resp HealthResponse
				require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
				assert.Equal(t, tt.want, resp.Status)
				assert.Equal(t, "0.4.0", resp.Version)
				assert.Equal(t, StatusHealthy, resp.Checks["run_registry"])
				assert.Equal(t, tt.ledgerAs, resp.Checks["outcome_ledger"])
				return
			}

			var envelope struct {
				Error struct {
					Code    string `json:"code"`
					Details struct {
						Checks map[string]string `json:"checks"`
					} `json:"details"`
				} `json:"error"`
			}
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&envelope))
			assert.Equal(t, "SERVICE_UNAVAILABLE", envelope.Error.Code)
			assert.Equal(t, tt.ledgerAs, envelope.Error.Details.Checks["outcome_ledger"])
		})
	}
}

func TestHealthManager_LivenessIgnoresChecks(t *testing.T) {
	m := NewHealthManager("dev")
	m.RegisterChecker("outcome_ledger", HealthCheckerFunc(func(context.Context) error { return errors.New("down") }))

	assert.Equal(t, http.StatusOK, probe(t, m.LivenessHandler).Code)
	assert.Equal(t, http.StatusOK, probe(t, m.StartupHandler).Code)
	assert.Equal(t, http.StatusServiceUnavailable, probe(t, m.HealthHandler).Code)
}

func TestGlobalHealthHandlers(t *testing.T) {
	saved := globalHealthManager
	t.Cleanup(func() { globalHealthManager = saved })

	handlers := map[string]http.HandlerFunc{
		"health":    HealthHandler,
		"liveness":  LivenessHandler,
		"readiness": ReadinessHandler,
		"startup":   StartupHandler,
	}

	globalHealthManager = nil
	assert.Nil(t, GetHealthManager())
	for name, h := range handlers {
		assert.Equal(t, http.StatusServiceUnavailable, probe(t, h).Code, name)
	}

	InitHealthManager("dev")
	require.NotNil(t, GetHealthManager())
	for name, h := range handlers {
		assert.Equal(t, http.StatusOK, probe(t, h).Code, name)
	}
}
