package db

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

func TestReadiness(t *testing.T) {
	tests := []struct {
		name        string
		pingErr     error
		pending     int
		pendingErr  error
		wantCode    int
		wantStatus  string
		wantPending int
	}{
		{"ready", nil, 0, nil, http.StatusOK, "ready", 0},
		{"unreachable", errors.New("connection refused"), 0, nil, http.StatusServiceUnavailable, "down", 0},
		{"pending migrations", nil, 2, nil, http.StatusServiceUnavailable, "behind", 2},
		{"migration table unreadable", nil, 0, errors.New("permission denied"), http.StatusServiceUnavailable, "down", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &Readiness{
				ping:    func(context.Context) error { return tt.pingErr },
				pending: func(context.Context) (int, error) { return tt.pending, tt.pendingErr },
				stats:   func() PoolStats { return PoolStats{Total: 2, Max: 10} },
				timeout: time.Second,
			}
			rec := httptest.NewRecorder()
			c := echo.New().NewContext(httptest.NewRequest(http.MethodGet, "/health/db", nil), rec)
			if err := r.Handler()(c); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if rec.Code != tt.wantCode {
				t.Errorf("code = %d, want %d", rec.Code, tt.wantCode)
			}

			var got readinessReport
			if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if got.Status != tt.wantStatus {
				t.Errorf("status = %q, want %q", got.Status, tt.wantStatus)
			}
			if got.PendingMigrations != tt.wantPending {
				t.Errorf("pending = %d, want %d", got.PendingMigrations, tt.wantPending)
			}
			if got.Pool.Max != 10 {
				t.Errorf("pool stats missing: %+v", got.Pool)
			}
		})
	}
}
