package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

// PoolStats is the connection pool section of the readiness report.
type PoolStats struct {
	Total    int32  `json:"total"`
	Idle     int32  `json:"idle"`
	InUse    int32  `json:"in_use"`
	Max      int32  `json:"max"`
	Acquires int64  `json:"acquires"`
	Waited   string `json:"waited"`
}

func statsOf(pool *pgxpool.Pool) PoolStats {
	s := pool.Stat()
	return PoolStats{
		Total:    s.TotalConns(),
		Idle:     s.IdleConns(),
		InUse:    s.AcquiredConns(),
		Max:      s.MaxConns(),
		Acquires: s.AcquireCount(),
		Waited:   s.AcquireDuration().String(),
	}
}

// Readiness answers /health/db. The database is "down" when it does not
// answer a ping and "behind" when migrations are pending, since the booking
// overlap constraint may not exist yet. Both report 503.
type Readiness struct {
	ping    func(context.Context) error
	pending func(context.Context) (int, error)
	stats   func() PoolStats
	timeout time.Duration
}

func NewReadiness(pool *pgxpool.Pool, m *Migrator, schema string) *Readiness {
	return &Readiness{
		ping:    pool.Ping,
		pending: func(ctx context.Context) (int, error) { return m.Pending(ctx, schema) },
		stats:   func() PoolStats { return statsOf(pool) },
		timeout: 5 * time.Second,
	}
}

type readinessReport struct {
	Status            string    `json:"status"`
	Error             string    `json:"error,omitempty"`
	PendingMigrations int       `json:"pending_migrations"`
	Pool              PoolStats `json:"pool"`
}

func (r *Readiness) Handler() echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), r.timeout)
		defer cancel()

		report := readinessReport{Status: "ready", Pool: r.stats()}
		if err := r.ping(ctx); err != nil {
			report.Status, report.Error = "down", err.Error()
			return c.JSON(http.StatusServiceUnavailable, report)
		}

		n, err := r.pending(ctx)
		switch {
		case err != nil:
			report.Status, report.Error = "down", err.Error()
		case n > 0:
			report.Status = "behind"
		}
		report.PendingMigrations = n
		if report.Status != "ready" {
			return c.JSON(http.StatusServiceUnavailable, report)
		}
		return c.JSON(http.StatusOK, report)
	}
}
