package middleware

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/medibook/medibook/internal/platform/auth"
)

// AuditEntry records who changed what, when, and with which outcome.
type AuditEntry struct {
	UserID     uuid.UUID
	Role       auth.Role
	Method     string
	Route      string
	Path       string
	IPAddress  string
	RequestID  string
	StatusCode int
	Timestamp  time.Time
}

// AuditRecorder persists audit entries.
type AuditRecorder interface {
	RecordAccess(entry AuditEntry) error
}

// AuditRecorderFunc is a function adapter for AuditRecorder.
type AuditRecorderFunc func(entry AuditEntry) error

func (f AuditRecorderFunc) RecordAccess(entry AuditEntry) error {
	return f(entry)
}

// Audit logs every state-changing request (anything but GET, HEAD and
// OPTIONS) after the handler has run. Entries go to the recorders when given,
// otherwise to the logger.
func Audit(logger zerolog.Logger, recorders ...AuditRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if !isMutation(req.Method) {
				return next(c)
			}

			err := next(c)

			status := c.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				} else {
					status = http.StatusInternalServerError
				}
			}

			ctx := req.Context()
			rid := RequestIDFrom(c)
			entry := AuditEntry{
				UserID:     auth.UserIDFromContext(ctx),
				Role:       auth.RoleFromContext(ctx),
				Method:     req.Method,
				Route:      c.Path(),
				Path:       req.URL.Path,
				IPAddress:  c.RealIP(),
				RequestID:  rid,
				StatusCode: status,
				Timestamp:  time.Now().UTC(),
			}

			if len(recorders) == 0 {
				logger.Info().
					Str("audit", "mutation").
					Str("user_id", entry.UserID.String()).
					Str("role", string(entry.Role)).
					Str("method", entry.Method).
					Str("route", entry.Route).
					Int("status", entry.StatusCode).
					Str("request_id", entry.RequestID).
					Msg("audit")
				return err
			}
			for _, r := range recorders {
				if rerr := r.RecordAccess(entry); rerr != nil {
					logger.Error().Err(rerr).Str("request_id", rid).Msg("failed to record audit entry")
				}
			}
			return err
		}
	}
}

func isMutation(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	default:
		return true
	}
}
