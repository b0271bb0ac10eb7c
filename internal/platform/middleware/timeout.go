package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
)

// RequestTimeout bounds each request's context. Booking operations wait on
// the per-doctor lock under this context, so a request stuck behind a
// contended doctor fails with 504 instead of holding the connection.
// A non-positive timeout disables the bound.
func RequestTimeout(timeout time.Duration) echo.MiddlewareFunc {
	if timeout <= 0 {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	return echomw.ContextTimeoutWithConfig(echomw.ContextTimeoutConfig{
		Timeout: timeout,
		ErrorHandler: func(err error, c echo.Context) error {
			if !errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			return echo.NewHTTPError(http.StatusGatewayTimeout, "request timed out").SetInternal(err)
		},
	})
}
