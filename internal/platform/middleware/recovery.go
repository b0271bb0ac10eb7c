package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/medibook/medibook/internal/platform/auth"
)

// Recovery turns a handler panic into a 500 and logs the route, caller and
// stack. A panic inside a booking transaction has already rolled back by the
// time it reaches here.
func Recovery(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				if r == http.ErrAbortHandler {
					panic(r)
				}
				ev := logger.Error().
					Str("request_id", RequestIDFrom(c)).
					Str("method", c.Request().Method).
					Str("route", c.Path()).
					Interface("panic", r).
					Bytes("stack", debug.Stack())
				if uid := auth.UserIDFromContext(c.Request().Context()); uid != uuid.Nil {
					ev = ev.Str("user_id", uid.String())
				}
				ev.Msg("panic recovered")
				err = echo.NewHTTPError(http.StatusInternalServerError, fmt.Sprintf("internal error (request %s)", RequestIDFrom(c)))
			}()
			return next(c)
		}
	}
}
