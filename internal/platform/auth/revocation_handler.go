package auth

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// LogoutHandler revokes the bearer token of the current request.
func LogoutHandler(list RevocationList) echo.HandlerFunc {
	return func(c echo.Context) error {
		claims := ClaimsFromContext(c.Request().Context())
		if claims == nil || claims.ID == "" || claims.ExpiresAt == nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "no revocable token")
		}
		if err := list.Revoke(c.Request().Context(), claims.ID, claims.ExpiresAt.Time); err != nil {
			return echo.NewHTTPError(http.StatusServiceUnavailable, "logout unavailable").SetInternal(err)
		}
		return c.JSON(http.StatusOK, map[string]bool{"success": true})
	}
}
