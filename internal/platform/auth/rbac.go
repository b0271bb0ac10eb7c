package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// Role is fixed when a user is created and never changes afterwards.
type Role string

const (
	RolePatient       Role = "patient"
	RoleDoctor        Role = "doctor"
	RoleAdministrator Role = "administrator"
)

// Roles lists every role in a stable order.
var Roles = []Role{RolePatient, RoleDoctor, RoleAdministrator}

func (r Role) Valid() bool {
	switch r {
	case RolePatient, RoleDoctor, RoleAdministrator:
		return true
	default:
		return false
	}
}

func (r Role) String() string { return string(r) }

// ParseRole accepts the canonical role names. "admin" is accepted as an alias
// for administrator.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "patient":
		return RolePatient, nil
	case "doctor":
		return RoleDoctor, nil
	case "administrator", "admin":
		return RoleAdministrator, nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

// RequireRole returns middleware that checks the authenticated user holds one
// of the specified roles.
func RequireRole(roles ...Role) echo.MiddlewareFunc {
	names := make([]string, len(roles))
	for i, r := range roles {
		names[i] = string(r)
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			has := RoleFromContext(c.Request().Context())
			for _, required := range roles {
				if has == required {
					return next(c)
				}
			}
			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("required role: %s", strings.Join(names, " or ")))
		}
	}
}

// RequireAuthenticated rejects requests that carry no identity.
func RequireAuthenticated() echo.MiddlewareFunc {
	return RequireRole(Roles...)
}
