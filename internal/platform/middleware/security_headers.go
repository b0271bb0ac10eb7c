package middleware

import (
	"github.com/labstack/echo/v4"
)

// HeaderPolicy controls the transport-dependent response headers.
type HeaderPolicy struct {
	// HSTS is only meaningful behind TLS; development servers run plain HTTP.
	HSTS bool
}

var apiHeaders = [...][2]string{
	{"X-Content-Type-Options", "nosniff"},
	{"X-Frame-Options", "DENY"},
	{"X-XSS-Protection", "0"},
	{"Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'"},
	{"Referrer-Policy", "no-referrer"},
	// Audio reaches the speech endpoints as uploads, never from a live capture.
	{"Permissions-Policy", "camera=(), microphone=(), geolocation=()"},
	// Bookings, notifications and prescription images are per-user.
	{"Cache-Control", "private, no-store"},
}

const hstsValue = "max-age=31536000; includeSubDomains"

func SecurityHeaders(p HeaderPolicy) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			for _, kv := range apiHeaders {
				h.Set(kv[0], kv[1])
			}
			if p.HSTS {
				h.Set("Strict-Transport-Security", hstsValue)
			}
			return next(c)
		}
	}
}
