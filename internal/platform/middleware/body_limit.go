package middleware

import (
	"strings"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
)

// BodyLimit caps request bodies at jsonLimit, or at uploadLimit for multipart
// forms (prescription scans, recorded speech). Limits use echo's size syntax
// ("512K", "1M", "25M") and an invalid value panics at startup.
func BodyLimit(jsonLimit, uploadLimit string) echo.MiddlewareFunc {
	small := echomw.BodyLimit(jsonLimit)
	large := echomw.BodyLimit(uploadLimit)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		json, upload := small(next), large(next)
		return func(c echo.Context) error {
			if isMultipart(c) {
				return upload(c)
			}
			return json(c)
		}
	}
}

func isMultipart(c echo.Context) bool {
	return strings.HasPrefix(c.Request().Header.Get(echo.HeaderContentType), echo.MIMEMultipartForm)
}
