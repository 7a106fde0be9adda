package api

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

var corsAllowMethods = strings.Join([]string{
	http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions,
}, ", ")

// CORSMiddleware stamps permissive cross-origin headers on every response and
// answers preflight requests with an empty 200 before any other processing.
func CORSMiddleware(allowHeaders ...string) echo.MiddlewareFunc {
	headers := strings.Join(allowHeaders, ", ")
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			h.Set(echo.HeaderAccessControlAllowOrigin, "*")
			h.Set(echo.HeaderAccessControlAllowMethods, corsAllowMethods)
			h.Set(echo.HeaderAccessControlAllowHeaders, headers)

			if c.Request().Method == http.MethodOptions {
				return c.NoContent(http.StatusOK)
			}
			return next(c)
		}
	}
}

// allowHeadersFor lists the request headers clients may send.
func allowHeadersFor(persistent bool) []string {
	if persistent {
		return []string{echo.HeaderContentType, echo.HeaderAuthorization}
	}
	return []string{echo.HeaderContentType}
}
