package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
)

func respondError(c echo.Context, status int, msg string) error {
	return c.JSON(status, errorResponse{Error: msg})
}

// HTTPErrorHandler renders framework-level errors (unknown routes, panics
// recovered by middleware, bind failures) with the same {"error": ...} body
// the task handler uses. When exposeInternal is false, 5xx messages are
// replaced with a generic one.
func HTTPErrorHandler(logger *log.Logger, exposeInternal bool) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status := http.StatusInternalServerError
		msg := err.Error()
		var he *echo.HTTPError
		if errors.As(err, &he) {
			status = he.Code
			switch m := he.Message.(type) {
			case string:
				msg = m
			case error:
				msg = m.Error()
			default:
				msg = http.StatusText(status)
			}
		}
		switch status {
		case http.StatusNotFound:
			msg = msgNotFound
		case http.StatusMethodNotAllowed:
			msg = msgMethodNotAllowed
		}
		if status >= http.StatusInternalServerError {
			if logger != nil {
				logger.WithError(err).Error("unhandled request error")
			}
			if !exposeInternal {
				msg = msgInternal
			}
		}

		var werr error
		if c.Request().Method == http.MethodHead {
			werr = c.NoContent(status)
		} else {
			werr = respondError(c, status, msg)
		}
		if werr != nil && logger != nil {
			logger.WithError(werr).Warn("failed to write error response")
		}
	}
}
