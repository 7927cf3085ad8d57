package handlers

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
)

// ErrorResponse is the body of every error answer.
type ErrorResponse struct {
	Detail string `json:"detail"`
}

// Detail returns an HTTP error whose body is {"detail": message}.
func Detail(code int, format string, args ...any) *echo.HTTPError {
	return echo.NewHTTPError(code, fmt.Sprintf(format, args...))
}

// ErrorHandler renders errors as {"detail": ...}. Errors that are not
// *echo.HTTPError become 500 and are logged.
func ErrorHandler(logger *slog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		code := http.StatusInternalServerError
		detail := "internal server error"

		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			detail = fmt.Sprint(he.Message)
			if he.Internal != nil {
				logger.Debug("request failed", "status", code, "error", he.Internal)
			}
		} else {
			logger.Error("unhandled error", "method", c.Request().Method, "path", c.Request().URL.Path, "error", err)
		}

		if c.Request().Method == http.MethodHead {
			err = c.NoContent(code)
		} else {
			err = c.JSON(code, ErrorResponse{Detail: detail})
		}
		if err != nil {
			logger.Error("failed to write error response", "error", err)
		}
	}
}
