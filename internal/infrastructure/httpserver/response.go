package httpserver

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/lllypuk/libranotify/internal/domain/errs"
)

// Response represents a standard API response.
type Response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   *Error `json:"error,omitempty"`
}

// Error represents an error in the API response.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// RespondJSON sends a successful JSON response.
func RespondJSON(c echo.Context, code int, data any) error {
	return c.JSON(code, Response{
		Success: true,
		Data:    data,
	})
}

// RespondOK sends a 200 OK response with data.
func RespondOK(c echo.Context, data any) error {
	return RespondJSON(c, http.StatusOK, data)
}

// RespondAccepted sends a 202 Accepted response with data.
func RespondAccepted(c echo.Context, data any) error {
	return RespondJSON(c, http.StatusAccepted, data)
}

// RespondError sends an error JSON response based on the error type.
func RespondError(c echo.Context, err error) error {
	statusCode, apiError := mapError(err)
	return c.JSON(statusCode, Response{
		Success: false,
		Error:   apiError,
	})
}

// RespondErrorWithCode sends an error JSON response with a specific HTTP status code.
func RespondErrorWithCode(c echo.Context, code int, errorCode, message string) error {
	return c.JSON(code, Response{
		Success: false,
		Error: &Error{
			Code:    errorCode,
			Message: message,
		},
	})
}

// mapError maps errors from the library API and the coordinator to HTTP
// status codes. Failures of the upstream service surface as 502/503 since
// the display API itself is healthy.
func mapError(err error) (int, *Error) {
	switch {
	case errors.Is(err, errs.ErrInvalidInput):
		return http.StatusBadRequest, &Error{
			Code:    "INVALID_INPUT",
			Message: err.Error(),
		}

	case errors.Is(err, errs.ErrNotFound):
		return http.StatusNotFound, &Error{
			Code:    "NOT_FOUND",
			Message: "The requested notification was not found",
		}

	case errors.Is(err, errs.ErrUnauthorized), errors.Is(err, errs.ErrNoToken):
		return http.StatusUnauthorized, &Error{
			Code:    "UNAUTHORIZED",
			Message: "The library API rejected the access token",
		}

	case errors.Is(err, errs.ErrUnavailable):
		return http.StatusServiceUnavailable, &Error{
			Code:    "UPSTREAM_UNAVAILABLE",
			Message: "The library API is unavailable",
		}

	case errors.Is(err, errs.ErrUnexpectedStatus):
		return http.StatusBadGateway, &Error{
			Code:    "UPSTREAM_ERROR",
			Message: "The library API returned an unexpected response",
		}

	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, &Error{
			Code:    "UPSTREAM_TIMEOUT",
			Message: "The library API did not respond in time",
		}

	default:
		return http.StatusInternalServerError, &Error{
			Code:    "INTERNAL_ERROR",
			Message: "An internal error occurred",
		}
	}
}
