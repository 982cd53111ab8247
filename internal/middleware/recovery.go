package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime"

	"github.com/labstack/echo/v4"
)

// DefaultStackSize is the default stack trace size (4KB).
const DefaultStackSize = 4 << 10

// RecoveryConfig holds configuration for the recovery middleware.
type RecoveryConfig struct {
	Logger *slog.Logger

	// StackSize caps the captured stack trace. Zero means DefaultStackSize.
	StackSize int

	// DisablePrintStack omits the stack trace from the log line.
	DisablePrintStack bool
}

// Recovery returns a middleware that turns a handler panic into a logged
// 500 response with the standard error envelope.
func Recovery(config RecoveryConfig) echo.MiddlewareFunc {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.StackSize <= 0 {
		config.StackSize = DefaultStackSize
	}

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

				req := c.Request()
				attrs := []any{
					slog.String("error", fmt.Sprint(r)),
					slog.String("method", req.Method),
					slog.String("path", req.URL.Path),
				}
				if requestID := GetRequestID(c); requestID != "" {
					attrs = append(attrs, slog.String("request_id", requestID))
				}
				if !config.DisablePrintStack {
					stack := make([]byte, config.StackSize)
					stack = stack[:runtime.Stack(stack, false)]
					attrs = append(attrs, slog.String("stack", string(stack)))
				}

				config.Logger.ErrorContext(req.Context(), "panic recovered", attrs...)

				if c.Response().Committed {
					return
				}
				err = c.JSON(http.StatusInternalServerError, map[string]any{
					"success": false,
					"error": map[string]string{
						"code":    "INTERNAL_ERROR",
						"message": "An internal error occurred",
					},
				})
			}()

			return next(c)
		}
	}
}
