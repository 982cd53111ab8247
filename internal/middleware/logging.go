// Package middleware holds the echo middleware of the local display API.
package middleware

import (
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

const (
	// RequestIDHeader is the header name for request ID.
	RequestIDHeader = "X-Request-ID"

	// RequestIDKey is the echo context key for request ID.
	RequestIDKey = "request_id"
)

// LoggingConfig holds configuration for the logging middleware.
type LoggingConfig struct {
	Logger *slog.Logger

	// SkipPaths are served without a log line. Probes and scrapes go here.
	SkipPaths []string
}

// DefaultLoggingConfig returns a LoggingConfig with sensible defaults.
func DefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		Logger:    slog.Default(),
		SkipPaths: []string{"/health", "/ready", "/metrics"},
	}
}

// Logging returns a middleware that assigns a request ID and logs one line
// per request. 5xx responses log at error, 4xx at warn.
func Logging(config LoggingConfig) echo.MiddlewareFunc {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	skipPaths := make(map[string]struct{}, len(config.SkipPaths))
	for _, path := range config.SkipPaths {
		skipPaths[path] = struct{}{}
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			res := c.Response()

			if _, ok := skipPaths[req.URL.Path]; ok {
				return next(c)
			}

			requestID := req.Header.Get(RequestIDHeader)
			if requestID == "" {
				requestID = uuid.New().String()
			}
			res.Header().Set(RequestIDHeader, requestID)
			c.Set(RequestIDKey, requestID)

			start := time.Now()
			err := next(c)
			latency := time.Since(start)

			status := res.Status
			var he *echo.HTTPError
			if err != nil && errors.As(err, &he) {
				status = he.Code
			}

			attrs := []slog.Attr{
				slog.String("request_id", requestID),
				slog.String("method", req.Method),
				slog.String("path", req.URL.Path),
				slog.String("route", c.Path()),
				slog.Int("status", status),
				slog.Duration("latency", latency),
				slog.String("remote_ip", c.RealIP()),
				slog.Int64("response_size", res.Size),
			}

			level := slog.LevelInfo
			switch {
			case status >= 500:
				level = slog.LevelError
			case status >= 400:
				level = slog.LevelWarn
			}
			if err != nil {
				attrs = append(attrs, slog.String("error", err.Error()))
			}

			config.Logger.LogAttrs(req.Context(), level, "HTTP request", attrs...)

			return err
		}
	}
}

// GetRequestID retrieves the request ID from the echo context.
func GetRequestID(c echo.Context) string {
	if id, ok := c.Get(RequestIDKey).(string); ok {
		return id
	}
	return ""
}
