package middleware_test

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lllypuk/libranotify/internal/middleware"
)

func newJSONLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func decodeLogLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestDefaultLoggingConfig(t *testing.T) {
	config := middleware.DefaultLoggingConfig()

	assert.NotNil(t, config.Logger)
	assert.Equal(t, []string{"/health", "/ready", "/metrics"}, config.SkipPaths)
}

func TestLogging(t *testing.T) {
	tests := []struct {
		name      string
		path      string
		status    int
		wantLog   bool
		wantLevel string
	}{
		{"success is info", "/api/v1/notifications", http.StatusOK, true, "INFO"},
		{"client error is warn", "/api/v1/notifications/0/read", http.StatusBadRequest, true, "WARN"},
		{"server error is error", "/api/v1/notifications/read-all", http.StatusBadGateway, true, "ERROR"},
		{"health is skipped", "/health", http.StatusOK, false, ""},
		{"metrics is skipped", "/metrics", http.StatusOK, false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			e := echo.New()
			e.Use(middleware.Logging(middleware.LoggingConfig{
				Logger:    newJSONLogger(&buf),
				SkipPaths: middleware.DefaultLoggingConfig().SkipPaths,
			}))
			e.Any(tt.path, func(c echo.Context) error {
				return c.NoContent(tt.status)
			})

			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			if !tt.wantLog {
				assert.Empty(t, buf.String())
				return
			}

			entry := decodeLogLine(t, &buf)
			assert.Equal(t, tt.wantLevel, entry["level"])
			assert.Equal(t, "HTTP request", entry["msg"])
			assert.Equal(t, tt.path, entry["path"])
			assert.InDelta(t, float64(tt.status), entry["status"], 0)
		})
	}
}

func TestLoggingRequestID(t *testing.T) {
	t.Run("generated", func(t *testing.T) {
		var seen string
		e := echo.New()
		e.Use(middleware.Logging(middleware.LoggingConfig{Logger: newJSONLogger(&bytes.Buffer{})}))
		e.GET("/", func(c echo.Context) error {
			seen = middleware.GetRequestID(c)
			return c.NoContent(http.StatusOK)
		})

		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		assert.NotEmpty(t, seen)
		assert.Equal(t, seen, rec.Header().Get(middleware.RequestIDHeader))
	})

	t.Run("propagated", func(t *testing.T) {
		e := echo.New()
		e.Use(middleware.Logging(middleware.LoggingConfig{Logger: newJSONLogger(&bytes.Buffer{})}))
		e.GET("/", func(c echo.Context) error {
			return c.NoContent(http.StatusOK)
		})

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(middleware.RequestIDHeader, "req-123")
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)

		assert.Equal(t, "req-123", rec.Header().Get(middleware.RequestIDHeader))
	})
}

func TestLoggingHTTPError(t *testing.T) {
	var buf bytes.Buffer
	e := echo.New()
	e.Use(middleware.Logging(middleware.LoggingConfig{Logger: newJSONLogger(&buf)}))
	e.GET("/", func(_ echo.Context) error {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "upstream down")
	})

	e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	entry := decodeLogLine(t, &buf)
	assert.Equal(t, "ERROR", entry["level"])
	assert.InDelta(t, float64(http.StatusServiceUnavailable), entry["status"], 0)
	assert.Contains(t, entry["error"], "upstream down")
}

func TestGetRequestID_Missing(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())

	assert.Empty(t, middleware.GetRequestID(c))
}
