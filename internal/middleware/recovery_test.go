package middleware_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lllypuk/libranotify/internal/middleware"
)

func TestRecovery(t *testing.T) {
	tests := []struct {
		name      string
		panicWith any
		wantError string
	}{
		{"string panic", "boom", "boom"},
		{"error panic", errors.New("bad state"), "bad state"},
		{"int panic", 42, "42"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			e := echo.New()
			e.Use(middleware.Recovery(middleware.RecoveryConfig{Logger: newJSONLogger(&buf)}))
			e.GET("/", func(_ echo.Context) error {
				panic(tt.panicWith)
			})

			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

			assert.Equal(t, http.StatusInternalServerError, rec.Code)

			var body struct {
				Success bool `json:"success"`
				Error   struct {
					Code string `json:"code"`
				} `json:"error"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.False(t, body.Success)
			assert.Equal(t, "INTERNAL_ERROR", body.Error.Code)

			entry := decodeLogLine(t, &buf)
			assert.Equal(t, "panic recovered", entry["msg"])
			assert.Equal(t, tt.wantError, entry["error"])
			assert.Contains(t, entry["stack"], "goroutine")
		})
	}
}

func TestRecoveryDisablePrintStack(t *testing.T) {
	var buf bytes.Buffer
	e := echo.New()
	e.Use(middleware.Recovery(middleware.RecoveryConfig{
		Logger:            newJSONLogger(&buf),
		DisablePrintStack: true,
	}))
	e.GET("/", func(_ echo.Context) error {
		panic("boom")
	})

	e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	entry := decodeLogLine(t, &buf)
	assert.NotContains(t, entry, "stack")
}

func TestRecoveryNoPanic(t *testing.T) {
	e := echo.New()
	e.Use(middleware.Recovery(middleware.RecoveryConfig{}))
	e.GET("/", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestRecoveryWithRequestID(t *testing.T) {
	var buf bytes.Buffer
	e := echo.New()
	e.Use(middleware.Recovery(middleware.RecoveryConfig{Logger: newJSONLogger(&buf), DisablePrintStack: true}))
	e.Use(middleware.Logging(middleware.LoggingConfig{Logger: newJSONLogger(&bytes.Buffer{})}))
	e.GET("/", func(_ echo.Context) error {
		panic("boom")
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(middleware.RequestIDHeader, "req-7")
	e.ServeHTTP(httptest.NewRecorder(), req)

	entry := decodeLogLine(t, &buf)
	assert.Equal(t, "req-7", entry["request_id"])
}
