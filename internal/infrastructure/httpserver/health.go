// Package httpserver provides the echo server, router and response helpers
// of the local display API.
package httpserver

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
)

// Health status constants.
const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
	StatusDegraded  = "degraded"
	StatusReady     = "ready"
	StatusNotReady  = "not_ready"
)

// ComponentStatus represents the health status of a single component.
type ComponentStatus struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthResponse represents the response for health endpoints.
type HealthResponse struct {
	Status     string            `json:"status"`
	Components []ComponentStatus `json:"components,omitempty"`
}

// HealthChecker reports component health for the readiness endpoints.
// Declared on the consumer side per project guidelines.
type HealthChecker interface {
	IsReady(ctx context.Context) bool
	GetHealthStatus(ctx context.Context) []ComponentStatus
}

// HealthEndpoints serves /health, /ready and /health/details.
type HealthEndpoints struct {
	checker HealthChecker
}

// NewHealthEndpoints creates a new HealthEndpoints instance. checker may be
// nil, in which case the service is always ready.
func NewHealthEndpoints(checker HealthChecker) *HealthEndpoints {
	return &HealthEndpoints{checker: checker}
}

// Register registers all health endpoints on the Echo instance.
func (h *HealthEndpoints) Register(e *echo.Echo) {
	e.GET("/health", h.handleHealth)
	e.GET("/ready", h.handleReady)
	e.GET("/health/details", h.handleHealthDetails)
}

// handleHealth is the liveness probe; it answers 200 while the process runs.
func (h *HealthEndpoints) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: StatusHealthy})
}

func (h *HealthEndpoints) handleReady(c echo.Context) error {
	ctx := c.Request().Context()

	if h.checker == nil || h.checker.IsReady(ctx) {
		return c.JSON(http.StatusOK, HealthResponse{
			Status:     StatusReady,
			Components: h.components(ctx),
		})
	}

	return c.JSON(http.StatusServiceUnavailable, HealthResponse{
		Status:     StatusNotReady,
		Components: h.components(ctx),
	})
}

// handleHealthDetails reports unhealthy if any component is, otherwise
// degraded if any component is.
func (h *HealthEndpoints) handleHealthDetails(c echo.Context) error {
	components := h.components(c.Request().Context())

	overall := StatusHealthy
	code := http.StatusOK
	for _, comp := range components {
		if comp.Status == StatusUnhealthy {
			overall = StatusUnhealthy
			code = http.StatusServiceUnavailable
			break
		}
		if comp.Status == StatusDegraded {
			overall = StatusDegraded
		}
	}

	return c.JSON(code, HealthResponse{
		Status:     overall,
		Components: components,
	})
}

func (h *HealthEndpoints) components(ctx context.Context) []ComponentStatus {
	if h.checker == nil {
		return nil
	}
	return h.checker.GetHealthStatus(ctx)
}
