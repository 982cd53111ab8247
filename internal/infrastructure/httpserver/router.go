package httpserver

import (
	"log/slog"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lllypuk/libranotify/internal/middleware"
)

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	// Logger is the structured logger for router events.
	Logger *slog.Logger

	// LoggingConfig is the logging middleware configuration.
	LoggingConfig middleware.LoggingConfig

	// RecoveryConfig is the recovery middleware configuration.
	RecoveryConfig middleware.RecoveryConfig

	// APIPrefix is the prefix for all API routes. Default is "/api/v1".
	APIPrefix string

	// RequestTimeout bounds the context of every request in the API group.
	// Zero disables it. Stream routes are never bounded.
	RequestTimeout time.Duration

	// CORSOrigins lists the browser origins allowed to call the API.
	// Empty means no CORS headers are sent.
	CORSOrigins []string
}

// DefaultRouterConfig returns a RouterConfig with sensible defaults.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		Logger:         slog.Default(),
		LoggingConfig:  middleware.DefaultLoggingConfig(),
		RecoveryConfig: middleware.RecoveryConfig{StackSize: middleware.DefaultStackSize},
		APIPrefix:      "/api/v1",
		RequestTimeout: DefaultWriteTimeout,
	}
}

// Router owns the middleware chain and the route groups.
type Router struct {
	echo   *echo.Echo
	config RouterConfig
	logger *slog.Logger

	api    *echo.Group
	stream *echo.Group
}

// NewRouter applies the global middleware to e and creates the route groups.
func NewRouter(e *echo.Echo, config RouterConfig) *Router {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.APIPrefix == "" {
		config.APIPrefix = "/api/v1"
	}

	r := &Router{
		echo:   e,
		config: config,
		logger: config.Logger,
	}

	// Recovery first so it catches panics in every other middleware.
	e.Use(middleware.Recovery(config.RecoveryConfig))
	e.Use(middleware.Logging(config.LoggingConfig))
	if len(config.CORSOrigins) > 0 {
		e.Use(middleware.CORS(middleware.DefaultCORSConfig(config.CORSOrigins...)))
	}

	if config.RequestTimeout > 0 {
		r.api = e.Group(config.APIPrefix, echomw.ContextTimeout(config.RequestTimeout))
	} else {
		r.api = e.Group(config.APIPrefix)
	}
	r.stream = e.Group(config.APIPrefix)

	return r
}

// Echo returns the underlying Echo instance.
func (r *Router) Echo() *echo.Echo {
	return r.echo
}

// API returns the request/response route group.
func (r *Router) API() *echo.Group {
	return r.api
}

// Stream returns the route group for long-lived connections.
func (r *Router) Stream() *echo.Group {
	return r.stream
}

// RouteRegistrar defines the interface for registering routes.
type RouteRegistrar interface {
	RegisterRoutes(r *Router)
}

// RegisterAll registers all route registrars with the router.
func (r *Router) RegisterAll(registrars ...RouteRegistrar) {
	for _, registrar := range registrars {
		registrar.RegisterRoutes(r)
	}
}

// RegisterHealthEndpoints registers /health, /ready and /health/details.
func (r *Router) RegisterHealthEndpoints(checker HealthChecker) {
	NewHealthEndpoints(checker).Register(r.echo)
}

// RegisterMetricsEndpoint serves gatherer in the Prometheus text format.
func (r *Router) RegisterMetricsEndpoint(path string, gatherer prometheus.Gatherer) {
	if path == "" {
		path = "/metrics"
	}
	r.echo.GET(path, echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
}

// PrintRoutes logs all registered routes at debug level.
func (r *Router) PrintRoutes() {
	for _, route := range r.echo.Routes() {
		r.logger.Debug("registered route",
			slog.String("method", route.Method),
			slog.String("path", route.Path),
		)
	}
}
