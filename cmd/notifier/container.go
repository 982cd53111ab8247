package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	notifapp "github.com/lllypuk/libranotify/internal/application/notification"
	"github.com/lllypuk/libranotify/internal/config"
	"github.com/lllypuk/libranotify/internal/domain/event"
	httphandler "github.com/lllypuk/libranotify/internal/handler/http"
	wshandler "github.com/lllypuk/libranotify/internal/handler/websocket"
	"github.com/lllypuk/libranotify/internal/infrastructure/auth"
	"github.com/lllypuk/libranotify/internal/infrastructure/eventbus"
	"github.com/lllypuk/libranotify/internal/infrastructure/healthcheck"
	"github.com/lllypuk/libranotify/internal/infrastructure/httpserver"
	"github.com/lllypuk/libranotify/internal/infrastructure/libraryapi"
	"github.com/lllypuk/libranotify/internal/infrastructure/metrics"
	"github.com/lllypuk/libranotify/internal/infrastructure/websocket"
	"github.com/lllypuk/libranotify/internal/middleware"
)

// Container initialization timeouts.
const (
	redisPingTimeout = 5 * time.Second
	healthTimeout    = 2 * time.Second
)

// Container holds all application dependencies and manages their lifecycle.
// It implements httpserver.HealthChecker for the readiness endpoints.
type Container struct {
	// Configuration
	Config *config.Config
	Logger *slog.Logger

	// Infrastructure
	Redis       *redis.Client
	Registry    *prometheus.Registry
	Metrics     *metrics.NotificationMetrics
	LocalBus    *eventbus.InMemoryBus
	RedisBus    *eventbus.RedisEventBus
	DeadLetters *eventbus.DeadLetterHandler
	Hub         *websocket.Hub
	Broadcaster *websocket.Broadcaster

	// Upstream
	Tokens auth.TokenSource
	API    *libraryapi.Client
	Push   *websocket.Client // nil when the push channel is disabled

	// Application
	Coordinator *notifapp.Coordinator

	// HTTP
	Server              *httpserver.Server
	Router              *httpserver.Router
	NotificationHandler *httphandler.NotificationHandler
	StreamHandler       *wshandler.Handler
}

// Ensure Container implements httpserver.HealthChecker.
var _ httpserver.HealthChecker = (*Container)(nil)

// ContainerOption configures the Container.
type ContainerOption func(*Container)

// WithLogger sets a custom logger for the container.
func WithLogger(logger *slog.Logger) ContainerOption {
	return func(c *Container) {
		if logger != nil {
			c.Logger = logger
		}
	}
}

// WithRegistry sets the Prometheus registry the metrics are registered with.
func WithRegistry(registry *prometheus.Registry) ContainerOption {
	return func(c *Container) {
		c.Registry = registry
	}
}

// NewContainer wires every component from cfg. Nothing is started: call
// Start to connect and serve.
func NewContainer(cfg *config.Config, opts ...ContainerOption) (*Container, error) {
	c := &Container{
		Config: cfg,
		Logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	if err := c.setupInfrastructure(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to setup infrastructure: %w", err)
	}

	if err := c.setupUpstream(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to setup upstream clients: %w", err)
	}

	c.setupCoordinator()
	c.setupHTTP()

	if err := c.validateWiring(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("wiring validation failed: %w", err)
	}

	return c, nil
}

// validateWiring ensures all required dependencies are properly initialized.
func (c *Container) validateWiring() error {
	var errs []error

	if c.Config.UsesRedis() && c.Redis == nil {
		errs = append(errs, errors.New("redis client not initialized"))
	}
	if c.LocalBus == nil {
		errs = append(errs, errors.New("event bus not initialized"))
	}
	if c.Hub == nil {
		errs = append(errs, errors.New("event stream hub not initialized"))
	}
	if c.Tokens == nil {
		errs = append(errs, errors.New("token source not initialized"))
	}
	if c.API == nil {
		errs = append(errs, errors.New("library api client not initialized"))
	}
	if c.Config.Push.Enabled && c.Push == nil {
		errs = append(errs, errors.New("push client not initialized"))
	}
	if c.Coordinator == nil {
		errs = append(errs, errors.New("coordinator not initialized"))
	}
	if c.Server == nil || c.Router == nil {
		errs = append(errs, errors.New("http server not initialized"))
	}

	return errors.Join(errs...)
}

func (c *Container) setupInfrastructure() error {
	if c.Config.UsesRedis() {
		if err := c.setupRedis(); err != nil {
			return err
		}
	}

	c.setupMetrics()
	c.setupEventBus()

	c.Hub = websocket.NewHub(websocket.WithHubLogger(c.Logger))
	c.Broadcaster = websocket.NewBroadcaster(c.Hub, c.LocalBus,
		websocket.WithBroadcasterLogger(c.Logger),
	)

	return nil
}

func (c *Container) setupRedis() error {
	client := redis.NewClient(&redis.Options{
		Addr:     c.Config.Redis.Addr,
		Password: c.Config.Redis.Password,
		DB:       c.Config.Redis.DB,
		PoolSize: c.Config.Redis.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), redisPingTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return fmt.Errorf("failed to connect to redis at %s: %w", c.Config.Redis.Addr, err)
	}

	c.Redis = client
	c.Logger.Info("connected to redis", slog.String("addr", c.Config.Redis.Addr))
	return nil
}

func (c *Container) setupMetrics() {
	if c.Registry == nil {
		c.Registry = prometheus.NewRegistry()
		c.Registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	c.Metrics = metrics.NewNotificationMetrics(c.Registry)
}

// setupEventBus builds the in-process bus the display stream reads from and,
// for the redis bus type, a Redis mirror for out-of-process consumers.
func (c *Container) setupEventBus() {
	c.LocalBus = eventbus.NewInMemoryBus(eventbus.WithInMemoryLogger(c.Logger))

	if !c.usesRedisBus() {
		return
	}

	opts := []eventbus.Option{
		eventbus.WithLogger(c.Logger),
		eventbus.WithChannelPrefix(c.Config.EventBus.RedisChannelPrefix),
	}
	if c.Config.EventBus.DeadLetter {
		c.DeadLetters = eventbus.NewDeadLetterHandler(c.Redis,
			eventbus.WithDeadLetterQueueKey(c.Config.EventBus.RedisChannelPrefix+"dead_letters"),
			eventbus.WithDeadLetterLogger(c.Logger),
		)
		opts = append(opts, eventbus.WithFailureHandler(c.DeadLetters))
	}
	c.RedisBus = eventbus.NewRedisEventBus(c.Redis, opts...)
}

func (c *Container) usesRedisBus() bool {
	return c.Redis != nil && strings.EqualFold(c.Config.EventBus.Type, "redis")
}

// publisher returns the bus the coordinator publishes to.
func (c *Container) publisher() event.Bus {
	if c.RedisBus == nil {
		return c.LocalBus
	}
	return eventbus.Fanout{c.LocalBus, c.RedisBus}
}

func (c *Container) setupUpstream() error {
	tokens, err := c.createTokenSource()
	if err != nil {
		return err
	}
	c.Tokens = tokens

	c.API = libraryapi.NewClient(libraryapi.Config{
		BaseURL: c.Config.API.BaseURL,
		HTTPClient: &http.Client{
			Timeout: c.Config.API.Timeout,
		},
	}, c.Tokens)

	if !c.Config.Push.Enabled {
		c.Logger.Warn("push channel disabled, relying on polling only")
		return nil
	}

	dialer, err := websocket.NewStompDialer(websocket.StompConfig{
		URL:              c.Config.Push.URL,
		HeartBeatSend:    c.Config.Push.HeartBeatSend,
		HeartBeatReceive: c.Config.Push.HeartBeatReceive,
		HandshakeTimeout: c.Config.Push.HandshakeTimeout,
		ReadBufferSize:   c.Config.WebSocket.ReadBufferSize,
		WriteBufferSize:  c.Config.WebSocket.WriteBufferSize,
	}, websocket.WithDialerLogger(c.Logger))
	if err != nil {
		return fmt.Errorf("failed to create push dialer: %w", err)
	}

	c.Push = websocket.NewClient(dialer, c.Tokens,
		websocket.WithLogger(c.Logger),
		websocket.WithTopics(websocket.Topics{
			Notifications: c.Config.Push.NotificationTopic,
			UnreadCount:   c.Config.Push.UnreadCountTopic,
		}),
		websocket.WithRetryPolicy(websocket.RetryPolicy{
			MaxAttempts: c.Config.Push.MaxReconnectAttempts,
			Delay:       c.Config.Push.ReconnectDelay,
		}),
		websocket.WithMetrics(c.Metrics),
	)

	return nil
}

func (c *Container) createTokenSource() (auth.TokenSource, error) {
	switch c.Config.Auth.Source {
	case config.TokenSourceStatic:
		return auth.StaticTokenSource(c.Config.Auth.Token), nil
	case config.TokenSourceEnv:
		return auth.EnvTokenSource{Variable: c.Config.Auth.EnvVariable}, nil
	case config.TokenSourceKeyring:
		source, err := auth.NewKeyringTokenSource(auth.KeyringConfig{
			ServiceName:  c.Config.Auth.KeyringService,
			Key:          c.Config.Auth.KeyringKey,
			FileDir:      c.Config.Auth.KeyringFileDir,
			FilePassword: c.Config.Auth.KeyringFilePassword,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open keyring: %w", err)
		}
		return source, nil
	case config.TokenSourceRedis:
		return auth.NewRedisTokenSource(auth.RedisTokenSourceConfig{
			Client:    c.Redis,
			KeyPrefix: c.Config.Auth.RedisKeyPrefix,
			Subject:   c.Config.Auth.Subject,
		}), nil
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrInvalidTokenSource, c.Config.Auth.Source)
	}
}

func (c *Container) setupCoordinator() {
	// A nil *websocket.Client must not reach the coordinator as a non-nil
	// interface.
	var push notifapp.PushChannel
	if c.Push != nil {
		push = c.Push
	}

	c.Coordinator = notifapp.NewCoordinator(c.API, push,
		notifapp.WithLogger(c.Logger),
		notifapp.WithEventBus(c.publisher()),
		notifapp.WithMetrics(c.Metrics),
		notifapp.WithPollInterval(c.Config.Coordinator.PollInterval),
	)
}

// rateLimiter builds the middleware guarding refresh and retry, or nil when
// rate limiting is disabled.
func (c *Container) rateLimiter() echo.MiddlewareFunc {
	if !c.Config.RateLimit.Enabled {
		return nil
	}

	var store middleware.RateLimitStore
	if strings.EqualFold(c.Config.RateLimit.Store, "redis") && c.Redis != nil {
		store = middleware.NewRedisRateLimitStore(c.Redis, "")
	} else {
		store = middleware.NewMemoryRateLimitStore()
	}

	rlConfig := middleware.DefaultRateLimitConfig(store)
	rlConfig.Logger = c.Logger
	rlConfig.Limit = c.Config.RateLimit.Limit
	rlConfig.Window = c.Config.RateLimit.Window

	c.Logger.Info("rate limiting enabled",
		slog.String("store", c.Config.RateLimit.Store),
		slog.Int("limit", rlConfig.Limit),
		slog.Duration("window", rlConfig.Window),
	)

	return middleware.RateLimit(rlConfig)
}

func (c *Container) setupHTTP() {
	c.Server = httpserver.NewServer(httpserver.ServerConfig{
		Host:            c.Config.Server.Host,
		Port:            c.Config.Server.Port,
		ReadTimeout:     c.Config.Server.ReadTimeout,
		WriteTimeout:    c.Config.Server.WriteTimeout,
		ShutdownTimeout: c.Config.Server.ShutdownTimeout,
	}, c.Logger)

	loggingConfig := middleware.DefaultLoggingConfig()
	loggingConfig.Logger = c.Logger

	routerConfig := httpserver.DefaultRouterConfig()
	routerConfig.Logger = c.Logger
	routerConfig.LoggingConfig = loggingConfig
	routerConfig.RecoveryConfig.Logger = c.Logger
	routerConfig.RequestTimeout = c.Config.Server.WriteTimeout
	routerConfig.CORSOrigins = c.Config.Server.CORSOrigins

	c.Router = httpserver.NewRouter(c.Server.Echo(), routerConfig)

	var handlerOpts []httphandler.HandlerOption
	if limiter := c.rateLimiter(); limiter != nil {
		handlerOpts = append(handlerOpts, httphandler.WithCommandMiddleware(limiter))
	}
	c.NotificationHandler = httphandler.NewNotificationHandler(c.Coordinator, handlerOpts...)
	c.StreamHandler = wshandler.NewHandler(c.Hub, c.Coordinator,
		wshandler.WithHandlerLogger(c.Logger),
		wshandler.WithHandlerConfig(wshandler.HandlerConfig{
			CheckOrigin:  middleware.OriginChecker(c.Config.Server.CORSOrigins...),
			ViewerConfig: c.viewerConfig(),
		}),
	)

	c.Router.RegisterAll(c.NotificationHandler, c.StreamHandler)
	c.Router.RegisterHealthEndpoints(c)
	if c.Config.Metrics.Enabled {
		c.Router.RegisterMetricsEndpoint(c.Config.Metrics.Path, c.Registry)
	}
	c.Router.PrintRoutes()
}

func (c *Container) viewerConfig() websocket.ViewerConfig {
	viewer := websocket.DefaultViewerConfig()
	viewer.ReadBufferSize = c.Config.WebSocket.ReadBufferSize
	viewer.WriteBufferSize = c.Config.WebSocket.WriteBufferSize
	viewer.PingInterval = c.Config.WebSocket.PingInterval
	viewer.PongWait = c.Config.WebSocket.PongTimeout
	return viewer
}

// Start runs the background services: the stream hub and broadcaster, the
// Redis bus listener and the coordinator. It returns once the initial
// refresh has completed.
func (c *Container) Start(ctx context.Context) error {
	go c.Hub.Run(ctx)

	if err := c.Broadcaster.Start(ctx); err != nil {
		return fmt.Errorf("failed to start broadcaster: %w", err)
	}

	if err := c.startEventLogging(ctx); err != nil {
		return err
	}

	if err := c.Coordinator.Start(ctx); err != nil {
		return fmt.Errorf("failed to start coordinator: %w", err)
	}

	c.Logger.InfoContext(ctx, "notifier started",
		slog.Bool("push_enabled", c.Push != nil),
		slog.Duration("poll_interval", c.Config.Coordinator.PollInterval),
	)
	return nil
}

// startEventLogging attaches the debug event log. With the Redis bus it
// listens on Redis, so every event round-trips through the broker.
func (c *Container) startEventLogging(ctx context.Context) error {
	logging := eventbus.NewLoggingHandler(c.Logger)

	if c.RedisBus == nil {
		if err := eventbus.RegisterLoggingHandler(c.LocalBus, logging); err != nil {
			return fmt.Errorf("failed to register event logging: %w", err)
		}
		return nil
	}

	if err := eventbus.RegisterLoggingHandler(c.RedisBus, logging); err != nil {
		return fmt.Errorf("failed to register event logging: %w", err)
	}

	go func() {
		if err := c.RedisBus.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			c.Logger.Error("event bus error", slog.String("error", err.Error()))
		}
	}()

	c.Logger.InfoContext(ctx, "redis event bus started",
		slog.String("channel_prefix", c.Config.EventBus.RedisChannelPrefix),
	)
	return nil
}

// Close stops the background services and releases connections.
func (c *Container) Close() error {
	c.Logger.Info("closing container resources...")

	var errs []error

	// The coordinator owns the push client and disconnects it.
	if c.Coordinator != nil {
		c.Coordinator.Stop()
		c.Logger.Debug("coordinator stopped")
	}

	if c.Hub != nil {
		c.Hub.Stop()
		c.Logger.Debug("event stream hub stopped")
	}

	if c.RedisBus != nil {
		if err := c.RedisBus.Shutdown(); err != nil {
			errs = append(errs, fmt.Errorf("event bus shutdown: %w", err))
		} else {
			c.Logger.Debug("event bus stopped")
		}
	}

	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close: %w", err))
		} else {
			c.Logger.Debug("redis connection closed")
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	c.Logger.Info("all container resources closed")
	return nil
}

// IsReady implements httpserver.HealthChecker.
// The notifier is ready once the stream hub runs, Redis (when used) answers
// and the last refresh did not fail.
func (c *Container) IsReady(ctx context.Context) bool {
	if c.Hub == nil || !c.Hub.IsRunning() {
		c.Logger.WarnContext(ctx, "event stream hub is not running")
		return false
	}

	if c.Redis != nil {
		pingCtx, cancel := context.WithTimeout(ctx, healthTimeout)
		defer cancel()
		if err := c.Redis.Ping(pingCtx).Err(); err != nil {
			c.Logger.WarnContext(ctx, "redis health check failed", slog.String("error", err.Error()))
			return false
		}
	}

	return c.Coordinator != nil && c.Coordinator.ConsecutiveFailures() == 0
}

// GetHealthStatus implements httpserver.HealthChecker.
func (c *Container) GetHealthStatus(ctx context.Context) []httpserver.ComponentStatus {
	statuses := []httpserver.ComponentStatus{
		c.coordinatorStatus(),
		c.pushStatus(),
		c.hubStatus(),
	}

	if c.Redis != nil {
		redisStatus := httpserver.ComponentStatus{Name: "redis", Status: httpserver.StatusHealthy}
		pingCtx, cancel := context.WithTimeout(ctx, healthTimeout)
		defer cancel()
		if err := c.Redis.Ping(pingCtx).Err(); err != nil {
			redisStatus.Status = httpserver.StatusUnhealthy
			redisStatus.Message = err.Error()
		}
		statuses = append(statuses, redisStatus)
	}

	if c.RedisBus != nil {
		busStatus := httpserver.ComponentStatus{Name: "eventbus", Status: httpserver.StatusHealthy}
		if !c.RedisBus.IsRunning() {
			busStatus.Status = httpserver.StatusDegraded
			busStatus.Message = "event bus not running"
		}
		statuses = append(statuses, busStatus)
	}

	if c.DeadLetters != nil {
		checkCtx, cancel := context.WithTimeout(ctx, healthTimeout)
		defer cancel()
		statuses = append(statuses, healthcheck.NewDeadLetterChecker(c.DeadLetters).Check(checkCtx))
	}

	return statuses
}

func (c *Container) coordinatorStatus() httpserver.ComponentStatus {
	status := httpserver.ComponentStatus{Name: "coordinator", Status: httpserver.StatusHealthy}
	if c.Coordinator == nil {
		status.Status = httpserver.StatusUnhealthy
		status.Message = "coordinator not initialized"
		return status
	}
	if failures := c.Coordinator.ConsecutiveFailures(); failures > 0 {
		status.Status = httpserver.StatusDegraded
		status.Message = fmt.Sprintf("auto-refresh paused after %d failed refresh(es)", failures)
	}
	return status
}

func (c *Container) pushStatus() httpserver.ComponentStatus {
	status := httpserver.ComponentStatus{Name: "push", Status: httpserver.StatusHealthy}
	switch {
	case c.Push == nil:
		status.Message = "disabled"
	case c.Push.IsConnected():
	case c.Push.State() == websocket.StateExhausted:
		status.Status = httpserver.StatusDegraded
		status.Message = "reconnect attempts exhausted"
	default:
		status.Status = httpserver.StatusDegraded
		status.Message = c.Push.State().String()
	}
	return status
}

func (c *Container) hubStatus() httpserver.ComponentStatus {
	status := httpserver.ComponentStatus{Name: "event_stream", Status: httpserver.StatusHealthy}
	if c.Hub == nil || !c.Hub.IsRunning() {
		status.Status = httpserver.StatusUnhealthy
		status.Message = "hub not running"
	}
	return status
}
