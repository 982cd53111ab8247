package httpserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// Default server configuration values.
const (
	DefaultHost            = "127.0.0.1"
	DefaultPort            = 8081
	DefaultReadTimeout     = 30 * time.Second
	DefaultWriteTimeout    = 30 * time.Second
	DefaultShutdownTimeout = 10 * time.Second
	DefaultMaxHeaderBytes  = 1 << 20 // 1MB
)

// ServerConfig holds configuration for the HTTP server.
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// DefaultServerConfig returns a ServerConfig with sensible defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:            DefaultHost,
		Port:            DefaultPort,
		ReadTimeout:     DefaultReadTimeout,
		WriteTimeout:    DefaultWriteTimeout,
		ShutdownTimeout: DefaultShutdownTimeout,
	}
}

// Address returns host:port.
func (c ServerConfig) Address() string {
	return net.JoinHostPort(c.Host, fmt.Sprint(c.Port))
}

// Server is the local display API server.
type Server struct {
	echo   *echo.Echo
	config ServerConfig
	logger *slog.Logger
}

// NewServer creates a new HTTP server with the given configuration.
func NewServer(config ServerConfig, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = DefaultShutdownTimeout
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Server.ReadTimeout = config.ReadTimeout
	e.Server.MaxHeaderBytes = DefaultMaxHeaderBytes

	// No server write timeout: display streams stay open indefinitely.
	// REST handlers are bounded by Router's request timeout instead.
	return &Server{
		echo:   e,
		config: config,
		logger: logger,
	}
}

// Echo returns the underlying Echo instance for middleware and route registration.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// Start listens on the configured address and serves until Shutdown.
func (s *Server) Start() error {
	addr := s.config.Address()
	s.logger.Info("starting HTTP server",
		slog.String("address", addr),
		slog.Duration("read_timeout", s.config.ReadTimeout),
	)

	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Serve serves on an existing listener until Shutdown.
func (s *Server) Serve(listener net.Listener) error {
	s.echo.Listener = listener
	s.logger.Info("starting HTTP server", slog.String("address", listener.Addr().String()))

	if err := s.echo.Start(""); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server within the shutdown timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.InfoContext(ctx, "shutting down HTTP server",
		slog.Duration("timeout", s.config.ShutdownTimeout),
	)

	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.logger.InfoContext(ctx, "HTTP server stopped")
	return nil
}
