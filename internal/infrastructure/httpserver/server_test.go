package httpserver_test

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lllypuk/libranotify/internal/infrastructure/httpserver"
)

func TestDefaultServerConfig(t *testing.T) {
	config := httpserver.DefaultServerConfig()

	assert.Equal(t, httpserver.DefaultHost, config.Host)
	assert.Equal(t, httpserver.DefaultPort, config.Port)
	assert.Equal(t, httpserver.DefaultReadTimeout, config.ReadTimeout)
	assert.Equal(t, httpserver.DefaultShutdownTimeout, config.ShutdownTimeout)
	assert.Equal(t, "127.0.0.1:8081", config.Address())
}

func TestServerConfig_Address(t *testing.T) {
	tests := []struct {
		name     string
		host     string
		port     int
		expected string
	}{
		{"loopback", "127.0.0.1", 8081, "127.0.0.1:8081"},
		{"all interfaces", "0.0.0.0", 9000, "0.0.0.0:9000"},
		{"ipv6", "::1", 8081, "[::1]:8081"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := httpserver.ServerConfig{Host: tt.host, Port: tt.port}
			assert.Equal(t, tt.expected, config.Address())
		})
	}
}

func TestNewServer(t *testing.T) {
	server := httpserver.NewServer(httpserver.ServerConfig{ReadTimeout: 5 * time.Second}, nil)

	e := server.Echo()
	require.NotNil(t, e)
	assert.True(t, e.HideBanner)
	assert.True(t, e.HidePort)
	assert.Equal(t, 5*time.Second, e.Server.ReadTimeout)
	assert.Zero(t, e.Server.WriteTimeout)
}

func TestServer_ServeAndShutdown(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	server := httpserver.NewServer(httpserver.DefaultServerConfig(), nil)
	server.Echo().GET("/ping", func(c echo.Context) error {
		return c.String(http.StatusOK, "pong")
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(listener)
	}()

	url := fmt.Sprintf("http://%s/ping", listener.Addr().String())
	require.Eventually(t, func() bool {
		resp, getErr := http.Get(url) //nolint:noctx // test helper
		if getErr != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, server.Shutdown(context.Background()))
	assert.NoError(t, <-errCh)
}
