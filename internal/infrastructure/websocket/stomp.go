package websocket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/go-stomp/stomp/v3"
	"github.com/gorilla/websocket"
)

// Default STOMP dialer configuration constants.
const (
	DefaultURL              = "ws://localhost:8080/ws/websocket"
	DefaultHeartBeat        = 10 * time.Second
	DefaultHandshakeTimeout = 10 * time.Second

	defaultDisconnectTimeout = 5 * time.Second
	contentTypeJSON          = "application/json"
)

// StompConfig holds configuration for StompDialer.
type StompConfig struct {
	// URL is the broker WebSocket endpoint.
	URL string

	// HeartBeatSend is the interval at which the client sends heart-beats.
	HeartBeatSend time.Duration

	// HeartBeatReceive is the interval at which the client expects
	// heart-beats from the broker.
	HeartBeatReceive time.Duration

	// HandshakeTimeout bounds the WebSocket upgrade and the STOMP CONNECT
	// exchange.
	HandshakeTimeout time.Duration

	// ReadBufferSize is the size of the WebSocket read buffer.
	ReadBufferSize int

	// WriteBufferSize is the size of the WebSocket write buffer.
	WriteBufferSize int
}

// DefaultStompConfig returns the broker defaults.
func DefaultStompConfig() StompConfig {
	return StompConfig{
		URL:              DefaultURL,
		HeartBeatSend:    DefaultHeartBeat,
		HeartBeatReceive: DefaultHeartBeat,
		HandshakeTimeout: DefaultHandshakeTimeout,
		ReadBufferSize:   defaultReadBufferSize,
		WriteBufferSize:  defaultWriteBufferSize,
	}
}

// StompDialer opens STOMP sessions over gorilla/websocket.
type StompDialer struct {
	config StompConfig
	dialer *websocket.Dialer
	host   string
	logger *slog.Logger
}

// StompDialerOption configures a StompDialer.
type StompDialerOption func(*StompDialer)

// WithDialerLogger sets the logger for the dialer.
func WithDialerLogger(logger *slog.Logger) StompDialerOption {
	return func(d *StompDialer) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// NewStompDialer creates a dialer for config.URL.
func NewStompDialer(config StompConfig, opts ...StompDialerOption) (*StompDialer, error) {
	if config.URL == "" {
		config.URL = DefaultURL
	}
	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = DefaultHandshakeTimeout
	}

	parsed, err := url.Parse(config.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid push url: %w", err)
	}
	if parsed.Scheme != "ws" && parsed.Scheme != "wss" {
		return nil, fmt.Errorf("invalid push url scheme %q: expected ws or wss", parsed.Scheme)
	}

	d := &StompDialer{
		config: config,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: config.HandshakeTimeout,
			ReadBufferSize:   config.ReadBufferSize,
			WriteBufferSize:  config.WriteBufferSize,
		},
		host:   parsed.Hostname(),
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(d)
	}

	return d, nil
}

// Dial upgrades to WebSocket and performs the STOMP CONNECT handshake. The
// token travels both as the upgrade Authorization header and as a STOMP
// connect header.
func (d *StompDialer) Dial(ctx context.Context, token string) (Session, error) {
	bearer := "Bearer " + token

	header := http.Header{}
	header.Set("Authorization", bearer)

	conn, resp, err := d.dialer.DialContext(ctx, d.config.URL, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket handshake failed with status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket handshake failed: %w", err)
	}

	ws := newStream(conn)

	deadline := time.Now().Add(d.config.HandshakeTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		_ = ws.Close()
		return nil, fmt.Errorf("failed to set read deadline: %w", err)
	}

	stompConn, err := stomp.Connect(ws,
		stomp.ConnOpt.Host(d.host),
		stomp.ConnOpt.Header("Authorization", bearer),
		stomp.ConnOpt.HeartBeat(d.config.HeartBeatSend, d.config.HeartBeatReceive),
	)
	if err != nil {
		_ = ws.Close()
		return nil, fmt.Errorf("stomp handshake failed: %w", err)
	}

	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		stompConn.MustDisconnect()
		_ = ws.Close()
		return nil, fmt.Errorf("failed to clear read deadline: %w", err)
	}

	d.logger.DebugContext(ctx, "stomp session established",
		slog.String("url", d.config.URL),
		slog.String("server", stompConn.Server()),
		slog.String("version", string(stompConn.Version())),
	)

	return newStompSession(stompConn, ws, d.logger), nil
}

// stompSession is a Session backed by a go-stomp connection.
type stompSession struct {
	conn   *stomp.Conn
	stream *stream
	logger *slog.Logger

	done     chan struct{}
	doneOnce sync.Once

	// errMu protects err.
	errMu sync.Mutex
	err   error

	closeOnce sync.Once
}

func newStompSession(conn *stomp.Conn, ws *stream, logger *slog.Logger) *stompSession {
	return &stompSession{
		conn:   conn,
		stream: ws,
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Subscribe implements Session.
func (s *stompSession) Subscribe(destination string, handler func(body []byte)) error {
	sub, err := s.conn.Subscribe(destination, stomp.AckAuto)
	if err != nil {
		return err
	}

	go s.consume(sub, handler)
	return nil
}

// consume delivers messages until the subscription ends.
func (s *stompSession) consume(sub *stomp.Subscription, handler func(body []byte)) {
	for msg := range sub.C {
		if msg.Err != nil {
			s.fail(msg.Err)
			return
		}
		handler(msg.Body)
	}
	s.fail(ErrSessionClosed)
}

// Send implements Session.
func (s *stompSession) Send(destination string, body []byte) error {
	return s.conn.Send(destination, contentTypeJSON, body)
}

// Done implements Session.
func (s *stompSession) Done() <-chan struct{} {
	return s.done
}

// Err implements Session.
func (s *stompSession) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Close sends DISCONNECT and waits briefly for the receipt before closing
// the socket.
func (s *stompSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		disconnected := make(chan error, 1)
		go func() {
			disconnected <- s.conn.Disconnect()
		}()

		select {
		case err = <-disconnected:
		case <-time.After(defaultDisconnectTimeout):
			s.conn.MustDisconnect()
			err = errors.New("timed out waiting for disconnect receipt")
		}

		if closeErr := s.stream.Close(); closeErr != nil && err == nil {
			s.logger.Debug("websocket close after disconnect", slog.String("error", closeErr.Error()))
		}
		s.fail(ErrSessionClosed)
	})
	return err
}

// fail records the first error and closes done.
func (s *stompSession) fail(err error) {
	s.doneOnce.Do(func() {
		s.errMu.Lock()
		s.err = err
		s.errMu.Unlock()
		close(s.done)
	})
}
