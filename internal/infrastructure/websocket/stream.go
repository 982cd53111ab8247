package websocket

import (
	"bytes"
	"io"
	"sync"

	"github.com/gorilla/websocket"
)

// stream adapts a WebSocket connection to the byte stream go-stomp expects.
// Reads concatenate inbound messages. Writes are buffered until a complete
// frame (NUL terminated) or a heart-beat (bare EOLs) is pending, then sent as
// one text message, matching how STOMP brokers frame messages over
// WebSocket.
type stream struct {
	conn *websocket.Conn

	// readMu serializes reads.
	readMu sync.Mutex
	reader io.Reader

	// writeMu serializes writes and guards pending.
	writeMu sync.Mutex
	pending []byte

	closeOnce sync.Once
	closeErr  error
}

func newStream(conn *websocket.Conn) *stream {
	return &stream{conn: conn}
}

// Read implements io.Reader.
func (s *stream) Read(p []byte) (int, error) {
	s.readMu.Lock()
	defer s.readMu.Unlock()

	for {
		if s.reader == nil {
			_, r, err := s.conn.NextReader()
			if err != nil {
				return 0, err
			}
			s.reader = r
		}

		n, err := s.reader.Read(p)
		if err == io.EOF {
			s.reader = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

// Write implements io.Writer.
func (s *stream) Write(p []byte) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.pending = append(s.pending, p...)
	if !frameComplete(s.pending) {
		return len(p), nil
	}

	err := s.conn.WriteMessage(websocket.TextMessage, s.pending)
	s.pending = s.pending[:0]
	if err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close implements io.Closer.
func (s *stream) Close() error {
	s.closeOnce.Do(func() {
		s.writeMu.Lock()
		_ = s.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		s.writeMu.Unlock()
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}

// frameComplete reports whether buf ends a STOMP frame or is a heart-beat.
func frameComplete(buf []byte) bool {
	if len(buf) == 0 {
		return false
	}
	if buf[len(buf)-1] == 0 {
		return true
	}
	return len(bytes.Trim(buf, "\r\n")) == 0
}
