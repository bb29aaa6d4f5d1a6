// Package wsstream presents a websocket connection as a byte stream so
// frame-oriented codecs (STOMP) can run over it unchanged.
package wsstream

import (
	"io"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Stream adapts a *websocket.Conn to io.ReadWriteCloser. Each Write is
// sent as one text message; Read concatenates inbound messages.
type Stream struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	readMu sync.Mutex
	reader io.Reader

	writeMu sync.Mutex

	closeOnce sync.Once
	closeErr  error
}

// New wraps conn. A zero writeTimeout disables write deadlines.
func New(conn *websocket.Conn, writeTimeout time.Duration) *Stream {
	return &Stream{conn: conn, writeTimeout: writeTimeout}
}

// Read reads from the current websocket message, moving on to the next
// one when it is exhausted. Close frames surface as io.EOF.
func (s *Stream) Read(p []byte) (int, error) {
	s.readMu.Lock()
	defer s.readMu.Unlock()

	for {
		if s.reader == nil {
			_, r, err := s.conn.NextReader()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					return 0, io.EOF
				}
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

// Write sends p as a single text message.
// TECHNICAL DISCOVERY: gorilla allows one concurrent writer, so writes are
// serialized here rather than trusting every caller
func (s *Stream) Write(p []byte) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.writeTimeout > 0 {
		if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
			return 0, err
		}
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close sends a normal-closure frame when possible and closes the socket.
// Safe to call more than once.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.writeMu.Lock()
		deadline := time.Now().Add(time.Second)
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		s.writeMu.Unlock()
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}
