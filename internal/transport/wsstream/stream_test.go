package wsstream

import (
	"bufio"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// echoServer answers every text message twice, split in two messages, so
// reads have to cross message boundaries.
func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			half := len(data) / 2
			_ = conn.WriteMessage(websocket.TextMessage, data[:half])
			_ = conn.WriteMessage(websocket.TextMessage, data[half:])
		}
	}))
}

func dial(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}
	return conn
}

func TestStream_ReadsAcrossMessages(t *testing.T) {
	server := echoServer(t)
	defer server.Close()

	stream := New(dial(t, server), time.Second)
	defer stream.Close()

	if _, err := stream.Write([]byte("SEND\n\nhello\x00")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	got, err := bufio.NewReader(stream).ReadString(0)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if got != "SEND\n\nhello\x00" {
		t.Errorf("Expected the frame reassembled, got %q", got)
	}
}

func TestStream_CloseIsIdempotent(t *testing.T) {
	server := echoServer(t)
	defer server.Close()

	stream := New(dial(t, server), 0)

	if err := stream.Close(); err != nil {
		t.Errorf("First close failed: %v", err)
	}
	if err := stream.Close(); err != nil {
		t.Errorf("Second close should return the first result, got %v", err)
	}

	buf := make([]byte, 8)
	if _, err := stream.Read(buf); err == nil {
		t.Error("Read after close should fail")
	}
}

func TestStream_PeerCloseIsEOF(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
		conn.Close()
	}))
	defer server.Close()

	stream := New(dial(t, server), 0)
	defer stream.Close()

	buf := make([]byte, 8)
	if _, err := stream.Read(buf); err != io.EOF {
		t.Errorf("Expected io.EOF, got %v", err)
	}
}
