package gatewaytest

import (
	"io"
	"sync"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"chatdesk/internal/transport/wsstream"
)

// STOMP commands and headers the gateway reads or writes.
const (
	cmdConnect     = "CONNECT"
	cmdStomp       = "STOMP"
	cmdConnected   = "CONNECTED"
	cmdSend        = "SEND"
	cmdSubscribe   = "SUBSCRIBE"
	cmdUnsubscribe = "UNSUBSCRIBE"
	cmdDisconnect  = "DISCONNECT"
	cmdMessage     = "MESSAGE"
	cmdReceipt     = "RECEIPT"
	cmdError       = "ERROR"

	hdrDestination  = "destination"
	hdrID           = "id"
	hdrReceipt      = "receipt"
	hdrReceiptID    = "receipt-id"
	hdrSubscription = "subscription"
	hdrMessageID    = "message-id"
	hdrVersion      = "version"
	hdrHeartBeat    = "heart-beat"
	hdrSession      = "session"
	hdrContentType  = "content-type"
	hdrMessage      = "message"
)

var errProtocol = errors.New("stomp protocol violation")

// session is one client's STOMP connection.
type session struct {
	id     string
	stream *wsstream.Stream
	reader *frame.Reader

	writeMu sync.Mutex
	writer  *frame.Writer
}

func newSession(stream *wsstream.Stream) *session {
	return &session{
		id:     uuid.NewString(),
		stream: stream,
		reader: frame.NewReader(stream),
		writer: frame.NewWriter(stream),
	}
}

// read returns the next frame, skipping heart-beats.
func (s *session) read() (*frame.Frame, error) {
	for {
		f, err := s.reader.Read()
		if err != nil {
			return nil, err
		}
		if f != nil {
			return f, nil
		}
	}
}

func (s *session) write(f *frame.Frame) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.writer.Write(f)
}

// handshake expects CONNECT or STOMP and answers CONNECTED 1.2 without
// heart-beating.
func (s *session) handshake() error {
	f, err := s.read()
	if err != nil {
		return err
	}
	if f.Command != cmdConnect && f.Command != cmdStomp {
		_ = s.fail("expected CONNECT")
		return errors.Wrapf(errProtocol, "first frame was %s", f.Command)
	}
	return s.write(frame.New(cmdConnected,
		hdrVersion, "1.2",
		hdrHeartBeat, "0,0",
		hdrSession, s.id))
}

func (s *session) deliver(subscriptionID, destination string, body []byte) error {
	f := frame.New(cmdMessage,
		hdrSubscription, subscriptionID,
		hdrMessageID, uuid.NewString(),
		hdrDestination, destination,
		hdrContentType, "application/json")
	f.Body = body
	return s.write(f)
}

func (s *session) receipt(f *frame.Frame) error {
	id := f.Header.Get(hdrReceipt)
	if id == "" {
		return nil
	}
	return s.write(frame.New(cmdReceipt, hdrReceiptID, id))
}

func (s *session) fail(message string) error {
	return s.write(frame.New(cmdError, hdrMessage, message))
}

func (s *session) close() error {
	return s.stream.Close()
}

func isClosed(err error) bool {
	return err == io.EOF || errors.Cause(err) == io.EOF
}
