package session

import (
	"github.com/google/uuid"

	"chatdesk/pkg/interfaces"
	"chatdesk/pkg/types"
)

// Session is the per-connection context: who we are, which counterpart is
// selected and which counterparts have unread messages.
// ARCHITECTURAL DISCOVERY: owned by the client event loop, so it carries no
// locks; every method must be called from that goroutine
type Session struct {
	id       string
	identity types.Identity
	conn     interfaces.Connection

	selection string
	unread    map[string]bool
}

// New creates the context for a freshly connected identity.
func New(identity types.Identity, conn interfaces.Connection) (*Session, error) {
	if conn == nil {
		return nil, ErrNilConnection
	}
	return &Session{
		id:       uuid.NewString(),
		identity: identity,
		conn:     conn,
		unread:   make(map[string]bool),
	}, nil
}

// ID identifies this session in logs.
func (s *Session) ID() string {
	return s.id
}

// Identity returns the local identity by value.
func (s *Session) Identity() types.Identity {
	return s.identity
}

// Conn returns the live connection, or ErrReleased after Release.
func (s *Session) Conn() (interfaces.Connection, error) {
	if s.conn == nil {
		return nil, ErrReleased
	}
	return s.conn, nil
}

// Release hands the connection back exactly once. Later calls return
// ErrReleased.
func (s *Session) Release() (interfaces.Connection, error) {
	if s.conn == nil {
		return nil, ErrReleased
	}
	conn := s.conn
	s.conn = nil
	return conn, nil
}

// Select makes id the active counterpart and clears its unread flag.
func (s *Session) Select(id string) {
	s.selection = id
	delete(s.unread, id)
}

// Selection returns the active counterpart.
func (s *Session) Selection() (string, bool) {
	return s.selection, s.selection != ""
}

// IsActive reports whether id is the active counterpart.
func (s *Session) IsActive(id string) bool {
	return id != "" && s.selection == id
}

// MarkUnread flags id. The active counterpart is never flagged; the return
// value reports whether the flag was set.
func (s *Session) MarkUnread(id string) bool {
	if id == "" || s.IsActive(id) {
		return false
	}
	s.unread[id] = true
	return true
}

// Unread reports the flag for id.
func (s *Session) Unread(id string) bool {
	return s.unread[id]
}
