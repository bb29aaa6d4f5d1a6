package tui

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"chatdesk/pkg/interfaces"
	"chatdesk/pkg/types"
)

// Messages the bridge feeds into the program.
type (
	sessionStartedMsg struct{ identity types.Identity }
	directoryMsg      struct{ entries []types.DirectoryEntry }
	conversationMsg   struct{ snapshot interfaces.ConversationSnapshot }
	sessionEndedMsg   struct{ err error }
)

// Bridge is the interfaces.View handed to the client. It turns each
// callback into a tea message for the running program.
// ARCHITECTURAL DISCOVERY: callbacks arrive on the client's event loop, so
// the model must never call the client synchronously from Update or the
// two loops wait on each other
type Bridge struct {
	mu   sync.RWMutex
	send func(tea.Msg)
}

// NewBridge returns a bridge that drops callbacks until Attach is called.
func NewBridge() *Bridge {
	return &Bridge{}
}

// Attach routes callbacks to send, normally (*tea.Program).Send.
func (b *Bridge) Attach(send func(tea.Msg)) {
	b.mu.Lock()
	b.send = send
	b.mu.Unlock()
}

func (b *Bridge) emit(msg tea.Msg) {
	b.mu.RLock()
	send := b.send
	b.mu.RUnlock()
	if send != nil {
		send(msg)
	}
}

func (b *Bridge) SessionStarted(identity types.Identity) {
	b.emit(sessionStartedMsg{identity: identity})
}

func (b *Bridge) DirectoryChanged(entries []types.DirectoryEntry) {
	b.emit(directoryMsg{entries: entries})
}

func (b *Bridge) ConversationChanged(snapshot interfaces.ConversationSnapshot) {
	b.emit(conversationMsg{snapshot: snapshot})
}

func (b *Bridge) SessionEnded(err error) {
	b.emit(sessionEndedMsg{err: err})
}
