package interfaces

import "chatdesk/pkg/types"

// ConversationSnapshot is the rendered conversation handed to a View.
type ConversationSnapshot struct {
	CounterpartID string
	Messages      []types.RenderedMessage
	// ScrollToLatest asks the view to bring the newest message into sight.
	ScrollToLatest bool
}

// View renders client state. Every method is called from the client's
// event loop with snapshots the view may keep.
// FUNCTIONAL DISCOVERY: the view never mutates client state directly, user
// actions go back through the client
type View interface {
	SessionStarted(identity types.Identity)
	DirectoryChanged(entries []types.DirectoryEntry)
	ConversationChanged(snapshot ConversationSnapshot)
	SessionEnded(err error)
}
