package interfaces

import (
	"context"

	"chatdesk/pkg/types"
)

// Handler receives one inbound payload.
type Handler func(payload []byte)

// Transport opens publish/subscribe sessions with the messaging gateway.
// ARCHITECTURAL DISCOVERY: STOMP and NATS adapters both satisfy this, the
// rest of the client never sees wire-level names or frames
type Transport interface {
	// Connect establishes the streaming session for the identity.
	// Failures wrap types.ErrConnectFailed; no retry is attempted.
	Connect(ctx context.Context, identity types.Identity) (Connection, error)
}

// Connection is a live session handle.
type Connection interface {
	// Subscribe registers handler for channel. The handler is invoked once
	// per inbound message, in arrival order, on a goroutine owned by the
	// subscription.
	Subscribe(channel string, handler Handler) error

	// Publish sends payload to destination without awaiting acknowledgment.
	Publish(destination string, payload []byte) error

	// Disconnect releases the session. It is best-effort and idempotent.
	Disconnect() error
}
