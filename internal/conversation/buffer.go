// Package conversation holds the rendered message list for the active
// counterpart.
package conversation

import (
	"chatdesk/pkg/interfaces"
	"chatdesk/pkg/types"
)

// Buffer is the conversation being shown. It is owned by the client event
// loop.
type Buffer struct {
	counterpart string
	messages    []types.RenderedMessage
}

// NewBuffer creates an empty buffer.
func NewBuffer() *Buffer {
	return &Buffer{}
}

// Reset discards the current rendering and renders history in the order
// given, tagging messages sent by selfID as own.
func (b *Buffer) Reset(counterpart string, history []types.ChatMessage, selfID string) interfaces.ConversationSnapshot {
	b.counterpart = counterpart
	b.messages = make([]types.RenderedMessage, 0, len(history))
	for _, m := range history {
		b.messages = append(b.messages, render(m.SenderID, m.Content, m.Timestamp, selfID))
	}
	return b.Snapshot()
}

// Append adds one message without re-fetching.
func (b *Buffer) Append(senderID, content string, ts types.Timestamp, selfID string) interfaces.ConversationSnapshot {
	b.messages = append(b.messages, render(senderID, content, ts, selfID))
	return b.Snapshot()
}

// Counterpart is the id the buffer was last reset for.
func (b *Buffer) Counterpart() string {
	return b.counterpart
}

// Len is the number of rendered messages.
func (b *Buffer) Len() int {
	return len(b.messages)
}

// Snapshot copies the buffer for a view. The view is always asked to show
// the latest message.
func (b *Buffer) Snapshot() interfaces.ConversationSnapshot {
	return interfaces.ConversationSnapshot{
		CounterpartID:  b.counterpart,
		Messages:       append([]types.RenderedMessage(nil), b.messages...),
		ScrollToLatest: true,
	}
}

func render(senderID, content string, ts types.Timestamp, selfID string) types.RenderedMessage {
	return types.RenderedMessage{
		SenderID:  senderID,
		Content:   content,
		Timestamp: ts,
		Own:       senderID == selfID,
	}
}
