package types

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// InboundKind tells chat messages apart from presence notices.
type InboundKind int

const (
	InboundChat InboundKind = iota + 1
	InboundPresence
)

func (k InboundKind) String() string {
	switch k {
	case InboundChat:
		return "chat"
	case InboundPresence:
		return "presence"
	default:
		return "unknown"
	}
}

// Inbound is a decoded payload from the personal or broadcast channel.
type Inbound struct {
	Kind     InboundKind
	Message  ChatMessage
	Presence UserRecord
}

// DecodeInbound classifies and decodes one inbound payload.
// ARCHITECTURAL DISCOVERY: the gateway echoes user records to the personal
// queue on join and leave, on the same channel as chat notifications. A body
// carrying senderId is a chat message; a body with only an id is a user record.
func DecodeInbound(body []byte) (Inbound, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(body, &probe); err != nil {
		return Inbound{}, errors.Wrap(ErrMalformedPayload, err.Error())
	}

	if present(probe, "senderId") {
		var msg ChatMessage
		if err := json.Unmarshal(body, &msg); err != nil {
			return Inbound{}, errors.Wrap(ErrMalformedPayload, err.Error())
		}
		if msg.SenderID == "" {
			return Inbound{}, errors.Wrap(ErrMalformedPayload, "empty senderId")
		}
		return Inbound{Kind: InboundChat, Message: msg}, nil
	}

	if present(probe, "id") {
		var user UserRecord
		if err := json.Unmarshal(body, &user); err != nil {
			return Inbound{}, errors.Wrap(ErrMalformedPayload, err.Error())
		}
		return Inbound{Kind: InboundPresence, Presence: user}, nil
	}

	return Inbound{}, errors.Wrap(ErrMalformedPayload, "neither chat message nor user record")
}

func present(fields map[string]json.RawMessage, key string) bool {
	raw, ok := fields[key]
	return ok && string(raw) != "null"
}
