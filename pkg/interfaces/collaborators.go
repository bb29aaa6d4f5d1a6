package interfaces

import (
	"context"

	"chatdesk/pkg/types"
)

// Directory is the external user directory (GET /users).
type Directory interface {
	ListUsers(ctx context.Context) ([]types.UserRecord, error)
}

// History is the external message history (GET /messages/{self}/{counterpart}).
type History interface {
	Conversation(ctx context.Context, selfID, counterpartID string) ([]types.ChatMessage, error)
}

// Collaborators bundles both REST collaborators; the api client serves both.
type Collaborators interface {
	Directory
	History
}
