package session

import "github.com/pkg/errors"

// Session context error types
var (
	ErrReleased      = errors.New("session connection already released")
	ErrNilConnection = errors.New("session requires a connection")
)
