package client

import "github.com/pkg/errors"

// Client lifecycle error types
var (
	ErrClosed           = errors.New("client is closed")
	ErrAlreadyConnected = errors.New("client is already connected")
	ErrNotConnected     = errors.New("client is not connected")
	ErrTaskPanicked     = errors.New("event loop task panicked")
)
