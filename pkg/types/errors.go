package types

import "github.com/pkg/errors"

// Failure classes shared by every layer of the client.
var (
	ErrConnectFailed      = errors.New("could not connect to gateway")
	ErrFetchFailed        = errors.New("collaborator request failed")
	ErrMalformedPayload   = errors.New("malformed inbound payload")
	ErrIncompleteIdentity = errors.New("identity requires an id and a full name")
)
