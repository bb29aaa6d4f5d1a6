package router

import "github.com/pkg/errors"

// Send path error types, reported in logs only; Send itself returns false.
var (
	ErrRateLimitExceeded = errors.New("outbound rate limit exceeded")
	ErrNoCounterpart     = errors.New("no counterpart selected")
)
