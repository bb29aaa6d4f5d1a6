package router

import (
	"sync"
	"time"
)

// RateLimiter caps outbound messages within a fixed window.
// FUNCTIONAL DISCOVERY: the window restarts with the first message after it
// expires, so a burst of limit messages is always allowed
type RateLimiter struct {
	mu          sync.Mutex
	limit       int
	window      time.Duration
	count       int
	windowStart time.Time
	now         func() time.Time
}

// NewRateLimiter allows limit messages per window. A limit of zero or
// less disables limiting.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		limit:  limit,
		window: window,
		now:    time.Now,
	}
}

// Allow records one message and reports whether it may be sent.
func (rl *RateLimiter) Allow() bool {
	if rl == nil || rl.limit <= 0 {
		return true
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if rl.windowStart.IsZero() || now.Sub(rl.windowStart) >= rl.window {
		rl.count = 1
		rl.windowStart = now
		return true
	}

	if rl.count >= rl.limit {
		return false
	}

	rl.count++
	return true
}
