package websocket

import "time"

// Backoff is a capped exponential reconnect policy
type Backoff struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
}

// DefaultBackoff mirrors the reconnect defaults of the client config
var DefaultBackoff = Backoff{
	BaseDelay:   time.Second,
	MaxDelay:    30 * time.Second,
	MaxAttempts: 5,
}

// Delay returns the wait before reconnect attempt n (1-based): BaseDelay * 2^(n-1),
// capped at MaxDelay. The sequence never decreases.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if b.BaseDelay <= 0 {
		return 0
	}

	delay := b.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if b.MaxDelay > 0 && delay >= b.MaxDelay {
			return b.MaxDelay
		}
		// overflow guard for absurd attempt counts without a cap
		if delay <= 0 {
			return time.Duration(1<<63 - 1)
		}
	}
	if b.MaxDelay > 0 && delay > b.MaxDelay {
		return b.MaxDelay
	}
	return delay
}

// Exhausted reports whether attempt exceeds the configured ceiling
func (b Backoff) Exhausted(attempt int) bool {
	return attempt > b.MaxAttempts
}
