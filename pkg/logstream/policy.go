package logstream

import "time"

// ReconnectPolicy bounds the exponential backoff used after transport failures
type ReconnectPolicy struct {
	// BaseDelay is the delay before the first reconnect
	BaseDelay time.Duration

	// MaxDelay caps any single delay
	MaxDelay time.Duration

	// MaxAttempts is the number of reconnects tried before giving up
	MaxAttempts int
}

// DefaultReconnectPolicy waits 1s, 2s, 4s, 8s, 16s and then stops.
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
		MaxAttempts: 5,
	}
}

// Delay returns min(BaseDelay * 2^attempt, MaxDelay).
func (p ReconnectPolicy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := p.BaseDelay
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= p.MaxDelay || d <= 0 {
			return p.MaxDelay
		}
	}
	if d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// CanRetry reports whether another reconnect may be scheduled.
func (p ReconnectPolicy) CanRetry(attempt int) bool {
	return attempt < p.MaxAttempts
}

func (p ReconnectPolicy) withDefaults() ReconnectPolicy {
	def := DefaultReconnectPolicy()
	if p == (ReconnectPolicy{}) {
		return def
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = def.BaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = def.MaxDelay
	}
	if p.MaxAttempts < 0 {
		p.MaxAttempts = 0
	}
	return p
}
