package socketio

import "time"

// ReconnectConfig controls automatic reconnection after a failed attempt or a lost session
type ReconnectConfig struct {
	Enabled     bool
	MaxAttempts int
	Delay       time.Duration
	MaxDelay    time.Duration
}

// DefaultReconnectConfig returns 5 attempts, 1s initial delay capped at 5s
func DefaultReconnectConfig() ReconnectConfig {
	return ReconnectConfig{
		Enabled:     true,
		MaxAttempts: 5,
		Delay:       time.Second,
		MaxDelay:    5 * time.Second,
	}
}

// Backoff returns the wait before reconnect attempt n (1-based).
// The delay grows linearly with n and is capped at MaxDelay.
func (c ReconnectConfig) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := time.Duration(attempt) * c.Delay
	if c.MaxDelay > 0 && d > c.MaxDelay {
		d = c.MaxDelay
	}
	return d
}

// allows reports whether another attempt may follow the given number of failures
func (c ReconnectConfig) allows(failures int) bool {
	if !c.Enabled {
		return false
	}
	return c.MaxAttempts <= 0 || failures <= c.MaxAttempts
}
