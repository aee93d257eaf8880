package infra

import "time"

const (
	// BaseBackoff is the first reconnect delay.
	BaseBackoff = 1 * time.Second
	// MaxBackoff caps the reconnect delay.
	MaxBackoff = 60 * time.Second
)

// CalculateBackoff returns the delay before reconnect attempt n (0-based):
// 1s, 2s, 4s ... capped at MaxBackoff.
func CalculateBackoff(attempt int) time.Duration {
	if attempt <= 0 {
		return BaseBackoff
	}
	if attempt >= 6 { // 2^6s already exceeds the cap
		return MaxBackoff
	}
	d := BaseBackoff << uint(attempt)
	if d > MaxBackoff {
		return MaxBackoff
	}
	return d
}
