package domain

import "github.com/shopspring/decimal"

// Alert directions.
const (
	AlertAbove = "ABOVE"
	AlertBelow = "BELOW"
)

// ThresholdAlert fires once when a watched value crosses its threshold and
// re-arms when the value moves back.
type ThresholdAlert struct {
	Name      string          `json:"name"`
	Threshold decimal.Decimal `json:"threshold"`
	Direction string          `json:"direction"` // "ABOVE" or "BELOW"
	fired     bool
}

// NewThresholdAlert creates an armed alert.
func NewThresholdAlert(name string, threshold decimal.Decimal, direction string) *ThresholdAlert {
	return &ThresholdAlert{
		Name:      name,
		Threshold: threshold,
		Direction: direction,
	}
}

// Fired reports whether the alert is waiting to re-arm.
func (a *ThresholdAlert) Fired() bool {
	return a.fired
}

// Breached reports whether value is on the alerting side of the threshold.
// Returns true when:
// - Direction is ABOVE and value >= threshold
// - Direction is BELOW and value < threshold
func (a *ThresholdAlert) Breached(value decimal.Decimal) bool {
	switch a.Direction {
	case AlertAbove:
		return value.GreaterThanOrEqual(a.Threshold)
	case AlertBelow:
		return value.LessThan(a.Threshold)
	default:
		return false
	}
}

// Observe feeds a new value and returns true only on the transition into breach.
func (a *ThresholdAlert) Observe(value decimal.Decimal) bool {
	if !a.Breached(value) {
		a.fired = false
		return false
	}
	if a.fired {
		return false
	}
	a.fired = true
	return true
}

// Reset re-arms the alert.
func (a *ThresholdAlert) Reset() {
	a.fired = false
}
