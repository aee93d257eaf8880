package domain

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestThresholdAlert_Breached(t *testing.T) {
	t.Run("BELOW breached under threshold", func(t *testing.T) {
		alert := NewThresholdAlert("margin", decimal.NewFromInt(200), AlertBelow)
		if !alert.Breached(decimal.NewFromInt(150)) {
			t.Error("Should breach below threshold")
		}
	})

	t.Run("BELOW not breached at threshold", func(t *testing.T) {
		alert := NewThresholdAlert("margin", decimal.NewFromInt(200), AlertBelow)
		if alert.Breached(decimal.NewFromInt(200)) {
			t.Error("Should not breach at threshold")
		}
	})

	t.Run("ABOVE breached at threshold", func(t *testing.T) {
		alert := NewThresholdAlert("drop", decimal.NewFromInt(5), AlertAbove)
		if !alert.Breached(decimal.NewFromInt(5)) {
			t.Error("Should breach at threshold")
		}
	})

	t.Run("unknown direction never breaches", func(t *testing.T) {
		alert := NewThresholdAlert("x", decimal.NewFromInt(5), "SIDEWAYS")
		if alert.Breached(decimal.NewFromInt(100)) {
			t.Error("Unknown direction should not breach")
		}
	})
}

func TestThresholdAlert_Observe(t *testing.T) {
	alert := NewThresholdAlert("margin", decimal.NewFromInt(200), AlertBelow)

	steps := []struct {
		value int64
		want  bool
	}{
		{300, false},
		{180, true},  // crossing
		{150, false}, // still below, already fired
		{250, false}, // re-armed
		{199, true},  // crossing again
	}

	for i, s := range steps {
		if got := alert.Observe(decimal.NewFromInt(s.value)); got != s.want {
			t.Errorf("step %d (value %d): Observe() = %v, want %v", i, s.value, got, s.want)
		}
	}

	alert.Reset()
	if alert.Fired() {
		t.Error("Reset should re-arm the alert")
	}
}
