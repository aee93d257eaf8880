// Package risk turns a master volume into a follower volume under a pairing's policy.
package risk

import (
	"mt5_copier/internal/domain"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// DefaultLotStep is used when neither the gateway nor config supplies one.
var DefaultLotStep = decimal.RequireFromString("0.01")

// Input is everything ComputeFollowerVolume looks at.
type Input struct {
	Symbol         string
	MasterVolume   decimal.Decimal
	Pairing        domain.Pairing
	FollowerEquity decimal.Decimal // zero when unknown
	MasterEquity   decimal.Decimal // zero when unknown
	Spec           domain.SymbolSpec
}

// ComputeFollowerVolume applies, in order: percent scaling, equity ratio,
// [min, max] clamp, max-risk cap and lot-step rounding. It is pure.
// Refusals are returned as *domain.ValidationRejection. A configured cap
// that cannot be evaluated refuses the copy.
func ComputeFollowerVolume(in Input) (decimal.Decimal, error) {
	p := in.Pairing

	if !p.IsActive {
		return decimal.Zero, domain.Reject(domain.RejectPairingInactive, "pairing %s is inactive", p.ID)
	}
	if !p.AllowsSymbol(in.Symbol) {
		return decimal.Zero, domain.Reject(domain.RejectSymbolNotAllowed, "symbol %s not allowed by pairing %s", in.Symbol, p.ID)
	}
	if !in.MasterVolume.IsPositive() {
		return decimal.Zero, domain.Reject(domain.RejectInvalidInput, "master volume %s must be positive", in.MasterVolume)
	}
	if !p.VolumePercent.IsPositive() || !p.MinVolume.IsPositive() || p.MaxVolume.LessThan(p.MinVolume) {
		return decimal.Zero, domain.Reject(domain.RejectInvalidInput, "pairing %s has invalid volume policy", p.ID)
	}

	volume := in.MasterVolume.Mul(p.VolumePercent).Div(hundred)

	if in.FollowerEquity.IsPositive() && in.MasterEquity.IsPositive() {
		volume = volume.Mul(in.FollowerEquity).Div(in.MasterEquity)
	}

	volume = decimal.Max(p.MinVolume, decimal.Min(volume, p.MaxVolume))

	if p.MaxRiskPercent.IsPositive() {
		if !in.FollowerEquity.IsPositive() || !in.Spec.RiskPerLot.IsPositive() {
			return decimal.Zero, domain.Reject(domain.RejectRiskUnknown,
				"risk cap of pairing %s needs follower equity and per-lot risk for %s", p.ID, in.Symbol)
		}
		volume = applyRiskCap(volume, p.MaxRiskPercent, in.FollowerEquity, in.Spec.RiskPerLot)
	}

	volume = FloorToStep(volume, in.Spec.LotStep)

	if volume.LessThan(p.MinVolume) {
		return decimal.Zero, domain.Reject(domain.RejectBelowMinVolume,
			"volume %s below minimum %s for %s", volume, p.MinVolume, in.Symbol)
	}
	return volume, nil
}

// applyRiskCap limits volume so that volume × riskPerLot stays within
// equity × maxRiskPercent / 100.
func applyRiskCap(volume, maxRiskPercent, equity, riskPerLot decimal.Decimal) decimal.Decimal {
	maxRisk := equity.Mul(maxRiskPercent).Div(hundred)
	if volume.Mul(riskPerLot).GreaterThan(maxRisk) {
		return maxRisk.Div(riskPerLot)
	}
	return volume
}

// FloorToStep rounds v down to a multiple of step. A non-positive step
// falls back to DefaultLotStep.
func FloorToStep(v, step decimal.Decimal) decimal.Decimal {
	if !step.IsPositive() {
		step = DefaultLotStep
	}
	return v.Div(step).Floor().Mul(step)
}
