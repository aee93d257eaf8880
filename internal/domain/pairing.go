package domain

import (
	"errors"
	"slices"
	"strings"

	"github.com/shopspring/decimal"
)

// Pairing defaults.
var (
	DefaultVolumePercent = decimal.NewFromInt(100)
	DefaultMinVolume     = decimal.RequireFromString("0.01")
	DefaultMaxVolume     = decimal.NewFromInt(100)
)

// NewPairing returns an active pairing with default policy.
func NewPairing(master, follower string) Pairing {
	return Pairing{
		MasterAccountID:   master,
		FollowerAccountID: follower,
		VolumePercent:     DefaultVolumePercent,
		CopyStopLevels:    true,
		MinVolume:         DefaultMinVolume,
		MaxVolume:         DefaultMaxVolume,
		IsActive:          true,
	}
}

// Validate checks the pairing policy.
func (p *Pairing) Validate() error {
	if p.MasterAccountID == "" || p.FollowerAccountID == "" {
		return &ConfigError{Field: "account", Err: errors.New("master and follower account are required")}
	}
	if p.MasterAccountID == p.FollowerAccountID {
		return &ConfigError{Field: "follower_account_id", Err: errors.New("master and follower account cannot be the same")}
	}
	if !p.VolumePercent.IsPositive() {
		return &ConfigError{Field: "volume_percent", Err: errors.New("must be greater than 0")}
	}
	if !p.MinVolume.IsPositive() {
		return &ConfigError{Field: "min_volume", Err: errors.New("must be greater than 0")}
	}
	if p.MaxVolume.LessThan(p.MinVolume) {
		return &ConfigError{Field: "max_volume", Err: errors.New("cannot be less than min_volume")}
	}
	if p.MaxRiskPercent.IsNegative() || p.MaxRiskPercent.GreaterThan(hundred) {
		return &ConfigError{Field: "max_risk_percent", Err: errors.New("must be between 0 and 100")}
	}
	return nil
}

// AllowsSymbol reports whether symbol may be copied. The exclude list wins
// over the allow list; an empty allow list allows all.
func (p *Pairing) AllowsSymbol(symbol string) bool {
	match := func(s string) bool { return strings.EqualFold(s, symbol) }
	if slices.ContainsFunc(p.ExcludedSymbols, match) {
		return false
	}
	return len(p.AllowedSymbols) == 0 || slices.ContainsFunc(p.AllowedSymbols, match)
}

// Clone returns a copy that shares no slices with p.
func (p Pairing) Clone() Pairing {
	p.AllowedSymbols = slices.Clone(p.AllowedSymbols)
	p.ExcludedSymbols = slices.Clone(p.ExcludedSymbols)
	return p
}

// PairingPatch is a partial update. Nil fields are left unchanged.
type PairingPatch struct {
	VolumePercent   *decimal.Decimal
	CopyStopLevels  *bool
	MinVolume       *decimal.Decimal
	MaxVolume       *decimal.Decimal
	AllowedSymbols  *[]string
	ExcludedSymbols *[]string
	MaxRiskPercent  *decimal.Decimal
	IsActive        *bool
}

// Apply returns p with the patch applied. The result is not validated.
func (patch PairingPatch) Apply(p Pairing) Pairing {
	p = p.Clone()
	if patch.VolumePercent != nil {
		p.VolumePercent = *patch.VolumePercent
	}
	if patch.CopyStopLevels != nil {
		p.CopyStopLevels = *patch.CopyStopLevels
	}
	if patch.MinVolume != nil {
		p.MinVolume = *patch.MinVolume
	}
	if patch.MaxVolume != nil {
		p.MaxVolume = *patch.MaxVolume
	}
	if patch.AllowedSymbols != nil {
		p.AllowedSymbols = slices.Clone(*patch.AllowedSymbols)
	}
	if patch.ExcludedSymbols != nil {
		p.ExcludedSymbols = slices.Clone(*patch.ExcludedSymbols)
	}
	if patch.MaxRiskPercent != nil {
		p.MaxRiskPercent = *patch.MaxRiskPercent
	}
	if patch.IsActive != nil {
		p.IsActive = *patch.IsActive
	}
	return p
}
