package risk

import (
	"context"
	"strings"

	"mt5_copier/internal/domain"

	"github.com/shopspring/decimal"
)

// SpecTable resolves instrument facts from configuration.
type SpecTable struct {
	LotStep    decimal.Decimal
	RiskPerLot decimal.Decimal
	Symbols    map[string]domain.SymbolSpec
}

// Lookup returns the per-symbol override merged over the defaults.
func (t SpecTable) Lookup(symbol string) domain.SymbolSpec {
	spec := domain.SymbolSpec{LotStep: t.LotStep, RiskPerLot: t.RiskPerLot}
	if o, ok := t.Symbols[strings.ToUpper(symbol)]; ok {
		if o.LotStep.IsPositive() {
			spec.LotStep = o.LotStep
		}
		if o.RiskPerLot.IsPositive() {
			spec.RiskPerLot = o.RiskPerLot
		}
	}
	return spec
}

// Resolver prefers the gateway's SymbolSpecProvider and falls back to the table.
type Resolver struct {
	provider domain.SymbolSpecProvider
	table    SpecTable
}

// NewResolver inspects gw for SymbolSpecProvider support.
func NewResolver(gw any, table SpecTable) *Resolver {
	r := &Resolver{table: table}
	if p, ok := gw.(domain.SymbolSpecProvider); ok {
		r.provider = p
	}
	return r
}

// Resolve never fails; provider errors fall back to configuration.
func (r *Resolver) Resolve(ctx context.Context, accountID, symbol string) domain.SymbolSpec {
	fallback := r.table.Lookup(symbol)
	if r.provider == nil {
		return fallback
	}
	spec, err := r.provider.SymbolSpec(ctx, accountID, symbol)
	if err != nil {
		return fallback
	}
	if !spec.LotStep.IsPositive() {
		spec.LotStep = fallback.LotStep
	}
	if !spec.RiskPerLot.IsPositive() {
		spec.RiskPerLot = fallback.RiskPerLot
	}
	return spec
}
