package domain

import (
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// AccountSnapshot is the account state returned by the gateway.
type AccountSnapshot struct {
	Balance    decimal.Decimal `json:"balance"`
	Equity     decimal.Decimal `json:"equity"`
	Margin     decimal.Decimal `json:"margin"`
	FreeMargin decimal.Decimal `json:"free_margin"`
	Leverage   int64           `json:"leverage"`
	Profit     decimal.Decimal `json:"profit"`
}

// MarginLevel returns equity/margin in percent, or zero when no margin is used.
func (s AccountSnapshot) MarginLevel() decimal.Decimal {
	if !s.Margin.IsPositive() {
		return decimal.Zero
	}
	return s.Equity.Div(s.Margin).Mul(hundred)
}

// EquityChangePct returns the percentage change from prev to s.
// Returns zero when the previous equity is not positive.
func (s AccountSnapshot) EquityChangePct(prev AccountSnapshot) decimal.Decimal {
	if !prev.Equity.IsPositive() {
		return decimal.Zero
	}
	return s.Equity.Sub(prev.Equity).Div(prev.Equity).Mul(hundred)
}

// Apply copies the snapshot into the persisted account row.
func (a *Account) Apply(s AccountSnapshot) {
	a.Balance = s.Balance
	a.Equity = s.Equity
	a.Margin = s.Margin
	a.FreeMargin = s.FreeMargin
	a.Leverage = s.Leverage
	a.Profit = s.Profit
}

// Snapshot returns the last persisted account state.
func (a *Account) Snapshot() AccountSnapshot {
	return AccountSnapshot{
		Balance:    a.Balance,
		Equity:     a.Equity,
		Margin:     a.Margin,
		FreeMargin: a.FreeMargin,
		Leverage:   a.Leverage,
		Profit:     a.Profit,
	}
}
