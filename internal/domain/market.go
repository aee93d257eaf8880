package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of a position or deal.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Valid reports whether s is BUY or SELL.
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// Opposite returns the side that closes a position of side s.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// StopLevels holds stop loss and take profit prices.
// A zero price means the level is not set (MT5 convention).
type StopLevels struct {
	StopLoss   decimal.Decimal `json:"sl"`
	TakeProfit decimal.Decimal `json:"tp"`
}

// Equal compares both levels numerically.
func (l StopLevels) Equal(o StopLevels) bool {
	return l.StopLoss.Equal(o.StopLoss) && l.TakeProfit.Equal(o.TakeProfit)
}

// IsZero reports whether neither level is set.
func (l StopLevels) IsZero() bool {
	return l.StopLoss.IsZero() && l.TakeProfit.IsZero()
}

func (l StopLevels) String() string {
	return fmt.Sprintf("sl=%s tp=%s", l.StopLoss.String(), l.TakeProfit.String())
}

// PositionKey identifies a position on the venue.
// Tickets are only unique within one account.
type PositionKey struct {
	AccountID string `json:"account_id"`
	Ticket    int64  `json:"ticket"`
}

func (k PositionKey) String() string {
	return fmt.Sprintf("%s#%d", k.AccountID, k.Ticket)
}

// Position is a snapshot of one open position taken by a single poll.
type Position struct {
	Ticket     int64           `json:"ticket"`
	AccountID  string          `json:"account_id"`
	Symbol     string          `json:"symbol"`
	Side       Side            `json:"side"`
	Volume     decimal.Decimal `json:"volume"`
	OpenPrice  decimal.Decimal `json:"open_price"`
	OpenTime   time.Time       `json:"open_time"`
	StopLoss   decimal.Decimal `json:"sl"`
	TakeProfit decimal.Decimal `json:"tp"`
	Profit     decimal.Decimal `json:"profit"`
}

// Key returns the ledger key of the position.
func (p Position) Key() PositionKey {
	return PositionKey{AccountID: p.AccountID, Ticket: p.Ticket}
}

// Levels returns the current stop levels of the position.
func (p Position) Levels() StopLevels {
	return StopLevels{StopLoss: p.StopLoss, TakeProfit: p.TakeProfit}
}

// Deal is a closed deal from the account history.
type Deal struct {
	Ticket     int64           `json:"ticket"`
	Symbol     string          `json:"symbol"`
	Side       Side            `json:"side"`
	Volume     decimal.Decimal `json:"volume"`
	Price      decimal.Decimal `json:"price"`
	Time       time.Time       `json:"time"`
	Profit     decimal.Decimal `json:"profit"`
	Commission decimal.Decimal `json:"commission"`
	Swap       decimal.Decimal `json:"swap"`
	Fee        decimal.Decimal `json:"fee"`
}

// NetProfit is profit after commission, swap and fee.
func (d Deal) NetProfit() decimal.Decimal {
	return d.Profit.Add(d.Commission).Add(d.Swap).Add(d.Fee)
}

// SymbolSpec carries the instrument facts the risk transform needs.
type SymbolSpec struct {
	// LotStep is the volume granularity, e.g. 0.01.
	LotStep decimal.Decimal `json:"lot_step" yaml:"lot_step"`
	// RiskPerLot is the estimated account-currency exposure of one lot.
	RiskPerLot decimal.Decimal `json:"risk_per_lot" yaml:"risk_per_lot"`
}
