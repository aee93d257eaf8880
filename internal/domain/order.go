package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Credentials are the venue login details of one account.
type Credentials struct {
	AccountID string
	Login     int64
	Password  string
	Server    string
}

// OrderRequest is a market order for a follower account.
// Zero stop levels are sent as "not set".
type OrderRequest struct {
	AccountID string
	Symbol    string
	Side      Side
	Volume    decimal.Decimal
	Levels    StopLevels
	Comment   string
}

// OrderFill is the confirmation returned for a placed order.
type OrderFill struct {
	Ticket    int64
	Symbol    string
	Side      Side
	Volume    decimal.Decimal
	FillPrice decimal.Decimal
	FilledAt  time.Time
}
