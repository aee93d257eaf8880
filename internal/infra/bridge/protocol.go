package bridge

import (
	"encoding/json"
	"fmt"
	"time"

	"mt5_copier/internal/domain"

	"github.com/shopspring/decimal"
)

// Bridge operations.
const (
	opConnect     = "connect"
	opAccountInfo = "account_info"
	opPositions   = "positions"
	opDeals       = "deals"
	opOrderSend   = "order_send"
	opOrderModify = "order_modify"
	opOrderClose  = "order_close"
	opSymbolInfo  = "symbol_info"
)

// Bridge error codes.
const (
	codeNotConnected     = "not_connected"
	codeLoginFailed      = "login_failed"
	codePositionNotFound = "position_not_found"
	codeRejected         = "rejected"
	codeConnectionLost   = "connection_lost"
)

type request struct {
	ID      string `json:"id"`
	Op      string `json:"op"`
	Account string `json:"account,omitempty"`
	Params  any    `json:"params,omitempty"`
}

type response struct {
	ID     string          `json:"id"`
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *bridgeError    `json:"error,omitempty"`
}

type bridgeError struct {
	Code    string `json:"code"`
	Retcode string `json:"retcode,omitempty"` // MT5 trade server return code
	Message string `json:"message"`
}

func (e *bridgeError) Error() string {
	if e.Retcode != "" {
		return fmt.Sprintf("%s (retcode %s): %s", e.Code, e.Retcode, e.Message)
	}
	return e.Code + ": " + e.Message
}

type loginParams struct {
	Login    int64  `json:"login"`
	Password string `json:"password"`
	Server   string `json:"server"`
}

type dealsParams struct {
	From int64 `json:"from"` // unix seconds
	To   int64 `json:"to"`
}

type orderSendParams struct {
	Symbol    string          `json:"symbol"`
	Side      string          `json:"side"`
	Volume    decimal.Decimal `json:"volume"`
	SL        decimal.Decimal `json:"sl"`
	TP        decimal.Decimal `json:"tp"`
	Deviation int             `json:"deviation"`
	Magic     int64           `json:"magic"`
	Comment   string          `json:"comment,omitempty"`
}

type orderModifyParams struct {
	Ticket int64           `json:"ticket"`
	SL     decimal.Decimal `json:"sl"`
	TP     decimal.Decimal `json:"tp"`
}

type orderCloseParams struct {
	Ticket    int64 `json:"ticket"`
	Deviation int   `json:"deviation"`
	Magic     int64 `json:"magic"`
}

type symbolParams struct {
	Symbol string `json:"symbol"`
}

type accountInfo struct {
	Balance    decimal.Decimal `json:"balance"`
	Equity     decimal.Decimal `json:"equity"`
	Margin     decimal.Decimal `json:"margin"`
	FreeMargin decimal.Decimal `json:"margin_free"`
	Leverage   int             `json:"leverage"`
	Profit     decimal.Decimal `json:"profit"`
}

func (a accountInfo) toDomain() domain.AccountSnapshot {
	return domain.AccountSnapshot{
		Balance:    a.Balance,
		Equity:     a.Equity,
		Margin:     a.Margin,
		FreeMargin: a.FreeMargin,
		Leverage:   int64(a.Leverage),
		Profit:     a.Profit,
	}
}

type positionInfo struct {
	Ticket    int64           `json:"ticket"`
	Symbol    string          `json:"symbol"`
	Type      string          `json:"type"` // BUY / SELL
	Volume    decimal.Decimal `json:"volume"`
	PriceOpen decimal.Decimal `json:"price_open"`
	Time      int64           `json:"time"`
	SL        decimal.Decimal `json:"sl"`
	TP        decimal.Decimal `json:"tp"`
	Profit    decimal.Decimal `json:"profit"`
}

func (p positionInfo) toDomain(accountID string) domain.Position {
	return domain.Position{
		Ticket:     p.Ticket,
		AccountID:  accountID,
		Symbol:     p.Symbol,
		Side:       domain.Side(p.Type),
		Volume:     p.Volume,
		OpenPrice:  p.PriceOpen,
		OpenTime:   time.Unix(p.Time, 0).UTC(),
		StopLoss:   p.SL,
		TakeProfit: p.TP,
		Profit:     p.Profit,
	}
}

type dealInfo struct {
	Ticket     int64           `json:"ticket"`
	Symbol     string          `json:"symbol"`
	Type       string          `json:"type"`
	Volume     decimal.Decimal `json:"volume"`
	Price      decimal.Decimal `json:"price"`
	Time       int64           `json:"time"`
	Profit     decimal.Decimal `json:"profit"`
	Commission decimal.Decimal `json:"commission"`
	Swap       decimal.Decimal `json:"swap"`
	Fee        decimal.Decimal `json:"fee"`
}

func (d dealInfo) toDomain() domain.Deal {
	return domain.Deal{
		Ticket:     d.Ticket,
		Symbol:     d.Symbol,
		Side:       domain.Side(d.Type),
		Volume:     d.Volume,
		Price:      d.Price,
		Time:       time.Unix(d.Time, 0).UTC(),
		Profit:     d.Profit,
		Commission: d.Commission,
		Swap:       d.Swap,
		Fee:        d.Fee,
	}
}

type orderResult struct {
	Ticket int64           `json:"ticket"`
	Volume decimal.Decimal `json:"volume"`
	Price  decimal.Decimal `json:"price"`
	Time   int64           `json:"time"`
}

type symbolInfo struct {
	VolumeStep decimal.Decimal `json:"volume_step"`
	RiskPerLot decimal.Decimal `json:"risk_per_lot"`
	TickValue  decimal.Decimal `json:"trade_tick_value"`
	TickSize   decimal.Decimal `json:"trade_tick_size"`
}

// toDomain prefers an explicit risk_per_lot. Otherwise one lot's exposure is
// estimated as the value of a full price unit move: tick_value / tick_size.
func (s symbolInfo) toDomain() domain.SymbolSpec {
	spec := domain.SymbolSpec{LotStep: s.VolumeStep, RiskPerLot: s.RiskPerLot}
	if spec.RiskPerLot.IsZero() && s.TickSize.IsPositive() {
		spec.RiskPerLot = s.TickValue.DivRound(s.TickSize, 8)
	}
	return spec
}
