package service

import (
	"time"

	"mt5_copier/internal/domain"

	"github.com/shopspring/decimal"
)

// StatsWindow is the look-back of the periodic account statistics.
const StatsWindow = 30 * 24 * time.Hour

// AccountStats summarizes closed deals over a window.
type AccountStats struct {
	AccountID     string          `json:"account_id"`
	From          time.Time       `json:"from"`
	To            time.Time       `json:"to"`
	TotalTrades   int             `json:"total_trades"`
	WinningTrades int             `json:"winning_trades"`
	LosingTrades  int             `json:"losing_trades"`
	WinRate       decimal.Decimal `json:"win_rate"` // percent
	TotalProfit   decimal.Decimal `json:"total_profit"`
	TotalLoss     decimal.Decimal `json:"total_loss"` // positive magnitude
	NetProfit     decimal.Decimal `json:"net_profit"`
}

// ComputeStats aggregates deals by net profit. Break-even deals count toward
// the total only.
func ComputeStats(accountID string, deals []domain.Deal, from, to time.Time) AccountStats {
	st := AccountStats{AccountID: accountID, From: from, To: to}

	for _, d := range deals {
		net := d.NetProfit()
		st.TotalTrades++
		switch {
		case net.IsPositive():
			st.WinningTrades++
			st.TotalProfit = st.TotalProfit.Add(net)
		case net.IsNegative():
			st.LosingTrades++
			st.TotalLoss = st.TotalLoss.Add(net.Abs())
		}
	}

	st.NetProfit = st.TotalProfit.Sub(st.TotalLoss)
	if st.TotalTrades > 0 {
		st.WinRate = decimal.NewFromInt(int64(st.WinningTrades)).
			Div(decimal.NewFromInt(int64(st.TotalTrades))).
			Mul(decimal.NewFromInt(100)).
			Round(2)
	}
	return st
}
