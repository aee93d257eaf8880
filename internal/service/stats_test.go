package service

import (
	"testing"
	"time"

	"mt5_copier/internal/domain"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestComputeStats(t *testing.T) {
	d := decimal.RequireFromString
	deals := []domain.Deal{
		{Ticket: 1, Profit: d("100"), Commission: d("-2")},
		{Ticket: 2, Profit: d("-40"), Swap: d("-1")},
		{Ticket: 3, Profit: d("60")},
		{Ticket: 4, Profit: d("0")},
	}
	to := time.Now()
	from := to.Add(-StatsWindow)

	st := ComputeStats("a1", deals, from, to)

	assert.Equal(t, 4, st.TotalTrades)
	assert.Equal(t, 2, st.WinningTrades)
	assert.Equal(t, 1, st.LosingTrades)
	assert.Equal(t, "50", st.WinRate.String())
	assert.Equal(t, "158", st.TotalProfit.String())
	assert.Equal(t, "41", st.TotalLoss.String())
	assert.Equal(t, "117", st.NetProfit.String())
}

func TestComputeStats_Empty(t *testing.T) {
	st := ComputeStats("a1", nil, time.Time{}, time.Time{})

	assert.Zero(t, st.TotalTrades)
	assert.True(t, st.WinRate.IsZero())
	assert.True(t, st.NetProfit.IsZero())
}
