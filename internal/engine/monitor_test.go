package engine

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"mt5_copier/internal/domain"
	"mt5_copier/internal/event"
	"mt5_copier/internal/execution"
	"mt5_copier/internal/infra"
	"mt5_copier/internal/service"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memAccounts struct {
	mu       sync.Mutex
	accounts map[string]domain.Account
}

func newMemAccounts(ids ...string) *memAccounts {
	s := &memAccounts{accounts: make(map[string]domain.Account)}
	for _, id := range ids {
		s.accounts[id] = domain.Account{ID: id, Login: 5000, Server: "Demo"}
	}
	return s
}

func (s *memAccounts) SaveAccount(_ context.Context, a *domain.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[a.ID] = *a
	return nil
}

func (s *memAccounts) GetAccount(_ context.Context, id string) (*domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (s *memAccounts) ListAccounts(context.Context) ([]domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memAccounts) DeleteAccount(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.accounts, id)
	return nil
}

type monitorFixture struct {
	gw     *execution.PaperGateway
	store  *memAccounts
	book   *service.AccountBook
	events *recorder
	mon    *Monitor
}

func newMonitorFixture(t *testing.T, cfg MonitorConfig) *monitorFixture {
	t.Helper()
	f := &monitorFixture{
		gw:     execution.NewPaperGateway(1000),
		store:  newMemAccounts("a1"),
		book:   service.NewAccountBook(),
		events: &recorder{},
	}
	f.gw.AddAccount("a1", decimal.NewFromInt(10000))
	f.mon = NewMonitor(f.gw, f.store, f.book, f.events, &infra.Metrics{}, nil, cfg)
	return f
}

func (f *monitorFixture) setEquity(equity, margin string) {
	f.gw.SetSnapshot("a1", domain.AccountSnapshot{
		Balance: dec(equity), Equity: dec(equity), Margin: dec(margin), Leverage: 100,
	})
}

func TestMonitor_ConnectsAndPersistsSnapshot(t *testing.T) {
	f := newMonitorFixture(t, MonitorConfig{})

	require.NoError(t, f.mon.RunCycle(context.Background()))
	require.NoError(t, f.mon.RunCycle(context.Background()))

	assert.Equal(t, 1, f.gw.Calls(execution.OpConnect), "connected accounts are not logged in again")
	assert.True(t, f.book.IsConnected("a1"))
	equity, ok := f.book.Equity("a1")
	require.True(t, ok)
	assert.True(t, equity.Equal(decimal.NewFromInt(10000)))

	stored, _ := f.store.GetAccount(context.Background(), "a1")
	assert.True(t, stored.IsConnected)
	assert.True(t, stored.Equity.Equal(decimal.NewFromInt(10000)))
	assert.False(t, stored.LastUpdate.IsZero())
}

func TestMonitor_DisconnectEmittedOncePerTransition(t *testing.T) {
	f := newMonitorFixture(t, MonitorConfig{})
	ctx := context.Background()
	require.NoError(t, f.mon.RunCycle(ctx))

	f.gw.SetDisconnected("a1", true)
	assert.Error(t, f.mon.RunCycle(ctx))
	assert.Error(t, f.mon.RunCycle(ctx))

	assert.Equal(t, 1, f.events.count(event.KindAccountDisconnected))
	assert.False(t, f.book.IsConnected("a1"))
	stored, _ := f.store.GetAccount(ctx, "a1")
	assert.False(t, stored.IsConnected)

	f.gw.SetDisconnected("a1", false)
	require.NoError(t, f.mon.RunCycle(ctx))
	assert.True(t, f.book.IsConnected("a1"))
	assert.Equal(t, 1, f.events.count(event.KindAccountReconnected))
}

func TestMonitor_MarginAlert(t *testing.T) {
	f := newMonitorFixture(t, MonitorConfig{MarginLevelAlert: decimal.NewFromInt(200)})
	ctx := context.Background()

	f.setEquity("1500", "1000") // 150%
	require.NoError(t, f.mon.RunCycle(ctx))
	require.NoError(t, f.mon.RunCycle(ctx))
	assert.Equal(t, 1, f.events.count(event.KindMarginLow))

	f.setEquity("1500", "100") // 1500%, re-arms
	require.NoError(t, f.mon.RunCycle(ctx))
	f.setEquity("1500", "1000")
	require.NoError(t, f.mon.RunCycle(ctx))
	assert.Equal(t, 2, f.events.count(event.KindMarginLow))

	f.setEquity("1500", "0") // no margin used
	require.NoError(t, f.mon.RunCycle(ctx))
	assert.Equal(t, 2, f.events.count(event.KindMarginLow))
}

func TestMonitor_EquityDropAlert(t *testing.T) {
	f := newMonitorFixture(t, MonitorConfig{EquityDropAlertPct: decimal.NewFromInt(5)})
	ctx := context.Background()

	f.setEquity("10000", "0")
	require.NoError(t, f.mon.RunCycle(ctx))
	f.setEquity("9400", "0") // -6%
	require.NoError(t, f.mon.RunCycle(ctx))
	f.setEquity("9300", "0") // about -1%
	require.NoError(t, f.mon.RunCycle(ctx))

	assert.Equal(t, 1, f.events.count(event.KindEquityDrop))
}

func TestMonitor_DailyStats(t *testing.T) {
	f := newMonitorFixture(t, MonitorConfig{StatsEnabled: true})
	ctx := context.Background()

	f.gw.UpdatePrice("EURUSD", dec("1.10"))
	ticket, err := f.gw.Open("a1", "EURUSD", domain.SideBuy, dec("1"), domain.StopLevels{})
	require.NoError(t, err)
	f.gw.UpdatePrice("EURUSD", dec("1.20"))
	require.NoError(t, f.gw.Close("a1", ticket))

	require.NoError(t, f.mon.RunCycle(ctx))
	require.NoError(t, f.mon.RunCycle(ctx))
	assert.Equal(t, 1, f.gw.Calls(execution.OpDeals), "stats run once per day")

	st, ok := f.mon.LastStats("a1")
	require.True(t, ok)
	assert.Equal(t, 1, st.TotalTrades)
	assert.Equal(t, 1, st.WinningTrades)
	assert.True(t, st.NetProfit.Equal(dec("0.1")))

	f.mon.now = func() time.Time { return time.Now().Add(24 * time.Hour) }
	require.NoError(t, f.mon.RunCycle(ctx))
	assert.Equal(t, 2, f.gw.Calls(execution.OpDeals))
}
