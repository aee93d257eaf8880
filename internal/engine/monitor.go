package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"mt5_copier/internal/domain"
	"mt5_copier/internal/event"
	"mt5_copier/internal/infra"
	"mt5_copier/internal/service"

	"github.com/shopspring/decimal"
)

// MonitorConfig holds alert thresholds.
type MonitorConfig struct {
	MarginLevelAlert   decimal.Decimal // percent; zero disables
	EquityDropAlertPct decimal.Decimal // percent between two snapshots; zero disables
	StatsEnabled       bool
}

// Monitor refreshes account snapshots, keeps the AccountBook current and
// raises margin and equity alerts.
type Monitor struct {
	gw      domain.BrokerGateway
	store   domain.AccountStore
	book    *service.AccountBook
	events  event.Publisher
	metrics *infra.Metrics
	logger  *slog.Logger
	cfg     MonitorConfig
	now     func() time.Time

	mu        sync.Mutex
	margin    map[string]*domain.ThresholdAlert
	statsDay  map[string]string
	lastStats map[string]service.AccountStats
}

// NewMonitor creates a Monitor. events, metrics and logger may be nil.
func NewMonitor(gw domain.BrokerGateway, store domain.AccountStore, book *service.AccountBook,
	events event.Publisher, metrics *infra.Metrics, logger *slog.Logger, cfg MonitorConfig) *Monitor {
	if events == nil {
		events = event.Nop{}
	}
	if metrics == nil {
		metrics = infra.GlobalMetrics
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		gw:        gw,
		store:     store,
		book:      book,
		events:    events,
		metrics:   metrics,
		logger:    logger.With(slog.String("module", "monitor")),
		cfg:       cfg,
		now:       time.Now,
		margin:    make(map[string]*domain.ThresholdAlert),
		statsDay:  make(map[string]string),
		lastStats: make(map[string]service.AccountStats),
	}
}

// RunCycle checks every stored account once.
func (m *Monitor) RunCycle(ctx context.Context) error {
	accounts, err := m.store.ListAccounts(ctx)
	if err != nil {
		return fmt.Errorf("list accounts: %w", err)
	}

	var errs []error
	for i := range accounts {
		if err := m.checkAccount(ctx, &accounts[i]); err != nil {
			errs = append(errs, fmt.Errorf("account %s: %w", accounts[i].ID, err))
		}
	}

	m.metrics.SetConnectedAccounts(int32(m.book.ConnectedCount()))
	m.logger.Info("Monitor cycle complete",
		slog.Int("accounts", len(accounts)),
		slog.Int("failed", len(errs)),
		slog.Any("metrics", m.metrics.Snapshot()))
	return errors.Join(errs...)
}

func (m *Monitor) checkAccount(ctx context.Context, acct *domain.Account) error {
	if !m.book.IsConnected(acct.ID) {
		if err := m.gw.Connect(ctx, acct.Credentials()); err != nil {
			m.markDown(ctx, acct, err)
			return fmt.Errorf("connect: %w", err)
		}
	}

	snap, err := m.gw.AccountSnapshot(ctx, acct.ID)
	if err != nil {
		m.markDown(ctx, acct, err)
		return fmt.Errorf("snapshot: %w", err)
	}

	now := m.now().UTC()
	st, known := m.book.Get(acct.ID)
	prev, hadPrev := m.book.UpdateSnapshot(acct.ID, snap, now)
	if known && st.Down {
		m.logger.Info("Account reconnected", slog.String("account", acct.ID))
		ev := event.New(event.KindAccountReconnected)
		ev.AccountID = acct.ID
		m.publish(ctx, ev)
	}

	acct.Apply(snap)
	acct.IsConnected = true
	acct.LastUpdate = now
	if err := m.store.SaveAccount(ctx, acct); err != nil {
		m.logger.Error("Failed to persist account", slog.String("account", acct.ID), slog.Any("error", err))
	}

	m.checkMargin(ctx, acct.ID, snap)
	if hadPrev {
		m.checkEquityDrop(ctx, acct.ID, prev, snap)
	}
	if m.cfg.StatsEnabled {
		m.dailyStats(ctx, acct.ID, now)
	}
	return nil
}

func (m *Monitor) markDown(ctx context.Context, acct *domain.Account, err error) {
	if !m.book.MarkDisconnected(acct.ID, err) {
		return
	}
	m.logger.Warn("Account disconnected", slog.String("account", acct.ID), slog.Any("error", err))
	ev := event.New(event.KindAccountDisconnected)
	ev.AccountID = acct.ID
	m.publish(ctx, ev.WithErr(err))

	if acct.IsConnected {
		acct.IsConnected = false
		if err := m.store.SaveAccount(ctx, acct); err != nil {
			m.logger.Error("Failed to persist account", slog.String("account", acct.ID), slog.Any("error", err))
		}
	}
}

// checkMargin alerts once when the margin level falls below the threshold.
// Accounts without used margin are never in breach.
func (m *Monitor) checkMargin(ctx context.Context, accountID string, snap domain.AccountSnapshot) {
	if !m.cfg.MarginLevelAlert.IsPositive() {
		return
	}

	m.mu.Lock()
	alert, ok := m.margin[accountID]
	if !ok {
		alert = domain.NewThresholdAlert("margin_level", m.cfg.MarginLevelAlert, domain.AlertBelow)
		m.margin[accountID] = alert
	}
	var fired bool
	level := snap.MarginLevel()
	if snap.Margin.IsPositive() {
		fired = alert.Observe(level)
	} else {
		alert.Reset()
	}
	m.mu.Unlock()

	if !fired {
		return
	}
	m.logger.Warn("Margin level below threshold",
		slog.String("account", accountID),
		slog.String("margin_level", level.StringFixed(2)),
		slog.String("threshold", m.cfg.MarginLevelAlert.String()))
	ev := event.New(event.KindMarginLow)
	ev.AccountID = accountID
	ev.Level = level.Round(2)
	m.publish(ctx, ev)
}

func (m *Monitor) checkEquityDrop(ctx context.Context, accountID string, prev, cur domain.AccountSnapshot) {
	if !m.cfg.EquityDropAlertPct.IsPositive() {
		return
	}
	change := cur.EquityChangePct(prev)
	if !change.LessThan(m.cfg.EquityDropAlertPct.Neg()) {
		return
	}
	m.logger.Warn("Equity dropped",
		slog.String("account", accountID),
		slog.String("change_pct", change.StringFixed(2)),
		slog.String("previous", prev.Equity.String()),
		slog.String("current", cur.Equity.String()))
	ev := event.New(event.KindEquityDrop)
	ev.AccountID = accountID
	ev.Level = change.Round(2)
	m.publish(ctx, ev)
}

// dailyStats computes 30-day statistics once per calendar day per account.
func (m *Monitor) dailyStats(ctx context.Context, accountID string, now time.Time) {
	day := now.Format(time.DateOnly)
	m.mu.Lock()
	done := m.statsDay[accountID] == day
	m.mu.Unlock()
	if done {
		return
	}

	from := now.Add(-service.StatsWindow)
	deals, err := m.gw.Deals(ctx, accountID, from, now)
	if err != nil {
		m.logger.Warn("Failed to load deals for stats", slog.String("account", accountID), slog.Any("error", err))
		return
	}
	st := service.ComputeStats(accountID, deals, from, now)

	m.mu.Lock()
	m.statsDay[accountID] = day
	m.lastStats[accountID] = st
	m.mu.Unlock()

	m.logger.Info("Account statistics",
		slog.String("account", accountID),
		slog.Int("total_trades", st.TotalTrades),
		slog.Int("winning_trades", st.WinningTrades),
		slog.Int("losing_trades", st.LosingTrades),
		slog.String("win_rate", st.WinRate.String()),
		slog.String("total_profit", st.TotalProfit.String()),
		slog.String("total_loss", st.TotalLoss.String()),
		slog.String("net_profit", st.NetProfit.String()))
}

// LastStats returns the most recent statistics computed for accountID.
func (m *Monitor) LastStats(accountID string) (service.AccountStats, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.lastStats[accountID]
	return st, ok
}

func (m *Monitor) publish(ctx context.Context, ev event.Event) {
	if err := m.events.Publish(ctx, ev); err != nil {
		m.logger.Debug("Event publish failed", slog.String("kind", string(ev.Kind)), slog.Any("error", err))
	}
}
