// Package engine drives replication and account monitoring cycles.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"mt5_copier/internal/domain"
	"mt5_copier/internal/event"
	"mt5_copier/internal/infra"
	"mt5_copier/internal/ledger"
	"mt5_copier/internal/registry"
	"mt5_copier/internal/risk"
	"mt5_copier/internal/service"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// Close reasons stored on copied trades.
const (
	CloseReasonMaster   = "master_closed"
	CloseReasonNotFound = "not_found"
)

// ReplicatorConfig tunes a Replicator.
type ReplicatorConfig struct {
	MaxParallelMasters    int
	SkipExistingPositions bool
	DumpPath              string // ledger dump written after a panic; empty disables
}

// ReplicatorDeps are the collaborators of a Replicator. Gateway, Registry and
// Ledger are required; the rest default to no-ops. Without Accounts the
// replicator does not log accounts back in after a connectivity failure.
type ReplicatorDeps struct {
	Gateway    domain.BrokerGateway
	Accounts   domain.AccountStore
	Registry   *registry.Registry
	Ledger     *ledger.Ledger
	Specs      *risk.Resolver
	Book       *service.AccountBook
	History    domain.TradeHistory
	Checkpoint ledger.Checkpointer
	Events     event.Publisher
	Metrics    *infra.Metrics
	Logger     *slog.Logger
}

// Replicator copies master positions to followers and mirrors their
// closure and stop changes. RunCycle is not reentrant; the scheduler
// serializes calls.
type Replicator struct {
	gw         domain.BrokerGateway
	accounts   domain.AccountStore
	reg        *registry.Registry
	ledger     *ledger.Ledger
	specs      *risk.Resolver
	book       *service.AccountBook
	history    domain.TradeHistory
	checkpoint ledger.Checkpointer
	events     event.Publisher
	metrics    *infra.Metrics
	logger     *slog.Logger
	cfg        ReplicatorConfig
	now        func() time.Time

	savedVersion atomic.Uint64

	primedMu sync.Mutex
	primed   map[string]bool

	reconnectMu sync.Mutex
	reconnects  map[string]*reconnectState

	dumpMu sync.Mutex
}

// reconnectState rate-limits login attempts for one account.
type reconnectState struct {
	attempts int
	next     time.Time
}

// NewReplicator creates a Replicator.
func NewReplicator(deps ReplicatorDeps, cfg ReplicatorConfig) *Replicator {
	r := &Replicator{
		gw:         deps.Gateway,
		accounts:   deps.Accounts,
		reg:        deps.Registry,
		ledger:     deps.Ledger,
		specs:      deps.Specs,
		book:       deps.Book,
		history:    deps.History,
		checkpoint: deps.Checkpoint,
		events:     deps.Events,
		metrics:    deps.Metrics,
		logger:     deps.Logger,
		cfg:        cfg,
		now:        time.Now,
		primed:     make(map[string]bool),
		reconnects: make(map[string]*reconnectState),
	}
	if r.specs == nil {
		r.specs = risk.NewResolver(deps.Gateway, risk.SpecTable{})
	}
	if r.book == nil {
		r.book = service.NewAccountBook()
	}
	if r.checkpoint == nil {
		r.checkpoint = ledger.Nop{}
	}
	if r.events == nil {
		r.events = event.Nop{}
	}
	if r.metrics == nil {
		r.metrics = infra.GlobalMetrics
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	r.logger = r.logger.With(slog.String("module", "replicator"))
	if r.cfg.MaxParallelMasters <= 0 {
		r.cfg.MaxParallelMasters = 1
	}
	return r
}

// RunCycle polls every master with an active pairing or a tracked position
// once. Masters run in parallel; one master's failure or panic does not
// affect the others. The ledger is checkpointed when it changed.
func (r *Replicator) RunCycle(ctx context.Context) error {
	start := r.now()
	masters := r.reg.ListActiveMasters()
	for _, m := range r.ledger.TrackedMasters() {
		if !slices.Contains(masters, m) {
			masters = append(masters, m)
		}
	}

	var (
		mu   sync.Mutex
		errs []error
	)
	var g errgroup.Group
	g.SetLimit(r.cfg.MaxParallelMasters)
	for _, master := range masters {
		g.Go(func() error {
			if err := r.syncMaster(ctx, master); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("master %s: %w", master, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := r.saveCheckpoint(ctx); err != nil {
		errs = append(errs, err)
	}
	r.metrics.SetTrackedRecords(r.ledger.Len())

	err := errors.Join(errs...)
	r.metrics.RecordCycle(r.now().Sub(start), err != nil)
	return err
}

func (r *Replicator) syncMaster(ctx context.Context, master string) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.metrics.RecordPanic()
			r.logger.Error("CRITICAL_PANIC_DETECTED",
				slog.String("master", master),
				slog.Any("panic", rec),
				slog.String("stack", string(debug.Stack())))
			r.DumpState(r.cfg.DumpPath)

			ev := event.New(event.KindEnginePanic)
			ev.MasterAccountID = master
			ev.Message = fmt.Sprint(rec)
			r.publish(ctx, ev)
			err = fmt.Errorf("panic: %v", rec)
		}
	}()

	r.ensureConnected(ctx, master)
	positions, err := r.gw.OpenPositions(ctx, master)
	if err != nil {
		r.markDown(ctx, master, err)
		return fmt.Errorf("fetch positions: %w", err)
	}
	r.markUp(ctx, master)

	sort.Slice(positions, func(i, j int) bool { return positions[i].Ticket < positions[j].Ticket })

	r.discover(ctx, master, positions)
	r.reconcile(ctx, master, positions)
	return nil
}

// discover fans out every position above the watermark, in ticket order.
func (r *Replicator) discover(ctx context.Context, master string, positions []domain.Position) {
	if r.primeWatermark(master, positions) {
		return
	}

	watermark := r.ledger.Watermark(master)
	var pairings []domain.Pairing
	for _, p := range r.reg.ListByMaster(master) {
		if p.IsActive {
			pairings = append(pairings, p)
		}
	}
	masterEquity, _ := r.book.Equity(master)

	for _, pos := range positions {
		if pos.Ticket <= watermark {
			continue
		}
		for _, p := range pairings {
			r.copyToFollower(ctx, pos, p, masterEquity)
		}
		r.ledger.AdvanceWatermark(master, pos.Ticket)
	}
}

// primeWatermark skips positions that were already open before the copier
// first saw the master. It reports whether discovery should stop.
func (r *Replicator) primeWatermark(master string, positions []domain.Position) bool {
	if !r.cfg.SkipExistingPositions {
		return false
	}

	r.primedMu.Lock()
	defer r.primedMu.Unlock()
	if r.primed[master] {
		return false
	}
	r.primed[master] = true

	if r.ledger.Watermark(master) != 0 || len(r.ledger.TrackedTickets(master)) != 0 {
		return false
	}
	if len(positions) == 0 {
		return true
	}
	highest := positions[len(positions)-1].Ticket
	r.ledger.AdvanceWatermark(master, highest)
	r.logger.Info("Skipping positions opened before start",
		slog.String("master", master),
		slog.Int("count", len(positions)),
		slog.Int64("watermark", highest))
	return true
}

func (r *Replicator) copyToFollower(ctx context.Context, pos domain.Position, p domain.Pairing, masterEquity decimal.Decimal) {
	key := pos.Key()
	follower := p.FollowerAccountID
	if r.ledger.HasMapping(key, follower) {
		return
	}
	log := r.logger.With(
		slog.String("master", pos.AccountID),
		slog.Int64("ticket", pos.Ticket),
		slog.String("pairing", p.ID),
		slog.String("follower", follower))

	ev := event.New(event.KindTradeCopied)
	ev.MasterAccountID = pos.AccountID
	ev.FollowerAccountID = follower
	ev.PairingID = p.ID
	ev.MasterTicket = pos.Ticket
	ev.Symbol = pos.Symbol

	followerEquity, _ := r.book.Equity(follower)
	volume, err := risk.ComputeFollowerVolume(risk.Input{
		Symbol:         pos.Symbol,
		MasterVolume:   pos.Volume,
		Pairing:        p,
		FollowerEquity: followerEquity,
		MasterEquity:   masterEquity,
		Spec:           r.specs.Resolve(ctx, follower, pos.Symbol),
	})
	if err != nil {
		r.metrics.RecordOrderRejected()
		log.Info("Copy rejected", slog.Any("error", err))
		ev.Kind = event.KindCopyRejected
		r.publish(ctx, ev.WithErr(err))
		return
	}

	req := domain.OrderRequest{
		AccountID: follower,
		Symbol:    pos.Symbol,
		Side:      pos.Side,
		Volume:    volume,
		Comment:   fmt.Sprintf("copy #%d", pos.Ticket),
	}
	if p.CopyStopLevels {
		req.Levels = pos.Levels()
	}

	r.ensureConnected(ctx, follower)
	fill, err := r.gw.PlaceOrder(ctx, req)
	if err != nil {
		r.metrics.RecordOrderFailed()
		log.Warn("Copy order failed", slog.String("volume", volume.String()), slog.Any("error", err))
		r.markDown(ctx, follower, err)
		ev.Kind = event.KindCopyFailed
		ev.Volume = volume
		r.publish(ctx, ev.WithErr(err))
		return
	}

	r.markUp(ctx, follower)
	r.ledger.RecordMapping(key, follower, ledger.FollowerLeg{
		Ticket:   fill.Ticket,
		Levels:   req.Levels,
		OpenedAt: fill.FilledAt,
	}, pos.Levels())
	r.metrics.RecordOrderPlaced()
	log.Info("Trade copied",
		slog.Int64("follower_ticket", fill.Ticket),
		slog.String("symbol", pos.Symbol),
		slog.String("side", string(pos.Side)),
		slog.String("volume", fill.Volume.String()))

	if r.history != nil {
		trade := &domain.CopiedTrade{
			FollowerAccountID: follower,
			FollowerTicket:    fill.Ticket,
			MasterAccountID:   pos.AccountID,
			MasterTicket:      pos.Ticket,
			PairingID:         p.ID,
			Symbol:            pos.Symbol,
			Side:              pos.Side,
			Volume:            fill.Volume,
			OpenPrice:         fill.FillPrice,
			OpenedAt:          fill.FilledAt,
		}
		if err := r.history.RecordCopiedTrade(ctx, trade); err != nil {
			log.Error("Failed to record copied trade", slog.Any("error", err))
		}
	}

	ev.FollowerTicket = fill.Ticket
	ev.Volume = fill.Volume
	r.publish(ctx, ev)
}

// reconcile mirrors closures and stop changes of tracked positions against
// the same snapshot discovery used.
func (r *Replicator) reconcile(ctx context.Context, master string, positions []domain.Position) {
	open := make(map[int64]domain.Position, len(positions))
	for _, pos := range positions {
		open[pos.Ticket] = pos
	}

	for _, key := range r.ledger.TrackedTickets(master) {
		if pos, ok := open[key.Ticket]; ok {
			r.syncStops(ctx, key, pos)
			continue
		}
		r.closeFollowers(ctx, key)
	}
}

func (r *Replicator) closeFollowers(ctx context.Context, key domain.PositionKey) {
	rec, ok := r.ledger.Record(key)
	if !ok {
		return
	}

	for _, follower := range sortedFollowers(rec) {
		leg := rec.Followers[follower]
		log := r.logger.With(
			slog.String("master", key.AccountID),
			slog.Int64("ticket", key.Ticket),
			slog.String("follower", follower),
			slog.Int64("follower_ticket", leg.Ticket))

		ev := event.New(event.KindFollowerClosed)
		ev.MasterAccountID = key.AccountID
		ev.MasterTicket = key.Ticket
		ev.FollowerAccountID = follower
		ev.FollowerTicket = leg.Ticket

		r.ensureConnected(ctx, follower)
		err := r.gw.CloseOrder(ctx, follower, leg.Ticket)
		switch {
		case err == nil:
			r.markUp(ctx, follower)
			r.ledger.RemoveFollowerMapping(key, follower)
			r.metrics.RecordFollowerClose()
			r.closeTrade(ctx, log, follower, leg.Ticket, CloseReasonMaster)
			log.Info("Follower position closed")
			r.publish(ctx, ev)
		case errors.Is(err, domain.ErrPositionNotFound):
			r.ledger.RemoveFollowerMapping(key, follower)
			r.closeTrade(ctx, log, follower, leg.Ticket, CloseReasonNotFound)
			log.Warn("Follower position already gone, dropping mapping")
			ev.Message = "follower position not found"
			r.publish(ctx, ev)
		default:
			r.metrics.RecordCloseFailure()
			r.markDown(ctx, follower, err)
			log.Warn("Follower close failed, will retry", slog.Any("error", err))
			ev.Kind = event.KindCloseFailed
			r.publish(ctx, ev.WithErr(err))
		}
	}

	if r.ledger.RemoveRecordIfEmpty(key) {
		r.logger.Debug("Replication record closed",
			slog.String("master", key.AccountID), slog.Int64("ticket", key.Ticket))
	}
}

func (r *Replicator) syncStops(ctx context.Context, key domain.PositionKey, pos domain.Position) {
	rec, ok := r.ledger.Record(key)
	if !ok {
		return
	}
	levels := pos.Levels()
	if !rec.Levels.Equal(levels) {
		r.ledger.SetMasterLevels(key, levels)
	}

	for _, follower := range sortedFollowers(rec) {
		leg := rec.Followers[follower]
		if leg.Settled(levels) {
			continue
		}
		p, ok := r.reg.Find(key.AccountID, follower)
		if !ok || !p.CopyStopLevels {
			continue
		}
		log := r.logger.With(
			slog.String("master", key.AccountID),
			slog.Int64("ticket", key.Ticket),
			slog.String("pairing", p.ID),
			slog.String("follower", follower),
			slog.Int64("follower_ticket", leg.Ticket))

		ev := event.New(event.KindStopsModified)
		ev.MasterAccountID = key.AccountID
		ev.MasterTicket = key.Ticket
		ev.PairingID = p.ID
		ev.FollowerAccountID = follower
		ev.FollowerTicket = leg.Ticket
		ev.Message = levels.String()

		r.ensureConnected(ctx, follower)
		err := r.gw.ModifyOrder(ctx, follower, leg.Ticket, levels)
		switch {
		case err == nil:
			r.markUp(ctx, follower)
			r.ledger.SetFollowerLevels(key, follower, levels)
			r.metrics.RecordStopModify()
			log.Info("Follower stops updated", slog.String("levels", levels.String()))
			r.publish(ctx, ev)
		case errors.Is(err, domain.ErrPositionNotFound):
			r.ledger.RemoveFollowerMapping(key, follower)
			r.closeTrade(ctx, log, follower, leg.Ticket, CloseReasonNotFound)
			log.Warn("Follower position already gone, dropping mapping")
		case domain.IsConnectivity(err):
			r.metrics.RecordModifyFailure()
			r.markDown(ctx, follower, err)
			log.Warn("Follower stop update failed, will retry", slog.Any("error", err))
			ev.Kind = event.KindModifyFailed
			r.publish(ctx, ev.WithErr(err))
		default:
			// Not retried until the master levels change again.
			r.metrics.RecordModifyFailure()
			r.ledger.RejectFollowerLevels(key, follower, levels)
			log.Warn("Follower stop update rejected", slog.Any("error", err))
			ev.Kind = event.KindModifyFailed
			r.publish(ctx, ev.WithErr(err))
		}
	}
}

func (r *Replicator) closeTrade(ctx context.Context, log *slog.Logger, follower string, ticket int64, reason string) {
	if r.history == nil {
		return
	}
	if err := r.history.CloseCopiedTrade(ctx, follower, ticket, reason, r.now().UTC()); err != nil {
		log.Error("Failed to close copied trade", slog.Any("error", err))
	}
}

func (r *Replicator) saveCheckpoint(ctx context.Context) error {
	v := r.ledger.Version()
	if v == r.savedVersion.Load() {
		return nil
	}
	if err := r.checkpoint.Save(ctx, r.ledger.Snapshot()); err != nil {
		return fmt.Errorf("checkpoint ledger: %w", err)
	}
	r.savedVersion.Store(v)
	r.metrics.RecordCheckpoint()
	return nil
}

// MarkCheckpointed records the current ledger version as already persisted,
// e.g. right after a restore.
func (r *Replicator) MarkCheckpointed() {
	r.savedVersion.Store(r.ledger.Version())
}

func (r *Replicator) markDown(ctx context.Context, accountID string, err error) {
	if !domain.IsConnectivity(err) || !r.book.MarkDisconnected(accountID, err) {
		return
	}
	r.logger.Warn("Account disconnected", slog.String("account", accountID), slog.Any("error", err))
	ev := event.New(event.KindAccountDisconnected)
	ev.AccountID = accountID
	r.publish(ctx, ev.WithErr(err))
}

// ensureConnected logs an account marked down back in, with exponential
// backoff between failed attempts. A failed login only marks the account
// down; the caller's request still goes out and reports its own error.
func (r *Replicator) ensureConnected(ctx context.Context, accountID string) {
	if r.accounts == nil {
		return
	}
	if st, ok := r.book.Get(accountID); !ok || !st.Down {
		return
	}

	now := r.now()
	r.reconnectMu.Lock()
	rs := r.reconnects[accountID]
	if rs == nil {
		rs = &reconnectState{}
		r.reconnects[accountID] = rs
	}
	if now.Before(rs.next) {
		r.reconnectMu.Unlock()
		return
	}
	attempt := rs.attempts
	rs.attempts++
	rs.next = now.Add(infra.CalculateBackoff(attempt))
	r.reconnectMu.Unlock()

	err := r.login(ctx, accountID)
	if err != nil {
		r.logger.Warn("Reconnect failed",
			slog.String("account", accountID),
			slog.Int("attempt", attempt+1),
			slog.Any("error", err))
		r.markDown(ctx, accountID, err)
		return
	}

	r.reconnectMu.Lock()
	delete(r.reconnects, accountID)
	r.reconnectMu.Unlock()
	r.markUp(ctx, accountID)
}

func (r *Replicator) login(ctx context.Context, accountID string) error {
	acct, err := r.accounts.GetAccount(ctx, accountID)
	if err != nil {
		return fmt.Errorf("load account: %w", err)
	}
	if acct == nil {
		return fmt.Errorf("account %s: %w", accountID, domain.ErrNotFound)
	}
	return r.gw.Connect(ctx, acct.Credentials())
}

func (r *Replicator) markUp(ctx context.Context, accountID string) {
	if !r.book.MarkConnected(accountID) {
		return
	}
	r.logger.Info("Account reconnected", slog.String("account", accountID))
	ev := event.New(event.KindAccountReconnected)
	ev.AccountID = accountID
	r.publish(ctx, ev)
}

func (r *Replicator) publish(ctx context.Context, ev event.Event) {
	if err := r.events.Publish(ctx, ev); err != nil {
		r.logger.Debug("Event publish failed", slog.String("kind", string(ev.Kind)), slog.Any("error", err))
	}
}

// DumpState writes the ledger to filename for post-mortem analysis.
func (r *Replicator) DumpState(filename string) {
	if filename == "" {
		return
	}
	r.dumpMu.Lock()
	defer r.dumpMu.Unlock()
	r.logger.Info("Dumping ledger state...", slog.String("file", filename))

	b, err := json.MarshalIndent(r.ledger.Snapshot(), "", "  ")
	if err != nil {
		r.logger.Error("Failed to marshal ledger", slog.Any("error", err))
		return
	}
	if err := os.WriteFile(filename, b, 0644); err != nil {
		r.logger.Error("Failed to write ledger dump", slog.Any("error", err))
	}
}

func sortedFollowers(rec ledger.Record) []string {
	out := make([]string, 0, len(rec.Followers))
	for f := range rec.Followers {
		out = append(out, f)
	}
	slices.Sort(out)
	return out
}
