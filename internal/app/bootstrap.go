// Package app wires configuration, storage, the gateway and the engine into a
// running copier.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"mt5_copier/internal/domain"
	"mt5_copier/internal/engine"
	"mt5_copier/internal/event"
	"mt5_copier/internal/execution"
	"mt5_copier/internal/infra"
	"mt5_copier/internal/infra/bridge"
	"mt5_copier/internal/infra/cache"
	"mt5_copier/internal/infra/kafka"
	"mt5_copier/internal/infra/storage"
	"mt5_copier/internal/ledger"
	"mt5_copier/internal/registry"
	"mt5_copier/internal/risk"
	"mt5_copier/internal/scheduler"
	"mt5_copier/internal/service"

	_ "net/http/pprof" // For pprof profiling

	"github.com/shopspring/decimal"
)

// paperStartBalance seeds paper accounts that have no stored balance.
var paperStartBalance = decimal.NewFromInt(10000)

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	Config     *infra.Config
	Logger     *slog.Logger
	Storage    *storage.Storage
	Gateway    domain.BrokerGateway
	Registry   *registry.Registry
	Pairings   *registry.Service
	Ledger     *ledger.Ledger
	Checkpoint ledger.Checkpointer
	Book       *service.AccountBook
	Events     event.Publisher
	Replicator *engine.Replicator
	Monitor    *engine.Monitor

	bridge     *bridge.Client
	schedulers []*scheduler.Scheduler
	closers    []io.Closer
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap(cfg *infra.Config) *Bootstrap {
	return &Bootstrap{Config: cfg, Logger: slog.Default()}
}

// SetupLogger installs the rotating JSON logger as the default.
func (b *Bootstrap) SetupLogger() {
	logger, closer := infra.NewLogger(b.Config.Logging)
	slog.SetDefault(logger)
	b.Logger = logger
	b.closers = append(b.closers, closer)
}

// OpenStorage connects the database. CLI commands that only manage pairings
// or accounts stop here.
func (b *Bootstrap) OpenStorage() error {
	if b.Storage != nil {
		return nil
	}
	store, err := storage.Open(storage.Options{
		Driver: b.Config.Storage.Driver,
		Path:   b.Config.Storage.Path,
		DSN:    b.Config.Storage.DSN,
	})
	if err != nil {
		return err
	}
	b.Storage = store
	b.closers = append(b.closers, store)
	b.Registry = registry.New()
	b.Pairings = registry.NewService(b.Registry, store)
	return nil
}

// Initialize performs core system initialization: storage, gateway, registry,
// ledger restore, event sinks and the engine.
func (b *Bootstrap) Initialize(ctx context.Context) error {
	b.Logger.Info("🚀 Bootstrapping MT5 copier...", slog.String("version", b.Config.App.Version))

	// 1. Storage
	if err := b.OpenStorage(); err != nil {
		return err
	}
	b.Logger.Info("✅ Database initialized", slog.String("driver", b.Config.Storage.Driver))

	// 2. Pairings
	if err := b.Pairings.Sync(ctx); err != nil {
		b.Logger.Warn("Some pairings were skipped", slog.Any("error", err))
	}
	b.Logger.Info("✅ Pairings loaded", slog.Int("count", len(b.Registry.All())))

	// 3. Gateway
	if err := b.initGateway(ctx); err != nil {
		return err
	}

	// 4. Ledger
	b.Ledger = ledger.New()
	st, err := b.LoadLedger(ctx)
	if err != nil {
		return err
	}
	if !st.Empty() {
		b.Ledger.Restore(st)
	}
	b.Logger.Info("✅ Ledger restored",
		slog.String("checkpoint", b.Config.Ledger.Checkpoint),
		slog.Int("records", b.Ledger.Len()),
		slog.Int("watermarks", len(st.Watermarks)))

	// 5. Events
	b.Events = b.newPublisher()

	// 6. Engine
	b.Book = service.NewAccountBook()
	if err := b.seedBook(ctx); err != nil {
		return err
	}
	table := risk.SpecTable{
		LotStep:    b.Config.Risk.LotStep,
		RiskPerLot: b.Config.Risk.PerLotRisk,
		Symbols:    b.Config.Risk.Symbols,
	}
	b.Replicator = engine.NewReplicator(engine.ReplicatorDeps{
		Gateway:    b.Gateway,
		Accounts:   b.Storage,
		Registry:   b.Registry,
		Ledger:     b.Ledger,
		Specs:      risk.NewResolver(b.Gateway, table),
		Book:       b.Book,
		History:    b.Storage,
		Checkpoint: b.Checkpoint,
		Events:     b.Events,
		Metrics:    infra.GlobalMetrics,
		Logger:     b.Logger,
	}, engine.ReplicatorConfig{
		MaxParallelMasters:    b.Config.Replication.MaxParallelMasters,
		SkipExistingPositions: b.Config.Replication.SkipExistingPositions,
		DumpPath:              b.Config.Replication.DumpPath,
	})
	b.Replicator.MarkCheckpointed()

	b.Monitor = engine.NewMonitor(b.Gateway, b.Storage, b.Book, b.Events, infra.GlobalMetrics, b.Logger, engine.MonitorConfig{
		MarginLevelAlert:   b.Config.Monitor.MarginLevelAlert,
		EquityDropAlertPct: b.Config.Monitor.EquityDropAlertPct,
		StatsEnabled:       b.Config.Monitor.StatsEnabled,
	})
	return nil
}

// seedBook loads the last stored snapshot of every account so equity-based
// limits work before the first monitor cycle.
func (b *Bootstrap) seedBook(ctx context.Context) error {
	accounts, err := b.Storage.ListAccounts(ctx)
	if err != nil {
		return fmt.Errorf("list accounts: %w", err)
	}
	seeded := 0
	for i := range accounts {
		a := &accounts[i]
		if !a.Equity.IsPositive() {
			continue
		}
		b.Book.Seed(a.ID, a.Snapshot(), a.LastUpdate)
		seeded++
	}
	b.Logger.Info("✅ Account book seeded", slog.Int("accounts", seeded))
	return nil
}

func (b *Bootstrap) initGateway(ctx context.Context) error {
	switch b.Config.Gateway.Kind {
	case infra.GatewayBridge:
		client, err := bridge.NewClient(bridge.Options{
			URL:            b.Config.Gateway.URL,
			Key:            b.Config.Gateway.Key,
			Secret:         b.Config.Gateway.Secret,
			RequestTimeout: b.Config.RequestTimeout(),
			MaxSlippage:    b.Config.Gateway.MaxSlippage,
			Magic:          b.Config.Gateway.Magic,
			Logger:         b.Logger,
		})
		if err != nil {
			return err
		}
		b.bridge = client
		b.Gateway = client
		b.closers = append(b.closers, client)
	default:
		paper := execution.NewPaperGateway(0)
		accounts, err := b.Storage.ListAccounts(ctx)
		if err != nil {
			return fmt.Errorf("list accounts: %w", err)
		}
		for _, a := range accounts {
			balance := a.Balance
			if !balance.IsPositive() {
				balance = paperStartBalance
			}
			paper.AddAccount(a.ID, balance)
		}
		b.Gateway = paper
	}
	b.Logger.Info("✅ Gateway ready", slog.String("kind", b.Config.Gateway.Kind))
	return nil
}

// LoadLedger opens the configured checkpoint backend and reads the last
// saved ledger state.
func (b *Bootstrap) LoadLedger(ctx context.Context) (ledger.State, error) {
	if err := b.OpenStorage(); err != nil {
		return ledger.State{}, err
	}
	if b.Checkpoint == nil {
		ckpt, err := b.newCheckpointer()
		if err != nil {
			return ledger.State{}, err
		}
		b.Checkpoint = ckpt
	}
	st, err := b.Checkpoint.Load(ctx)
	if err != nil {
		return ledger.State{}, fmt.Errorf("restore ledger: %w", err)
	}
	return st, nil
}

func (b *Bootstrap) newCheckpointer() (ledger.Checkpointer, error) {
	switch b.Config.Ledger.Checkpoint {
	case infra.CheckpointRedis:
		rc := b.Config.Redis
		ckpt := cache.NewCheckpointer(cache.NewClient(cache.Options{
			Addr: rc.Addr, Password: rc.Password, DB: rc.DB,
		}), rc.Key)
		b.closers = append(b.closers, ckpt)
		return ckpt, nil
	case infra.CheckpointNone:
		return ledger.Nop{}, nil
	case "", infra.CheckpointStorage:
		return b.Storage, nil
	}
	return nil, &domain.ConfigError{Field: "ledger.checkpoint", Err: fmt.Errorf("unknown backend %q", b.Config.Ledger.Checkpoint)}
}

func (b *Bootstrap) newPublisher() event.Publisher {
	sinks := event.Multi{event.NewLogPublisher(b.Logger)}
	if kc := b.Config.Kafka; kc.Enabled {
		writer := kafka.NewEventPublisher(kafka.Options{Brokers: kc.Brokers, Topic: kc.Topic})
		timeout := time.Duration(kc.WriteTimeoutMS) * time.Millisecond
		sinks = append(sinks, event.NewAsync(writer, kc.BufferSize, timeout, b.Logger))
		b.Logger.Info("✅ Kafka event sink enabled", slog.String("topic", kc.Topic))
	}
	return sinks
}

// Run starts the drivers and blocks until ctx is cancelled, then shuts down.
func (b *Bootstrap) Run(ctx context.Context) error {
	if addr := b.Config.App.PprofAddr; addr != "" {
		go func() {
			b.Logger.Info("🕵️ Pprof server started", slog.String("addr", addr))
			if err := http.ListenAndServe(addr, nil); err != nil {
				b.Logger.Error("Pprof server failed", slog.Any("error", err))
			}
		}()
	}

	if b.bridge != nil {
		if err := b.bridge.Start(ctx); err != nil {
			return err
		}
	}

	cfg := b.Config
	opts := []scheduler.Option{
		scheduler.WithStopTimeout(cfg.StopTimeout()),
		scheduler.WithCycleTimeout(cfg.CycleTimeout()),
		scheduler.WithLogger(b.Logger),
	}
	drivers := []struct {
		name     string
		interval time.Duration
		job      scheduler.Job
	}{
		{"pairing-sync", cfg.PairingSyncInterval(), b.Pairings.Sync},
		{"account-monitor", cfg.MonitorInterval(), b.Monitor.RunCycle},
		{"replication", cfg.PollInterval(), b.Replicator.RunCycle},
	}
	for _, d := range drivers {
		s, err := scheduler.New(d.name, d.interval, d.job, opts...)
		if err != nil {
			b.stopSchedulers()
			return err
		}
		if err := s.Start(ctx); err != nil {
			b.stopSchedulers()
			return err
		}
		b.schedulers = append(b.schedulers, s)
	}

	b.Logger.InfoContext(ctx, "✨ Copier fully operational. Press Ctrl+C to exit.",
		slog.Int("pairings", len(b.Registry.All())),
		slog.Int("masters", len(b.Registry.ListActiveMasters())))

	<-ctx.Done()

	b.Logger.Info("👋 Shutting down gracefully...")
	err := b.stopSchedulers()

	final, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.StopTimeout())
	defer cancel()
	if cerr := b.Checkpoint.Save(final, b.Ledger.Snapshot()); cerr != nil {
		err = errors.Join(err, fmt.Errorf("final checkpoint: %w", cerr))
	}
	b.Logger.Info("Final metrics", slog.Any("metrics", infra.GlobalMetrics.Snapshot()))
	return err
}

// stopSchedulers stops drivers in reverse start order.
func (b *Bootstrap) stopSchedulers() error {
	var errs []error
	for i := len(b.schedulers) - 1; i >= 0; i-- {
		if err := b.schedulers[i].Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop %s: %w", b.schedulers[i].Name(), err))
		}
	}
	b.schedulers = nil
	return errors.Join(errs...)
}

// Close releases every resource in reverse acquisition order.
func (b *Bootstrap) Close() error {
	var errs []error
	if b.Events != nil {
		errs = append(errs, b.Events.Close())
	}
	for i := len(b.closers) - 1; i >= 0; i-- {
		errs = append(errs, b.closers[i].Close())
	}
	b.closers = nil
	return errors.Join(errs...)
}
