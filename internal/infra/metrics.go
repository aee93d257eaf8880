package infra

import (
	"log/slog"
	"sync/atomic"
	"time"
)

// Metrics provides lightweight observability without external dependencies.
// Uses atomic operations for thread-safety.
type Metrics struct {
	// Counters
	cyclesTotal     atomic.Uint64
	cycleErrors     atomic.Uint64
	ordersPlaced    atomic.Uint64
	ordersRejected  atomic.Uint64
	ordersFailed    atomic.Uint64
	followerCloses  atomic.Uint64
	closeFailures   atomic.Uint64
	stopModifies    atomic.Uint64
	modifyFailures  atomic.Uint64
	enginePanics    atomic.Uint64
	checkpointSaves atomic.Uint64

	// Latency tracking
	latencySumNs atomic.Int64
	latencyCount atomic.Uint64

	// Gauges
	trackedRecords    atomic.Int64
	connectedAccounts atomic.Int32
}

// GlobalMetrics is the singleton metrics instance.
var GlobalMetrics = &Metrics{}

// RecordCycle records a replication cycle with its latency.
func (m *Metrics) RecordCycle(latency time.Duration, failed bool) {
	m.cyclesTotal.Add(1)
	if failed {
		m.cycleErrors.Add(1)
	}
	m.latencySumNs.Add(latency.Nanoseconds())
	m.latencyCount.Add(1)
}

// RecordOrderPlaced records a follower fill.
func (m *Metrics) RecordOrderPlaced() {
	m.ordersPlaced.Add(1)
}

// RecordOrderRejected records a copy refused by the risk transform.
func (m *Metrics) RecordOrderRejected() {
	m.ordersRejected.Add(1)
}

// RecordOrderFailed records a follower order the venue did not fill.
func (m *Metrics) RecordOrderFailed() {
	m.ordersFailed.Add(1)
}

// RecordFollowerClose records a confirmed follower close.
func (m *Metrics) RecordFollowerClose() {
	m.followerCloses.Add(1)
}

// RecordCloseFailure records a follower close that will be retried.
func (m *Metrics) RecordCloseFailure() {
	m.closeFailures.Add(1)
}

// RecordStopModify records a follower stop level update.
func (m *Metrics) RecordStopModify() {
	m.stopModifies.Add(1)
}

// RecordModifyFailure records a failed stop level update.
func (m *Metrics) RecordModifyFailure() {
	m.modifyFailures.Add(1)
}

// RecordPanic records a recovered panic inside the engine.
func (m *Metrics) RecordPanic() {
	m.enginePanics.Add(1)
}

// RecordCheckpoint records a saved ledger checkpoint.
func (m *Metrics) RecordCheckpoint() {
	m.checkpointSaves.Add(1)
}

// SetTrackedRecords sets the number of master positions in the ledger.
func (m *Metrics) SetTrackedRecords(n int) {
	m.trackedRecords.Store(int64(n))
}

// SetConnectedAccounts sets the number of accounts currently reachable.
func (m *Metrics) SetConnectedAccounts(count int32) {
	m.connectedAccounts.Store(count)
}

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	CyclesTotal       uint64
	CycleErrors       uint64
	AvgCycleLatencyNs int64
	OrdersPlaced      uint64
	OrdersRejected    uint64
	OrdersFailed      uint64
	FollowerCloses    uint64
	CloseFailures     uint64
	StopModifies      uint64
	ModifyFailures    uint64
	EnginePanics      uint64
	CheckpointSaves   uint64
	TrackedRecords    int64
	ConnectedAccounts int32
	Timestamp         time.Time
}

// Snapshot returns current metrics as a snapshot.
func (m *Metrics) Snapshot() MetricsSnapshot {
	var avgLatency int64
	count := m.latencyCount.Load()
	if count > 0 {
		avgLatency = m.latencySumNs.Load() / int64(count)
	}

	return MetricsSnapshot{
		CyclesTotal:       m.cyclesTotal.Load(),
		CycleErrors:       m.cycleErrors.Load(),
		AvgCycleLatencyNs: avgLatency,
		OrdersPlaced:      m.ordersPlaced.Load(),
		OrdersRejected:    m.ordersRejected.Load(),
		OrdersFailed:      m.ordersFailed.Load(),
		FollowerCloses:    m.followerCloses.Load(),
		CloseFailures:     m.closeFailures.Load(),
		StopModifies:      m.stopModifies.Load(),
		ModifyFailures:    m.modifyFailures.Load(),
		EnginePanics:      m.enginePanics.Load(),
		CheckpointSaves:   m.checkpointSaves.Load(),
		TrackedRecords:    m.trackedRecords.Load(),
		ConnectedAccounts: m.connectedAccounts.Load(),
		Timestamp:         time.Now(),
	}
}

// LogValue renders the snapshot as a log group.
func (s MetricsSnapshot) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Uint64("cycles", s.CyclesTotal),
		slog.Uint64("cycle_errors", s.CycleErrors),
		slog.Duration("avg_cycle", time.Duration(s.AvgCycleLatencyNs)),
		slog.Uint64("orders_placed", s.OrdersPlaced),
		slog.Uint64("orders_rejected", s.OrdersRejected),
		slog.Uint64("orders_failed", s.OrdersFailed),
		slog.Uint64("follower_closes", s.FollowerCloses),
		slog.Uint64("close_failures", s.CloseFailures),
		slog.Uint64("stop_modifies", s.StopModifies),
		slog.Uint64("modify_failures", s.ModifyFailures),
		slog.Uint64("panics", s.EnginePanics),
		slog.Uint64("checkpoints", s.CheckpointSaves),
		slog.Int64("tracked_records", s.TrackedRecords),
		slog.Int("connected_accounts", int(s.ConnectedAccounts)),
	)
}

// Reset clears all metrics (for testing).
func (m *Metrics) Reset() {
	m.cyclesTotal.Store(0)
	m.cycleErrors.Store(0)
	m.ordersPlaced.Store(0)
	m.ordersRejected.Store(0)
	m.ordersFailed.Store(0)
	m.followerCloses.Store(0)
	m.closeFailures.Store(0)
	m.stopModifies.Store(0)
	m.modifyFailures.Store(0)
	m.enginePanics.Store(0)
	m.checkpointSaves.Store(0)
	m.latencySumNs.Store(0)
	m.latencyCount.Store(0)
	m.trackedRecords.Store(0)
	m.connectedAccounts.Store(0)
}
