package infra

import (
	"testing"
	"time"
)

func TestMetrics_RecordCycle(t *testing.T) {
	m := &Metrics{}

	m.RecordCycle(1000*time.Nanosecond, false)
	m.RecordCycle(2000*time.Nanosecond, true)
	m.RecordCycle(3000*time.Nanosecond, false)

	snap := m.Snapshot()

	if snap.CyclesTotal != 3 {
		t.Errorf("Expected 3 cycles, got %d", snap.CyclesTotal)
	}
	if snap.CycleErrors != 1 {
		t.Errorf("Expected 1 cycle error, got %d", snap.CycleErrors)
	}

	// Average latency: (1000 + 2000 + 3000) / 3 = 2000
	if snap.AvgCycleLatencyNs != 2000 {
		t.Errorf("Expected avg latency 2000, got %d", snap.AvgCycleLatencyNs)
	}
}

func TestMetrics_Orders(t *testing.T) {
	m := &Metrics{}

	m.RecordOrderPlaced()
	m.RecordOrderPlaced()
	m.RecordOrderRejected()
	m.RecordOrderFailed()
	m.RecordFollowerClose()
	m.RecordStopModify()

	snap := m.Snapshot()
	if snap.OrdersPlaced != 2 || snap.OrdersRejected != 1 || snap.OrdersFailed != 1 {
		t.Errorf("Unexpected order counters: %+v", snap)
	}
	if snap.FollowerCloses != 1 || snap.StopModifies != 1 {
		t.Errorf("Unexpected reconciliation counters: %+v", snap)
	}
}

func TestMetrics_Gauges(t *testing.T) {
	m := &Metrics{}

	m.SetTrackedRecords(7)
	m.SetConnectedAccounts(3)
	m.SetConnectedAccounts(2)

	snap := m.Snapshot()
	if snap.TrackedRecords != 7 {
		t.Errorf("Expected 7 tracked records, got %d", snap.TrackedRecords)
	}
	if snap.ConnectedAccounts != 2 {
		t.Errorf("Expected 2 connected accounts, got %d", snap.ConnectedAccounts)
	}
}

func TestMetrics_Reset(t *testing.T) {
	m := &Metrics{}

	m.RecordCycle(time.Millisecond, true)
	m.RecordOrderPlaced()
	m.RecordPanic()
	m.SetTrackedRecords(4)

	m.Reset()

	snap := m.Snapshot()
	if snap.CyclesTotal != 0 || snap.OrdersPlaced != 0 || snap.EnginePanics != 0 || snap.TrackedRecords != 0 {
		t.Errorf("Expected all zero after reset, got %+v", snap)
	}
	if snap.AvgCycleLatencyNs != 0 {
		t.Errorf("Expected 0 avg latency after reset, got %d", snap.AvgCycleLatencyNs)
	}
}
