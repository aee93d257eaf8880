package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Validates(t *testing.T) {
	_, err := New("x", 0, func(context.Context) error { return nil })
	assert.Error(t, err)

	_, err = New("x", time.Second, nil)
	assert.Error(t, err)
}

func TestStart_RunsImmediatelyAndRepeatedly(t *testing.T) {
	var calls atomic.Int32
	s, err := New("tick", 10*time.Millisecond, func(context.Context) error {
		calls.Add(1)
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, s.Start(context.Background()))
	assert.ErrorIs(t, s.Start(context.Background()), ErrAlreadyRunning)
	assert.True(t, s.Running())

	assert.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, 5*time.Millisecond)
	require.NoError(t, s.Stop())
	assert.False(t, s.Running())

	after := calls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, calls.Load(), "no cycles after Stop")
}

func TestErrorsAndPanics_DoNotStopScheduling(t *testing.T) {
	var calls atomic.Int32
	s, _ := New("flaky", 5*time.Millisecond, func(context.Context) error {
		n := calls.Add(1)
		switch n {
		case 1:
			return errors.New("boom")
		case 2:
			panic("worse")
		}
		return nil
	})

	require.NoError(t, s.Start(context.Background()))
	assert.Eventually(t, func() bool { return calls.Load() >= 4 }, time.Second, 5*time.Millisecond)
	require.NoError(t, s.Stop())

	assert.Equal(t, uint64(2), s.Errors())
	assert.GreaterOrEqual(t, s.Cycles(), uint64(4))
}

func TestCyclesNeverOverlap(t *testing.T) {
	var inFlight, maxInFlight atomic.Int32
	s, _ := New("slow", time.Millisecond, func(context.Context) error {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			m := maxInFlight.Load()
			if n <= m || maxInFlight.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		return nil
	})

	require.NoError(t, s.Start(context.Background()))
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, s.Stop())

	assert.Equal(t, int32(1), maxInFlight.Load())
}

func TestStop_WaitsForInFlightCycle(t *testing.T) {
	started := make(chan struct{})
	var finished atomic.Bool
	var cycleErr atomic.Value

	s, _ := New("wait", time.Hour, func(ctx context.Context) error {
		close(started)
		time.Sleep(50 * time.Millisecond)
		if ctx.Err() != nil {
			cycleErr.Store(ctx.Err())
		}
		finished.Store(true)
		return nil
	})

	require.NoError(t, s.Start(context.Background()))
	<-started
	require.NoError(t, s.Stop())

	assert.True(t, finished.Load(), "Stop returns after the cycle completes")
	assert.Nil(t, cycleErr.Load(), "cycle context is not cancelled by Stop")
}

func TestStop_Timeout(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	s, _ := New("stuck", time.Hour, func(context.Context) error {
		once.Do(func() { close(started) })
		<-release
		return nil
	}, WithStopTimeout(20*time.Millisecond))

	require.NoError(t, s.Start(context.Background()))
	<-started

	assert.ErrorIs(t, s.Stop(), ErrStopTimeout)
	assert.ErrorIs(t, s.Start(context.Background()), ErrAlreadyRunning, "old loop still draining")

	close(release)
	assert.Eventually(t, func() bool { return s.Start(context.Background()) == nil }, time.Second, 5*time.Millisecond)
	require.NoError(t, s.Stop())
}

func TestParentCancel_DoesNotCancelCycle(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	var sawCancel atomic.Bool

	s, _ := New("parent", time.Hour, func(cctx context.Context) error {
		close(started)
		time.Sleep(20 * time.Millisecond)
		sawCancel.Store(cctx.Err() != nil)
		return nil
	})

	require.NoError(t, s.Start(ctx))
	<-started
	cancel()

	assert.Eventually(t, func() bool { return !s.Running() }, time.Second, 5*time.Millisecond)
	assert.False(t, sawCancel.Load())
}

func TestCycleTimeout(t *testing.T) {
	var deadline atomic.Bool
	s, _ := New("deadline", time.Hour, func(ctx context.Context) error {
		_, ok := ctx.Deadline()
		deadline.Store(ok)
		return nil
	}, WithCycleTimeout(time.Second))

	require.NoError(t, s.Start(context.Background()))
	assert.Eventually(t, func() bool { return s.Cycles() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, s.Stop())
	assert.True(t, deadline.Load())
}
