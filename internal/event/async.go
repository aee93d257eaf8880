package event

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ErrClosed is returned by Publish after Close.
var ErrClosed = errors.New("publisher closed")

// Async decouples producers from a slow sink through a bounded buffer.
// When the buffer is full the event is dropped and counted.
type Async struct {
	next    Publisher
	ch      chan Event
	logger  *slog.Logger
	timeout time.Duration

	mu      sync.RWMutex
	closed  bool
	wg      sync.WaitGroup
	dropped atomic.Uint64
}

// NewAsync starts the delivery goroutine. timeout bounds each delivery to next.
func NewAsync(next Publisher, buffer int, timeout time.Duration, logger *slog.Logger) *Async {
	if buffer <= 0 {
		buffer = 256
	}
	if logger == nil {
		logger = slog.Default()
	}
	a := &Async{
		next:    next,
		ch:      make(chan Event, buffer),
		logger:  logger.With(slog.String("module", "events")),
		timeout: timeout,
	}
	a.wg.Add(1)
	go a.run()
	return a
}

func (a *Async) Publish(_ context.Context, ev Event) error {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return ErrClosed
	}
	select {
	case a.ch <- ev:
		return nil
	default:
		a.dropped.Add(1)
		a.logger.Warn("Event buffer full, dropping event", slog.String("kind", string(ev.Kind)))
		return nil
	}
}

// Dropped returns the number of events lost to a full buffer.
func (a *Async) Dropped() uint64 {
	return a.dropped.Load()
}

// Close drains the buffer and closes the wrapped publisher.
func (a *Async) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	close(a.ch)
	a.mu.Unlock()

	a.wg.Wait()
	return a.next.Close()
}

func (a *Async) run() {
	defer a.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("Event delivery panic recovered", slog.Any("panic", r))
		}
	}()

	for ev := range a.ch {
		ctx := context.Background()
		var cancel context.CancelFunc = func() {}
		if a.timeout > 0 {
			ctx, cancel = context.WithTimeout(ctx, a.timeout)
		}
		if err := a.next.Publish(ctx, ev); err != nil {
			a.logger.Warn("Event delivery failed",
				slog.String("kind", string(ev.Kind)),
				slog.String("event_id", ev.ID),
				slog.Any("error", err),
			)
		}
		cancel()
	}
}
