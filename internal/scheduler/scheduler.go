// Package scheduler drives a job at a fixed interval with a bounded stop.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// ErrAlreadyRunning is returned by Start while a loop is active.
	ErrAlreadyRunning = errors.New("scheduler already running")

	// ErrStopTimeout is returned by Stop when the in-flight cycle outlives the stop timeout.
	ErrStopTimeout = errors.New("scheduler stop timed out")
)

// DefaultStopTimeout bounds how long Stop waits for an in-flight cycle.
const DefaultStopTimeout = 5 * time.Second

// Job is one cycle of work. Returned errors are logged, never fatal.
type Job func(ctx context.Context) error

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithStopTimeout overrides DefaultStopTimeout.
func WithStopTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.stopTimeout = d
		}
	}
}

// WithCycleTimeout puts a deadline on each cycle context.
func WithCycleTimeout(d time.Duration) Option {
	return func(s *Scheduler) { s.cycleTimeout = d }
}

// WithLogger replaces the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// Scheduler runs Job every interval. Cycles never overlap: a slow cycle
// delays the next tick instead of running concurrently with it.
type Scheduler struct {
	name         string
	interval     time.Duration
	job          Job
	stopTimeout  time.Duration
	cycleTimeout time.Duration
	logger       *slog.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	done    chan struct{}

	cycles   atomic.Uint64
	failures atomic.Uint64
}

// New creates a stopped scheduler.
func New(name string, interval time.Duration, job Job, opts ...Option) (*Scheduler, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("scheduler %s: interval must be positive, got %s", name, interval)
	}
	if job == nil {
		return nil, fmt.Errorf("scheduler %s: job is nil", name)
	}
	s := &Scheduler{
		name:        name,
		interval:    interval,
		job:         job,
		stopTimeout: DefaultStopTimeout,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(slog.String("scheduler", name))
	return s, nil
}

// Name returns the scheduler name.
func (s *Scheduler) Name() string {
	return s.name
}

// Start launches the loop. The first cycle runs immediately.
// The loop also ends when ctx is cancelled, after the current cycle.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running || (s.done != nil && !closed(s.done)) {
		return ErrAlreadyRunning
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.done = make(chan struct{})

	go s.loop(ctx, s.stopCh, s.done)
	s.logger.Info("Scheduler started", slog.Duration("interval", s.interval))
	return nil
}

// Stop signals the loop and waits for the in-flight cycle, bounded by the
// stop timeout. The cycle itself is not cancelled.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.stopCh)
	done := s.done
	s.mu.Unlock()

	select {
	case <-done:
		s.logger.Info("Scheduler stopped")
		return nil
	case <-time.After(s.stopTimeout):
		s.logger.Warn("Scheduler stop timed out", slog.Duration("timeout", s.stopTimeout))
		return ErrStopTimeout
	}
}

// Running reports whether the loop is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running && s.done != nil && !closed(s.done)
}

// Cycles returns the number of completed cycles.
func (s *Scheduler) Cycles() uint64 {
	return s.cycles.Load()
}

// Errors returns the number of cycles that failed or panicked.
func (s *Scheduler) Errors() uint64 {
	return s.failures.Load()
}

func (s *Scheduler) loop(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	s.runCycle(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			s.logger.Info("Scheduler context done")
			return
		case <-ticker.C:
			// Stop wins over a tick that fired at the same time.
			select {
			case <-stop:
				return
			default:
			}
			s.runCycle(ctx)
		}
	}
}

func (s *Scheduler) runCycle(parent context.Context) {
	ctx := context.WithoutCancel(parent)
	if s.cycleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cycleTimeout)
		defer cancel()
	}

	defer s.cycles.Add(1)
	defer func() {
		if r := recover(); r != nil {
			s.failures.Add(1)
			s.logger.Error("Scheduler cycle panic recovered",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()

	start := time.Now()
	if err := s.job(ctx); err != nil {
		s.failures.Add(1)
		s.logger.Warn("Scheduler cycle failed",
			slog.Any("error", err),
			slog.Duration("elapsed", time.Since(start)),
		)
	}
}

func closed(ch chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
