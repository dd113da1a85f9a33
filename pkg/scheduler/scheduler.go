// Package scheduler runs periodic ticks on background goroutines. Each
// registration owns one ticker and runs its callback synchronously, so ticks
// of one registration never overlap: a slow callback delays the next tick
// instead of stacking another one.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/stats-agent/pkg/logger"
)

var (
	// ErrClosed is returned by Schedule after Shutdown.
	ErrClosed = errors.New("scheduler is shut down")

	// ErrInvalidPeriod is returned for a non-positive period.
	ErrInvalidPeriod = errors.New("period must be positive")
)

// TickFunc is one tick. ctx is cancelled when the registration is cancelled.
type TickFunc func(ctx context.Context)

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock replaces the wall clock, mostly with clockwork.NewFakeClock in tests.
func WithClock(c clockwork.Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithLogger sets the scheduler logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// Scheduler is the shared tick engine of the process.
type Scheduler struct {
	clock  clockwork.Clock
	logger *zap.Logger

	mu     sync.Mutex
	regs   map[*Registration]struct{}
	closed bool
	wg     sync.WaitGroup
}

// New creates a scheduler using the wall clock unless overridden.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		clock: clockwork.NewRealClock(),
		regs:  make(map[*Registration]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Named("scheduler")
	}
	return s
}

// Clock returns the clock driving the scheduler.
func (s *Scheduler) Clock() clockwork.Clock { return s.clock }

// Registration is a handle on one recurring tick.
type Registration struct {
	name   string
	period time.Duration
	fn     TickFunc
	s      *Scheduler

	ctx    context.Context
	cancel context.CancelFunc

	// gate is read-held for the duration of a tick and write-held by
	// Cancel, so once Cancel returns no tick is running or can start.
	gate      sync.RWMutex
	cancelled bool
	done      chan struct{}
}

// Schedule installs fn to run every period, first run immediately.
func (s *Scheduler) Schedule(name string, period time.Duration, fn TickFunc) (*Registration, error) {
	if period <= 0 {
		return nil, fmt.Errorf("%w: %s got %s", ErrInvalidPeriod, name, period)
	}
	if fn == nil {
		return nil, fmt.Errorf("schedule %s: nil tick function", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Registration{
		name:   name,
		period: period,
		fn:     fn,
		s:      s,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	s.regs[r] = struct{}{}
	s.wg.Add(1)
	go r.loop()

	s.logger.Debug("tick scheduled", zap.String("task", name), zap.Duration("period", period))
	return r, nil
}

// Len returns the number of live registrations.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.regs)
}

// Shutdown cancels every registration and waits for running ticks to return.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	s.closed = true
	regs := make([]*Registration, 0, len(s.regs))
	for r := range s.regs {
		regs = append(regs, r)
	}
	s.mu.Unlock()

	for _, r := range regs {
		r.Cancel()
	}
	s.wg.Wait()
	s.logger.Info("scheduler stopped", zap.Int("tasks", len(regs)))
}

func (r *Registration) loop() {
	defer r.s.wg.Done()
	defer close(r.done)

	ticker := r.s.clock.NewTicker(r.period)
	defer ticker.Stop()

	r.fire()
	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.Chan():
			r.fire()
		}
	}
}

func (r *Registration) fire() {
	r.gate.RLock()
	defer r.gate.RUnlock()
	if r.cancelled {
		return
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.s.logger.Error("tick panicked",
				zap.String("task", r.name),
				zap.Any("panic", rec),
				zap.ByteString("stack", debug.Stack()))
		}
	}()
	r.fn(r.ctx)
}

// Name returns the registration name.
func (r *Registration) Name() string { return r.name }

// Period returns the tick period.
func (r *Registration) Period() time.Duration { return r.period }

// Cancel stops future ticks. The context of a running tick is cancelled and
// Cancel waits for that tick to return, so it must not be called from inside
// the tick function. Cancel is idempotent.
func (r *Registration) Cancel() {
	r.cancel()

	r.gate.Lock()
	if r.cancelled {
		r.gate.Unlock()
		return
	}
	r.cancelled = true
	r.gate.Unlock()

	r.s.mu.Lock()
	delete(r.s.regs, r)
	r.s.mu.Unlock()
}

// Done is closed once the tick goroutine has exited.
func (r *Registration) Done() <-chan struct{} { return r.done }
