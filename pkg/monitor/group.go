// Package monitor owns groups of remote sources built from configuration. A
// group registers its sources with the producer registry, drives them with
// the shared scheduler and can be stopped, restarted and reconfigured while
// ticks are in flight.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	"github.com/stats-agent/pkg/config"
	"github.com/stats-agent/pkg/logger"
	"github.com/stats-agent/pkg/producers"
	"github.com/stats-agent/pkg/scheduler"
)

// State of a group. Stopped groups can be set up again; Deinitialized is terminal.
type State int32

const (
	Uninitialized State = iota
	Running
	Stopped
	Deinitialized
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	case Deinitialized:
		return "deinitialized"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

const defaultParallelism = 8

// GroupOption configures a Group.
type GroupOption func(*Group)

// WithLogger sets the group logger.
func WithLogger(l *zap.Logger) GroupOption {
	return func(g *Group) { g.logger = l }
}

// WithMetrics records sample errors and durations.
func WithMetrics(m *SamplingMetrics) GroupOption {
	return func(g *Group) { g.metrics = m }
}

// WithParallelism bounds how many sources of one tick are sampled at once.
func WithParallelism(n int) GroupOption {
	return func(g *Group) {
		if n > 0 {
			g.parallelism = n
		}
	}
}

type member struct {
	src    Source
	period time.Duration
}

// Group is a reconfigurable set of sources sharing one configuration.
type Group struct {
	id          string
	registry    *producers.Registry
	scheduler   *scheduler.Scheduler
	factory     SourceFactory
	logger      *zap.Logger
	metrics     *SamplingMetrics
	parallelism int

	// lifecycle serializes Setup, Stop, Reconfigure and Deinitialize.
	lifecycle sync.Mutex
	cfg       config.GroupConfig
	state     atomic.Int32

	// mu guards the owned sources and tick registrations read by ticks.
	mu      sync.RWMutex
	members []*member
	regs    []*scheduler.Registration

	onDeinit func(*Group)
}

// NewGroup builds an uninitialized group. The factory belongs to the group
// and is closed by Deinitialize.
func NewGroup(cfg config.GroupConfig, factory SourceFactory, registry *producers.Registry,
	sched *scheduler.Scheduler, opts ...GroupOption) *Group {
	g := &Group{
		id:          cfg.ID,
		registry:    registry,
		scheduler:   sched,
		factory:     factory,
		cfg:         cfg,
		parallelism: defaultParallelism,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.logger == nil {
		g.logger = logger.Named("monitor")
	}
	g.logger = g.logger.With(zap.String("group", g.id))
	return g
}

// Initialize builds a group and sets it up.
func Initialize(cfg config.GroupConfig, factory SourceFactory, registry *producers.Registry,
	sched *scheduler.Scheduler, opts ...GroupOption) (*Group, error) {
	g := NewGroup(cfg, factory, registry, sched, opts...)
	if err := g.Setup(); err != nil {
		return nil, err
	}
	return g, nil
}

// ID returns the stable group id.
func (g *Group) ID() string { return g.id }

// State returns the lifecycle state.
func (g *Group) State() State { return State(g.state.Load()) }

// Config returns the configuration currently applied.
func (g *Group) Config() config.GroupConfig {
	g.lifecycle.Lock()
	defer g.lifecycle.Unlock()
	return g.cfg
}

// Sources returns the owned sources in configuration order.
func (g *Group) Sources() []Source {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Source, 0, len(g.members))
	for _, m := range g.members {
		out = append(out, m.src)
	}
	return out
}

// Setup builds one source per unique target name, registers them and installs
// the tick. Duplicate names are skipped with a warning.
func (g *Group) Setup() error {
	g.lifecycle.Lock()
	defer g.lifecycle.Unlock()
	return g.setupLocked()
}

// Stop cancels the tick, closes and unregisters every owned source. It is
// idempotent.
func (g *Group) Stop() {
	g.lifecycle.Lock()
	defer g.lifecycle.Unlock()
	g.stopLocked()
}

// Reconfigure replaces the configuration of the group: Stop, then Setup with
// cfg. Sources with the same name come back as new objects under the same id.
func (g *Group) Reconfigure(cfg config.GroupConfig) error {
	g.lifecycle.Lock()
	defer g.lifecycle.Unlock()

	if g.State() == Deinitialized {
		return ErrGroupClosed
	}
	if cfg.ID != g.id {
		return fmt.Errorf("%w: %s != %s", ErrGroupMismatch, cfg.ID, g.id)
	}

	g.stopLocked()
	g.cfg = cfg
	g.logger.Info("monitor group reconfigured", zap.Int("targets", len(cfg.Targets)))
	return g.setupLocked()
}

// Deinitialize stops the group, releases the factory and removes the group
// from its manager. The group cannot be used afterwards.
func (g *Group) Deinitialize() error {
	g.lifecycle.Lock()
	if g.State() == Deinitialized {
		g.lifecycle.Unlock()
		return nil
	}
	g.stopLocked()
	g.state.Store(int32(Deinitialized))
	err := g.factory.Close()
	onDeinit := g.onDeinit
	g.lifecycle.Unlock()

	if onDeinit != nil {
		onDeinit(g)
	}
	g.logger.Info("monitor group deinitialized")
	if err != nil {
		return fmt.Errorf("close source factory of %s: %w", g.id, err)
	}
	return nil
}

func (g *Group) setupLocked() error {
	switch g.State() {
	case Running:
		return ErrGroupRunning
	case Deinitialized:
		return ErrGroupClosed
	}

	cfg := g.cfg
	seen := make(map[string]struct{}, len(cfg.Targets))
	members := make([]*member, 0, len(cfg.Targets))
	for _, target := range cfg.Targets {
		if _, dup := seen[target.Name]; dup {
			g.logger.Warn("found duplicate name in configuration, skipping",
				zap.String("target", target.Name))
			continue
		}
		seen[target.Name] = struct{}{}

		src, err := g.factory.NewSource(cfg, target)
		if err != nil {
			g.logger.Warn("cannot build source, skipping",
				zap.String("target", target.Name), zap.Error(err))
			continue
		}
		if err := g.registry.Register(src); err != nil {
			g.logger.Warn("cannot register producer, skipping",
				zap.String("producer", src.Identity().ID), zap.Error(err))
			_ = src.Close()
			continue
		}
		members = append(members, &member{src: src, period: target.Period(cfg.UpdatePeriod)})
	}

	g.mu.Lock()
	g.members = members
	g.mu.Unlock()

	if len(members) == 0 {
		g.logger.Info("no targets configured, nothing to sample")
		g.state.Store(int32(Running))
		return nil
	}

	regs := make([]*scheduler.Registration, 0, 1)
	for _, period := range distinctPeriods(members) {
		period := period
		reg, err := g.scheduler.Schedule(fmt.Sprintf("%s/%s", g.id, period), period, func(ctx context.Context) {
			g.tick(ctx, period)
		})
		if err != nil {
			for _, r := range regs {
				r.Cancel()
			}
			g.mu.Lock()
			g.members = nil
			g.mu.Unlock()
			g.release(members)
			g.state.Store(int32(Stopped))
			return fmt.Errorf("schedule group %s: %w", g.id, err)
		}
		regs = append(regs, reg)
	}

	g.mu.Lock()
	g.regs = regs
	g.mu.Unlock()

	g.state.Store(int32(Running))
	g.logger.Info("monitor group running",
		zap.Int("sources", len(members)),
		zap.Duration("update_period", cfg.UpdatePeriod))
	return nil
}

func (g *Group) stopLocked() {
	if g.State() != Running {
		return
	}

	g.mu.Lock()
	regs, members := g.regs, g.members
	g.regs, g.members = nil, nil
	g.mu.Unlock()

	for _, r := range regs {
		r.Cancel()
	}
	g.release(members)

	g.state.Store(int32(Stopped))
	g.logger.Info("monitor group stopped", zap.Int("sources", len(members)))
}

func (g *Group) release(members []*member) {
	for _, m := range members {
		if err := m.src.Close(); err != nil {
			g.logger.Warn("close source failed", zap.String("producer", m.src.Identity().ID), zap.Error(err))
		}
		g.registry.Unregister(m.src)
	}
}

// tick samples every owned source with the given period. Sources are sampled
// in parallel; each source belongs to exactly one serial tick, so its samples
// never overlap.
func (g *Group) tick(ctx context.Context, period time.Duration) {
	g.mu.RLock()
	batch := make([]*member, 0, len(g.members))
	for _, m := range g.members {
		if m.period == period {
			batch = append(batch, m)
		}
	}
	g.mu.RUnlock()

	if len(batch) == 0 {
		return
	}

	p := pool.New().WithMaxGoroutines(g.parallelism)
	for _, m := range batch {
		m := m
		p.Go(func() { g.sample(ctx, m.src) })
	}
	p.Wait()
}

func (g *Group) sample(ctx context.Context, src Source) {
	id := src.Identity().ID
	start := g.scheduler.Clock().Now()

	err := func() (err error) {
		defer func() {
			if rec := recover(); rec != nil {
				err = fmt.Errorf("sample panicked: %v", rec)
			}
		}()
		return src.Sample(ctx)
	}()

	if g.metrics != nil {
		g.metrics.Duration.WithLabelValues(g.id).Observe(g.scheduler.Clock().Since(start).Seconds())
	}
	if err == nil {
		return
	}
	if errors.Is(err, ErrSourceClosed) || ctx.Err() != nil {
		g.logger.Debug("sample discarded", zap.String("producer", id), zap.Error(err))
		return
	}
	if g.metrics != nil {
		g.metrics.Errors.WithLabelValues(id).Inc()
	}
	g.logger.Warn("sample failed, keeping last snapshot", zap.String("producer", id), zap.Error(err))
}

func distinctPeriods(members []*member) []time.Duration {
	seen := map[time.Duration]struct{}{}
	var out []time.Duration
	for _, m := range members {
		if _, ok := seen[m.period]; !ok {
			seen[m.period] = struct{}{}
			out = append(out, m.period)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
