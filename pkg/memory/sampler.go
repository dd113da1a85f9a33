package memory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/stats-agent/pkg/logger"
	"github.com/stats-agent/pkg/producers"
	"github.com/stats-agent/pkg/scheduler"
)

type module struct {
	name    string
	newFunc func() (Reader, error)
}

func builtinModules() []module {
	return []module{
		{name: "Heap", newFunc: func() (Reader, error) { return HeapReader, nil }},
		{name: "Stack", newFunc: func() (Reader, error) { return StackReader, nil }},
		{name: "Process", newFunc: NewProcessReader},
	}
}

// Option configures a Sampler.
type Option func(*Sampler)

func WithLogger(l *zap.Logger) Option {
	return func(s *Sampler) { s.logger = l }
}

// WithPool adds a pool next to the builtin ones.
func WithPool(name string, r Reader) Option {
	return func(s *Sampler) {
		s.extra = append(s.extra, module{name: name, newFunc: func() (Reader, error) { return r, nil }})
	}
}

// WithoutBuiltins leaves only the pools added with WithPool.
func WithoutBuiltins() Option {
	return func(s *Sampler) { s.noBuiltins = true }
}

// Sampler registers the memory pools and samples them on the shared scheduler.
type Sampler struct {
	registry   *producers.Registry
	logger     *zap.Logger
	extra      []module
	noBuiltins bool

	pools []*Pool
	reg   *scheduler.Registration
}

// Start registers every pool and schedules sampling every interval, the
// first sample running immediately. A pool that cannot be opened is skipped.
func Start(registry *producers.Registry, sched *scheduler.Scheduler, interval time.Duration, opts ...Option) (*Sampler, error) {
	s := &Sampler{registry: registry}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Named("memory")
	}

	modules := s.extra
	if !s.noBuiltins {
		modules = append(builtinModules(), s.extra...)
	}
	for _, m := range modules {
		r, err := m.newFunc()
		if err != nil {
			s.logger.Warn("memory pool unavailable, skipping", zap.String("pool", m.name), zap.Error(err))
			continue
		}
		p := NewPool(m.name, r)
		if err := registry.Register(p); err != nil {
			s.logger.Warn("cannot register memory pool", zap.String("pool", m.name), zap.Error(err))
			continue
		}
		s.pools = append(s.pools, p)
	}
	if len(s.pools) == 0 {
		return nil, errors.New("no memory pool available")
	}

	reg, err := sched.Schedule("memory", interval, s.sampleAll)
	if err != nil {
		s.unregister()
		return nil, fmt.Errorf("schedule memory pools: %w", err)
	}
	s.reg = reg

	names := make([]string, 0, len(s.pools))
	for _, p := range s.pools {
		names = append(names, p.Identity().ID)
	}
	s.logger.Info("memory pools registered", zap.Strings("producers", names), zap.Duration("interval", interval))
	return s, nil
}

// Pools returns the registered pools.
func (s *Sampler) Pools() []*Pool { return s.pools }

func (s *Sampler) sampleAll(ctx context.Context) {
	for _, p := range s.pools {
		if err := p.Sample(ctx); err != nil {
			s.logger.Warn("sample failed, keeping last snapshot", zap.String("producer", p.Identity().ID), zap.Error(err))
		}
	}
}

// Stop cancels sampling and unregisters the pools.
func (s *Sampler) Stop() {
	if s.reg != nil {
		s.reg.Cancel()
	}
	s.unregister()
}

func (s *Sampler) unregister() {
	for _, p := range s.pools {
		s.registry.Unregister(p)
	}
}
