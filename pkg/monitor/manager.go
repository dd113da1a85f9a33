package monitor

import (
	"fmt"
	"reflect"
	"sort"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/stats-agent/pkg/config"
	"github.com/stats-agent/pkg/logger"
	"github.com/stats-agent/pkg/producers"
	"github.com/stats-agent/pkg/scheduler"
)

// Manager is the list of live groups, keyed by group id.
type Manager struct {
	registry  *producers.Registry
	scheduler *scheduler.Scheduler
	logger    *zap.Logger
	groupOpts []GroupOption

	mu       sync.Mutex
	builders map[string]FactoryBuilder
	groups   map[string]*Group
}

// NewManager creates an empty manager. groupOpts are applied to every group.
func NewManager(registry *producers.Registry, sched *scheduler.Scheduler, groupOpts ...GroupOption) *Manager {
	return &Manager{
		registry:  registry,
		scheduler: sched,
		logger:    logger.Named("monitor-manager"),
		groupOpts: groupOpts,
		builders:  make(map[string]FactoryBuilder),
		groups:    make(map[string]*Group),
	}
}

// RegisterKind installs the factory builder used for groups of kind.
func (m *Manager) RegisterKind(kind string, b FactoryBuilder) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.builders[kind] = b
}

// Initialize creates, sets up and records a new group.
func (m *Manager) Initialize(cfg config.GroupConfig) (*Group, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.groups[cfg.ID]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateGroup, cfg.ID)
	}
	build, ok := m.builders[cfg.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, cfg.Kind)
	}
	factory, err := build(cfg)
	if err != nil {
		return nil, fmt.Errorf("build source factory for %s: %w", cfg.ID, err)
	}

	g := NewGroup(cfg, factory, m.registry, m.scheduler, m.groupOpts...)
	g.onDeinit = m.remove
	if err := g.Setup(); err != nil {
		_ = factory.Close()
		return nil, err
	}
	m.groups[cfg.ID] = g
	return g, nil
}

// Reconfigure applies cfg to the live group with the same id. A kind change
// replaces the group.
func (m *Manager) Reconfigure(cfg config.GroupConfig) error {
	g, ok := m.Group(cfg.ID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownGroup, cfg.ID)
	}
	if g.Config().Kind != cfg.Kind {
		if err := g.Deinitialize(); err != nil {
			m.logger.Warn("deinitialize replaced group", zap.String("group", cfg.ID), zap.Error(err))
		}
		_, err := m.Initialize(cfg)
		return err
	}
	return g.Reconfigure(cfg)
}

// Deinitialize terminates a group and forgets it.
func (m *Manager) Deinitialize(id string) error {
	g, ok := m.Group(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownGroup, id)
	}
	return g.Deinitialize()
}

// Group looks up a live group.
func (m *Manager) Group(id string) (*Group, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.groups[id]
	return g, ok
}

// Groups returns the live groups sorted by id.
func (m *Manager) Groups() []*Group {
	m.mu.Lock()
	out := make([]*Group, 0, len(m.groups))
	for _, g := range m.groups {
		out = append(out, g)
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Apply converges the live groups to cfgs: new ids are initialized, changed
// ones reconfigured, missing ones deinitialized. Unchanged groups keep their
// sources and history.
func (m *Manager) Apply(cfgs []config.GroupConfig) error {
	wanted := make(map[string]config.GroupConfig, len(cfgs))
	for _, c := range cfgs {
		wanted[c.ID] = c
	}

	var errs error
	for _, g := range m.Groups() {
		if _, keep := wanted[g.ID()]; !keep {
			errs = multierr.Append(errs, g.Deinitialize())
		}
	}

	var added, changed, unchanged int
	for _, c := range cfgs {
		g, ok := m.Group(c.ID)
		switch {
		case !ok:
			_, err := m.Initialize(c)
			errs = multierr.Append(errs, err)
			added++
		case reflect.DeepEqual(g.Config(), c):
			unchanged++
		default:
			errs = multierr.Append(errs, m.Reconfigure(c))
			changed++
		}
	}

	m.logger.Info("monitor groups applied",
		zap.Int("added", added),
		zap.Int("changed", changed),
		zap.Int("unchanged", unchanged),
		zap.Int("live", len(m.Groups())))
	return errs
}

// Shutdown deinitializes every group.
func (m *Manager) Shutdown() error {
	var errs error
	for _, g := range m.Groups() {
		errs = multierr.Append(errs, g.Deinitialize())
	}
	return errs
}

func (m *Manager) remove(g *Group) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if current, ok := m.groups[g.ID()]; ok && current == g {
		delete(m.groups, g.ID())
	}
}
