// Package nginx samples nginx stub_status pages into producers.
package nginx

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/stats-agent/pkg/config"
	"github.com/stats-agent/pkg/logger"
	"github.com/stats-agent/pkg/monitor"
	"github.com/stats-agent/pkg/producers"
)

const (
	// Kind is the group kind served by this package.
	Kind = "nginx"

	idPrefix  = "NginxMonitor"
	category  = "monitor"
	subsystem = "proxy"

	maxBodySize = 64 << 10
)

// ErrFetch marks a failed status page request: transport error or non-200 answer.
var ErrFetch = errors.New("status fetch failed")

// Snapshot is the last parsed status page. A zero LastUpdate means the target
// was never sampled successfully.
type Snapshot struct {
	Status
	LastUpdate time.Time
}

func (s *Snapshot) Kind() string { return Kind }

func (s *Snapshot) Sampled() bool { return !s.LastUpdate.IsZero() }

func (s *Snapshot) Values() []producers.Value {
	var ts float64
	if !s.LastUpdate.IsZero() {
		ts = float64(s.LastUpdate.UnixNano()) / 1e9
	}
	return []producers.Value{
		{Name: "active_connections", Help: "Open client connections including waiting ones", Type: producers.Gauge, Value: float64(s.Active)},
		{Name: "accepted_connections_total", Help: "Accepted client connections", Type: producers.Counter, Value: float64(s.Accepted)},
		{Name: "handled_connections_total", Help: "Handled client connections", Type: producers.Counter, Value: float64(s.Handled)},
		{Name: "requests_total", Help: "Client requests", Type: producers.Counter, Value: float64(s.Requests)},
		{Name: "reading_connections", Help: "Connections reading the request header", Type: producers.Gauge, Value: float64(s.Reading)},
		{Name: "writing_connections", Help: "Connections writing the response", Type: producers.Gauge, Value: float64(s.Writing)},
		{Name: "waiting_connections", Help: "Idle keep-alive connections", Type: producers.Gauge, Value: float64(s.Waiting)},
		{Name: "last_update_timestamp_seconds", Help: "Unix time of the last successful sample", Type: producers.Gauge, Value: ts},
	}
}

// Monitor is the producer of one nginx target.
type Monitor struct {
	id      producers.Identity
	target  config.TargetConfig
	timeout time.Duration
	client  *http.Client
	clock   clockwork.Clock
	logger  *zap.Logger

	snapshot atomic.Pointer[Snapshot]
	closed   atomic.Bool
}

// NewMonitor creates the producer of target with an empty snapshot.
func NewMonitor(target config.TargetConfig, timeout time.Duration, client *http.Client, clock clockwork.Clock, l *zap.Logger) *Monitor {
	if client == nil {
		client = http.DefaultClient
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if l == nil {
		l = logger.Named("nginx")
	}
	m := &Monitor{
		id:      producers.NewIdentity(idPrefix, target.Name, category, subsystem),
		target:  target,
		timeout: timeout,
		client:  client,
		clock:   clock,
		logger:  l,
	}
	m.snapshot.Store(&Snapshot{})
	return m
}

func (m *Monitor) Identity() producers.Identity { return m.id }

func (m *Monitor) Snapshot() producers.Snapshot { return m.snapshot.Load() }

// Stats returns a copy of the current snapshot.
func (m *Monitor) Stats() Snapshot { return *m.snapshot.Load() }

// Sample fetches and parses the status page. On failure the previous
// snapshot, including its LastUpdate, stays in place.
func (m *Monitor) Sample(ctx context.Context) error {
	if m.closed.Load() {
		return monitor.ErrSourceClosed
	}

	body, err := m.fetch(ctx)
	if err != nil {
		return err
	}
	st, err := ParseStatus(body)
	if err != nil {
		return fmt.Errorf("%s: %w", m.target.Location, err)
	}

	if m.closed.Load() {
		return monitor.ErrSourceClosed
	}
	m.snapshot.Store(&Snapshot{Status: st, LastUpdate: m.clock.Now()})
	m.logger.Debug("status sampled",
		zap.String("producer", m.id.ID),
		zap.Uint64("active", st.Active),
		zap.Uint64("requests", st.Requests))
	return nil
}

func (m *Monitor) fetch(ctx context.Context) (string, error) {
	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.target.Location, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrFetch, m.target.Location, err)
	}
	if m.target.Username != "" || m.target.Password != "" {
		req.SetBasicAuth(m.target.Username, m.target.Password)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrFetch, m.target.Location, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodySize))
		return "", fmt.Errorf("%w: %s: unexpected status %d", ErrFetch, m.target.Location, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return "", fmt.Errorf("%w: %s: read body: %w", ErrFetch, m.target.Location, err)
	}
	return string(data), nil
}

// Close discards any sample still in flight.
func (m *Monitor) Close() error {
	m.closed.Store(true)
	return nil
}

// Option configures a Factory.
type Option func(*Factory)

// WithClock sets the clock stamping LastUpdate.
func WithClock(c clockwork.Clock) Option {
	return func(f *Factory) { f.clock = c }
}

// WithLogger sets the logger handed to every monitor.
func WithLogger(l *zap.Logger) Option {
	return func(f *Factory) { f.logger = l }
}

// Factory builds the monitors of one group over a group-private transport.
type Factory struct {
	transport *http.Transport
	client    *http.Client
	clock     clockwork.Clock
	logger    *zap.Logger
}

// NewFactory creates a factory with its own connection pool.
func NewFactory(opts ...Option) *Factory {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	f := &Factory{
		transport: transport,
		client:    &http.Client{Transport: transport},
		clock:     clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.logger == nil {
		f.logger = logger.Named("nginx")
	}
	return f
}

// Builder adapts NewFactory to monitor.FactoryBuilder.
func Builder(opts ...Option) monitor.FactoryBuilder {
	return func(config.GroupConfig) (monitor.SourceFactory, error) {
		return NewFactory(opts...), nil
	}
}

// NewSource builds the monitor of target. Requests time out after the group
// fetch timeout, or the update period when none is set.
func (f *Factory) NewSource(group config.GroupConfig, target config.TargetConfig) (monitor.Source, error) {
	if target.Name == "" {
		return nil, errors.New("target name cannot be empty")
	}
	timeout := group.FetchTimeout
	if timeout <= 0 {
		timeout = target.Period(group.UpdatePeriod)
	}
	return NewMonitor(target, timeout, f.client, f.clock, f.logger), nil
}

// Close drops idle connections of the group.
func (f *Factory) Close() error {
	f.transport.CloseIdleConnections()
	return nil
}
