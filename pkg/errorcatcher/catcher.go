package errorcatcher

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/stats-agent/pkg/config"
	"github.com/stats-agent/pkg/logger"
)

// Backend names accepted in errors.backends.
const (
	BackendMemory = "memory"
	BackendLog    = "log"
	BackendStore  = "store"
)

var ErrUnknownBackend = errors.New("unknown catcher backend")

// Catcher is one place caught errors go to.
type Catcher interface {
	Name() string
	// Record stores c. A failure means c was not recorded.
	Record(ctx context.Context, c CaughtError) error
	// List returns the recorded errors in a stable order.
	List(ctx context.Context) ([]CaughtError, error)
	// Count returns how many errors were recorded.
	Count(ctx context.Context) (int, error)
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithClock sets the clock stamping caught errors.
func WithClock(c clockwork.Clock) RecorderOption {
	return func(r *Recorder) { r.clock = c }
}

// WithRecorderLogger sets the logger.
func WithRecorderLogger(l *zap.Logger) RecorderOption {
	return func(r *Recorder) { r.logger = l }
}

// WithCaughtErrorsTotal counts recorded errors by backend and outcome.
func WithCaughtErrorsTotal(c *prometheus.CounterVec) RecorderOption {
	return func(r *Recorder) { r.caught = c }
}

// Recorder turns Go errors into CaughtErrors and hands them to a Catcher.
type Recorder struct {
	catcher Catcher
	clock   clockwork.Clock
	logger  *zap.Logger
	caught  *prometheus.CounterVec
}

// NewRecorder wraps c.
func NewRecorder(c Catcher, opts ...RecorderOption) *Recorder {
	r := &Recorder{catcher: c, clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = logger.Named("errorcatcher")
	}
	return r
}

// Add records err with the tags carried by ctx merged with tags. A nil err
// is ignored.
func (r *Recorder) Add(ctx context.Context, err error, tags map[string]string) error {
	if err == nil {
		return nil
	}
	c := NewCaughtError(err, mergeTags(TagsFromContext(ctx), tags), r.clock.Now())

	recErr := r.catcher.Record(ctx, c)
	if r.caught != nil {
		outcome := "ok"
		if recErr != nil {
			outcome = "failed"
		}
		r.caught.WithLabelValues(r.catcher.Name(), outcome).Inc()
	}
	if recErr != nil {
		r.logger.Error("error not recorded",
			zap.String("catcher", r.catcher.Name()),
			zap.String("class", c.ClassName()),
			zap.Error(recErr))
	}
	return recErr
}

func (r *Recorder) Name() string { return r.catcher.Name() }

func (r *Recorder) List(ctx context.Context) ([]CaughtError, error) { return r.catcher.List(ctx) }

func (r *Recorder) Count(ctx context.Context) (int, error) { return r.catcher.Count(ctx) }

// Catcher returns the wrapped catcher.
func (r *Recorder) Catcher() Catcher { return r.catcher }

// New builds the catcher described by cfg. store is required when the store
// backend is listed. A single backend is returned as is; several are wrapped
// in a Composite whose primary is the first one.
func New(cfg config.ErrorsConfig, store DocumentStore, l *zap.Logger) (Catcher, error) {
	if l == nil {
		l = logger.Named("errorcatcher")
	}
	backends := make([]Catcher, 0, len(cfg.Backends))
	for _, name := range cfg.Backends {
		switch strings.ToLower(name) {
		case BackendMemory:
			backends = append(backends, NewMemoryCatcher(cfg.MaxEntries))
		case BackendLog:
			backends = append(backends, NewLogCatcher(l))
		case BackendStore:
			if store == nil {
				return nil, fmt.Errorf("%w: store backend without a document store", ErrUnknownBackend)
			}
			backends = append(backends, NewStoreCatcher(store, WithStoreLogger(l)))
		default:
			return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, name)
		}
	}
	switch len(backends) {
	case 0:
		return nil, fmt.Errorf("%w: no backend configured", ErrUnknownBackend)
	case 1:
		return backends[0], nil
	default:
		return NewComposite(backends...), nil
	}
}
