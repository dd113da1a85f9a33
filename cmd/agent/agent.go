package agent

import (
	"context"
	"fmt"
	"os"
	"slices"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/stats-agent/internal/server"
	"github.com/stats-agent/pkg/config"
	"github.com/stats-agent/pkg/errorcatcher"
	"github.com/stats-agent/pkg/errorcatcher/natsstore"
	"github.com/stats-agent/pkg/exporter"
	"github.com/stats-agent/pkg/logger"
	"github.com/stats-agent/pkg/memory"
	"github.com/stats-agent/pkg/metrics"
	"github.com/stats-agent/pkg/monitor"
	"github.com/stats-agent/pkg/nginx"
	"github.com/stats-agent/pkg/producers"
	"github.com/stats-agent/pkg/scheduler"
)

// Agent holds the long-lived components of the process.
type Agent struct {
	cfg    *config.Config
	logger *zap.Logger

	producers *producers.Registry
	scheduler *scheduler.Scheduler
	manager   *monitor.Manager
	memory    *memory.Sampler
	store     *natsstore.Store
	errors    *errorcatcher.Recorder
	server    *server.HTTPServer
}

// New wires every component from cfg. Nothing samples or listens before Start.
func New(ctx context.Context, cfg *config.Config) (*Agent, error) {
	a := &Agent{
		cfg:       cfg,
		logger:    logger.Named("agent"),
		producers: producers.NewRegistry(),
		scheduler: scheduler.New(),
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	promReg.MustRegister(exporter.New(a.producers))
	factory := metrics.NewMetricFactory(metrics.NewPromRegistry(promReg))
	factory.NewRegisteredProducers(func() float64 { return float64(a.producers.Len()) })

	var store errorcatcher.DocumentStore
	if slices.Contains(cfg.Errors.Backends, errorcatcher.BackendStore) {
		s, err := natsstore.Open(ctx, cfg.Errors.Store, logger.Named("natsstore"))
		if err != nil {
			return nil, fmt.Errorf("open error store: %w", err)
		}
		a.store, store = s, s
	}
	catcher, err := errorcatcher.New(cfg.Errors, store, logger.Named("errorcatcher"))
	if err != nil {
		a.closeStore()
		return nil, fmt.Errorf("build error catcher: %w", err)
	}
	a.errors = errorcatcher.NewRecorder(catcher, errorcatcher.WithCaughtErrorsTotal(factory.NewCaughtErrorsTotal()))

	a.manager = monitor.NewManager(a.producers, a.scheduler,
		monitor.WithMetrics(monitor.NewSamplingMetrics(factory)))
	a.manager.RegisterKind(nginx.Kind, nginx.Builder(nginx.WithClock(a.scheduler.Clock())))

	a.server = server.NewHTTPServer(cfg.Server, server.Deps{
		Gatherer:  promReg,
		Producers: a.producers,
		Errors:    a.errors,
	}, logger.Named("server"))
	return a, nil
}

// Start registers the producers and starts serving.
func (a *Agent) Start(ctx context.Context) error {
	if a.cfg.Monitor.Memory.Enable {
		s, err := memory.Start(a.producers, a.scheduler, a.cfg.Monitor.Memory.Interval)
		if err != nil {
			a.logger.Warn("memory pools disabled", zap.Error(err))
		} else {
			a.memory = s
		}
	}

	if err := a.manager.Apply(a.cfg.Monitor.Groups); err != nil {
		a.logger.Warn("some monitor groups failed to start", zap.Error(err))
		a.record(ctx, err, "monitor")
	}

	if err := a.server.Start(); err != nil {
		return err
	}
	a.logger.Info("agent started",
		zap.Int("producers", a.producers.Len()),
		zap.Int("groups", len(a.manager.Groups())),
		zap.String("errors", a.errors.Name()))
	return nil
}

// Reload converges the monitor groups to a new configuration.
func (a *Agent) Reload(cfg *config.Config) {
	a.logger.Info("configuration changed, applying monitor groups", zap.Int("groups", len(cfg.Monitor.Groups)))
	if err := a.manager.Apply(cfg.Monitor.Groups); err != nil {
		a.logger.Warn("reload incomplete", zap.Error(err))
		a.record(context.Background(), err, "reload")
	}
}

// ReloadFailed records an invalid configuration change.
func (a *Agent) ReloadFailed(err error) {
	a.logger.Error("configuration change rejected, keeping the running one", zap.Error(err))
	a.record(context.Background(), err, "reload")
}

func (a *Agent) record(ctx context.Context, err error, component string) {
	if addErr := a.errors.Add(ctx, err, map[string]string{"component": component}); addErr != nil {
		a.logger.Warn("cannot record error", zap.Error(addErr))
	}
}

// Shutdown stops serving, then sampling, then closes the error store.
func (a *Agent) Shutdown(ctx context.Context) error {
	errs := a.server.Shutdown(ctx)
	errs = multierr.Append(errs, a.manager.Shutdown())
	if a.memory != nil {
		a.memory.Stop()
	}
	a.scheduler.Shutdown()
	errs = multierr.Append(errs, a.closeStore())
	return errs
}

func (a *Agent) closeStore() error {
	if a.store == nil {
		return nil
	}
	return a.store.Close()
}

func printStartupError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
}
