// Package exporter publishes producer snapshots as Prometheus metrics.
package exporter

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/stats-agent/pkg/logger"
	"github.com/stats-agent/pkg/producers"
)

const defaultNamespace = "stats"

var labels = []string{"producer", "category", "subsystem"}

// Exporter is a prometheus.Collector reading the registry at scrape time.
// Metric names are <namespace>_<snapshot kind>_<value name>. Producers that
// were never sampled export nothing.
type Exporter struct {
	registry  *producers.Registry
	namespace string
	logger    *zap.Logger
}

// Option configures an Exporter.
type Option func(*Exporter)

func WithNamespace(ns string) Option {
	return func(e *Exporter) { e.namespace = ns }
}

func WithLogger(l *zap.Logger) Option {
	return func(e *Exporter) { e.logger = l }
}

func New(registry *producers.Registry, opts ...Option) *Exporter {
	e := &Exporter{registry: registry, namespace: defaultNamespace}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = logger.Named("exporter")
	}
	return e
}

// Describe sends nothing: the set of metrics follows the registry, so the
// collector is unchecked.
func (e *Exporter) Describe(chan<- *prometheus.Desc) {}

func (e *Exporter) Collect(ch chan<- prometheus.Metric) {
	descs := map[string]*prometheus.Desc{}
	for _, p := range e.registry.Producers() {
		id := p.Identity()
		snap := p.Snapshot()
		if !producers.Sampled(snap) {
			continue
		}
		for _, v := range snap.Values() {
			name := prometheus.BuildFQName(e.namespace, snap.Kind(), v.Name)
			desc, ok := descs[name]
			if !ok {
				desc = prometheus.NewDesc(name, v.Help, labels, nil)
				descs[name] = desc
			}
			vt := prometheus.GaugeValue
			if v.Type == producers.Counter {
				vt = prometheus.CounterValue
			}
			m, err := prometheus.NewConstMetric(desc, vt, v.Value, id.ID, id.Category, id.Subsystem)
			if err != nil {
				e.logger.Warn("skipping metric", zap.String("producer", id.ID), zap.String("metric", name), zap.Error(err))
				continue
			}
			ch <- m
		}
	}
}
