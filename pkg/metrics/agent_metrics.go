package metrics

import "github.com/prometheus/client_golang/prometheus"

// NewSampleErrorsTotal counts failed samples (fetch, parse or panic) per producer.
// A growing counter next to an unchanged last_update_timestamp marks a stale producer.
func (m *MetricFactory) NewSampleErrorsTotal() *prometheus.CounterVec {
	c := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "agent_sample_errors_total",
		Help: "Total failed samples per producer",
	}, []string{"producer"})
	m.reg.MustRegister(c)
	return c
}

// NewSampleDurationSeconds records how long one sample takes per group.
//
// Buckets: prometheus.DefBuckets, 5ms to 10s, which covers a status page
// fetch up to the default fetch timeout.
func (m *MetricFactory) NewSampleDurationSeconds() *prometheus.HistogramVec {
	h := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "agent_sample_duration_seconds",
		Help:    "Sample duration per monitor group",
		Buckets: prometheus.DefBuckets,
	}, []string{"group"})
	m.reg.MustRegister(h)
	return h
}

// NewCaughtErrorsTotal counts errors recorded per catcher backend and outcome
// ("ok" or "failed").
func (m *MetricFactory) NewCaughtErrorsTotal() *prometheus.CounterVec {
	c := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "agent_caught_errors_total",
		Help: "Errors recorded per catcher backend",
	}, []string{"backend", "outcome"})
	m.reg.MustRegister(c)
	return c
}

// NewRegisteredProducers tracks the registry size.
func (m *MetricFactory) NewRegisteredProducers(fn func() float64) prometheus.GaugeFunc {
	g := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "agent_registered_producers",
		Help: "Number of producers currently registered",
	}, fn)
	m.reg.MustRegister(g)
	return g
}
