package monitor

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/stats-agent/pkg/metrics"
)

// SamplingMetrics are the agent's own sampling metrics shared by all groups.
type SamplingMetrics struct {
	Errors   *prometheus.CounterVec   // per producer
	Duration *prometheus.HistogramVec // per group
}

// NewSamplingMetrics registers the sampling metrics on f.
func NewSamplingMetrics(f *metrics.MetricFactory) *SamplingMetrics {
	return &SamplingMetrics{
		Errors:   f.NewSampleErrorsTotal(),
		Duration: f.NewSampleDurationSeconds(),
	}
}
