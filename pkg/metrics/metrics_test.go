package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFactoryRegistersAgentMetrics(t *testing.T) {
	reg := NewPromRegistry(prometheus.NewRegistry())
	f := NewMetricFactory(reg)

	errs := f.NewSampleErrorsTotal()
	dur := f.NewSampleDurationSeconds()
	caught := f.NewCaughtErrorsTotal()
	f.NewRegisteredProducers(func() float64 { return 3 })

	errs.WithLabelValues("NginxMonitor-lb1").Inc()
	dur.WithLabelValues("edge").Observe(0.2)
	caught.WithLabelValues("memory", "ok").Add(2)

	assert.Equal(t, 1.0, testutil.ToFloat64(errs.WithLabelValues("NginxMonitor-lb1")))
	assert.Equal(t, 2.0, testutil.ToFloat64(caught.WithLabelValues("memory", "ok")))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	assert.True(t, names["agent_sample_errors_total"])
	assert.True(t, names["agent_sample_duration_seconds"])
	assert.True(t, names["agent_caught_errors_total"])
	assert.True(t, names["agent_registered_producers"])
}

func TestMustRegisterPanicsOnDuplicate(t *testing.T) {
	f := NewMetricFactory(NewPromRegistry(prometheus.NewRegistry()))
	f.NewSampleErrorsTotal()
	assert.Panics(t, func() { f.NewSampleErrorsTotal() })
}
