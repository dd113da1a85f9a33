package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// Registers 隔离 Prometheus 的具体实现，单测可替换。
type Registers interface {
	prometheus.Registerer
	prometheus.Gatherer
}

// promRegistry Prometheus 实现，内部包裹了官方的 *prometheus.Registry
type promRegistry struct {
	registry *prometheus.Registry
}

// NewPromRegistry 创建 Prometheus 指标注册器
func NewPromRegistry(registry *prometheus.Registry) Registers {
	return &promRegistry{registry: registry}
}

// MustRegister 实现 prometheus.Registerer, panics on the first failing collector.
func (p *promRegistry) MustRegister(collectors ...prometheus.Collector) {
	for _, c := range collectors {
		if err := p.registry.Register(c); err != nil {
			panic(err)
		}
	}
}

func (p *promRegistry) Register(collector prometheus.Collector) error {
	return p.registry.Register(collector)
}

func (p *promRegistry) Unregister(collector prometheus.Collector) bool {
	return p.registry.Unregister(collector)
}

func (p *promRegistry) Gather() ([]*dto.MetricFamily, error) {
	return p.registry.Gather()
}
