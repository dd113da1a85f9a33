package metrics

// MetricFactory creates the agent's own metrics (counter/gauge/histogram) and
// registers them on construction.
type MetricFactory struct {
	reg Registers
}

// NewMetricFactory creates a factory bound to reg.
func NewMetricFactory(reg Registers) *MetricFactory {
	return &MetricFactory{reg: reg}
}

// Registry returns the registerer the factory writes to.
func (m *MetricFactory) Registry() Registers {
	return m.reg
}
