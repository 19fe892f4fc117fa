package metrics

import "context"

func NewNoopMetricRegistry() MetricRegistry {
	return &noopRegistry{}
}

type noopRegistry struct{}

func (r *noopRegistry) Record(spec *MetricSpec, value float64, dimensions map[string]string) {}

func (r *noopRegistry) Emit(ctx context.Context) error {
	return nil
}
