package metrics

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

type MetricRegistry interface {
	// Record adds a new metric value to the registry
	Record(spec *MetricSpec, value float64, dimensions map[string]string)
	// Emit sends all registered metric values to the backend, emptying the registry
	Emit(ctx context.Context) error
}

type MetricSpec struct {
	Namespace string
	Metric    string
	Unit      types.StandardUnit
}

// NamespacePrefix is prepended to the framework name to form the namespace of benchmark metrics.
const NamespacePrefix = "dlc-benchmark/"

// Benchmark metrics for one framework.
type BenchmarkSpecs struct {
	PerNodeThroughput *MetricSpec
	Threshold         *MetricSpec
	Passed            *MetricSpec
}

func BenchmarkSpecsFor(framework string) *BenchmarkSpecs {
	namespace := NamespacePrefix + framework
	return &BenchmarkSpecs{
		PerNodeThroughput: &MetricSpec{
			Namespace: namespace,
			Metric:    "PerNodeThroughput",
			Unit:      types.StandardUnitCountSecond,
		},
		Threshold: &MetricSpec{
			Namespace: namespace,
			Metric:    "Threshold",
			Unit:      types.StandardUnitCountSecond,
		},
		Passed: &MetricSpec{
			Namespace: namespace,
			Metric:    "Passed",
			Unit:      types.StandardUnitCount,
		},
	}
}
