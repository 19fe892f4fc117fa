package metrics

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"k8s.io/klog/v2"
	"k8s.io/utils/clock"
)

// maxDataPerPut is the PutMetricData limit on data per request.
const maxDataPerPut = 1000

type CloudWatchAPI interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// NewCloudWatchRegistry creates a new metric registry that will emit values using the specified cloudwatch client
func NewCloudWatchRegistry(cw CloudWatchAPI) *CloudWatchRegistry {
	return &CloudWatchRegistry{
		cw:              cw,
		clock:           clock.RealClock{},
		dataByNamespace: make(map[string][]*cloudwatchMetricDatum),
	}
}

type CloudWatchRegistry struct {
	cw              CloudWatchAPI
	clock           clock.PassiveClock
	lock            sync.Mutex
	dataByNamespace map[string][]*cloudwatchMetricDatum
}

type cloudwatchMetricDatum struct {
	spec       *MetricSpec
	value      float64
	dimensions map[string]string
	timestamp  time.Time
}

func (r *CloudWatchRegistry) Record(spec *MetricSpec, value float64, dimensions map[string]string) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.dataByNamespace[spec.Namespace] = append(r.dataByNamespace[spec.Namespace], &cloudwatchMetricDatum{
		spec:       spec,
		value:      value,
		dimensions: dimensions,
		timestamp:  r.clock.Now(),
	})
}

func (r *CloudWatchRegistry) Emit(ctx context.Context) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	for namespace, data := range r.dataByNamespace {
		for start := 0; start < len(data); start += maxDataPerPut {
			end := start + maxDataPerPut
			if end > len(data) {
				end = len(data)
			}
			metricData := make([]types.MetricDatum, 0, end-start)
			for _, datum := range data[start:end] {
				metricData = append(metricData, types.MetricDatum{
					MetricName: aws.String(datum.spec.Metric),
					Unit:       datum.spec.Unit,
					Value:      aws.Float64(datum.value),
					Dimensions: toDimensions(datum.dimensions),
					Timestamp:  aws.Time(datum.timestamp),
				})
			}
			_, err := r.cw.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
				Namespace:  aws.String(namespace),
				MetricData: metricData,
			})
			if err != nil {
				return err
			}
		}
		klog.Infof("emitted %d metrics to namespace: %s", len(data), namespace)
		delete(r.dataByNamespace, namespace)
	}
	return nil
}

func (r *CloudWatchRegistry) GetRegistered() int {
	r.lock.Lock()
	defer r.lock.Unlock()
	registered := 0
	for _, data := range r.dataByNamespace {
		registered += len(data)
	}
	return registered
}

// dimensions are sorted by name so repeated emits produce identical requests
func toDimensions(dims map[string]string) []types.Dimension {
	keys := make([]string, 0, len(dims))
	for key := range dims {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	dimensions := make([]types.Dimension, 0, len(keys))
	for _, key := range keys {
		dimensions = append(dimensions, types.Dimension{
			Name:  aws.String(key),
			Value: aws.String(dims[key]),
		})
	}
	return dimensions
}
