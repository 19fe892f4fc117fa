package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"
)

type fakeCloudWatch struct {
	inputs []*cloudwatch.PutMetricDataInput
	err    error
}

func (f *fakeCloudWatch) PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.inputs = append(f.inputs, params)
	return &cloudwatch.PutMetricDataOutput{}, nil
}

func TestCloudWatchRegistry_Emit(t *testing.T) {
	cw := &fakeCloudWatch{}
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r := NewCloudWatchRegistry(cw)
	r.clock = testingclock.NewFakePassiveClock(now)

	specs := BenchmarkSpecsFor("tensorflow")
	r.Record(specs.PerNodeThroughput, 2600.5, map[string]string{"processor": "gpu", "framework": "tensorflow"})
	r.Record(specs.Passed, 1, nil)
	assert.Equal(t, 2, r.GetRegistered())

	require.NoError(t, r.Emit(context.TODO()))
	assert.Equal(t, 0, r.GetRegistered())
	require.Len(t, cw.inputs, 1)
	input := cw.inputs[0]
	assert.Equal(t, "dlc-benchmark/tensorflow", aws.ToString(input.Namespace))
	require.Len(t, input.MetricData, 2)

	datum := input.MetricData[0]
	assert.Equal(t, "PerNodeThroughput", aws.ToString(datum.MetricName))
	assert.Equal(t, types.StandardUnitCountSecond, datum.Unit)
	assert.Equal(t, 2600.5, aws.ToFloat64(datum.Value))
	assert.Equal(t, now, aws.ToTime(datum.Timestamp))
	require.Len(t, datum.Dimensions, 2)
	assert.Equal(t, "framework", aws.ToString(datum.Dimensions[0].Name))
	assert.Equal(t, "processor", aws.ToString(datum.Dimensions[1].Name))
	assert.Empty(t, input.MetricData[1].Dimensions)
}

func TestCloudWatchRegistry_Batches(t *testing.T) {
	cw := &fakeCloudWatch{}
	r := NewCloudWatchRegistry(cw)
	spec := &MetricSpec{Namespace: "ns", Metric: "m", Unit: types.StandardUnitCount}
	for i := 0; i < 2500; i++ {
		r.Record(spec, float64(i), nil)
	}
	require.NoError(t, r.Emit(context.TODO()))
	require.Len(t, cw.inputs, 3)
	assert.Len(t, cw.inputs[0].MetricData, 1000)
	assert.Len(t, cw.inputs[1].MetricData, 1000)
	assert.Len(t, cw.inputs[2].MetricData, 500)
	assert.Equal(t, float64(2499), aws.ToFloat64(cw.inputs[2].MetricData[499].Value))
}

func TestCloudWatchRegistry_EmitErrorKeepsData(t *testing.T) {
	cw := &fakeCloudWatch{err: errors.New("throttled")}
	r := NewCloudWatchRegistry(cw)
	r.Record(&MetricSpec{Namespace: "ns", Metric: "m"}, 1, nil)
	assert.Error(t, r.Emit(context.TODO()))
	assert.Equal(t, 1, r.GetRegistered())
}

func TestNoopRegistry(t *testing.T) {
	r := NewNoopMetricRegistry()
	r.Record(&MetricSpec{Namespace: "ns", Metric: "m"}, 1, nil)
	assert.NoError(t, r.Emit(context.TODO()))
}
