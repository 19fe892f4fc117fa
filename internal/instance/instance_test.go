package instance

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/dlc-tester/internal/benchmark"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEC2 struct {
	types     map[string]ec2types.InstanceTypeInfo
	requested []string
	err       error
}

func (f *fakeEC2) DescribeInstanceTypes(ctx context.Context, params *ec2.DescribeInstanceTypesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstanceTypesOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := &ec2.DescribeInstanceTypesOutput{}
	for _, it := range params.InstanceTypes {
		f.requested = append(f.requested, string(it))
		info, ok := f.types[string(it)]
		if !ok {
			return nil, &smithy.GenericAPIError{Code: "InvalidInstanceType", Message: "not supported"}
		}
		out.InstanceTypes = append(out.InstanceTypes, info)
	}
	return out, nil
}

func newFakeEC2() *fakeEC2 {
	return &fakeEC2{types: map[string]ec2types.InstanceTypeInfo{
		"p3.16xlarge": {
			VCpuInfo: &ec2types.VCpuInfo{DefaultVCpus: aws.Int32(64)},
			GpuInfo: &ec2types.GpuInfo{Gpus: []ec2types.GpuDeviceInfo{
				{Count: aws.Int32(8), Manufacturer: aws.String("NVIDIA")},
			}},
		},
		"c5.18xlarge": {
			VCpuInfo: &ec2types.VCpuInfo{DefaultVCpus: aws.Int32(72)},
		},
		"trn1.32xlarge": {
			NeuronInfo: &ec2types.NeuronInfo{NeuronDevices: []ec2types.NeuronDeviceInfo{
				{Count: aws.Int32(16)},
			}},
		},
		"inf1.xlarge": {
			InferenceAcceleratorInfo: &ec2types.InferenceAcceleratorInfo{Accelerators: []ec2types.InferenceDeviceInfo{
				{Count: aws.Int32(1)},
			}},
		},
	}}
}

func TestDescribe(t *testing.T) {
	tests := []struct {
		instanceType string
		gpus         int
		neuron       int
		processor    benchmark.Processor
	}{
		{instanceType: "ml.p3.16xlarge", gpus: 8, processor: benchmark.ProcessorGPU},
		{instanceType: "c5.18xlarge", processor: benchmark.ProcessorCPU},
		{instanceType: "ml.trn1.32xlarge", neuron: 16, processor: benchmark.ProcessorNeuronX},
		{instanceType: "inf1.xlarge", neuron: 1, processor: benchmark.ProcessorNeuron},
	}
	r := NewResolver(newFakeEC2())
	for _, tc := range tests {
		t.Run(tc.instanceType, func(t *testing.T) {
			info, err := r.Describe(context.TODO(), tc.instanceType)
			require.NoError(t, err)
			assert.Equal(t, tc.gpus, info.GPUs)
			assert.Equal(t, tc.neuron, info.NeuronDevices)
			assert.Equal(t, tc.processor, info.Processor())
		})
	}
}

func TestDescribe_Caches(t *testing.T) {
	client := newFakeEC2()
	r := NewResolver(client)
	first, err := r.Describe(context.TODO(), "ml.p3.16xlarge")
	require.NoError(t, err)
	second, err := r.Describe(context.TODO(), "p3.16xlarge")
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, []string{"p3.16xlarge"}, client.requested)
}

func TestDescribe_Errors(t *testing.T) {
	r := NewResolver(newFakeEC2())
	_, err := r.Describe(context.TODO(), "ml.x99.huge")
	assert.ErrorIs(t, err, ErrUnknownInstanceType)

	r = NewResolver(&fakeEC2{err: errors.New("dial tcp: timeout")})
	_, err = r.Describe(context.TODO(), "p3.2xlarge")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnknownInstanceType)
}
