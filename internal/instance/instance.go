// Package instance looks up the accelerators of EC2 and SageMaker instance types.
package instance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/dlc-tester/internal/benchmark"
	"github.com/aws/smithy-go"
	"k8s.io/klog/v2"
)

// ErrUnknownInstanceType is returned when EC2 does not recognize an instance type.
var ErrUnknownInstanceType = errors.New("unknown instance type")

type EC2API interface {
	DescribeInstanceTypes(ctx context.Context, params *ec2.DescribeInstanceTypesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstanceTypesOutput, error)
}

// Info is what a benchmark needs to know about an instance type.
type Info struct {
	InstanceType  string
	VCPUs         int
	GPUs          int
	NeuronDevices int
}

// Processor is the device class the instance type provides.
func (i *Info) Processor() benchmark.Processor {
	switch {
	case i.NeuronDevices > 0 && strings.HasPrefix(i.InstanceType, "inf1."):
		return benchmark.ProcessorNeuron
	case i.NeuronDevices > 0:
		return benchmark.ProcessorNeuronX
	case i.GPUs > 0:
		return benchmark.ProcessorGPU
	default:
		return benchmark.ProcessorCPU
	}
}

// Resolver describes instance types and caches the answers.
type Resolver struct {
	client EC2API

	lock  sync.Mutex
	cache map[string]*Info
}

func NewResolver(client EC2API) *Resolver {
	return &Resolver{
		client: client,
		cache:  make(map[string]*Info),
	}
}

// Describe returns the accelerators of instanceType. SageMaker's "ml." prefix is ignored.
func (r *Resolver) Describe(ctx context.Context, instanceType string) (*Info, error) {
	ec2InstanceType := strings.TrimPrefix(instanceType, "ml.")
	r.lock.Lock()
	defer r.lock.Unlock()
	if info, ok := r.cache[ec2InstanceType]; ok {
		return info, nil
	}
	out, err := r.client.DescribeInstanceTypes(ctx, &ec2.DescribeInstanceTypesInput{
		InstanceTypes: []ec2types.InstanceType{ec2types.InstanceType(ec2InstanceType)},
	})
	if err != nil {
		var apierr smithy.APIError
		if errors.As(err, &apierr) && apierr.ErrorCode() == "InvalidInstanceType" {
			return nil, fmt.Errorf("%w: %s", ErrUnknownInstanceType, instanceType)
		}
		return nil, fmt.Errorf("failed to describe instance type: %s: %v", instanceType, err)
	}
	if len(out.InstanceTypes) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownInstanceType, instanceType)
	}
	info := toInfo(ec2InstanceType, out.InstanceTypes[0])
	klog.Infof("instance type %s has %d GPU(s) and %d Neuron device(s)", instanceType, info.GPUs, info.NeuronDevices)
	r.cache[ec2InstanceType] = info
	return info, nil
}

func toInfo(instanceType string, typeInfo ec2types.InstanceTypeInfo) *Info {
	info := &Info{InstanceType: instanceType}
	if typeInfo.VCpuInfo != nil {
		info.VCPUs = int(aws.ToInt32(typeInfo.VCpuInfo.DefaultVCpus))
	}
	if typeInfo.GpuInfo != nil {
		for _, gpu := range typeInfo.GpuInfo.Gpus {
			info.GPUs += int(aws.ToInt32(gpu.Count))
		}
	}
	if typeInfo.NeuronInfo != nil {
		for _, device := range typeInfo.NeuronInfo.NeuronDevices {
			info.NeuronDevices += int(aws.ToInt32(device.Count))
		}
	}
	if info.NeuronDevices == 0 && typeInfo.InferenceAcceleratorInfo != nil {
		for _, accelerator := range typeInfo.InferenceAcceleratorInfo.Accelerators {
			info.NeuronDevices += int(aws.ToInt32(accelerator.Count))
		}
	}
	return info
}
