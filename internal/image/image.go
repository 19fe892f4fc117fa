// Package image parses deep learning container image URIs.
package image

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/aws/dlc-tester/internal/benchmark"
)

const (
	JobTraining  = "training"
	JobInference = "inference"

	PlatformSageMaker = "sagemaker"
	PlatformEC2       = "ec2"
)

var (
	frameworkVersionPattern = regexp.MustCompile(`(\d+\.\d+(?:\.\d+)?)`)
	cudaVersionPattern      = regexp.MustCompile(`(?:^|-)(cu\d+)(?:-|$)`)
	pythonVersionPattern    = regexp.MustCompile(`(?:^|-)(py\d+)(?:-|$)`)
	frameworks              = []string{
		"huggingface-pytorch",
		"huggingface-tensorflow",
		"stabilityai-pytorch",
		"tensorflow",
		"pytorch",
		"mxnet",
	}
)

// Image is a parsed DLC image reference such as
// 763104351884.dkr.ecr.us-west-2.amazonaws.com/tensorflow-training:2.12.0-gpu-py310-cu118-ubuntu20.04-sagemaker
type Image struct {
	URI              string
	Registry         string
	Repository       string
	Tag              string
	Framework        string
	JobType          string
	FrameworkVersion string
	Processor        benchmark.Processor
	// CUDAVersion looks like "cu118"; empty for non-GPU images.
	CUDAVersion   string
	PythonVersion string
	Platform      string
}

// Parse splits an image URI into the fields used to select tests and thresholds.
func Parse(uri string) (*Image, error) {
	img := &Image{URI: uri}
	name := uri
	if idx := strings.LastIndex(uri, "/"); idx >= 0 {
		img.Registry = uri[:idx]
		name = uri[idx+1:]
	}
	repo, tag, found := strings.Cut(name, ":")
	if !found || repo == "" || tag == "" {
		return nil, fmt.Errorf("image %q has no tag", uri)
	}
	img.Repository = repo
	img.Tag = tag

	for _, fw := range frameworks {
		if strings.HasPrefix(repo, fw+"-") || repo == fw {
			img.Framework = fw
			break
		}
	}
	if img.Framework == "" {
		return nil, fmt.Errorf("cannot determine framework from repository %q", repo)
	}
	switch {
	case strings.Contains(repo, JobTraining):
		img.JobType = JobTraining
	case strings.Contains(repo, JobInference):
		img.JobType = JobInference
	default:
		return nil, fmt.Errorf("cannot determine job type from repository %q", repo)
	}

	version := frameworkVersionPattern.FindString(tag)
	if version == "" {
		return nil, fmt.Errorf("cannot determine framework version from tag %q", tag)
	}
	img.FrameworkVersion = version

	switch {
	case strings.Contains(uri, "gpu"):
		img.Processor = benchmark.ProcessorGPU
	case strings.Contains(tag, "neuronx"):
		img.Processor = benchmark.ProcessorNeuronX
	case strings.Contains(tag, "neuron"):
		img.Processor = benchmark.ProcessorNeuron
	default:
		img.Processor = benchmark.ProcessorCPU
	}
	if m := cudaVersionPattern.FindStringSubmatch(tag); m != nil {
		img.CUDAVersion = m[1]
	}
	img.PythonVersion = "py3"
	if m := pythonVersionPattern.FindStringSubmatch(tag); m != nil {
		img.PythonVersion = m[1]
	}
	img.Platform = PlatformEC2
	if strings.Contains(tag, PlatformSageMaker) {
		img.Platform = PlatformSageMaker
	}
	return img, nil
}

// DeviceString is "gpu-cu118" for GPU images and the processor name otherwise.
func (i *Image) DeviceString() string {
	if i.Processor == benchmark.ProcessorGPU && i.CUDAVersion != "" {
		return fmt.Sprintf("%s-%s", i.Processor, i.CUDAVersion)
	}
	return string(i.Processor)
}

// MajorVersion returns the leading segment of the framework version.
func (i *Image) MajorVersion() string {
	major, _, _ := strings.Cut(i.FrameworkVersion, ".")
	return major
}

// BenchmarkPythonTag is the Python tag the performance results store is keyed by:
// py2 and py37 keep their own tag, every other Python 3 image is "py3".
func (i *Image) BenchmarkPythonTag() string {
	switch {
	case strings.Contains(i.Tag, "py2"):
		return "py2"
	case strings.Contains(i.Tag, "py37"):
		return "py37"
	default:
		return "py3"
	}
}

// CUDANumber returns the numeric part of the CUDA version ("118" for "cu118").
func (i *Image) CUDANumber() string {
	return strings.TrimPrefix(i.CUDAVersion, "cu")
}
