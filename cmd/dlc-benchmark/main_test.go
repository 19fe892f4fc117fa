package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/dlc-tester/internal/benchmark"
	"github.com/aws/dlc-tester/internal/perftest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBindFlags(t *testing.T) {
	opts := defaultOptions()
	flags := bindFlags(opts)
	require.NoError(t, flags.Parse([]string{
		"--image-uri=repo/tensorflow-training:2.12.0-gpu-py310-cu118-ubuntu20.04-sagemaker",
		"--cases=multinode",
		"--timeout=10m",
		"--emit-metrics",
	}))
	assert.Equal(t, []string{"multinode"}, opts.Cases)
	assert.Equal(t, "10m0s", opts.Timeout.String())
	assert.True(t, opts.EmitMetrics)
	assert.Equal(t, perftest.DefaultCommandTemplate, opts.Command)
	assert.NoError(t, opts.validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name  string
		opts  options
		valid bool
	}{
		{name: "nothing", opts: options{Parallelism: 1}},
		{name: "image", opts: options{ImageURI: "repo:tag", Parallelism: 1}, valid: true},
		{name: "log without target", opts: options{LogFile: "results.txt", Parallelism: 1}},
		{
			name:  "log with target",
			opts:  options{LogFile: "results.txt", Framework: "tensorflow", FrameworkVersion: "2.12.0", Processor: "gpu", Nodes: 4, Parallelism: 1},
			valid: true,
		},
		{name: "log and pod", opts: options{ImageURI: "repo:tag", LogFile: "results.txt", PodName: "p", Parallelism: 1}},
		{name: "no parallelism", opts: options{ImageURI: "repo:tag"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.opts.validate()
			if tc.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestRun_EvaluateLog(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "results.txt")
	require.NoError(t, os.WriteFile(logPath, []byte("images/sec: 8000.0\n"), 0644))

	opts := defaultOptions()
	opts.LogFile = logPath
	opts.Framework = "tensorflow"
	opts.FrameworkVersion = "2.12.0"
	opts.Processor = "gpu"
	opts.Nodes = 4
	opts.WorkDir = dir
	opts.Artifacts = dir

	var below *perftest.BelowThresholdError
	err := run(context.TODO(), opts, "abc1234", "")
	require.ErrorAs(t, err, &below)
	assert.Equal(t, 2000.0, below.Verdict.PerNodeThroughput)

	opts.Nodes = 1
	assert.NoError(t, run(context.TODO(), opts, "abc1234", ""))
}

func TestRun_LogForImageNeedsOneCase(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "results.txt")
	require.NoError(t, os.WriteFile(logPath, []byte("images/sec: 8000.0\n"), 0644))

	opts := defaultOptions()
	opts.ImageURI = "763104351884.dkr.ecr.us-west-2.amazonaws.com/tensorflow-training:2.12.0-gpu-py310-cu118-ubuntu20.04-sagemaker"
	opts.LogFile = logPath
	opts.WorkDir = dir
	opts.Artifacts = dir
	opts.Region = "us-west-2"
	assert.Error(t, run(context.TODO(), opts, "abc1234", ""))

	opts.Nodes = 1
	assert.NoError(t, run(context.TODO(), opts, "abc1234", ""))
}

func TestDescribeFailure(t *testing.T) {
	below := &perftest.BelowThresholdError{Verdict: &benchmark.Verdict{}}
	jobFailed := &perftest.JobFailedError{JobName: "job", ExitCode: 1}

	assert.Equal(t, "performance regression", describeFailure(fmt.Errorf("case: %w", below)))
	assert.Equal(t, "benchmark infrastructure failure", describeFailure(jobFailed))
	assert.Equal(t, "benchmark infrastructure failure", describeFailure(benchmark.ErrNoThroughputSamplesFound))
	assert.Equal(t, "performance regression and benchmark infrastructure failure", describeFailure(errors.Join(below, jobFailed)))
	assert.Equal(t, "benchmark failed", describeFailure(errors.New("boom")))
}
