// dlc-benchmark runs performance benchmarks for deep learning container images and fails
// when an image's throughput does not exceed its threshold.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/dlc-tester/internal/awssdk"
	"github.com/aws/dlc-tester/internal/benchmark"
	"github.com/aws/dlc-tester/internal/image"
	"github.com/aws/dlc-tester/internal/instance"
	"github.com/aws/dlc-tester/internal/logsource"
	"github.com/aws/dlc-tester/internal/metrics"
	"github.com/aws/dlc-tester/internal/overrides"
	"github.com/aws/dlc-tester/internal/perftest"
	"github.com/aws/dlc-tester/internal/results"
	"github.com/aws/dlc-tester/internal/runner"
	"github.com/aws/dlc-tester/internal/testcase"
	"github.com/aws/dlc-tester/internal/thresholds"
	"github.com/aws/dlc-tester/version"
	"github.com/samber/lo"
	"k8s.io/klog/v2"
)

const (
	sourceVersionEnv = "CODEBUILD_RESOLVED_SOURCE_VERSION"
	buildARNEnv      = "CODEBUILD_BUILD_ARN"
)

func main() {
	opts := defaultOptions()
	flags := bindFlags(opts)
	if err := flags.Parse(os.Args[1:]); err != nil {
		klog.Fatalf("failed to parse flags: %v", err)
	}
	if opts.Version {
		fmt.Print(version.Version())
		return
	}
	if err := opts.validate(); err != nil {
		klog.Fatalf("invalid flags: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := run(ctx, opts, os.Getenv(sourceVersionEnv), os.Getenv(buildARNEnv))
	klog.Flush()
	if err != nil {
		klog.Errorf("%s: %v", describeFailure(err), err)
		klog.Flush()
		os.Exit(1)
	}
}

func run(ctx context.Context, opts *options, commit, buildARN string) error {
	set, err := thresholds.Load(opts.ThresholdsFile)
	if err != nil {
		return err
	}
	var awsConfig *aws.Config
	lazyAWSConfig := func() aws.Config {
		if awsConfig == nil {
			c := awssdk.NewConfig(ctx, opts.Region)
			awsConfig = &c
		}
		return *awsConfig
	}

	var registry metrics.MetricRegistry
	if opts.EmitMetrics {
		registry = metrics.NewCloudWatchRegistry(cloudwatch.NewFromConfig(lazyAWSConfig()))
	} else {
		registry = metrics.NewNoopMetricRegistry()
	}
	defer func() {
		if err := registry.Emit(ctx); err != nil {
			klog.Errorf("failed to emit metrics: %v", err)
		}
	}()

	cfg := &perftest.Config{
		Thresholds:      set,
		Commit:          commit,
		Region:          opts.Region,
		CommandTemplate: opts.Command,
		Timeout:         opts.Timeout,
		MaxStartDelay:   opts.MaxStartDelay,
		WorkDir:         opts.WorkDir,
		ArtifactsDir:    opts.Artifacts,
		Runner:          runner.NewRunner(nil, nil, os.Stdout),
		Metrics:         registry,
	}
	if opts.ResultsBucket != "" {
		location, err := results.ParseS3URI(opts.ResultsBucket)
		if err != nil {
			return err
		}
		cfg.Uploader = results.NewUploader(s3.NewFromConfig(lazyAWSConfig()), location)
	}
	if opts.LogFile != "" {
		cfg.LogSource = logsource.File(opts.LogFile)
	}
	if opts.PodName != "" {
		clientset, err := logsource.NewClientset(opts.Kubeconfig)
		if err != nil {
			return err
		}
		cfg.LogSource = &logsource.Pod{
			Client:    clientset,
			Namespace: opts.PodNamespace,
			Name:      opts.PodName,
			Container: opts.PodContainer,
		}
	}

	if opts.ImageURI == "" {
		return evaluateLog(ctx, cfg, opts)
	}

	if opts.DescribeInstance {
		cfg.Instances = instance.NewResolver(ec2.NewFromConfig(lazyAWSConfig()))
	}
	if opts.RemoteOverrides {
		awsCfg := lazyAWSConfig()
		flags, err := overrides.Fetch(ctx, sts.NewFromConfig(awsCfg), s3.NewFromConfig(awsCfg))
		if err != nil {
			return err
		}
		cfg.Rules = append(cfg.Rules, testcase.RemoteDisableRule(flags.For(overrides.BuildNameFromARN(buildARN), commit)))
	}
	if opts.LastFailedFile != "" {
		lastFailed, err := testcase.LoadLastFailed(opts.LastFailedFile)
		if err != nil {
			return err
		}
		cfg.Rules = append(cfg.Rules, testcase.AlreadyPassedRule(lastFailed))
	}

	img, err := image.Parse(opts.ImageURI)
	if err != nil {
		return err
	}
	cases := perftest.SelectCases(perftest.Cases(img.Framework), opts.Cases)
	if cfg.LogSource != nil {
		if opts.Nodes > 0 {
			cases = casesWithNodes(cases, opts.Nodes)
		}
		if len(cases) != 1 {
			return fmt.Errorf("a log can only be evaluated for one case, %d selected; narrow them down with --cases or --nodes", len(cases))
		}
	}
	if len(cases) == 0 {
		return fmt.Errorf("no cases selected for %s", opts.ImageURI)
	}

	outcomes, err := perftest.RunAll(ctx, cfg, opts.ImageURI, cases, opts.Parallelism)
	for _, outcome := range outcomes {
		switch {
		case outcome == nil:
		case outcome.Skipped:
			klog.Infof("%s: SKIPPED (%s)", outcome.Case, outcome.Decision)
		case outcome.Verdict != nil:
			klog.Infof("%s: %s", outcome.Case, outcome.Verdict)
		}
	}
	return err
}

func casesWithNodes(cases []*testcase.Descriptor, nodes int) []*testcase.Descriptor {
	return lo.Filter(cases, func(c *testcase.Descriptor, _ int) bool {
		return c.Requirements.NodeCount == nodes
	})
}

// evaluateLog judges a log that is not tied to an image URI.
func evaluateLog(ctx context.Context, cfg *perftest.Config, opts *options) error {
	logPath, err := cfg.LogSource.Fetch(ctx, filepath.Join(opts.WorkDir, "results.txt"))
	if err != nil {
		return err
	}
	processor := benchmark.Processor(opts.Processor)
	extraction, err := benchmark.ExtractThroughputFromFile(logPath, processor)
	if err != nil {
		return err
	}
	verdict, err := perftest.Judge(cfg, &perftest.Target{
		Framework:        opts.Framework,
		Job:              image.PlatformSageMaker + "-" + image.JobTraining,
		FrameworkVersion: opts.FrameworkVersion,
		Processor:        processor,
		NodeCount:        opts.Nodes,
		Platform:         image.PlatformSageMaker,
	}, extraction.Throughput)
	if err != nil {
		return err
	}
	klog.Infof("%s: %s", logPath, verdict)
	if !verdict.Passed {
		return &perftest.BelowThresholdError{Verdict: verdict, LogURI: logPath}
	}
	return nil
}

// describeFailure tells regressions apart from runs that produced no usable result.
func describeFailure(err error) string {
	var below *perftest.BelowThresholdError
	var jobFailed *perftest.JobFailedError
	regression := errors.As(err, &below)
	infrastructure := errors.As(err, &jobFailed) || benchmark.IsInfrastructureError(err)
	switch {
	case regression && infrastructure:
		return "performance regression and benchmark infrastructure failure"
	case regression:
		return "performance regression"
	case infrastructure:
		return "benchmark infrastructure failure"
	default:
		return "benchmark failed"
	}
}
