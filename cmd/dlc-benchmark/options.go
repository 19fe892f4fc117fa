package main

import (
	"flag"
	"fmt"
	"time"

	"github.com/aws/dlc-tester/internal/perftest"
	"github.com/spf13/pflag"
	"github.com/urfave/sflags/gen/gpflag"
	"k8s.io/klog/v2"
	"sigs.k8s.io/kubetest2/pkg/artifacts"
)

type options struct {
	ImageURI         string        `flag:"image-uri" desc:"ECR URI of the DLC image to benchmark"`
	Region           string        `flag:"region" desc:"AWS region the benchmark jobs run in"`
	Cases            []string      `flag:"cases" desc:"Only run cases whose name contains one of these keywords (e.g. singlenode, multinode)"`
	LogFile          string        `flag:"log-file" desc:"Evaluate an existing job log instead of running the job"`
	Framework        string        `flag:"framework" desc:"Framework of the log, when evaluating --log-file without --image-uri"`
	Processor        string        `flag:"processor" desc:"Processor of the log (cpu or gpu), when evaluating --log-file without --image-uri"`
	Nodes            int           `flag:"nodes" desc:"Node count of the job that wrote the log"`
	FrameworkVersion string        `flag:"framework-version" desc:"Framework version of the log, when evaluating --log-file without --image-uri"`
	ThresholdsFile   string        `flag:"thresholds-file" desc:"YAML file with threshold tables. Defaults to the built-in tables."`
	ResultsBucket    string        `flag:"results-bucket" desc:"S3 location (s3://bucket/prefix) for job logs. If empty, logs are not uploaded."`
	Command          string        `flag:"command" desc:"Go template of the benchmark command. Fields: Framework, FrameworkVersion, ImageURI, InstanceType, NodeCount, Processor, PythonVersion, Region, JobName"`
	Timeout          time.Duration `flag:"timeout" desc:"Time a benchmark job may run before it is stopped"`
	MaxStartDelay    time.Duration `flag:"max-start-delay" desc:"Upper bound of the per-job start delay that keeps concurrent jobs from being throttled"`
	WorkDir          string        `flag:"work-dir" desc:"Directory the benchmark command runs in and writes its log to"`
	EmitMetrics      bool          `flag:"emit-metrics" desc:"Record and emit metrics to CloudWatch"`
	Parallelism      int           `flag:"parallelism" desc:"Number of cases to run at the same time"`
	LastFailedFile   string        `flag:"last-failed-file" desc:"JSON file of tests that failed in the previous attempt; tests not in it are skipped"`
	RemoteOverrides  bool          `flag:"remote-overrides" desc:"Skip tests disabled in the account's override_tests_flags.json"`
	DescribeInstance bool          `flag:"describe-instances" desc:"Look up instance types in EC2 and skip cases whose instance cannot run the image"`
	Artifacts        string        `flag:"artifacts" desc:"Directory for verdict files"`
	PodNamespace     string        `flag:"pod-namespace" desc:"Namespace of a pod whose log should be evaluated"`
	PodName          string        `flag:"pod-name" desc:"Name of a pod whose log should be evaluated"`
	PodContainer     string        `flag:"pod-container" desc:"Container of --pod-name to read the log from"`
	Kubeconfig       string        `flag:"kubeconfig" desc:"Path to kubeconfig, used with --pod-name"`
	Version          bool          `flag:"version" desc:"Print version and exit"`
}

func defaultOptions() *options {
	return &options{
		Command:       perftest.DefaultCommandTemplate,
		Timeout:       perftest.DefaultTimeout,
		MaxStartDelay: perftest.DefaultMaxStartDelay,
		WorkDir:       ".",
		Parallelism:   2,
		Artifacts:     artifacts.BaseDir(),
	}
}

// bindFlags is a helper used to create & bind a flagset to the options
func bindFlags(opts *options) *pflag.FlagSet {
	flags, err := gpflag.Parse(opts)
	if err != nil {
		klog.Fatalf("unable to bind flags: %v", err)
		return nil
	}
	klog.InitFlags(nil)
	flags.AddGoFlagSet(flag.CommandLine)
	return flags
}

func (o *options) validate() error {
	logMode := o.LogFile != "" || o.PodName != ""
	if o.LogFile != "" && o.PodName != "" {
		return fmt.Errorf("--log-file and --pod-name are mutually exclusive")
	}
	if o.ImageURI == "" {
		if !logMode {
			return fmt.Errorf("--image-uri is required unless a log is given with --log-file or --pod-name")
		}
		if o.Framework == "" || o.FrameworkVersion == "" || o.Processor == "" || o.Nodes < 1 {
			return fmt.Errorf("--framework, --framework-version, --processor and --nodes are required to evaluate a log without --image-uri")
		}
	}
	if o.Parallelism < 1 {
		return fmt.Errorf("--parallelism must be at least 1")
	}
	return nil
}
