// Package perftest runs a benchmark job for an image and judges the throughput it reached.
package perftest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/aws/dlc-tester/internal/benchmark"
	"github.com/aws/dlc-tester/internal/image"
	"github.com/aws/dlc-tester/internal/instance"
	"github.com/aws/dlc-tester/internal/logsource"
	"github.com/aws/dlc-tester/internal/metrics"
	"github.com/aws/dlc-tester/internal/results"
	"github.com/aws/dlc-tester/internal/runner"
	"github.com/aws/dlc-tester/internal/testcase"
	"github.com/aws/dlc-tester/internal/thresholds"
	"k8s.io/klog/v2"
	"k8s.io/utils/clock"
	"sigs.k8s.io/yaml"
)

const (
	DefaultCommandTemplate = `python tf_sm_benchmark.py --framework-version {{.FrameworkVersion}} --image-uri {{.ImageURI}} ` +
		`--instance-type {{.InstanceType}} --node-count {{.NodeCount}} --python {{.PythonVersion}} --region {{.Region}} --job-name {{.JobName}}`
	DefaultTimeout       = 45 * time.Minute
	DefaultMaxStartDelay = time.Minute

	timeFormat = "2006-01-02-15-04-05"
)

// DefaultInstanceTypes are the SageMaker instance types the benchmarks run on.
func DefaultInstanceTypes() map[benchmark.Processor]string {
	return map[benchmark.Processor]string{
		benchmark.ProcessorGPU: "ml.g5.12xlarge",
		benchmark.ProcessorCPU: "ml.c5.18xlarge",
	}
}

// Config carries everything a test invocation needs. Run never modifies it.
type Config struct {
	Thresholds *thresholds.Set
	// Commit is the source version under test.
	Commit string
	Region string
	// InstanceTypes maps an image processor to the instance type its job runs on.
	InstanceTypes   map[benchmark.Processor]string
	CommandTemplate string
	Timeout         time.Duration
	MaxStartDelay   time.Duration
	// WorkDir is where the job runs and writes its log.
	WorkDir string
	// ArtifactsDir receives one verdict file per evaluated case. Empty disables them.
	ArtifactsDir string
	// LogSource supplies an existing log instead of running the job.
	LogSource logsource.Source
	// Rules are checked in addition to testcase.DefaultRules.
	Rules []testcase.Rule
	// MetricDimensions are added to every recorded metric.
	MetricDimensions map[string]string

	Runner    *runner.Runner
	Uploader  *results.Uploader
	Metrics   metrics.MetricRegistry
	Instances *instance.Resolver
	Clock     clock.PassiveClock
}

func (c *Config) withDefaults() *Config {
	cfg := *c
	if cfg.InstanceTypes == nil {
		cfg.InstanceTypes = DefaultInstanceTypes()
	}
	if cfg.CommandTemplate == "" {
		cfg.CommandTemplate = DefaultCommandTemplate
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Runner == nil {
		cfg.Runner = runner.NewRunner(nil, nil, nil)
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewNoopMetricRegistry()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.RealClock{}
	}
	return &cfg
}

// Outcome records what happened to one case.
type Outcome struct {
	Case     string
	Image    *image.Image
	Decision testcase.Decision
	Skipped  bool
	JobName  string
	// Result is nil when the log came from a LogSource.
	Result *runner.Result
	// LogPath is the local log; LogURI is where it was uploaded, or LogPath without an uploader.
	LogPath    string
	LogURI     string
	Extraction *benchmark.Extraction
	Verdict    *benchmark.Verdict
}

// CommandVars are available to the command template.
type CommandVars struct {
	Framework        string
	FrameworkVersion string
	ImageURI         string
	InstanceType     string
	NodeCount        int
	Processor        string
	PythonVersion    string
	Region           string
	JobName          string
}

// Run executes one benchmark case for an image. A skipped case returns an Outcome with Skipped
// set and no error. A job that fails returns *JobFailedError, a job that is too slow returns
// *BelowThresholdError, and a log without usable throughput returns the benchmark package's errors.
func Run(ctx context.Context, config *Config, imageURI string, d *testcase.Descriptor) (*Outcome, error) {
	cfg := config.withDefaults()
	img, err := image.Parse(imageURI)
	if err != nil {
		return nil, err
	}
	outcome := &Outcome{Case: d.Name, Image: img}
	nodes := d.Requirements.NodeCount
	if nodes == 0 {
		nodes = SingleNodeCount
	}

	instanceType := cfg.InstanceTypes[img.Processor]
	env := &testcase.Environment{
		Image:        img,
		Region:       cfg.Region,
		InstanceType: instanceType,
		NodeCount:    nodes,
	}
	if cfg.Instances != nil && instanceType != "" {
		info, err := cfg.Instances.Describe(ctx, instanceType)
		if err != nil {
			return nil, err
		}
		env.InstanceProcessor = info.Processor()
	}
	engine := testcase.NewEngine(append(testcase.DefaultRules(), cfg.Rules...)...)
	outcome.Decision, err = engine.Evaluate(d, env)
	if err != nil {
		return nil, err
	}
	if !outcome.Decision.Run {
		klog.Infof("skipping %s for %s: %s", d.Name, imageURI, outcome.Decision)
		outcome.Skipped = true
		return outcome, nil
	}

	now := cfg.Clock.Now()
	outcome.JobName = JobName(img, nodes, cfg.Commit, now)
	logName := LogFileName(img, nodes, cfg.Commit, now)
	outcome.LogPath = filepath.Join(cfg.WorkDir, logName)

	if cfg.LogSource != nil {
		outcome.LogPath, err = cfg.LogSource.Fetch(ctx, outcome.LogPath)
		if err != nil {
			return outcome, err
		}
	} else {
		if instanceType == "" {
			return outcome, fmt.Errorf("no instance type configured for %s images", img.Processor)
		}
		args, err := runner.RenderCommand(cfg.CommandTemplate, &CommandVars{
			Framework:        img.Framework,
			FrameworkVersion: img.FrameworkVersion,
			ImageURI:         img.URI,
			InstanceType:     instanceType,
			NodeCount:        nodes,
			Processor:        string(img.Processor),
			PythonVersion:    img.BenchmarkPythonTag(),
			Region:           cfg.Region,
			JobName:          outcome.JobName,
		})
		if err != nil {
			return outcome, err
		}
		// jobs started together get throttled by the SageMaker API
		if err := cfg.Runner.Sleep(ctx, runner.StartDelay(outcome.JobName, cfg.MaxStartDelay)); err != nil {
			return outcome, err
		}
		outcome.Result, err = cfg.Runner.Run(ctx, &runner.Job{
			Name:    outcome.JobName,
			Command: args,
			LogPath: outcome.LogPath,
			Timeout: cfg.Timeout,
			Dir:     cfg.WorkDir,
		})
		if err != nil {
			return outcome, err
		}
	}

	jobFailed := outcome.Result != nil && !outcome.Result.OK()
	outcome.LogURI = outcome.LogPath
	if cfg.Uploader != nil {
		key := cfg.Uploader.Location().KeyFor(results.Key{
			Framework:        img.Framework,
			FrameworkVersion: img.FrameworkVersion,
			Platform:         img.Platform,
			Job:              img.JobType,
			Device:           img.DeviceString(),
			PythonVersion:    img.BenchmarkPythonTag(),
			File:             filepath.Base(outcome.LogPath),
			Failed:           jobFailed && !outcome.Result.TimedOut,
		})
		outcome.LogURI, err = cfg.Uploader.Upload(ctx, outcome.LogPath, key)
		if err != nil {
			return outcome, err
		}
	}
	klog.Infof("test results can be found at %s", outcome.LogURI)

	extraction, extractErr := benchmark.ExtractThroughputFromFile(outcome.LogPath, img.Processor)
	if jobFailed {
		return outcome, errors.Join(&JobFailedError{
			JobName:  outcome.JobName,
			ExitCode: outcome.Result.ExitCode,
			TimedOut: outcome.Result.TimedOut,
			LogURI:   outcome.LogURI,
		}, extractErr)
	}
	if extractErr != nil {
		return outcome, extractErr
	}
	outcome.Extraction = extraction

	target := &Target{
		Framework:        img.Framework,
		Job:              TableJob(img),
		FrameworkVersion: img.FrameworkVersion,
		Processor:        img.Processor,
		NodeCount:        nodes,
		Platform:         img.Platform,
	}
	outcome.Verdict, err = Judge(cfg, target, extraction.Throughput)
	if err != nil {
		return outcome, err
	}
	if err := writeVerdict(cfg.ArtifactsDir, outcome); err != nil {
		klog.Warningf("failed to write verdict for %s: %v", d.Name, err)
	}
	if !outcome.Verdict.Passed {
		return outcome, &BelowThresholdError{Verdict: outcome.Verdict, LogURI: outcome.LogURI}
	}
	return outcome, nil
}

// Target identifies the threshold a throughput is judged against.
type Target struct {
	Framework        string
	Job              string
	FrameworkVersion string
	Processor        benchmark.Processor
	NodeCount        int
	Platform         string
}

// TableJob is the threshold table job key of an image, e.g. "sagemaker-training".
func TableJob(img *image.Image) string {
	return img.Platform + "-" + img.JobType
}

// Judge compares an aggregate throughput with the configured threshold and records metrics.
func Judge(config *Config, target *Target, throughput float64) (*benchmark.Verdict, error) {
	cfg := config.withDefaults()
	if cfg.Thresholds == nil {
		return nil, &benchmark.ThresholdNotConfiguredError{
			Framework:        target.Framework,
			Processor:        target.Processor,
			Nodes:            benchmark.NodeClassFor(target.NodeCount),
			FrameworkVersion: target.FrameworkVersion,
			Reason:           "no thresholds loaded",
		}
	}
	table, err := cfg.Thresholds.Table(target.Framework, target.Job)
	if err != nil {
		return nil, &benchmark.ThresholdNotConfiguredError{
			Framework:        target.Framework,
			Processor:        target.Processor,
			Nodes:            benchmark.NodeClassFor(target.NodeCount),
			FrameworkVersion: target.FrameworkVersion,
			Reason:           err.Error(),
		}
	}
	verdict, err := benchmark.Evaluate(throughput, target.NodeCount, target.Processor, target.FrameworkVersion, table)
	if err != nil {
		return nil, err
	}
	klog.Infof("%s %s %s %s %d node(s) throughput: %.2f images/sec, threshold: %.2f images/sec",
		target.Framework, target.FrameworkVersion, target.Job, target.Processor, target.NodeCount, verdict.PerNodeThroughput, verdict.Threshold)
	recordMetrics(cfg.Metrics, cfg.MetricDimensions, target, verdict)
	return verdict, nil
}

func recordMetrics(registry metrics.MetricRegistry, extraDimensions map[string]string, target *Target, verdict *benchmark.Verdict) {
	specs := metrics.BenchmarkSpecsFor(target.Framework)
	dimensions := map[string]string{}
	for key, value := range extraDimensions {
		dimensions[key] = value
	}
	dimensions["framework"] = target.Framework
	dimensions["version"] = target.FrameworkVersion
	dimensions["processor"] = string(target.Processor)
	dimensions["nodes"] = strconv.Itoa(target.NodeCount)
	dimensions["platform"] = target.Platform
	passed := 0.0
	if verdict.Passed {
		passed = 1
	}
	registry.Record(specs.PerNodeThroughput, verdict.PerNodeThroughput, dimensions)
	registry.Record(specs.Threshold, verdict.Threshold, dimensions)
	registry.Record(specs.Passed, passed, dimensions)
}

var frameworkAbbreviations = map[string]string{
	"tensorflow":             "tf",
	"pytorch":                "pt",
	"mxnet":                  "mx",
	"huggingface-tensorflow": "hf-tf",
	"huggingface-pytorch":    "hf-pt",
	"stabilityai-pytorch":    "sai-pt",
}

// JobName is <fw><major>-tr-bench-<device>-<n>-node-<py>-<commit7>-<time>.
func JobName(img *image.Image, nodes int, commit string, now time.Time) string {
	abbr, ok := frameworkAbbreviations[img.Framework]
	if !ok {
		abbr = img.Framework
	}
	return fmt.Sprintf("%s%s-tr-bench-%s-%d-node-%s-%s-%s",
		abbr, img.MajorVersion(), img.DeviceString(), nodes, img.BenchmarkPythonTag(), shortCommit(commit), now.Format(timeFormat))
}

// LogFileName is results-<commit>-<time>-<version>-<device>-<py>-<n>-node.txt.
func LogFileName(img *image.Image, nodes int, commit string, now time.Time) string {
	return fmt.Sprintf("results-%s-%s-%s-%s-%s-%d-node.txt",
		commit, now.Format(timeFormat), img.FrameworkVersion, img.DeviceString(), img.BenchmarkPythonTag(), nodes)
}

func shortCommit(commit string) string {
	if len(commit) > 7 {
		return commit[:7]
	}
	return commit
}

type verdictArtifact struct {
	Case    string             `json:"case"`
	Image   string             `json:"image"`
	JobName string             `json:"jobName,omitempty"`
	LogURI  string             `json:"logURI"`
	Summary string             `json:"summary"`
	Verdict *benchmark.Verdict `json:"verdict"`
}

func writeVerdict(dir string, outcome *Outcome) error {
	if dir == "" {
		return nil
	}
	data, err := yaml.Marshal(&verdictArtifact{
		Case:    outcome.Case,
		Image:   outcome.Image.URI,
		JobName: outcome.JobName,
		LogURI:  outcome.LogURI,
		Summary: outcome.Extraction.Summary,
		Verdict: outcome.Verdict,
	})
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, outcome.Case+".yaml"), data, 0644)
}
