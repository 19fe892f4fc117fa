package perftest

import (
	"fmt"

	"github.com/aws/dlc-tester/internal/benchmark"
)

// JobFailedError means the benchmark job itself did not succeed, so its throughput says nothing
// about the image.
type JobFailedError struct {
	JobName  string
	ExitCode int
	TimedOut bool
	LogURI   string
}

func (e *JobFailedError) Error() string {
	if e.TimedOut {
		return fmt.Sprintf("benchmark job %s timed out (exit code %d), logs at %s", e.JobName, e.ExitCode, e.LogURI)
	}
	return fmt.Sprintf("benchmark job %s failed with exit code %d, logs at %s", e.JobName, e.ExitCode, e.LogURI)
}

// BelowThresholdError means the job ran but its per-node throughput did not exceed the threshold.
type BelowThresholdError struct {
	Verdict *benchmark.Verdict
	LogURI  string
}

func (e *BelowThresholdError) Error() string {
	return fmt.Sprintf("%s %s %s %d node(s): benchmark result %.2f does not reach the threshold %.2f, logs at %s",
		e.Verdict.Framework, e.Verdict.FrameworkVersion, e.Verdict.Processor, e.Verdict.NodeCount,
		e.Verdict.PerNodeThroughput, e.Verdict.Threshold, e.LogURI)
}
