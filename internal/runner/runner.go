// Package runner executes benchmark jobs and captures their output.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"text/template"
	"time"

	"github.com/kballard/go-shellquote"
	"k8s.io/klog/v2"
	"k8s.io/utils/clock"
	"k8s.io/utils/exec"
)

// TimeoutExitCode matches the exit status of coreutils timeout(1).
const TimeoutExitCode = 124

// OutputGracePeriod is how long a timed-out job's output is still drained. Processes the job
// started in the background keep the output pipe open after the job itself is killed.
const OutputGracePeriod = 2 * time.Second

// Job is one benchmark command invocation.
type Job struct {
	Name    string
	Command []string
	// LogPath receives the combined stdout and stderr of the command.
	LogPath string
	Timeout time.Duration
	Dir     string
	Env     []string
}

// Result describes how a job exited. A failing command is not an error.
type Result struct {
	ExitCode int
	TimedOut bool
	Duration time.Duration
}

// OK reports whether the job exited cleanly.
func (r *Result) OK() bool {
	return r.ExitCode == 0 && !r.TimedOut
}

// Runner runs jobs and tees their output to the console and a log file.
type Runner struct {
	exec    exec.Interface
	clock   clock.Clock
	console io.Writer
}

func NewRunner(executor exec.Interface, clk clock.Clock, console io.Writer) *Runner {
	if executor == nil {
		executor = exec.New()
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	if console == nil {
		console = os.Stdout
	}
	return &Runner{exec: executor, clock: clk, console: console}
}

// Run executes the job. The log file is always closed before Run returns.
func (r *Runner) Run(ctx context.Context, job *Job) (*Result, error) {
	if len(job.Command) == 0 {
		return nil, fmt.Errorf("job %s has no command", job.Name)
	}
	if err := os.MkdirAll(filepath.Dir(job.LogPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	logFile, err := os.Create(job.LogPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create job log: %w", err)
	}
	defer logFile.Close()

	if job.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, job.Timeout)
		defer cancel()
	}

	// The child writes to a pipe file rather than an io.Writer so that Run does not wait for
	// grandchildren that inherited the output.
	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create output pipe: %w", err)
	}
	defer pr.Close()
	copied := make(chan struct{})
	go func() {
		defer close(copied)
		if _, err := io.Copy(io.MultiWriter(r.console, logFile), pr); err != nil && !errors.Is(err, os.ErrClosed) {
			klog.Warningf("failed to copy output of job %s: %v", job.Name, err)
		}
	}()

	cmd := r.exec.CommandContext(ctx, job.Command[0], job.Command[1:]...)
	cmd.SetStdout(pw)
	cmd.SetStderr(pw)
	if job.Dir != "" {
		cmd.SetDir(job.Dir)
	}
	if len(job.Env) > 0 {
		cmd.SetEnv(append(os.Environ(), job.Env...))
	}

	klog.Infof("running job %s: %s", job.Name, shellquote.Join(job.Command...))
	start := r.clock.Now()
	runErr := cmd.Run()
	pw.Close()
	result := &Result{Duration: r.clock.Since(start)}
	timedOut := job.Timeout > 0 && errors.Is(ctx.Err(), context.DeadlineExceeded)
	r.drain(job.Name, pr, copied, timedOut)

	var exitErr exec.ExitError
	switch {
	case timedOut:
		result.TimedOut = true
		result.ExitCode = TimeoutExitCode
	case runErr == nil:
	case errors.As(runErr, &exitErr):
		result.ExitCode = exitErr.ExitStatus()
	default:
		return nil, fmt.Errorf("failed to run job %s: %w", job.Name, runErr)
	}
	if err := logFile.Sync(); err != nil {
		klog.Warningf("failed to sync job log %s: %v", job.LogPath, err)
	}
	klog.Infof("job %s finished after %s with exit code %d (timed out: %t)", job.Name, result.Duration.Round(time.Second), result.ExitCode, result.TimedOut)
	return result, nil
}

// drain waits until the job's output is fully copied. After a timeout it gives up once
// OutputGracePeriod passes, which leaves any remaining writers with a closed pipe.
func (r *Runner) drain(jobName string, pr *os.File, copied <-chan struct{}, timedOut bool) {
	if !timedOut {
		<-copied
		return
	}
	select {
	case <-copied:
	case <-r.clock.After(OutputGracePeriod):
		klog.Warningf("job %s timed out and left processes holding its output, no longer reading it", jobName)
		pr.Close()
		<-copied
	}
}

// Sleep waits for d or until ctx is done.
func (r *Runner) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-r.clock.After(d):
		return nil
	}
}

// StartDelay returns a delay in [0, max) that depends only on the job name.
// Jobs launched together spread out their API calls instead of getting throttled.
func StartDelay(jobName string, max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	h := fnv.New64a()
	h.Write([]byte(jobName))
	rng := rand.New(rand.NewSource(int64(h.Sum64())))
	return time.Duration(rng.Float64() * float64(max))
}

// RenderCommand fills a command line template and splits it into arguments with shell quoting rules.
func RenderCommand(commandTemplate string, vars interface{}) ([]string, error) {
	tmpl, err := template.New("command").Option("missingkey=error").Parse(commandTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse command template: %w", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, vars); err != nil {
		return nil, fmt.Errorf("failed to render command template: %w", err)
	}
	args, err := shellquote.Split(buf.String())
	if err != nil {
		return nil, fmt.Errorf("failed to split command %q: %w", buf.String(), err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("command template rendered to an empty command")
	}
	return args, nil
}
