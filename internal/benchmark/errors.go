package benchmark

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrNoThroughputSamplesFound means the log was scanned to the end without a single throughput marker.
	// The job most likely did not run to completion.
	ErrNoThroughputSamplesFound = errors.New("no throughput markers found")

	ErrUnsupportedProcessor = errors.New("unsupported processor")
	ErrInvalidNodeCount     = errors.New("node count must be at least 1")
)

// MalformedThroughputLineError is returned when a line carries a throughput marker
// but the number after it cannot be parsed.
type MalformedThroughputLineError struct {
	LineNumber int
	Line       string
	Marker     string
}

func (e *MalformedThroughputLineError) Error() string {
	return fmt.Sprintf("malformed throughput line %d (marker %q): %q", e.LineNumber, e.Marker, e.Line)
}

// ThresholdNotConfiguredError is returned when a threshold table has nothing for a
// processor, node class and framework version.
type ThresholdNotConfiguredError struct {
	Framework        string
	Processor        Processor
	Nodes            NodeClass
	FrameworkVersion string
	Reason           string
}

func (e *ThresholdNotConfiguredError) Error() string {
	return fmt.Sprintf("no threshold configured for %s %s/%s version %s: %s", e.Framework, e.Processor, e.Nodes, e.FrameworkVersion, e.Reason)
}

// IsInfrastructureError reports whether err means the benchmark produced no usable
// result, as opposed to a result that was too slow.
func IsInfrastructureError(err error) bool {
	if err == nil {
		return false
	}
	var malformed *MalformedThroughputLineError
	var notConfigured *ThresholdNotConfiguredError
	return errors.Is(err, ErrNoThroughputSamplesFound) ||
		errors.As(err, &malformed) ||
		errors.As(err, &notConfigured)
}
