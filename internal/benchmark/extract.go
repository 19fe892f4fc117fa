package benchmark

import (
	"bufio"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Processor is the device class a benchmark ran on.
type Processor string

const (
	ProcessorCPU     Processor = "cpu"
	ProcessorGPU     Processor = "gpu"
	ProcessorNeuron  Processor = "neuron"
	ProcessorNeuronX Processor = "neuronx"
)

const (
	CPUThroughputMarker = "Total img/sec on "
	GPUThroughputMarker = "images/sec: "

	// GPUSampleWindow is how many trailing per-step samples are averaged.
	GPUSampleWindow = 100
)

// The number must be a whole token, so "1.2e+03" or "12abc" is malformed rather than read as a prefix.
var (
	cpuThroughputPattern = regexp.MustCompile(`CPU\(s\):\s*(?P<throughput>[0-9]+(?:\.[0-9]*)?)(?:\s|$)`)
	gpuThroughputPattern = regexp.MustCompile(`images/sec:\s*(?P<throughput>[0-9]+(?:\.[0-9]*)?)(?:\s|$)`)
)

// maxLineBytes bounds a single log line; training logs occasionally dump very long tensors.
const maxLineBytes = 4 * 1024 * 1024

// Extraction is the throughput pulled out of one job log.
type Extraction struct {
	Processor Processor
	// Summary holds the lines that contributed to Throughput, newline terminated.
	Summary string
	// Samples holds the values that contributed to Throughput, in log order.
	Samples []float64
	// Throughput is the aggregate for all nodes, in items/sec.
	Throughput float64
}

// ExtractThroughputFromFile opens the log at path and extracts its throughput.
func ExtractThroughputFromFile(path string, processor Processor) (*Extraction, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open job log %s", path)
	}
	defer f.Close()
	return ExtractThroughput(f, processor)
}

// ExtractThroughput scans a job log and aggregates its throughput samples.
// CPU logs carry one cumulative line per worker, and those are summed.
// GPU logs carry one line per step, and the last GPUSampleWindow of them are averaged.
func ExtractThroughput(r io.Reader, processor Processor) (*Extraction, error) {
	var extraction *Extraction
	var err error
	switch processor {
	case ProcessorCPU:
		extraction, err = extractCPU(r)
	case ProcessorGPU:
		extraction, err = extractGPU(r)
	default:
		return nil, errors.Wrapf(ErrUnsupportedProcessor, "cannot extract throughput for %q", processor)
	}
	if err != nil {
		return nil, err
	}
	klog.Infof("%s throughput summary:\n%s", processor, extraction.Summary)
	return extraction, nil
}

func extractCPU(r io.Reader) (*Extraction, error) {
	extraction := &Extraction{Processor: ProcessorCPU}
	var summary strings.Builder
	err := scanMarkedLines(r, CPUThroughputMarker, cpuThroughputPattern, func(line string, value float64) {
		summary.WriteString(line)
		summary.WriteString("\n")
		extraction.Samples = append(extraction.Samples, value)
		extraction.Throughput += value
	})
	if err != nil {
		return nil, err
	}
	if len(extraction.Samples) == 0 {
		return nil, ErrNoThroughputSamplesFound
	}
	extraction.Summary = summary.String()
	return extraction, nil
}

func extractGPU(r io.Reader) (*Extraction, error) {
	var lines []string
	var samples []float64
	err := scanMarkedLines(r, GPUThroughputMarker, gpuThroughputPattern, func(line string, value float64) {
		lines = append(lines, line)
		samples = append(samples, value)
	})
	if err != nil {
		return nil, err
	}
	if len(samples) == 0 {
		return nil, ErrNoThroughputSamplesFound
	}
	if len(samples) > GPUSampleWindow {
		lines = lines[len(lines)-GPUSampleWindow:]
		samples = samples[len(samples)-GPUSampleWindow:]
	}
	var sum float64
	for _, s := range samples {
		sum += s
	}
	return &Extraction{
		Processor:  ProcessorGPU,
		Summary:    strings.Join(lines, "\n") + "\n",
		Samples:    samples,
		Throughput: sum / float64(len(samples)),
	}, nil
}

// scanMarkedLines calls fn for each line containing marker, with the number captured by pattern.
func scanMarkedLines(r io.Reader, marker string, pattern *regexp.Regexp, fn func(line string, value float64)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	lineNumber := 0
	for scanner.Scan() {
		lineNumber++
		line := strings.TrimRight(scanner.Text(), "\r")
		if !strings.Contains(line, marker) {
			continue
		}
		match := pattern.FindStringSubmatch(line)
		if match == nil {
			return &MalformedThroughputLineError{LineNumber: lineNumber, Line: line, Marker: marker}
		}
		value, err := strconv.ParseFloat(match[pattern.SubexpIndex("throughput")], 64)
		if err != nil {
			return &MalformedThroughputLineError{LineNumber: lineNumber, Line: line, Marker: marker}
		}
		fn(line, value)
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrap(err, "failed to read job log")
	}
	return nil
}
