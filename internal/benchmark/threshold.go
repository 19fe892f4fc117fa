package benchmark

import (
	"fmt"
	"strings"

	goversion "github.com/hashicorp/go-version"
	"github.com/pkg/errors"
)

// NodeClass partitions runs by node count. Any count other than one is multi-node.
type NodeClass string

const (
	NodeClassSingle NodeClass = "single"
	NodeClassMulti  NodeClass = "multi"
)

// NodeClassFor returns the threshold bucket class for a node count.
func NodeClassFor(nodeCount int) NodeClass {
	if nodeCount == 1 {
		return NodeClassSingle
	}
	return NodeClassMulti
}

// ThresholdTable holds the minimum acceptable per-node throughput for one framework and job kind.
type ThresholdTable struct {
	Framework string `json:"framework"`
	Job       string `json:"job"`
	// MultiNodeCount is the node count the multi-node thresholds were measured with.
	MultiNodeCount int               `json:"multiNodeCount,omitempty"`
	Buckets        []ThresholdBucket `json:"buckets"`
}

// ThresholdBucket holds the thresholds for one processor and node class.
type ThresholdBucket struct {
	Processor Processor        `json:"processor"`
	Nodes     NodeClass        `json:"nodes"`
	Entries   []ThresholdEntry `json:"entries"`
	// Default applies when no entry matches the framework version.
	Default *float64 `json:"default,omitempty"`
}

// ThresholdEntry maps a framework version, or a version constraint such as ">= 2.0, < 2.13", to a minimum throughput.
type ThresholdEntry struct {
	Versions string  `json:"versions"`
	Minimum  float64 `json:"minimum"`
}

// Bucket returns the bucket for a processor and node class, or nil.
func (t *ThresholdTable) Bucket(processor Processor, nodes NodeClass) *ThresholdBucket {
	for i := range t.Buckets {
		if t.Buckets[i].Processor == processor && t.Buckets[i].Nodes == nodes {
			return &t.Buckets[i]
		}
	}
	return nil
}

// Lookup returns the threshold for a framework version. The order is:
// an entry naming exactly that version, then the first entry (in declared order)
// whose constraint admits it, then the bucket default.
func (t *ThresholdTable) Lookup(processor Processor, nodeCount int, frameworkVersion string) (float64, error) {
	nodes := NodeClassFor(nodeCount)
	notConfigured := func(reason string) error {
		return &ThresholdNotConfiguredError{
			Framework:        t.Framework,
			Processor:        processor,
			Nodes:            nodes,
			FrameworkVersion: frameworkVersion,
			Reason:           reason,
		}
	}
	bucket := t.Bucket(processor, nodes)
	if bucket == nil {
		return 0, notConfigured("no bucket for processor and node class")
	}
	v, err := goversion.NewVersion(frameworkVersion)
	if err != nil {
		return 0, notConfigured(fmt.Sprintf("unparsable framework version: %v", err))
	}
	for _, entry := range bucket.Entries {
		if exact, err := goversion.NewVersion(entry.Versions); err == nil && exact.Equal(v) {
			return entry.Minimum, nil
		}
	}
	for _, entry := range bucket.Entries {
		if _, err := goversion.NewVersion(entry.Versions); err == nil {
			continue
		}
		constraints, err := goversion.NewConstraint(entry.Versions)
		if err != nil {
			return 0, errors.Wrapf(err, "invalid version constraint %q in %s threshold table", entry.Versions, t.Framework)
		}
		if constraints.Check(v) {
			return entry.Minimum, nil
		}
	}
	if bucket.Default != nil {
		return *bucket.Default, nil
	}
	return 0, notConfigured("no matching version entry and no default")
}

// Validate checks that every constraint parses, every minimum is positive and no bucket is duplicated.
func (t *ThresholdTable) Validate() error {
	var problems []string
	seen := make(map[string]bool)
	for _, b := range t.Buckets {
		switch b.Processor {
		case ProcessorCPU, ProcessorGPU, ProcessorNeuron, ProcessorNeuronX:
		default:
			problems = append(problems, fmt.Sprintf("unknown processor %q", b.Processor))
		}
		if b.Nodes != NodeClassSingle && b.Nodes != NodeClassMulti {
			problems = append(problems, fmt.Sprintf("unknown node class %q", b.Nodes))
		}
		key := string(b.Processor) + "/" + string(b.Nodes)
		if seen[key] {
			problems = append(problems, fmt.Sprintf("duplicate bucket %s", key))
		}
		seen[key] = true
		for _, e := range b.Entries {
			if _, err := goversion.NewVersion(e.Versions); err != nil {
				if _, err := goversion.NewConstraint(e.Versions); err != nil {
					problems = append(problems, fmt.Sprintf("%s: invalid versions %q", key, e.Versions))
				}
			}
			if e.Minimum <= 0 {
				problems = append(problems, fmt.Sprintf("%s: minimum for %q must be positive", key, e.Versions))
			}
		}
		if b.Default != nil && *b.Default <= 0 {
			problems = append(problems, fmt.Sprintf("%s: default must be positive", key))
		}
	}
	if len(problems) > 0 {
		return errors.Errorf("invalid %s/%s threshold table: %s", t.Framework, t.Job, strings.Join(problems, "; "))
	}
	return nil
}
