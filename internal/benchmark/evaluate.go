package benchmark

import (
	"fmt"

	"github.com/pkg/errors"
)

// Verdict is the outcome of comparing one benchmark run against its threshold.
type Verdict struct {
	Framework        string    `json:"framework"`
	FrameworkVersion string    `json:"frameworkVersion"`
	Processor        Processor `json:"processor"`
	NodeCount        int       `json:"nodeCount"`
	// Throughput is the aggregate for all nodes.
	Throughput        float64 `json:"throughput"`
	PerNodeThroughput float64 `json:"perNodeThroughput"`
	Threshold         float64 `json:"threshold"`
	Passed            bool    `json:"passed"`
}

func (v *Verdict) String() string {
	result := "PASS"
	if !v.Passed {
		result = "FAIL"
	}
	return fmt.Sprintf("%s: %s %s %s %d node(s) throughput %.2f/node (aggregate %.2f), threshold %.2f",
		result, v.Framework, v.FrameworkVersion, v.Processor, v.NodeCount, v.PerNodeThroughput, v.Throughput, v.Threshold)
}

// Evaluate divides the aggregate throughput by the node count and compares it to
// the table's per-node threshold. The run passes only if it strictly exceeds the threshold.
func Evaluate(throughput float64, nodeCount int, processor Processor, frameworkVersion string, table *ThresholdTable) (*Verdict, error) {
	if nodeCount < 1 {
		return nil, errors.Wrapf(ErrInvalidNodeCount, "got %d", nodeCount)
	}
	if table == nil {
		return nil, &ThresholdNotConfiguredError{
			Processor:        processor,
			Nodes:            NodeClassFor(nodeCount),
			FrameworkVersion: frameworkVersion,
			Reason:           "no threshold table",
		}
	}
	perNode := throughput / float64(nodeCount)
	threshold, err := table.Lookup(processor, nodeCount, frameworkVersion)
	if err != nil {
		return nil, err
	}
	return &Verdict{
		Framework:         table.Framework,
		FrameworkVersion:  frameworkVersion,
		Processor:         processor,
		NodeCount:         nodeCount,
		Throughput:        throughput,
		PerNodeThroughput: perNode,
		Threshold:         threshold,
		Passed:            perNode > threshold,
	}, nil
}
