package perftest

import (
	"fmt"
	"strings"

	"github.com/aws/dlc-tester/internal/image"
	"github.com/aws/dlc-tester/internal/testcase"
	"github.com/samber/lo"
)

const (
	SingleNodeCount = 1
	MultiNodeCount  = 4
)

// frameworkVersionConstraints limits the SageMaker training benchmarks per framework.
// TF 1.x is not benchmarked and the benchmark scripts stop at TF 2.12.
var frameworkVersionConstraints = map[string]string{
	"tensorflow": ">= 2.0, < 2.13",
}

// Cases returns the single-node and multi-node SageMaker training benchmarks for a framework.
func Cases(framework string) []*testcase.Descriptor {
	var cases []*testcase.Descriptor
	for _, nodes := range []int{SingleNodeCount, MultiNodeCount} {
		cases = append(cases, &testcase.Descriptor{
			Name: CaseName(framework, nodes),
			Requirements: testcase.Requirements{
				Frameworks:        []string{framework},
				JobTypes:          []string{image.JobTraining},
				Platforms:         []string{image.PlatformSageMaker},
				NodeCount:         nodes,
				FrameworkVersions: frameworkVersionConstraints[framework],
			},
		})
	}
	return cases
}

// CaseName is the test name that remote overrides and the last-failed cache refer to.
func CaseName(framework string, nodes int) string {
	suffix := "singlenode"
	if nodes != SingleNodeCount {
		suffix = "multinode"
	}
	return fmt.Sprintf("test_%s_sagemaker_training_performance_%s", strings.ReplaceAll(framework, "-", "_"), suffix)
}

// SelectCases filters cases by name. Each selector matches any case whose name contains it.
// No selectors selects every case.
func SelectCases(cases []*testcase.Descriptor, selectors []string) []*testcase.Descriptor {
	if len(selectors) == 0 {
		return cases
	}
	return lo.Filter(cases, func(c *testcase.Descriptor, _ int) bool {
		return lo.ContainsBy(selectors, func(selector string) bool {
			return strings.Contains(c.Name, selector)
		})
	})
}
