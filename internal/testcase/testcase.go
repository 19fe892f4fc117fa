// Package testcase decides whether a test case applies to an image and environment.
//
// A test case declares what it needs in a Descriptor. An Engine checks the Descriptor
// against the Environment with a list of Rules, and either runs the case or skips it
// with every reason collected.
package testcase

import (
	"fmt"
	"strings"

	"github.com/aws/dlc-tester/internal/benchmark"
	"github.com/aws/dlc-tester/internal/image"
)

// Requirements lists the capabilities a test case needs. Zero values mean "any".
type Requirements struct {
	Frameworks []string              `json:"frameworks,omitempty"`
	JobTypes   []string              `json:"jobTypes,omitempty"`
	Platforms  []string              `json:"platforms,omitempty"`
	Processors []benchmark.Processor `json:"processors,omitempty"`
	NodeCount  int                   `json:"nodeCount,omitempty"`
	// FrameworkVersions is a constraint such as ">= 2.0, < 2.13".
	FrameworkVersions string `json:"frameworkVersions,omitempty"`
	// CUDAVersions is a constraint on the numeric CUDA version, e.g. ">= 110".
	CUDAVersions           string   `json:"cudaVersions,omitempty"`
	ExcludePython          []string `json:"excludePython,omitempty"`
	RequireImageSubstrings []string `json:"requireImageSubstrings,omitempty"`
	ExcludeImageSubstrings []string `json:"excludeImageSubstrings,omitempty"`
}

// Descriptor names a test case and what it needs.
type Descriptor struct {
	Name         string       `json:"name"`
	Requirements Requirements `json:"requirements"`
}

// Environment is what a test case would run against.
type Environment struct {
	Image        *image.Image
	Region       string
	InstanceType string
	// InstanceProcessor is the device class of InstanceType, if known.
	InstanceProcessor benchmark.Processor
	NodeCount         int
}

// Decision is the outcome of evaluating a descriptor.
type Decision struct {
	Run     bool
	Reasons []string
}

func (d Decision) String() string {
	if d.Run {
		return "run"
	}
	return "skip: " + strings.Join(d.Reasons, "; ")
}

// Rule checks one aspect of a descriptor against an environment.
type Rule interface {
	Name() string
	Check(d *Descriptor, env *Environment) (skip bool, reason string, err error)
}

// Engine evaluates descriptors against a fixed list of rules.
type Engine struct {
	rules []Rule
}

func NewEngine(rules ...Rule) *Engine {
	return &Engine{rules: rules}
}

// Evaluate runs every rule and skips the case if any rule says so. A rule error aborts evaluation.
func (e *Engine) Evaluate(d *Descriptor, env *Environment) (Decision, error) {
	if env == nil || env.Image == nil {
		return Decision{}, fmt.Errorf("%s: environment has no image", d.Name)
	}
	decision := Decision{Run: true}
	for _, rule := range e.rules {
		skip, reason, err := rule.Check(d, env)
		if err != nil {
			return Decision{}, fmt.Errorf("%s: rule %s: %w", d.Name, rule.Name(), err)
		}
		if skip {
			decision.Run = false
			decision.Reasons = append(decision.Reasons, fmt.Sprintf("%s: %s", rule.Name(), reason))
		}
	}
	return decision, nil
}
