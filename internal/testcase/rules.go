package testcase

import (
	"fmt"
	"os"
	"strings"

	goversion "github.com/hashicorp/go-version"
	"golang.org/x/exp/slices"
	"sigs.k8s.io/yaml"
)

// RuleFunc adapts a function to the Rule interface.
type RuleFunc struct {
	RuleName string
	Fn       func(d *Descriptor, env *Environment) (bool, string, error)
}

func (r RuleFunc) Name() string { return r.RuleName }

func (r RuleFunc) Check(d *Descriptor, env *Environment) (bool, string, error) {
	return r.Fn(d, env)
}

// DefaultRules returns the rules that only look at the descriptor and environment.
func DefaultRules() []Rule {
	return []Rule{
		FrameworkRule(),
		JobTypeRule(),
		PlatformRule(),
		ProcessorRule(),
		NodeCountRule(),
		FrameworkVersionRule(),
		CUDAVersionRule(),
		PythonRule(),
		ImageSubstringRule(),
		InstanceProcessorRule(),
		RegionRule(DefaultRegionRestrictions()),
	}
}

func FrameworkRule() Rule {
	return RuleFunc{RuleName: "framework", Fn: func(d *Descriptor, env *Environment) (bool, string, error) {
		req := d.Requirements.Frameworks
		if len(req) == 0 || slices.Contains(req, env.Image.Framework) {
			return false, "", nil
		}
		return true, fmt.Sprintf("framework %s not in %v", env.Image.Framework, req), nil
	}}
}

func JobTypeRule() Rule {
	return RuleFunc{RuleName: "job-type", Fn: func(d *Descriptor, env *Environment) (bool, string, error) {
		req := d.Requirements.JobTypes
		if len(req) == 0 || slices.Contains(req, env.Image.JobType) {
			return false, "", nil
		}
		return true, fmt.Sprintf("job type %s not in %v", env.Image.JobType, req), nil
	}}
}

func PlatformRule() Rule {
	return RuleFunc{RuleName: "platform", Fn: func(d *Descriptor, env *Environment) (bool, string, error) {
		req := d.Requirements.Platforms
		if len(req) == 0 || slices.Contains(req, env.Image.Platform) {
			return false, "", nil
		}
		return true, fmt.Sprintf("platform %s not in %v", env.Image.Platform, req), nil
	}}
}

func ProcessorRule() Rule {
	return RuleFunc{RuleName: "processor", Fn: func(d *Descriptor, env *Environment) (bool, string, error) {
		req := d.Requirements.Processors
		if len(req) == 0 || slices.Contains(req, env.Image.Processor) {
			return false, "", nil
		}
		return true, fmt.Sprintf("processor %s not in %v", env.Image.Processor, req), nil
	}}
}

func NodeCountRule() Rule {
	return RuleFunc{RuleName: "node-count", Fn: func(d *Descriptor, env *Environment) (bool, string, error) {
		req := d.Requirements.NodeCount
		if req == 0 || env.NodeCount == 0 || req == env.NodeCount {
			return false, "", nil
		}
		return true, fmt.Sprintf("needs %d node(s), environment has %d", req, env.NodeCount), nil
	}}
}

func FrameworkVersionRule() Rule {
	return RuleFunc{RuleName: "framework-version", Fn: func(d *Descriptor, env *Environment) (bool, string, error) {
		return checkVersion(d.Requirements.FrameworkVersions, env.Image.FrameworkVersion, "framework version")
	}}
}

func CUDAVersionRule() Rule {
	return RuleFunc{RuleName: "cuda-version", Fn: func(d *Descriptor, env *Environment) (bool, string, error) {
		if d.Requirements.CUDAVersions == "" {
			return false, "", nil
		}
		if env.Image.CUDANumber() == "" {
			return true, "image has no CUDA version", nil
		}
		return checkVersion(d.Requirements.CUDAVersions, env.Image.CUDANumber(), "CUDA version")
	}}
}

func checkVersion(constraint, actual, what string) (bool, string, error) {
	if constraint == "" {
		return false, "", nil
	}
	c, err := goversion.NewConstraint(constraint)
	if err != nil {
		return false, "", fmt.Errorf("invalid %s constraint %q: %w", what, constraint, err)
	}
	v, err := goversion.NewVersion(actual)
	if err != nil {
		return false, "", fmt.Errorf("invalid %s %q: %w", what, actual, err)
	}
	if c.Check(v) {
		return false, "", nil
	}
	return true, fmt.Sprintf("%s %s does not satisfy %q", what, actual, constraint), nil
}

func PythonRule() Rule {
	return RuleFunc{RuleName: "python", Fn: func(d *Descriptor, env *Environment) (bool, string, error) {
		for _, py := range d.Requirements.ExcludePython {
			if strings.HasPrefix(env.Image.PythonVersion, py) {
				return true, fmt.Sprintf("%s is not supported", env.Image.PythonVersion), nil
			}
		}
		return false, "", nil
	}}
}

func ImageSubstringRule() Rule {
	return RuleFunc{RuleName: "image", Fn: func(d *Descriptor, env *Environment) (bool, string, error) {
		for _, s := range d.Requirements.RequireImageSubstrings {
			if !strings.Contains(env.Image.URI, s) {
				return true, fmt.Sprintf("image is not a %s image", s), nil
			}
		}
		for _, s := range d.Requirements.ExcludeImageSubstrings {
			if strings.Contains(env.Image.URI, s) {
				return true, fmt.Sprintf("image is a %s image", s), nil
			}
		}
		return false, "", nil
	}}
}

// InstanceProcessorRule skips when the instance type cannot run the image's processor.
func InstanceProcessorRule() Rule {
	return RuleFunc{RuleName: "instance", Fn: func(d *Descriptor, env *Environment) (bool, string, error) {
		if env.InstanceProcessor == "" || env.InstanceProcessor == env.Image.Processor {
			return false, "", nil
		}
		return true, fmt.Sprintf("%s image cannot run on %s instance %s", env.Image.Processor, env.InstanceProcessor, env.InstanceType), nil
	}}
}

// RegionRestrictions maps an instance type prefix (without "ml.") to the regions that do not offer it.
type RegionRestrictions map[string][]string

func DefaultRegionRestrictions() RegionRestrictions {
	return RegionRestrictions{
		"p4": {
			"af-south-1", "ap-east-1", "ap-northeast-3", "ap-southeast-1", "ap-southeast-2",
			"ap-south-1", "ca-central-1", "eu-central-1", "eu-north-1", "eu-west-2",
			"eu-west-3", "eu-south-1", "me-south-1", "sa-east-1", "us-west-1", "il-central-1",
		},
		"g5": {
			"af-south-1", "ap-east-1", "ap-northeast-3", "ap-southeast-3", "eu-north-1",
			"eu-south-1", "eu-west-3", "me-south-1", "sa-east-1", "us-west-1", "il-central-1",
		},
	}
}

func RegionRule(restrictions RegionRestrictions) Rule {
	return RuleFunc{RuleName: "region", Fn: func(d *Descriptor, env *Environment) (bool, string, error) {
		instanceType := strings.TrimPrefix(env.InstanceType, "ml.")
		for prefix, regions := range restrictions {
			if strings.HasPrefix(instanceType, prefix) && slices.Contains(regions, env.Region) {
				return true, fmt.Sprintf("%s is not available in %s", env.InstanceType, env.Region), nil
			}
		}
		return false, "", nil
	}}
}

// DisabledChecker reports whether a test has been switched off remotely.
type DisabledChecker interface {
	IsDisabled(testName string) bool
}

func RemoteDisableRule(checker DisabledChecker) Rule {
	return RuleFunc{RuleName: "remote-override", Fn: func(d *Descriptor, env *Environment) (bool, string, error) {
		if checker != nil && checker.IsDisabled(d.Name) {
			return true, "disabled by remote override", nil
		}
		return false, "", nil
	}}
}

// LastFailed is the set of test names that failed in the previous attempt for the same commit.
type LastFailed struct {
	names []string
}

// LoadLastFailed reads a JSON object whose keys are failed test names.
// A missing file yields nil, meaning there was no previous attempt.
func LoadLastFailed(path string) (*LastFailed, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read last-failed cache: %w", err)
	}
	var entries map[string]interface{}
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse last-failed cache %s: %w", path, err)
	}
	lf := &LastFailed{}
	for name := range entries {
		lf.names = append(lf.names, name)
	}
	slices.Sort(lf.names)
	return lf, nil
}

// NewLastFailed builds a set from test names.
func NewLastFailed(names ...string) *LastFailed {
	return &LastFailed{names: names}
}

// Failed reports whether testName is part of any recorded failure.
func (lf *LastFailed) Failed(testName string) bool {
	for _, name := range lf.names {
		if strings.Contains(name, testName) {
			return true
		}
	}
	return false
}

// AlreadyPassedRule skips tests that passed in a previous attempt for the same commit.
func AlreadyPassedRule(lastFailed *LastFailed) Rule {
	return RuleFunc{RuleName: "already-passed", Fn: func(d *Descriptor, env *Environment) (bool, string, error) {
		if lastFailed == nil || lastFailed.Failed(d.Name) {
			return false, "", nil
		}
		return true, "passed in a previous attempt for this commit", nil
	}}
}
