//go:build e2e

package sagemakertraining

import (
	"time"

	"github.com/aws/dlc-tester/test/common"
	"sigs.k8s.io/e2e-framework/pkg/env"
)

type Config struct {
	common.MetricOps
	ImageURI       string        `flag:"imageURI" desc:"DLC training image to benchmark"`
	Region         string        `flag:"region" desc:"AWS region the SageMaker jobs run in"`
	ResultsBucket  string        `flag:"resultsBucket" desc:"S3 location (s3://bucket/prefix) for job logs"`
	Command        string        `flag:"command" desc:"Go template of the benchmark command"`
	WorkDir        string        `flag:"workDir" desc:"Directory containing the benchmark scripts"`
	ThresholdsFile string        `flag:"thresholdsFile" desc:"YAML file with threshold tables"`
	Commit         string        `flag:"commit" desc:"Source version under test"`
	Timeout        time.Duration `flag:"jobTimeout" desc:"Time a benchmark job may run"`
	Parallelism    int           `flag:"parallelism" desc:"Number of cases to run at the same time"`
}

// Shared global variables
var (
	testenv    env.Environment
	testConfig = Config{
		Timeout:     45 * time.Minute,
		Parallelism: 2,
		WorkDir:     ".",
	}
)
