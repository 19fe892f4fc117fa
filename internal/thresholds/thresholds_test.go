package thresholds

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/dlc-tester/internal/benchmark"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	set, err := Default()
	require.NoError(t, err)
	assert.Equal(t, 2, set.Len())

	table, err := set.Table("tensorflow", "sagemaker-training")
	require.NoError(t, err)
	assert.Equal(t, 4, table.MultiNodeCount)
	for _, processor := range []benchmark.Processor{benchmark.ProcessorCPU, benchmark.ProcessorGPU} {
		for _, nodes := range []int{1, 4} {
			_, err := table.Lookup(processor, nodes, "2.12.0")
			assert.NoError(t, err, "%s x %d", processor, nodes)
		}
	}

	_, err = set.Table("mxnet", "sagemaker-training")
	assert.Error(t, err)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "thresholds.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
tables:
- framework: mxnet
  job: ecs-training
  buckets:
  - processor: cpu
    nodes: single
    entries:
    - versions: "1.9.1"
      minimum: 12.5
    default: 10
`), 0644))

	set, err := Load(path)
	require.NoError(t, err)
	table, err := set.Table("mxnet", "ecs-training")
	require.NoError(t, err)

	threshold, err := table.Lookup(benchmark.ProcessorCPU, 1, "1.9.1")
	require.NoError(t, err)
	assert.Equal(t, 12.5, threshold)

	threshold, err = table.Lookup(benchmark.ProcessorCPU, 1, "1.8.0")
	require.NoError(t, err)
	assert.Equal(t, 10.0, threshold)
}

func TestLoad_EmptyPathUsesDefaults(t *testing.T) {
	set, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 2, set.Len())
}

func TestParse_Invalid(t *testing.T) {
	tests := map[string]string{
		"unknown field": `
tables:
- framework: tensorflow
  job: x
  bukkets: []
`,
		"duplicate table": `
tables:
- framework: tensorflow
  job: x
- framework: tensorflow
  job: x
`,
		"bad constraint": `
tables:
- framework: tensorflow
  job: x
  buckets:
  - processor: gpu
    nodes: single
    entries:
    - versions: "newest"
      minimum: 1
`,
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}
