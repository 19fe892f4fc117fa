// Package thresholds loads benchmark threshold tables from YAML.
package thresholds

import (
	_ "embed"
	"errors"
	"fmt"
	"os"

	"github.com/aws/dlc-tester/internal/benchmark"
	"sigs.k8s.io/yaml"
)

//go:embed thresholds.yaml
var defaultThresholds []byte

// Set is a read-only collection of threshold tables keyed by framework and job.
type Set struct {
	tables map[key]*benchmark.ThresholdTable
}

type key struct {
	framework string
	job       string
}

type document struct {
	Tables []benchmark.ThresholdTable `json:"tables"`
}

// Default returns the thresholds compiled into the binary.
func Default() (*Set, error) {
	return Parse(defaultThresholds)
}

// Load reads a threshold file. An empty path yields the defaults.
func Load(path string) (*Set, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read thresholds file: %w", err)
	}
	set, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return set, nil
}

// Parse decodes and validates a YAML (or JSON) threshold document.
func Parse(data []byte) (*Set, error) {
	var doc document
	if err := yaml.UnmarshalStrict(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse thresholds: %w", err)
	}
	set := &Set{tables: make(map[key]*benchmark.ThresholdTable)}
	var errs []error
	for i := range doc.Tables {
		table := &doc.Tables[i]
		k := key{framework: table.Framework, job: table.Job}
		if _, ok := set.tables[k]; ok {
			errs = append(errs, fmt.Errorf("duplicate threshold table for %s/%s", table.Framework, table.Job))
			continue
		}
		if err := table.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		set.tables[k] = table
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return set, nil
}

// Table returns the table for a framework and job.
func (s *Set) Table(framework, job string) (*benchmark.ThresholdTable, error) {
	table, ok := s.tables[key{framework: framework, job: job}]
	if !ok {
		return nil, fmt.Errorf("no threshold table for framework %q job %q", framework, job)
	}
	return table, nil
}

// Len returns the number of tables in the set.
func (s *Set) Len() int {
	return len(s.tables)
}
