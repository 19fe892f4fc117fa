package perftest

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/dlc-tester/internal/testcase"
	"golang.org/x/sync/errgroup"
)

// RunAll runs the cases for an image, at most parallelism at a time. A failing case does not
// stop the others. Outcomes are returned in the order of cases; failed cases may have a nil or
// partial Outcome. The returned error joins the error of every failed case.
func RunAll(ctx context.Context, cfg *Config, imageURI string, cases []*testcase.Descriptor, parallelism int) ([]*Outcome, error) {
	outcomes := make([]*Outcome, len(cases))
	errs := make([]error, len(cases))
	var g errgroup.Group
	if parallelism > 0 {
		g.SetLimit(parallelism)
	}
	for i, d := range cases {
		g.Go(func() error {
			outcome, err := Run(ctx, cfg, imageURI, d)
			outcomes[i] = outcome
			if err != nil {
				errs[i] = fmt.Errorf("%s: %w", d.Name, err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return outcomes, errors.Join(errs...)
}
