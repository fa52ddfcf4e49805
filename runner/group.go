package runner

import (
	"context"
	"fmt"

	"github.com/ethereum-optimism/infra/op-blackbox/types"
	"github.com/sourcegraph/conc/pool"
)

// TestCaseGroup is a set of related test cases that share modules or
// fixtures. Cases with identical compile inputs share one artifact.
type TestCaseGroup struct {
	ID          string
	Description string
	Cases       []types.TestCase
}

// RunGroup runs every case of g under cfg, at most maxConcurrency at a time,
// and returns the verdicts in case order.
func (e *Engine) RunGroup(ctx context.Context, g TestCaseGroup, cfg *types.PipelineConfig, maxConcurrency int) []types.Verdict {
	return e.runGroup(ctx, g, cfg, maxConcurrency, nil)
}

func (e *Engine) runGroup(ctx context.Context, g TestCaseGroup, cfg *types.PipelineConfig, maxConcurrency int, ui ProgressIndicator) []types.Verdict {
	ctx, span := e.tracer.Start(ctx, fmt.Sprintf("group %s", g.ID))
	defer span.End()

	if ui == nil {
		ui = NewNoOpProgressIndicator()
	}
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}

	verdicts := make([]types.Verdict, len(g.Cases))
	p := pool.New().WithMaxGoroutines(maxConcurrency)
	for i, tc := range g.Cases {
		p.Go(func() {
			ui.StartTest(tc.GetName())
			verdicts[i] = e.RunTestCase(ctx, tc, cfg)
			ui.UpdateTest(tc.GetName(), verdicts[i].Status)
		})
	}
	p.Wait()
	return verdicts
}
