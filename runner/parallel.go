package runner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum-optimism/infra/op-blackbox/metrics"
	"github.com/ethereum-optimism/infra/op-blackbox/types"
	"github.com/ethereum/go-ethereum/log"
)

// GroupWork is one group scheduled under one pipeline
type GroupWork struct {
	Group    TestCaseGroup
	Pipeline *types.PipelineConfig
}

func (w GroupWork) pipelineName() string {
	if w.Pipeline == nil {
		return ""
	}
	return w.Pipeline.Name
}

// GroupWorkResult contains the verdicts of executing a GroupWork
type GroupWorkResult struct {
	Work     GroupWork
	Verdicts []types.Verdict
}

// ParallelExecutor spreads groups over a fixed set of workers. Each worker
// runs its group's cases with up to casesPerGroup in flight.
type ParallelExecutor struct {
	engine        *Engine
	concurrency   int
	casesPerGroup int
	log           log.Logger
	resultMgr     *ResultHierarchyManager
	ui            ProgressIndicator
}

// NewParallelExecutor creates a new parallel executor with validation
func NewParallelExecutor(engine *Engine, concurrency int, casesPerGroup int, ui ProgressIndicator) (*ParallelExecutor, error) {
	if engine == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if concurrency <= 0 {
		return nil, fmt.Errorf("concurrency must be positive")
	}
	if casesPerGroup <= 0 {
		casesPerGroup = 1
	}
	if ui == nil {
		ui = NewNoOpProgressIndicator()
	}
	if concurrency > 32 {
		engine.log.Warn("Very high concurrency requested", "concurrency", concurrency,
			"recommendation", "Consider using lower values to avoid resource exhaustion")
	}
	return &ParallelExecutor{
		engine:        engine,
		concurrency:   concurrency,
		casesPerGroup: casesPerGroup,
		log:           engine.log.New("component", "parallel-executor"),
		resultMgr:     NewResultHierarchyManager(),
		ui:            ui,
	}, nil
}

// ExecuteGroups runs every work item and returns the aggregated results.
// Every scheduled case gets a verdict, also after ctx is cancelled; those
// verdicts are errors.
func (pe *ParallelExecutor) ExecuteGroups(ctx context.Context, runID string, work []GroupWork) (*RunnerResult, error) {
	start := time.Now()
	if runID == "" {
		return nil, fmt.Errorf("runID cannot be empty")
	}
	if err := validateWork(work); err != nil {
		return nil, err
	}

	result := pe.resultMgr.CreateEmptyResult(runID, start)
	if len(work) == 0 {
		pe.log.Debug("No work items to execute")
		pe.resultMgr.FinalizeResults(result, start)
		return result, nil
	}

	total := 0
	for _, w := range work {
		total += len(w.Group.Cases)
	}
	pe.ui.StartRun(total)
	defer pe.ui.CompleteRun()
	pe.log.Info("Starting parallel execution", "groups", len(work), "totalTests", total, "concurrency", pe.concurrency)

	bufferSize := min(pe.concurrency*2, 100)
	workChan := make(chan GroupWork, bufferSize)
	resultChan := make(chan GroupWorkResult, bufferSize)

	var wg sync.WaitGroup
	for i := 0; i < pe.concurrency; i++ {
		wg.Add(1)
		go pe.worker(ctx, &wg, workChan, resultChan)
	}

	go func() {
		defer close(workChan)
		for _, w := range work {
			workChan <- w
		}
	}()

	go func() {
		wg.Wait()
		close(resultChan)
	}()

	for wr := range resultChan {
		for _, v := range wr.Verdicts {
			pe.resultMgr.AddVerdictToResults(result, wr.Work.pipelineName(), wr.Work.Group, v)
		}
		if p, ok := result.Pipelines[wr.Work.pipelineName()]; ok {
			if g, ok := p.Groups[wr.Work.Group.ID]; ok {
				pe.ui.CompleteGroup(p.Name, g.ID, g.Stats)
			}
		}
	}

	pe.resultMgr.FinalizeResults(result, start)
	metrics.RecordRun(runID, string(result.Status), result.Stats.Total, result.Stats.Passed, result.Stats.Failed, result.WallClockTime)

	pe.log.Info("Parallel execution completed",
		"duration", result.WallClockTime,
		"status", result.Status,
		"totalTests", result.Stats.Total,
		"passed", result.Stats.Passed,
		"failed", result.Stats.Failed,
		"errored", result.Stats.Errored)
	return result, nil
}

// worker drains workChan. It does not stop on ctx: a cancelled case still
// yields its error verdict quickly.
func (pe *ParallelExecutor) worker(ctx context.Context, wg *sync.WaitGroup, workChan <-chan GroupWork, resultChan chan<- GroupWorkResult) {
	defer wg.Done()

	for w := range workChan {
		pe.log.Debug("Worker processing group", "group", w.Group.ID, "pipeline", w.pipelineName(), "cases", len(w.Group.Cases))
		verdicts := pe.engine.runGroup(ctx, w.Group, w.Pipeline, pe.casesPerGroup, pe.ui)
		resultChan <- GroupWorkResult{Work: w, Verdicts: verdicts}
	}
}

func validateWork(work []GroupWork) error {
	seen := make(map[string]bool)
	for _, w := range work {
		if w.Group.ID == "" {
			return fmt.Errorf("group ID cannot be empty")
		}
		key := w.pipelineName() + "/" + w.Group.ID
		if seen[key] {
			return fmt.Errorf("group %s scheduled twice for pipeline %s", w.Group.ID, w.pipelineName())
		}
		seen[key] = true

		ids := make(map[string]bool)
		for _, tc := range w.Group.Cases {
			if tc.ID == "" {
				return fmt.Errorf("group %s: test case ID cannot be empty", w.Group.ID)
			}
			if ids[tc.ID] {
				return fmt.Errorf("group %s: duplicate test case %s", w.Group.ID, tc.ID)
			}
			ids[tc.ID] = true
		}
	}
	return nil
}
