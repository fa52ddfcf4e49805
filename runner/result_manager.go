package runner

import (
	"time"

	"github.com/ethereum-optimism/infra/op-blackbox/types"
)

// ResultHierarchyManager builds the pipeline -> group -> verdict hierarchy
type ResultHierarchyManager struct{}

// NewResultHierarchyManager creates a new result hierarchy manager
func NewResultHierarchyManager() *ResultHierarchyManager {
	return &ResultHierarchyManager{}
}

// AddVerdictToResults stores a verdict under its pipeline and group
func (rhm *ResultHierarchyManager) AddVerdictToResults(
	result *RunnerResult,
	pipeline string,
	group TestCaseGroup,
	v types.Verdict,
) {
	p := rhm.ensurePipelineExists(result, pipeline)
	g := rhm.ensureGroupExists(p, group)
	g.Verdicts[v.TestID] = &v
	result.updateStats(p, g, &v)
}

func (rhm *ResultHierarchyManager) ensurePipelineExists(result *RunnerResult, name string) *PipelineResult {
	p, exists := result.Pipelines[name]
	if !exists {
		p = &PipelineResult{
			Name:   name,
			Groups: make(map[string]*GroupResult),
			Stats:  ResultStats{StartTime: time.Now()},
		}
		result.Pipelines[name] = p
	}
	return p
}

func (rhm *ResultHierarchyManager) ensureGroupExists(p *PipelineResult, group TestCaseGroup) *GroupResult {
	g, exists := p.Groups[group.ID]
	if !exists {
		g = &GroupResult{
			ID:          group.ID,
			Description: group.Description,
			Verdicts:    make(map[string]*types.Verdict),
			Stats:       ResultStats{StartTime: time.Now()},
		}
		p.Groups[group.ID] = g
	}
	return g
}

// FinalizeResults applies final status determination and timing to all results
func (rhm *ResultHierarchyManager) FinalizeResults(result *RunnerResult, startTime time.Time) {
	endTime := time.Now()

	for _, p := range result.Pipelines {
		for _, g := range p.Groups {
			g.Status = determineGroupStatus(g)
			g.Stats.EndTime = endTime
		}
		p.Status = determinePipelineStatus(p)
		p.Stats.EndTime = endTime
	}

	result.WallClockTime = endTime.Sub(startTime)
	result.Status = determineRunnerStatus(result)
	result.Stats.EndTime = endTime
}

// CreateEmptyResult creates a properly initialized empty result
func (rhm *ResultHierarchyManager) CreateEmptyResult(runID string, startTime time.Time) *RunnerResult {
	return &RunnerResult{
		Pipelines: make(map[string]*PipelineResult),
		Stats:     ResultStats{StartTime: startTime},
		RunID:     runID,
		Status:    types.VerdictSkipped,
	}
}

func determineGroupStatus(g *GroupResult) types.VerdictStatus {
	var statuses []types.VerdictStatus
	for _, v := range g.Verdicts {
		statuses = append(statuses, v.Status)
	}
	return determineStatus(statuses)
}

func determinePipelineStatus(p *PipelineResult) types.VerdictStatus {
	var statuses []types.VerdictStatus
	for _, g := range p.Groups {
		statuses = append(statuses, g.Status)
	}
	return determineStatus(statuses)
}

func determineRunnerStatus(result *RunnerResult) types.VerdictStatus {
	var statuses []types.VerdictStatus
	for _, p := range result.Pipelines {
		statuses = append(statuses, p.Status)
	}
	return determineStatus(statuses)
}

func determineStatus(statuses []types.VerdictStatus) types.VerdictStatus {
	allSkipped := true
	anyFailed := false
	anyErrored := false
	for _, s := range statuses {
		if s != types.VerdictSkipped {
			allSkipped = false
		}
		switch s {
		case types.VerdictFail:
			anyFailed = true
		case types.VerdictError:
			anyErrored = true
		}
	}
	return determineStatusFromFlags(allSkipped, anyFailed, anyErrored)
}

// determineStatusFromFlags orders statuses error > fail > skipped > pass. An
// empty level counts as skipped.
func determineStatusFromFlags(allSkipped, anyFailed, anyErrored bool) types.VerdictStatus {
	if anyErrored {
		return types.VerdictError
	}
	if anyFailed {
		return types.VerdictFail
	}
	if allSkipped {
		return types.VerdictSkipped
	}
	return types.VerdictPass
}
