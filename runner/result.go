package runner

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ethereum-optimism/infra/op-blackbox/types"
)

// GroupResult captures the verdicts of one group under one pipeline
type GroupResult struct {
	ID          string
	Description string
	Verdicts    map[string]*types.Verdict
	Status      types.VerdictStatus
	Duration    time.Duration
	Stats       ResultStats
}

// PipelineResult captures aggregated results for a pipeline
type PipelineResult struct {
	Name     string
	Groups   map[string]*GroupResult
	Status   types.VerdictStatus
	Duration time.Duration
	Stats    ResultStats
}

// RunnerResult captures the complete run results
type RunnerResult struct {
	Pipelines map[string]*PipelineResult
	Status    types.VerdictStatus
	Duration  time.Duration // sum of verdict durations
	// WallClockTime is the elapsed real time of the run
	WallClockTime time.Duration
	Stats         ResultStats
	RunID         string
}

// ResultStats tracks verdict statistics at each level
type ResultStats struct {
	Total     int
	Passed    int
	Failed    int
	Skipped   int
	Errored   int
	StartTime time.Time
	EndTime   time.Time
}

func (s *ResultStats) add(status types.VerdictStatus) {
	s.Total++
	switch status {
	case types.VerdictPass:
		s.Passed++
	case types.VerdictFail:
		s.Failed++
	case types.VerdictSkipped:
		s.Skipped++
	case types.VerdictError:
		s.Errored++
	}
}

// Walk visits every verdict ordered by pipeline, group and test ID.
func (r *RunnerResult) Walk(fn func(pipeline *PipelineResult, group *GroupResult, v *types.Verdict)) {
	for _, pName := range sortedKeys(r.Pipelines) {
		p := r.Pipelines[pName]
		for _, gID := range sortedKeys(p.Groups) {
			g := p.Groups[gID]
			for _, id := range sortedKeys(g.Verdicts) {
				fn(p, g, g.Verdicts[id])
			}
		}
	}
}

// String returns a formatted string representation of the results
func (r *RunnerResult) String() string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("Test Run Results (%s):\n", formatDuration(r.WallClockTime)))
	b.WriteString(fmt.Sprintf("Total: %d, Passed: %d, Failed: %d, Skipped: %d, Errored: %d\n",
		r.Stats.Total, r.Stats.Passed, r.Stats.Failed, r.Stats.Skipped, r.Stats.Errored))

	var lastPipeline, lastGroup string
	r.Walk(func(p *PipelineResult, g *GroupResult, v *types.Verdict) {
		if p.Name != lastPipeline {
			b.WriteString(fmt.Sprintf("\nPipeline: %s (%s)\n", p.Name, formatDuration(p.Duration)))
			b.WriteString(fmt.Sprintf("├── Status: %s\n", p.Status))
			lastPipeline, lastGroup = p.Name, ""
		}
		if g.ID != lastGroup {
			b.WriteString(fmt.Sprintf("├── Group: %s [status=%s]\n", g.ID, g.Status))
			lastGroup = g.ID
		}
		b.WriteString(fmt.Sprintf("│   ├── Test: %s (%s) [status=%s]\n", v.TestID, formatDuration(v.Duration), v.Status))
		if v.Status == types.VerdictFail || v.Status == types.VerdictError {
			b.WriteString(fmt.Sprintf("│   │   └── %s\n", firstLine(v.Reason)))
		}
	})
	return b.String()
}

func (r *RunnerResult) updateStats(pipeline *PipelineResult, group *GroupResult, v *types.Verdict) {
	group.Stats.add(v.Status)
	group.Duration += v.Duration

	pipeline.Stats.add(v.Status)
	pipeline.Duration += v.Duration

	r.Stats.add(v.Status)
	r.Duration += v.Duration
}

// formatDuration formats the duration to seconds with 1 decimal place
func formatDuration(d time.Duration) string {
	return fmt.Sprintf("%.1fs", d.Seconds())
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
