package blackbox

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/ethereum-optimism/infra/op-blackbox/runner"
	"github.com/ethereum-optimism/infra/op-blackbox/types"
)

const maxReasonLength = 120

// ResultFormatter is responsible for formatting and displaying run results.
type ResultFormatter interface {
	FormatResults(result *runner.RunnerResult) error
}

// ConsoleResultFormatter renders results as a table.
type ConsoleResultFormatter struct {
	logger log.Logger
	out    io.Writer
}

// NewConsoleResultFormatter creates a ConsoleResultFormatter writing to out,
// or to stdout when out is nil.
func NewConsoleResultFormatter(logger log.Logger, out io.Writer) *ConsoleResultFormatter {
	if out == nil {
		out = os.Stdout
	}
	return &ConsoleResultFormatter{
		logger: logger,
		out:    out,
	}
}

// FormatResults formats and displays the run results.
func (f *ConsoleResultFormatter) FormatResults(result *runner.RunnerResult) error {
	if result == nil {
		return fmt.Errorf("result cannot be nil")
	}
	f.logger.Info("Printing results...")
	t := table.NewWriter()
	t.SetOutputMirror(f.out)
	t.SetTitle(fmt.Sprintf("Black-box Test Results (%s)", formatDuration(result.WallClockTime)))

	t.AppendHeader(table.Row{
		"Type", "ID", "Duration", "Tests", "Passed", "Failed", "Skipped", "Errored", "Status", "Reason",
	})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Type", AutoMerge: true},
		{Name: "ID", WidthMax: 50, WidthMaxEnforcer: text.WrapSoft},
		{Name: "Duration", Align: text.AlignRight},
		{Name: "Tests", Align: text.AlignRight},
		{Name: "Passed", Align: text.AlignRight},
		{Name: "Failed", Align: text.AlignRight},
		{Name: "Skipped", Align: text.AlignRight},
		{Name: "Errored", Align: text.AlignRight},
		{Name: "Reason", WidthMax: 80, WidthMaxEnforcer: text.WrapSoft},
	})

	var lastPipeline, lastGroup string
	var groupCount, groupIndex int
	result.Walk(func(p *runner.PipelineResult, g *runner.GroupResult, v *types.Verdict) {
		if p.Name != lastPipeline {
			if lastPipeline != "" {
				t.AppendSeparator()
			}
			t.AppendRow(statsRow("Pipeline", p.Name, p.Duration, p.Stats, p.Status))
			lastPipeline, lastGroup = p.Name, ""
		}
		if g.ID != lastGroup {
			t.AppendRow(statsRow("Group", fmt.Sprintf("├── %s", g.ID), g.Duration, g.Stats, g.Status))
			lastGroup = g.ID
			groupCount, groupIndex = len(g.Verdicts), 0
		}
		prefix := "│   ├──"
		if groupIndex == groupCount-1 {
			prefix = "│   └──"
		}
		groupIndex++
		t.AppendRow(table.Row{
			"Test",
			fmt.Sprintf("%s %s", prefix, v.TestID),
			formatDuration(v.Duration),
			"1",
			boolToInt(v.Status == types.VerdictPass),
			boolToInt(v.Status == types.VerdictFail),
			boolToInt(v.Status == types.VerdictSkipped),
			boolToInt(v.Status == types.VerdictError),
			getResultString(v.Status),
			keyReason(v),
		})
	})

	switch result.Status {
	case types.VerdictPass:
		t.SetStyle(table.StyleColoredBlackOnGreenWhite)
	case types.VerdictSkipped:
		t.SetStyle(table.StyleColoredBlackOnYellowWhite)
	default:
		t.SetStyle(table.StyleColoredBlackOnRedWhite)
	}

	t.AppendFooter(table.Row{
		"TOTAL",
		"",
		formatDuration(result.Duration),
		result.Stats.Total,
		result.Stats.Passed,
		result.Stats.Failed,
		result.Stats.Skipped,
		result.Stats.Errored,
		getResultString(result.Status),
		"",
	})

	t.Render()
	_, err := fmt.Fprintln(f.out, result.String())
	return err
}

func statsRow(kind, id string, d time.Duration, stats runner.ResultStats, status types.VerdictStatus) table.Row {
	return table.Row{
		kind,
		id,
		formatDuration(d),
		"-",
		stats.Passed,
		stats.Failed,
		stats.Skipped,
		stats.Errored,
		getResultString(status),
		"",
	}
}

// keyReason returns the first line of a fail or error reason.
func keyReason(v *types.Verdict) string {
	if v.Status != types.VerdictFail && v.Status != types.VerdictError {
		return ""
	}
	reason := v.Reason
	if i := strings.IndexByte(reason, '\n'); i >= 0 {
		reason = reason[:i]
	}
	if len(reason) > maxReasonLength {
		reason = reason[:maxReasonLength-3] + "..."
	}
	return reason
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// getResultString returns a string representing the verdict status
func getResultString(status types.VerdictStatus) string {
	switch status {
	case types.VerdictPass:
		return "✓ pass"
	case types.VerdictSkipped:
		return "- skip"
	case types.VerdictError:
		return "! error"
	default:
		return "✗ fail"
	}
}

// Helper function to format duration to seconds with 1 decimal place
func formatDuration(d time.Duration) string {
	return fmt.Sprintf("%.1fs", d.Seconds())
}
