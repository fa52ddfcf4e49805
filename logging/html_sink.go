package logging

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/ethereum-optimism/infra/op-blackbox/types"
)

const (
	HTMLSummaryFilename = "results.html"
	htmlTemplateName    = "results.html.tmpl"
)

// HTMLSummarySink collects the verdicts of a run and renders results.html
// when the run completes.
type HTMLSummarySink struct {
	logger  *FileLogger
	mu      sync.Mutex
	records map[string][]*VerdictRecord
}

// NewHTMLSummarySink creates an HTMLSummarySink
func NewHTMLSummarySink(logger *FileLogger) *HTMLSummarySink {
	return &HTMLSummarySink{
		logger:  logger,
		records: make(map[string][]*VerdictRecord),
	}
}

// Consume collects the verdict for Complete
func (s *HTMLSummarySink) Consume(record *VerdictRecord, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[runID] = append(s.records[runID], record)
	return nil
}

type htmlRow struct {
	TestID   string
	Status   types.VerdictStatus
	Duration time.Duration
	Reason   string
	LogPath  string
}

type htmlGroup struct {
	ID   string
	Rows []htmlRow
}

type htmlPipeline struct {
	Name   string
	Groups []*htmlGroup
}

type htmlStats struct {
	Total, Passed, Failed, Skipped, Errored int
}

type htmlReport struct {
	RunID       string
	GeneratedAt time.Time
	Status      types.VerdictStatus
	Stats       htmlStats
	Pipelines   []*htmlPipeline
}

// Complete renders results.html for runID
func (s *HTMLSummarySink) Complete(runID string) error {
	s.mu.Lock()
	records := s.records[runID]
	delete(s.records, runID)
	s.mu.Unlock()

	path, err := s.logger.fileForRunID(runID, HTMLSummaryFilename)
	if err != nil {
		return err
	}
	tmpl, err := GetHTMLTemplate(htmlTemplateName)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, htmlTemplateName, buildHTMLReport(runID, records)); err != nil {
		return fmt.Errorf("failed to render HTML summary: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", filepath.Dir(path), err)
	}
	return os.WriteFile(path, buf.Bytes(), 0644)
}

func buildHTMLReport(runID string, records []*VerdictRecord) *htmlReport {
	report := &htmlReport{RunID: runID, GeneratedAt: time.Now()}
	pipelines := make(map[string]*htmlPipeline)
	groups := make(map[[2]string]*htmlGroup)

	for _, r := range records {
		v := r.Verdict
		switch v.Status {
		case types.VerdictPass:
			report.Stats.Passed++
		case types.VerdictFail:
			report.Stats.Failed++
		case types.VerdictSkipped:
			report.Stats.Skipped++
		case types.VerdictError:
			report.Stats.Errored++
		}
		report.Stats.Total++

		p, ok := pipelines[r.Pipeline]
		if !ok {
			p = &htmlPipeline{Name: r.Pipeline}
			pipelines[r.Pipeline] = p
			report.Pipelines = append(report.Pipelines, p)
		}
		key := [2]string{r.Pipeline, r.Group}
		g, ok := groups[key]
		if !ok {
			g = &htmlGroup{ID: r.Group}
			groups[key] = g
			p.Groups = append(p.Groups, g)
		}
		g.Rows = append(g.Rows, htmlRow{
			TestID:   v.TestID,
			Status:   v.Status,
			Duration: v.Duration,
			Reason:   v.Reason,
			LogPath:  filepath.ToSlash(verdictLogPath(r)),
		})
	}

	sort.Slice(report.Pipelines, func(i, j int) bool { return report.Pipelines[i].Name < report.Pipelines[j].Name })
	for _, p := range report.Pipelines {
		sort.Slice(p.Groups, func(i, j int) bool { return p.Groups[i].ID < p.Groups[j].ID })
		for _, g := range p.Groups {
			sort.Slice(g.Rows, func(i, j int) bool { return g.Rows[i].TestID < g.Rows[j].TestID })
		}
	}

	switch {
	case report.Stats.Errored > 0:
		report.Status = types.VerdictError
	case report.Stats.Failed > 0:
		report.Status = types.VerdictFail
	case report.Stats.Passed > 0:
		report.Status = types.VerdictPass
	default:
		report.Status = types.VerdictSkipped
	}
	return report
}
