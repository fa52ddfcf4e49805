package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ethereum-optimism/infra/op-blackbox/types"
)

const (
	RunDirectoryPrefix = "testrun-" // Standardized prefix for run directories
	VerdictsFilename   = "verdicts.jsonl"
)

// VerdictRecord is one verdict with the pipeline and group it ran under
type VerdictRecord struct {
	Pipeline string
	Group    string
	Verdict  *types.Verdict
}

// Name returns a display name for the record
func (r *VerdictRecord) Name() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{r.Pipeline, r.Group, r.Verdict.TestID} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, "/")
}

// ResultSink is an interface for different ways of consuming verdicts
type ResultSink interface {
	// Consume processes a single verdict
	Consume(record *VerdictRecord, runID string) error
	// Complete is called when all verdicts have been consumed
	Complete(runID string) error
}

// FileLogger writes verdicts of a run into its own directory
type FileLogger struct {
	baseDir      string
	logDir       string
	failedDir    string
	summaryFile  string
	allLogsFile  string
	mu           sync.Mutex
	sinks        []ResultSink
	asyncWriters map[string]*AsyncFile
	runID        string
}

// AsyncFile provides non-blocking file writing capabilities
type AsyncFile struct {
	file    *os.File
	queue   chan []byte
	wg      sync.WaitGroup
	mu      sync.Mutex
	stopped bool
}

// NewAsyncFile creates a new AsyncFile for non-blocking writes
func NewAsyncFile(path string) (*AsyncFile, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create file %s: %w", path, err)
	}

	af := &AsyncFile{
		file:  file,
		queue: make(chan []byte, 100),
	}
	af.wg.Add(1)
	go af.processQueue()
	return af, nil
}

// Write queues data to be written asynchronously
func (af *AsyncFile) Write(data []byte) error {
	af.mu.Lock()
	defer af.mu.Unlock()

	if af.stopped {
		return fmt.Errorf("async file is closed")
	}
	dataCopy := make([]byte, len(data))
	copy(dataCopy, data)
	af.queue <- dataCopy
	return nil
}

func (af *AsyncFile) processQueue() {
	defer af.wg.Done()

	for data := range af.queue {
		if _, err := af.file.Write(data); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing to file: %v\n", err)
		}
	}
}

// Close stops the async writer and closes the file
func (af *AsyncFile) Close() error {
	af.mu.Lock()
	if !af.stopped {
		af.stopped = true
		close(af.queue)
	}
	af.mu.Unlock()

	af.wg.Wait()
	return af.file.Close()
}

// NewFileLogger creates the run directory and the default sinks
func NewFileLogger(baseDir string, runID string) (*FileLogger, error) {
	if runID == "" {
		return nil, fmt.Errorf("runID cannot be empty")
	}
	if baseDir == "" {
		return nil, fmt.Errorf("baseDir cannot be empty")
	}

	logDir := filepath.Join(baseDir, RunDirectoryPrefix+runID)
	failedDir := filepath.Join(logDir, "failed")

	for _, dir := range []string{baseDir, logDir, failedDir, filepath.Join(logDir, "passed")} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	logger := &FileLogger{
		baseDir:      baseDir,
		logDir:       logDir,
		failedDir:    failedDir,
		summaryFile:  filepath.Join(logDir, "summary.log"),
		allLogsFile:  filepath.Join(logDir, "all.log"),
		asyncWriters: make(map[string]*AsyncFile),
		runID:        runID,
	}
	logger.sinks = []ResultSink{
		&AllLogsFileSink{logger: logger},
		&PerTestFileSink{logger: logger, processedTests: make(map[string]bool)},
		&VerdictJSONSink{logger: logger},
		NewHTMLSummarySink(logger),
	}
	return logger, nil
}

func (l *FileLogger) getAsyncWriter(path string) (*AsyncFile, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if writer, exists := l.asyncWriters[path]; exists {
		return writer, nil
	}
	writer, err := NewAsyncFile(path)
	if err != nil {
		return nil, err
	}
	l.asyncWriters[path] = writer
	return writer, nil
}

func (l *FileLogger) closeAllWriters() {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, writer := range l.asyncWriters {
		_ = writer.Close()
	}
	l.asyncWriters = make(map[string]*AsyncFile)
}

// GetDirectoryForRunID returns the path for a specific runID
func (l *FileLogger) GetDirectoryForRunID(runID string) (string, error) {
	if runID == "" {
		return "", fmt.Errorf("runID cannot be empty")
	}
	if runID == l.runID {
		return l.logDir, nil
	}
	return filepath.Join(l.baseDir, RunDirectoryPrefix+runID), nil
}

// LogVerdict feeds a verdict to all registered sinks
func (l *FileLogger) LogVerdict(record *VerdictRecord, runID string) error {
	if runID == "" {
		return fmt.Errorf("runID cannot be empty")
	}
	if record == nil || record.Verdict == nil {
		return fmt.Errorf("verdict cannot be nil")
	}
	for _, sink := range l.sinks {
		if err := sink.Consume(record, runID); err != nil {
			return fmt.Errorf("error in sink: %w", err)
		}
	}
	return nil
}

// LogSummary writes a summary of the run to summary.log
func (l *FileLogger) LogSummary(summary string, runID string) error {
	summaryFile, err := l.fileForRunID(runID, "summary.log")
	if err != nil {
		return err
	}
	writer, err := l.getAsyncWriter(summaryFile)
	if err != nil {
		return err
	}
	return writer.Write([]byte(summary))
}

// Complete finalizes all sinks and closes all file writers
func (l *FileLogger) Complete(runID string) error {
	if runID == "" {
		return fmt.Errorf("runID cannot be empty")
	}
	for _, sink := range l.sinks {
		if err := sink.Complete(runID); err != nil {
			return fmt.Errorf("error completing sink: %w", err)
		}
	}
	l.closeAllWriters()
	return nil
}

// GetBaseDir returns the directory of the current run
func (l *FileLogger) GetBaseDir() string {
	return l.logDir
}

// GetFailedDir returns the directory containing logs for failed tests
func (l *FileLogger) GetFailedDir() string {
	return l.failedDir
}

// GetSummaryFile returns the path to the summary file
func (l *FileLogger) GetSummaryFile() string {
	return l.summaryFile
}

// GetAllLogsFile returns the path to the all logs file
func (l *FileLogger) GetAllLogsFile() string {
	return l.allLogsFile
}

// GetRunID returns the current runID
func (l *FileLogger) GetRunID() string {
	return l.runID
}

func (l *FileLogger) fileForRunID(runID, name string) (string, error) {
	baseDir, err := l.GetDirectoryForRunID(runID)
	if err != nil {
		return "", err
	}
	return filepath.Join(baseDir, name), nil
}

// safeFilename converts a string to a safe filename by replacing problematic characters
func safeFilename(s string) string {
	replacer := strings.NewReplacer(
		"/", "_", "\\", "_", ":", "_", "*", "_", "?", "_",
		"\"", "_", "<", "_", ">", "_", "|", "_", " ", "_", "...", "",
	)
	return replacer.Replace(s)
}

// AllLogsFileSink writes every verdict to a single all.log file
type AllLogsFileSink struct {
	logger *FileLogger
}

// Consume appends a verdict to all.log
func (s *AllLogsFileSink) Consume(record *VerdictRecord, runID string) error {
	allLogsFile, err := s.logger.fileForRunID(runID, "all.log")
	if err != nil {
		return err
	}
	writer, err := s.logger.getAsyncWriter(allLogsFile)
	if err != nil {
		return err
	}

	v := record.Verdict
	var content strings.Builder
	fmt.Fprintf(&content, "\n")
	fmt.Fprintf(&content, "┌─────────────────────────────────────────────────────────────────────┐\n")
	fmt.Fprintf(&content, "│ TEST: %-64s │\n", truncateString(record.Name(), 64))
	fmt.Fprintf(&content, "├─────────────────────────────────────────────────────────────────────┤\n")
	fmt.Fprintf(&content, "│ Status:   %-62s │\n", v.Status)
	fmt.Fprintf(&content, "│ Pipeline: %-62s │\n", truncateString(record.Pipeline, 62))
	fmt.Fprintf(&content, "│ Group:    %-62s │\n", truncateString(record.Group, 62))
	fmt.Fprintf(&content, "│ Duration: %-62s │\n", v.Duration)
	fmt.Fprintf(&content, "│ Time:     %-62s │\n", time.Now().Format(time.RFC3339))
	fmt.Fprintf(&content, "└─────────────────────────────────────────────────────────────────────┘\n\n")

	if v.Reason != "" {
		fmt.Fprintf(&content, "REASON:\n")
		fmt.Fprintf(&content, "~~~~~~~\n")
		fmt.Fprintf(&content, "%s\n\n", indentText(v.Reason, "  "))
	}
	if v.Result != nil && len(v.Result.Stdout) > 0 {
		fmt.Fprintf(&content, "STDOUT:\n")
		fmt.Fprintf(&content, "~~~~~~~\n")
		fmt.Fprintf(&content, "%s\n", indentText(string(v.Result.Stdout), "  "))
	}
	fmt.Fprintf(&content, "\n")

	return writer.Write([]byte(content.String()))
}

// Complete is a no-op for AllLogsFileSink
func (s *AllLogsFileSink) Complete(runID string) error {
	return nil
}

// PerTestFileSink writes one log file per verdict into passed/ or failed/
type PerTestFileSink struct {
	logger         *FileLogger
	processedTests map[string]bool
	mu             sync.Mutex
}

// Consume writes a verdict to its own file, once per file path
func (s *PerTestFileSink) Consume(record *VerdictRecord, runID string) error {
	baseDir, err := s.logger.GetDirectoryForRunID(runID)
	if err != nil {
		return err
	}

	testFilePath := filepath.Join(baseDir, verdictLogPath(record))
	if err := os.MkdirAll(filepath.Dir(testFilePath), 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", filepath.Dir(testFilePath), err)
	}

	s.mu.Lock()
	if s.processedTests[testFilePath] {
		s.mu.Unlock()
		return nil
	}
	s.processedTests[testFilePath] = true
	s.mu.Unlock()

	return os.WriteFile(testFilePath, []byte(formatVerdictLog(record)), 0644)
}

// Complete is a no-op for PerTestFileSink
func (s *PerTestFileSink) Complete(runID string) error {
	return nil
}

// verdictLogPath is the per-test log file relative to the run directory.
func verdictLogPath(record *VerdictRecord) string {
	dir := "passed"
	if st := record.Verdict.Status; st == types.VerdictFail || st == types.VerdictError {
		dir = "failed"
	}
	return filepath.Join(dir, safeFilename(record.Name())+".log")
}

func formatVerdictLog(record *VerdictRecord) string {
	v := record.Verdict
	var content strings.Builder

	fmt.Fprintf(&content, "TEST: %s\n", record.Name())
	fmt.Fprintf(&content, "STATUS: %s\n", v.Status)
	fmt.Fprintf(&content, "DURATION: %s\n", formatDuration(v.Duration))

	switch v.Status {
	case types.VerdictFail:
		fmt.Fprintf(&content, "\nREASON:\n%s\n", v.Reason)
		fmt.Fprintf(&content, "\nOBSERVED:\n%s\n", v.Observed)
		fmt.Fprintf(&content, "\nEXPECTED:\n%s\n", v.Expected)
	case types.VerdictError, types.VerdictSkipped:
		fmt.Fprintf(&content, "\nREASON:\n%s\n", v.Reason)
	}

	if r := v.Result; r != nil {
		fmt.Fprintf(&content, "\nTERMINATION: %s\n", r.Describe())
		if len(r.Stdout) > 0 {
			fmt.Fprintf(&content, "\nSTDOUT:\n%s\n", r.Stdout)
		}
		if len(r.Stderr) > 0 {
			fmt.Fprintf(&content, "\nSTDERR:\n%s\n", r.Stderr)
		}
	}
	return content.String()
}

// VerdictJSONSink writes one JSON object per verdict to verdicts.jsonl
type VerdictJSONSink struct {
	logger *FileLogger
}

type verdictJSON struct {
	Pipeline    string  `json:"pipeline"`
	Group       string  `json:"group"`
	Test        string  `json:"test"`
	Status      string  `json:"status"`
	Reason      string  `json:"reason,omitempty"`
	Observed    string  `json:"observed,omitempty"`
	Expected    string  `json:"expected,omitempty"`
	SkipTag     string  `json:"skip_tag,omitempty"`
	Termination string  `json:"termination,omitempty"`
	ExitCode    *int    `json:"exit_code,omitempty"`
	Duration    float64 `json:"duration_seconds"`
}

// Consume appends the verdict as a JSON line
func (s *VerdictJSONSink) Consume(record *VerdictRecord, runID string) error {
	path, err := s.logger.fileForRunID(runID, VerdictsFilename)
	if err != nil {
		return err
	}
	writer, err := s.logger.getAsyncWriter(path)
	if err != nil {
		return err
	}

	v := record.Verdict
	out := verdictJSON{
		Pipeline: record.Pipeline,
		Group:    record.Group,
		Test:     v.TestID,
		Status:   string(v.Status),
		Reason:   v.Reason,
		Observed: v.Observed,
		Expected: v.Expected,
		SkipTag:  v.SkipTag,
		Duration: v.Duration.Seconds(),
	}
	if r := v.Result; r != nil {
		out.Termination = string(r.Termination)
		code := r.ExitCode
		out.ExitCode = &code
	}
	data, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("failed to marshal verdict: %w", err)
	}
	return writer.Write(append(data, '\n'))
}

// Complete is a no-op for VerdictJSONSink
func (s *VerdictJSONSink) Complete(runID string) error {
	return nil
}

func indentText(text, indent string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if line != "" {
			lines[i] = indent + line
		}
	}
	return strings.Join(lines, "\n")
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

func formatDuration(d time.Duration) string {
	return fmt.Sprintf("%.2fs", d.Seconds())
}
