package runner

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethereum-optimism/infra/op-blackbox/types"
	"github.com/ethereum/go-ethereum/log"
)

// ProgressIndicator interface for UI updates
type ProgressIndicator interface {
	StartRun(totalTests int)
	StartTest(testName string)
	UpdateTest(testName string, status types.VerdictStatus)
	CompleteGroup(pipeline string, group string, stats ResultStats)
	CompleteRun()
}

type noOpProgressIndicator struct{}

// NewNoOpProgressIndicator creates a progress indicator that does nothing
func NewNoOpProgressIndicator() ProgressIndicator {
	return &noOpProgressIndicator{}
}

func (n *noOpProgressIndicator) StartRun(totalTests int)                                 {}
func (n *noOpProgressIndicator) StartTest(testName string)                               {}
func (n *noOpProgressIndicator) UpdateTest(testName string, status types.VerdictStatus) {}
func (n *noOpProgressIndicator) CompleteGroup(pipeline, group string, stats ResultStats) {}
func (n *noOpProgressIndicator) CompleteRun()                                            {}

// consoleProgressIndicator logs periodic progress updates
type consoleProgressIndicator struct {
	logger   log.Logger
	interval time.Duration
	ticker   *time.Ticker
	stopCh   chan struct{}
	stopOnce sync.Once
	mu       sync.RWMutex

	completedTests int
	failedTests    int
	totalTests     int
	runStartTime   time.Time

	runningTests map[string]time.Time // test name -> start time
}

// NewConsoleProgressIndicator creates a progress indicator that shows updates in the console
func NewConsoleProgressIndicator(logger log.Logger, updateInterval time.Duration) ProgressIndicator {
	if updateInterval == 0 {
		updateInterval = 30 * time.Second
	}
	return &consoleProgressIndicator{
		logger:       logger,
		interval:     updateInterval,
		stopCh:       make(chan struct{}),
		runningTests: make(map[string]time.Time),
	}
}

func (c *consoleProgressIndicator) StartRun(totalTests int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.totalTests = totalTests
	c.completedTests = 0
	c.failedTests = 0
	c.runStartTime = time.Now()
	c.runningTests = make(map[string]time.Time)

	if c.ticker == nil {
		c.ticker = time.NewTicker(c.interval)
		go c.progressReporter()
	}
	c.logger.Info("Starting run", "totalTests", totalTests)
}

func (c *consoleProgressIndicator) StartTest(testName string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.runningTests[testName] = time.Now()
	c.logger.Debug("Test started", "test", testName, "runningTests", len(c.runningTests))
}

func (c *consoleProgressIndicator) UpdateTest(testName string, status types.VerdictStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.runningTests, testName)
	c.completedTests++
	if status == types.VerdictFail || status == types.VerdictError {
		c.failedTests++
	}
	c.logger.Debug("Test completed", "test", testName, "status", status, "completed", c.completedTests, "total", c.totalTests)
}

func (c *consoleProgressIndicator) CompleteGroup(pipeline, group string, stats ResultStats) {
	c.logger.Info("Completed group", "pipeline", pipeline, "group", group,
		"passed", stats.Passed, "failed", stats.Failed, "skipped", stats.Skipped, "errored", stats.Errored)
}

func (c *consoleProgressIndicator) CompleteRun() {
	c.stopOnce.Do(func() {
		if c.ticker != nil {
			c.ticker.Stop()
		}
		close(c.stopCh)
	})

	c.mu.RLock()
	defer c.mu.RUnlock()
	duration := time.Since(c.runStartTime).Truncate(time.Millisecond)
	c.logger.Info("Completed run", "completed", c.completedTests, "total", c.totalTests, "unsuccessful", c.failedTests, "duration", duration)
}

func (c *consoleProgressIndicator) progressReporter() {
	for {
		select {
		case <-c.ticker.C:
			c.reportProgress()
		case <-c.stopCh:
			return
		}
	}
}

func (c *consoleProgressIndicator) reportProgress() {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var percentComplete float64
	if c.totalTests > 0 {
		percentComplete = float64(c.completedTests) * 100.0 / float64(c.totalTests)
	}
	c.logger.Info("Progress update",
		"completed", c.completedTests,
		"total", c.totalTests,
		"percent", fmt.Sprintf("%.1f%%", percentComplete),
		"numRunning", len(c.runningTests),
		"longestRunning", formatRunningTests(c.runningTests, 3),
	)
}

// formatRunningTests lists the longest running tests first
func formatRunningTests(runningTests map[string]time.Time, maxShow int) string {
	if len(runningTests) == 0 {
		return ""
	}

	type runningTest struct {
		name     string
		duration time.Duration
	}

	var running []runningTest
	now := time.Now()
	for testName, startTime := range runningTests {
		running = append(running, runningTest{name: testName, duration: now.Sub(startTime)})
	}
	sort.Slice(running, func(i, j int) bool {
		if running[i].duration == running[j].duration {
			return running[i].name < running[j].name
		}
		return running[i].duration > running[j].duration
	})

	var runningStrs []string
	for i, test := range running {
		if i >= maxShow {
			break
		}
		runningStrs = append(runningStrs, fmt.Sprintf("%s (%v)", test.name, test.duration.Truncate(time.Second)))
	}
	if len(running) > maxShow {
		runningStrs = append(runningStrs, fmt.Sprintf("+%d more", len(running)-maxShow))
	}
	return strings.Join(runningStrs, ", ")
}
