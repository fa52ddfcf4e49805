package blackbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/ethereum-optimism/infra/op-blackbox/cache"
	"github.com/ethereum-optimism/infra/op-blackbox/compiler"
	"github.com/ethereum-optimism/infra/op-blackbox/exitcodes"
	"github.com/ethereum-optimism/infra/op-blackbox/logging"
	"github.com/ethereum-optimism/infra/op-blackbox/matcher"
	"github.com/ethereum-optimism/infra/op-blackbox/metrics"
	"github.com/ethereum-optimism/infra/op-blackbox/process"
	"github.com/ethereum-optimism/infra/op-blackbox/registry"
	"github.com/ethereum-optimism/infra/op-blackbox/runner"
	"github.com/ethereum-optimism/infra/op-blackbox/types"
	"github.com/ethereum-optimism/optimism/op-service/cliapp"
)

const patternCacheSize = 256

// blackbox implements the cliapp.Lifecycle interface.
var _ cliapp.Lifecycle = &blackbox{}

// blackbox compiles and runs the manifest's test cases, once or periodically.
type blackbox struct {
	ctx       context.Context
	config    *Config
	version   string
	registry  *registry.Registry
	work      []runner.GroupWork
	driver    *compiler.Driver
	matcher   *matcher.Matcher
	formatter ResultFormatter
	result    *runner.RunnerResult

	running atomic.Bool
	done    chan struct{}
	wg      sync.WaitGroup

	shutdownCallback func(error) // Callback to signal application shutdown
}

func New(ctx context.Context, config *Config, version string, shutdownCallback func(error)) (*blackbox, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}
	if config.Log == nil {
		return nil, errors.New("logger is required")
	}

	config.Log.Debug("Creating op-blackbox with config",
		"manifest", config.ManifestFile,
		"compiler", config.CompilerBinary,
		"pipelines", config.Pipelines,
		"groups", config.Groups,
		"runInterval", config.RunInterval,
		"runOnce", config.RunOnce)

	reg, err := registry.NewRegistry(registry.Config{
		Log:            config.Log,
		ManifestFile:   config.ManifestFile,
		DefaultTimeout: config.DefaultTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create registry: %w", err)
	}
	work, err := reg.Work(config.Pipelines, config.Groups)
	if err != nil {
		return nil, fmt.Errorf("failed to select work: %w", err)
	}

	toolchain, err := compiler.NewExecToolchain(compiler.ExecConfig{
		Binary:           config.CompilerBinary,
		Version:          config.CompilerVersion,
		Target:           config.Target,
		ExtraArgs:        config.CompilerArgs,
		SessionModeFlag:  config.SessionModeFlag,
		ExecutableSuffix: config.ExecutableSuffix,
		Log:              config.Log,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create toolchain: %w", err)
	}
	driver, err := compiler.NewDriver(toolchain, config.Log)
	if err != nil {
		return nil, fmt.Errorf("failed to create compilation driver: %w", err)
	}
	m, err := matcher.New(patternCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create matcher: %w", err)
	}
	config.Log.Info("blackbox.New: created registry and compilation driver",
		"pipelines", len(reg.Pipelines()), "groups", len(reg.Groups()), "work", len(work))

	if shutdownCallback == nil {
		shutdownCallback = func(error) {}
	}
	return &blackbox{
		ctx:              ctx,
		config:           config,
		version:          version,
		registry:         reg,
		work:             work,
		driver:           driver,
		matcher:          m,
		formatter:        NewConsoleResultFormatter(config.Log, nil),
		done:             make(chan struct{}),
		shutdownCallback: shutdownCallback,
	}, nil
}

// Start runs the selected test cases, once or periodically at the
// configured interval.
// Start implements the cliapp.Lifecycle interface.
func (b *blackbox) Start(ctx context.Context) error {
	defer func() {
		if r := recover(); r != nil {
			b.config.Log.Error("Runtime error occurred", "error", r)
			os.Exit(exitcodes.RuntimeErr)
		}
	}()

	b.ctx = ctx
	b.done = make(chan struct{})
	b.running.Store(true)

	if b.config.RunOnce {
		b.config.Log.Info("Starting op-blackbox in run-once mode")
	} else {
		b.config.Log.Info("Starting op-blackbox in continuous mode", "interval", b.config.RunInterval)
	}

	if err := b.runTests(); err != nil {
		b.config.Log.Error("Runtime error running tests", "error", err)
		return cli.Exit(err.Error(), exitcodes.RuntimeErr)
	}

	if b.config.RunOnce {
		b.config.Log.Info("Tests completed, exiting (run-once mode)")
		b.running.Store(false)

		if failure := NewTestFailureError(b.result); failure != nil {
			b.config.Log.Warn("Run-once test run completed with failures, returning exit code 1",
				"failed", failure.Failed, "errored", failure.Errored)
			return failure
		}

		go func() {
			b.shutdownCallback(nil)
		}()
		return nil
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.config.Log.Debug("Starting periodic test runner goroutine", "interval", b.config.RunInterval)

		for {
			select {
			case <-time.After(b.config.RunInterval):
				if !b.running.Load() {
					b.config.Log.Debug("Service stopped, exiting periodic test runner")
					return
				}
				b.config.Log.Info("Running periodic tests")
				if err := b.runTests(); err != nil {
					b.config.Log.Error("Error running periodic tests", "error", err)
				}

			case <-b.done:
				b.config.Log.Debug("Done signal received, stopping periodic test runner")
				return

			case <-ctx.Done():
				b.config.Log.Debug("Context canceled, stopping periodic test runner")
				b.running.Store(false)
				return
			}
		}
	}()
	b.config.Log.Debug("op-blackbox started successfully")
	return nil
}

// runTests executes one run in a fresh scratch directory and reports it.
func (b *blackbox) runTests() error {
	runID := uuid.New().String()
	scratch := filepath.Join(b.config.ScratchDir, runID)
	defer func() {
		if err := os.RemoveAll(scratch); err != nil {
			b.config.Log.Warn("Failed to remove scratch directory", "dir", scratch, "err", err)
		}
	}()

	executor, err := b.newExecutor(scratch)
	if err != nil {
		metrics.RecordErrorDetails("failed to create executor", err)
		return NewRuntimeError("create executor", err)
	}

	b.config.Log.Info("Running all tests...", "run_id", runID)
	result, err := executor.ExecuteGroups(b.ctx, runID, b.work)
	if err != nil {
		b.config.Log.Error("Runtime error running tests", "error", err)
		return NewRuntimeError("execute groups", err)
	}
	b.result = result

	if err := b.writeRunLogs(result); err != nil {
		// The verdicts stand without their log files.
		b.config.Log.Error("Failed to write run logs", "run_id", runID, "error", err)
		metrics.RecordErrorDetails("failed to write run logs", err)
	}
	if err := b.formatter.FormatResults(result); err != nil {
		b.config.Log.Error("Failed to format results", "error", err)
	}
	b.config.Log.Info("Test run completed", "run_id", runID, "status", result.Status)
	return nil
}

// newExecutor wires a run's artifact cache and process runner under scratch.
func (b *blackbox) newExecutor(scratch string) (*runner.ParallelExecutor, error) {
	artifacts, err := cache.New(cache.Config{
		Root:              filepath.Join(scratch, "artifacts"),
		ToolchainIdentity: b.driver.Identity(),
		Compiler:          b.driver,
		MaxCompilations:   b.config.MaxCompilations,
		Log:               b.config.Log,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create artifact cache: %w", err)
	}
	processes, err := process.NewRunner(process.Config{
		ScratchDir:     filepath.Join(scratch, "exec"),
		MaxProcesses:   b.config.MaxProcesses,
		MaxOutputBytes: b.config.MaxOutputBytes,
		Log:            b.config.Log,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create process runner: %w", err)
	}
	engine, err := runner.NewEngine(runner.EngineConfig{
		Artifacts: artifacts,
		Processes: processes,
		Matcher:   b.matcher,
		Log:       b.config.Log,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}

	ui := runner.NewNoOpProgressIndicator()
	if b.config.ShowProgress {
		ui = runner.NewConsoleProgressIndicator(b.config.Log, b.config.ProgressInterval)
	}
	concurrency := b.config.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	return runner.NewParallelExecutor(engine, concurrency, b.config.CasesPerGroup, ui)
}

func (b *blackbox) writeRunLogs(result *runner.RunnerResult) error {
	fileLogger, err := logging.NewFileLogger(b.config.LogDir, result.RunID)
	if err != nil {
		return err
	}

	var logErr error
	result.Walk(func(p *runner.PipelineResult, g *runner.GroupResult, v *types.Verdict) {
		if logErr != nil {
			return
		}
		logErr = fileLogger.LogVerdict(&logging.VerdictRecord{Pipeline: p.Name, Group: g.ID, Verdict: v}, result.RunID)
	})
	if logErr == nil {
		logErr = fileLogger.LogSummary(result.String(), result.RunID)
	}
	return errors.Join(logErr, fileLogger.Complete(result.RunID))
}

// Stop stops the op-blackbox service.
// Stop implements the cliapp.Lifecycle interface.
func (b *blackbox) Stop(ctx context.Context) error {
	b.config.Log.Info("Stopping op-blackbox")

	if !b.running.Load() {
		b.config.Log.Debug("Service already stopped, nothing to do")
		return nil
	}

	b.running.Store(false)

	b.config.Log.Debug("Sending done signal to goroutines")
	close(b.done)

	b.config.Log.Info("op-blackbox stopped successfully")
	return nil
}

// Stopped returns true if the op-blackbox service is stopped.
// Stopped implements the cliapp.Lifecycle interface.
func (b *blackbox) Stopped() bool {
	return !b.running.Load()
}

// WaitForShutdown blocks until all goroutines have terminated.
func (b *blackbox) WaitForShutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		b.config.Log.Warn("Timed out waiting for goroutines to terminate", "error", ctx.Err())
		return ctx.Err()
	}
}
