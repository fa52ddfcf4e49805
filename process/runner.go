package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/ethereum-optimism/infra/op-blackbox/metrics"
	"github.com/ethereum-optimism/infra/op-blackbox/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

const (
	defaultWaitDelay = 2 * time.Second
	workDirName      = "exec"
)

var errRunTimeout = errors.New("process timeout")

// Config configures a Runner
type Config struct {
	ScratchDir     string // parent of the per-execution working directories
	MaxProcesses   int64  // concurrently running children; <= 0 means 1
	MaxOutputBytes int    // per stream
	WaitDelay      time.Duration
	Env            []string // added to the inherited environment
	Log            log.Logger
}

// RunRequest is one execution of a compiled artifact.
type RunRequest struct {
	TestID     string
	Executable string
	Args       []string
	Stdin      types.Stdin
	Timeout    time.Duration // zero means no limit besides ctx
	Convention types.RuntimeConvention
}

// Runner executes artifacts as isolated child processes.
type Runner struct {
	cfg Config
	sem *semaphore.Weighted
	log log.Logger
}

// NewRunner creates a Runner
func NewRunner(cfg Config) (*Runner, error) {
	if cfg.ScratchDir == "" {
		return nil, fmt.Errorf("scratch directory cannot be empty")
	}
	if cfg.Log == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if cfg.MaxProcesses <= 0 {
		cfg.MaxProcesses = 1
	}
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = defaultMaxOutputBytes
	}
	if cfg.WaitDelay <= 0 {
		cfg.WaitDelay = defaultWaitDelay
	}
	return &Runner{
		cfg: cfg,
		sem: semaphore.NewWeighted(cfg.MaxProcesses),
		log: cfg.Log.New("component", "process-runner"),
	}, nil
}

// Run executes req and classifies how the child ended. Runtime outcomes,
// timeouts and cancellation included, are reported in the result; an error
// means the child could not be run at all.
//
// The child runs in its own process group, which is killed on timeout or
// cancellation and again after the child is reaped, so no descendant
// outlives Run.
func (r *Runner) Run(ctx context.Context, req RunRequest) (*types.ExecutionResult, error) {
	if req.Executable == "" {
		return nil, types.NewInfrastructureError("run", fmt.Errorf("executable cannot be empty"))
	}
	if err := r.sem.Acquire(ctx, 1); err != nil {
		return &types.ExecutionResult{Termination: types.TerminationCancelled, Timeout: req.Timeout, ExitCode: -1}, nil
	}
	defer r.sem.Release(1)

	workDir := filepath.Join(r.cfg.ScratchDir, workDirName, uuid.New().String())
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, types.NewInfrastructureError("create working directory", err)
	}
	defer func() {
		if err := os.RemoveAll(workDir); err != nil {
			r.log.Warn("Failed to remove working directory", "dir", workDir, "err", err)
		}
	}()

	var runCtx context.Context
	var cancel context.CancelFunc
	if req.Timeout > 0 {
		runCtx, cancel = context.WithTimeoutCause(ctx, req.Timeout, errRunTimeout)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	var killed atomic.Bool
	cmd := exec.CommandContext(runCtx, req.Executable, req.Args...)
	cmd.Dir = workDir
	cmd.Env = append(os.Environ(), r.cfg.Env...)
	setProcAttr(cmd)
	cmd.Cancel = func() error {
		killed.Store(true)
		return killProcessGroup(cmd.Process)
	}
	cmd.WaitDelay = r.cfg.WaitDelay
	if req.Stdin.Provided() {
		cmd.Stdin = bytes.NewReader(req.Stdin.Bytes())
	}
	stdout := newHeadBuffer(r.cfg.MaxOutputBytes)
	stderr := newHeadBuffer(r.cfg.MaxOutputBytes)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	if err := cmd.Start(); err != nil {
		if runCtx.Err() != nil {
			result := &types.ExecutionResult{Timeout: req.Timeout, ExitCode: -1}
			classify(result, true, context.Cause(runCtx), req.Convention)
			return result, nil
		}
		metrics.RecordErrorDetails("spawn", err)
		return nil, types.NewInfrastructureError("spawn process", err)
	}
	metrics.ProcessStarted()
	pid := cmd.Process.Pid
	r.log.Debug("Started process", "test", req.TestID, "pid", pid, "args", req.Args, "stdin", req.Stdin.Len())

	waitErr := cmd.Wait()
	duration := time.Since(start)
	metrics.ProcessFinished()

	if err := killProcessGroup(cmd.Process); err != nil {
		r.log.Warn("Failed to kill process group", "pid", pid, "err", err)
	}

	if cmd.ProcessState == nil {
		return nil, types.NewInfrastructureError("wait for process", waitErr)
	}

	result := &types.ExecutionResult{
		Stdout:          stdout.Bytes(),
		Stderr:          stderr.Bytes(),
		StdoutTruncated: stdout.Truncated(),
		StderrTruncated: stderr.Truncated(),
		ExitCode:        cmd.ProcessState.ExitCode(),
		Signal:          exitSignal(cmd.ProcessState),
		Duration:        duration,
		Timeout:         req.Timeout,
		PID:             pid,
	}
	classify(result, killed.Load(), context.Cause(runCtx), req.Convention)
	metrics.RecordTermination(result.Termination, duration)

	r.log.Debug("Process finished",
		"test", req.TestID,
		"pid", pid,
		"termination", result.Termination,
		"exit_code", result.ExitCode,
		"signal", result.Signal,
		"duration", duration,
	)
	return result, nil
}

// classify sets the termination of a reaped process. killed reports whether
// the runner killed the process group because runCtx ended.
func classify(result *types.ExecutionResult, killed bool, cause error, conv types.RuntimeConvention) {
	if killed {
		if errors.Is(cause, errRunTimeout) {
			result.Termination = types.TerminationTimeout
		} else {
			result.Termination = types.TerminationCancelled
		}
		return
	}

	if info := ParseException(result.Stderr, conv.ExceptionMarker); info != nil {
		result.Exception = info
		if conv.IsAssertion(info.Type) {
			result.Termination = types.TerminationAssertion
		} else {
			result.Termination = types.TerminationException
		}
		return
	}

	switch {
	case result.Signal != "":
		result.Termination = types.TerminationSignal
	case result.ExitCode == 0:
		result.Termination = types.TerminationNormal
	default:
		result.Termination = types.TerminationNonZero
	}
}
