package runner

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/ethereum-optimism/infra/op-blackbox/compiler"
	"github.com/ethereum-optimism/infra/op-blackbox/metrics"
	"github.com/ethereum-optimism/infra/op-blackbox/process"
	"github.com/ethereum-optimism/infra/op-blackbox/types"
	"github.com/ethereum/go-ethereum/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// ArtifactProvider returns the compiled artifact for a build request.
type ArtifactProvider interface {
	GetOrCompile(ctx context.Context, req types.BuildRequest) (*types.Artifact, error)
}

// ProcessRunner executes a compiled artifact.
type ProcessRunner interface {
	Run(ctx context.Context, req process.RunRequest) (*types.ExecutionResult, error)
}

// VerdictMatcher turns observations into verdicts.
type VerdictMatcher interface {
	Match(result *types.ExecutionResult, exp types.Expectation) types.Verdict
	MatchCompileError(compileErr *types.CompileError, exp types.Expectation) types.Verdict
}

// EngineConfig configures an Engine
type EngineConfig struct {
	Artifacts      ArtifactProvider
	Processes      ProcessRunner
	Matcher        VerdictMatcher
	EntryPointRule compiler.EntryPointRule // zero value selects the default rule
	Log            log.Logger
}

// Engine runs test cases end to end: tag gate, compilation through the
// artifact cache, execution and matching. It is safe for concurrent use.
type Engine struct {
	artifacts ArtifactProvider
	processes ProcessRunner
	matcher   VerdictMatcher
	rule      compiler.EntryPointRule
	log       log.Logger
	tracer    trace.Tracer
}

// NewEngine creates an Engine
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Artifacts == nil {
		return nil, fmt.Errorf("artifact provider cannot be nil")
	}
	if cfg.Processes == nil {
		return nil, fmt.Errorf("process runner cannot be nil")
	}
	if cfg.Matcher == nil {
		return nil, fmt.Errorf("matcher cannot be nil")
	}
	if cfg.Log == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	rule := cfg.EntryPointRule
	if rule.Main == nil {
		rule = compiler.DefaultEntryPointRule()
	}
	return &Engine{
		artifacts: cfg.Artifacts,
		processes: cfg.Processes,
		matcher:   cfg.Matcher,
		rule:      rule,
		log:       cfg.Log.New("component", "engine"),
		tracer:    otel.Tracer("test runner"),
	}, nil
}

// RunTestCase runs tc under cfg and returns exactly one verdict. Panics are
// recovered into an error verdict.
func (e *Engine) RunTestCase(ctx context.Context, tc types.TestCase, cfg *types.PipelineConfig) (v types.Verdict) {
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, fmt.Sprintf("test %s", tc.GetName()))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			e.log.Error("Test case panicked", "test", tc.GetName(), "panic", r, "stack", string(debug.Stack()))
			metrics.RecordError("panic")
			v = types.Errored(types.NewInfrastructureError("run test case", fmt.Errorf("panic: %v", r)))
		}
		v.TestID = tc.ID
		if cfg != nil {
			v.Pipeline = cfg.Name
		}
		v.Duration = time.Since(start)
		metrics.RecordVerdict(v.Pipeline, tc.Group, v.Status)
		e.logVerdict(tc, v)
	}()

	return e.runTestCase(ctx, tc, cfg)
}

func (e *Engine) runTestCase(ctx context.Context, tc types.TestCase, cfg *types.PipelineConfig) types.Verdict {
	if cfg == nil {
		return types.Errored(&types.ConfigurationError{Reason: "pipeline config cannot be nil"})
	}
	if tag := cfg.SkipReason(tc); tag != "" {
		return types.Skipped(tag)
	}
	if tc.Expected == nil {
		return types.Errored(&types.ConfigurationError{Reason: fmt.Sprintf("test %s has no expectation", tc.GetName())})
	}

	req, err := compiler.NewBuildRequest(tc, cfg, e.rule)
	if err != nil {
		return types.Errored(err)
	}

	artifact, err := e.compile(ctx, req)
	if err != nil {
		var compileErr *types.CompileError
		if errors.As(err, &compileErr) {
			return e.matcher.MatchCompileError(compileErr, tc.Expected)
		}
		return types.Errored(err)
	}
	if types.ExpectsCompileError(tc.Expected) {
		return types.Fail("compilation succeeded", "compiled "+artifact.Executable, tc.Expected.String())
	}

	result, err := e.execute(ctx, tc, cfg, artifact)
	if err != nil {
		return types.Errored(err)
	}
	return e.matcher.Match(result, tc.Expected)
}

func (e *Engine) compile(ctx context.Context, req types.BuildRequest) (*types.Artifact, error) {
	ctx, span := e.tracer.Start(ctx, "compile")
	defer span.End()
	return e.artifacts.GetOrCompile(ctx, req)
}

func (e *Engine) execute(ctx context.Context, tc types.TestCase, cfg *types.PipelineConfig, artifact *types.Artifact) (*types.ExecutionResult, error) {
	ctx, span := e.tracer.Start(ctx, "execute")
	defer span.End()
	return e.processes.Run(ctx, process.RunRequest{
		TestID:     tc.GetName(),
		Executable: artifact.Executable,
		Args:       tc.Args,
		Stdin:      tc.Stdin,
		Timeout:    cfg.EffectiveTimeout(tc),
		Convention: cfg.Convention(),
	})
}

func (e *Engine) logVerdict(tc types.TestCase, v types.Verdict) {
	switch v.Status {
	case types.VerdictPass, types.VerdictSkipped:
		e.log.Debug("Test case finished", "test", tc.GetName(), "pipeline", v.Pipeline, "verdict", v.String(), "duration", v.Duration)
	case types.VerdictFail:
		e.log.Info("Test case failed", "test", tc.GetName(), "pipeline", v.Pipeline, "reason", v.Reason, "duration", v.Duration)
	default:
		e.log.Warn("Test case errored", "test", tc.GetName(), "pipeline", v.Pipeline, "err", v.Reason, "duration", v.Duration)
	}
}
