package blackbox

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum-optimism/infra/op-blackbox/exitcodes"
	"github.com/ethereum-optimism/infra/op-blackbox/runner"
	"github.com/ethereum-optimism/infra/op-blackbox/types"
)

// maxListedCases bounds how many failing cases Error names.
const maxListedCases = 5

// RuntimeError is a run that could not be carried out at all, such as a
// malformed manifest, a missing compiler or an executor that failed to start.
type RuntimeError struct {
	Stage string
	Err   error
}

func (e *RuntimeError) Error() string {
	if e.Stage == "" {
		return fmt.Sprintf("runtime error: %v", e.Err)
	}
	return fmt.Sprintf("runtime error: %s: %v", e.Stage, e.Err)
}

func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// ExitCode implements cli.ExitCoder.
func (e *RuntimeError) ExitCode() int {
	return exitcodes.RuntimeErr
}

// NewRuntimeError wraps err as a failure of the given stage.
func NewRuntimeError(stage string, err error) *RuntimeError {
	return &RuntimeError{Stage: stage, Err: err}
}

// IsRuntimeError checks if the error is or wraps a RuntimeError
func IsRuntimeError(err error) bool {
	var runtimeErr *RuntimeError
	return err != nil && errors.As(err, &runtimeErr)
}

// TestFailureError is a completed run whose verdicts include fail or error.
type TestFailureError struct {
	RunID   string
	Total   int
	Failed  int
	Errored int
	// Cases lists the failed and errored cases as pipeline/group/test in
	// walk order.
	Cases []string
}

func (e *TestFailureError) Error() string {
	msg := fmt.Sprintf("test failure: %d failed, %d errored of %d test cases", e.Failed, e.Errored, e.Total)
	if e.RunID != "" {
		msg += " in run " + e.RunID
	}
	if len(e.Cases) == 0 {
		return msg
	}
	listed := e.Cases
	if len(listed) > maxListedCases {
		listed = listed[:maxListedCases]
	}
	msg += ": " + strings.Join(listed, ", ")
	if more := len(e.Cases) - len(listed); more > 0 {
		msg += fmt.Sprintf(" (+%d more)", more)
	}
	return msg
}

// ExitCode implements cli.ExitCoder.
func (e *TestFailureError) ExitCode() int {
	return exitcodes.TestFailure
}

// NewTestFailureError summarises the failing verdicts of result. It returns
// nil when nothing failed or errored.
func NewTestFailureError(result *runner.RunnerResult) *TestFailureError {
	if result == nil || (result.Stats.Failed == 0 && result.Stats.Errored == 0) {
		return nil
	}
	e := &TestFailureError{
		RunID:   result.RunID,
		Total:   result.Stats.Total,
		Failed:  result.Stats.Failed,
		Errored: result.Stats.Errored,
	}
	result.Walk(func(p *runner.PipelineResult, g *runner.GroupResult, v *types.Verdict) {
		if v.Status == types.VerdictFail || v.Status == types.VerdictError {
			e.Cases = append(e.Cases, p.Name+"/"+g.ID+"/"+v.TestID)
		}
	})
	return e
}

// IsTestFailureError checks if the error is or wraps a TestFailureError
func IsTestFailureError(err error) bool {
	var testErr *TestFailureError
	return err != nil && errors.As(err, &testErr)
}
