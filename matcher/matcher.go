package matcher

import (
	"fmt"
	"strings"

	"github.com/ethereum-optimism/infra/op-blackbox/types"
	"github.com/pmezard/go-difflib/difflib"
)

const maxObservedBytes = 4096

// Matcher decides verdicts from execution results and expectations. It is
// safe for concurrent use.
type Matcher struct {
	patterns *patternCache
}

// New creates a Matcher. patternCacheSize bounds the number of compiled
// regular expressions kept; <= 0 selects a default.
func New(patternCacheSize int) (*Matcher, error) {
	patterns, err := newPatternCache(patternCacheSize)
	if err != nil {
		return nil, err
	}
	return &Matcher{patterns: patterns}, nil
}

// Match decides the verdict for one execution. Running into the timeout
// fails every expectation except ExpectTimeout; a cancelled run is an error,
// not a failure.
func (m *Matcher) Match(result *types.ExecutionResult, exp types.Expectation) types.Verdict {
	if result == nil {
		return types.Errored(types.NewInfrastructureError("match", fmt.Errorf("no execution result")))
	}
	if exp == nil {
		return types.Errored(&types.ConfigurationError{Reason: "test case has no expectation"})
	}
	if result.Termination == types.TerminationCancelled {
		return types.Errored(types.NewInfrastructureError("run", fmt.Errorf("execution cancelled")))
	}

	if _, ok := exp.(types.ExpectTimeout); !ok && result.Termination == types.TerminationTimeout {
		return withResult(types.Fail("killed by timeout", result.Describe(), exp.String()), result)
	}

	var v types.Verdict
	switch e := exp.(type) {
	case types.ExpectOutput:
		v = m.matchOutput(result, e)
	case types.ExpectExitCode:
		v = m.matchExitCode(result, e)
	case types.ExpectException:
		v = m.matchException(result, e)
	case types.ExpectTimeout:
		v = m.matchTimeout(result, e)
	case types.ExpectHook:
		v = m.matchHook(result, e)
	case types.ExpectCompileError:
		v = types.Fail("compilation succeeded", "compiled and "+result.Describe(), e.String())
	default:
		v = types.Errored(&types.ConfigurationError{Reason: fmt.Sprintf("unsupported expectation %T", exp)})
	}
	return withResult(v, result)
}

// MatchCompileError decides the verdict for a test whose compilation failed.
// Only ExpectCompileError can pass; under any other expectation the compile
// failure is an error verdict.
func (m *Matcher) MatchCompileError(compileErr *types.CompileError, exp types.Expectation) types.Verdict {
	if compileErr == nil {
		return types.Errored(types.NewInfrastructureError("match", fmt.Errorf("no compile error")))
	}
	e, ok := exp.(types.ExpectCompileError)
	if !ok {
		return types.Errored(compileErr)
	}
	if e.Message == "" {
		return types.Pass()
	}
	for _, d := range compileErr.Diagnostics {
		matched, err := m.patterns.match(e.Message, d.Message)
		if err != nil {
			return types.Errored(&types.ConfigurationError{Reason: "invalid compile error pattern", Err: err})
		}
		if matched {
			return types.Pass()
		}
	}
	matched, err := m.patterns.match(e.Message, compileErr.Output)
	if err != nil {
		return types.Errored(&types.ConfigurationError{Reason: "invalid compile error pattern", Err: err})
	}
	if matched {
		return types.Pass()
	}
	return types.Fail("compile error message mismatch", excerpt(compileErr.Error()), e.String())
}

func (m *Matcher) matchOutput(result *types.ExecutionResult, e types.ExpectOutput) types.Verdict {
	if result.Termination != types.TerminationNormal {
		return types.Fail("abnormal termination", describeWithStderr(result), e.String())
	}
	observed := NormalizeOutput(string(result.Stdout))
	expected := NormalizeOutput(e.Stdout)
	if observed == expected {
		return types.Pass()
	}
	reason := "stdout mismatch"
	if result.StdoutTruncated {
		reason += " (stdout truncated)"
	}
	if diff := unifiedDiff(expected, observed); diff != "" {
		reason += "\n" + diff
	}
	return types.Fail(reason, quote(observed), quote(expected))
}

func (m *Matcher) matchExitCode(result *types.ExecutionResult, e types.ExpectExitCode) types.Verdict {
	if !result.Termination.ExitedOnItsOwn() {
		return types.Fail("process did not exit on its own", describeWithStderr(result), e.String())
	}
	if e.AnyNonZero {
		if result.ExitCode != 0 {
			return types.Pass()
		}
		return types.Fail("exit code mismatch", fmt.Sprintf("exit code %d", result.ExitCode), e.String())
	}
	if result.ExitCode != e.Code {
		return types.Fail("exit code mismatch", fmt.Sprintf("exit code %d", result.ExitCode), e.String())
	}
	return types.Pass()
}

func (m *Matcher) matchException(result *types.ExecutionResult, e types.ExpectException) types.Verdict {
	if !result.Termination.IsException() || result.Exception == nil {
		return types.Fail("no uncaught exception", describeWithStderr(result), e.String())
	}
	info := result.Exception
	ok, err := m.patterns.match(e.Type, info.Type)
	if err != nil {
		return types.Errored(&types.ConfigurationError{Reason: "invalid exception type pattern", Err: err})
	}
	if !ok {
		return types.Fail("exception type mismatch", info.Raw, e.String())
	}
	ok, err = m.patterns.match(e.Message, info.Message)
	if err != nil {
		return types.Errored(&types.ConfigurationError{Reason: "invalid exception message pattern", Err: err})
	}
	if !ok {
		return types.Fail("exception message mismatch", info.Raw, e.String())
	}
	return types.Pass()
}

func (m *Matcher) matchTimeout(result *types.ExecutionResult, e types.ExpectTimeout) types.Verdict {
	if result.Termination == types.TerminationTimeout {
		return types.Pass()
	}
	return types.Fail("process finished before the timeout", result.Describe(), e.String())
}

func (m *Matcher) matchHook(result *types.ExecutionResult, e types.ExpectHook) types.Verdict {
	if e.AnyNonZero {
		if result.Termination == types.TerminationNormal {
			return types.Fail("process exited normally", result.Describe(), e.String())
		}
	} else {
		if !result.Termination.ExitedOnItsOwn() {
			return types.Fail("process did not exit on its own", describeWithStderr(result), e.String())
		}
		if result.ExitCode != e.ExitCode {
			return types.Fail("exit code mismatch", fmt.Sprintf("exit code %d", result.ExitCode), e.String())
		}
	}

	for _, stream := range [][]byte{result.Stdout, result.Stderr} {
		ok, err := m.patterns.match(e.Output, string(stream))
		if err != nil {
			return types.Errored(&types.ConfigurationError{Reason: "invalid hook output pattern", Err: err})
		}
		if ok {
			return types.Pass()
		}
	}
	return types.Fail("hook output not found", describeWithStderr(result), e.String())
}

// NormalizeOutput converts CRLF line endings and drops trailing newlines, so
// "OK" and "OK\n" compare equal.
func NormalizeOutput(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.TrimRight(s, "\n")
}

func unifiedDiff(expected, observed string) string {
	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(expected + "\n"),
		B:        difflib.SplitLines(observed + "\n"),
		FromFile: "expected",
		ToFile:   "observed",
		Context:  2,
	})
	if err != nil {
		return ""
	}
	return excerpt(diff)
}

func withResult(v types.Verdict, result *types.ExecutionResult) types.Verdict {
	v.Result = result
	return v
}

func describeWithStderr(result *types.ExecutionResult) string {
	desc := result.Describe()
	if stderr := strings.TrimSpace(string(result.Stderr)); stderr != "" {
		desc += "; stderr: " + stderr
	}
	return excerpt(desc)
}

func quote(s string) string {
	return fmt.Sprintf("%q", excerpt(s))
}

func excerpt(s string) string {
	if len(s) <= maxObservedBytes {
		return s
	}
	return s[:maxObservedBytes] + "...(truncated)"
}
