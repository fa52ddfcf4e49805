package matcher

import (
	"testing"

	"github.com/ethereum-optimism/infra/op-blackbox/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func normal(stdout string) *types.ExecutionResult {
	return &types.ExecutionResult{Stdout: []byte(stdout), Termination: types.TerminationNormal}
}

func exited(code int) *types.ExecutionResult {
	term := types.TerminationNonZero
	if code == 0 {
		term = types.TerminationNormal
	}
	return &types.ExecutionResult{ExitCode: code, Termination: term}
}

func timedOut() *types.ExecutionResult {
	return &types.ExecutionResult{Termination: types.TerminationTimeout, ExitCode: -1, Signal: "SIGKILL"}
}

func exception(typ, msg string) *types.ExecutionResult {
	term := types.TerminationException
	if typ == "kotlin.AssertionError" {
		term = types.TerminationAssertion
	}
	return &types.ExecutionResult{
		Termination: term,
		ExitCode:    -1,
		Signal:      "SIGABRT",
		Stderr:      []byte(types.DefaultExceptionMarker + typ + ": " + msg + "\n"),
		Exception:   &types.ExceptionInfo{Type: typ, Message: msg, Raw: types.DefaultExceptionMarker + typ + ": " + msg},
	}
}

func newTestMatcher(t *testing.T) *Matcher {
	m, err := New(8)
	require.NoError(t, err)
	return m
}

func TestMatch(t *testing.T) {
	tests := []struct {
		name     string
		result   *types.ExecutionResult
		exp      types.Expectation
		expected types.VerdictStatus
		reason   string
	}{
		// output
		{name: "output exact", result: normal("OK\n"), exp: types.ExpectOutput{Stdout: "OK\n"}, expected: types.VerdictPass},
		{name: "output trailing newline ignored", result: normal("OK\n"), exp: types.ExpectOutput{Stdout: "OK"}, expected: types.VerdictPass},
		{name: "output missing trailing newline", result: normal("OK"), exp: types.ExpectOutput{Stdout: "OK\n\n"}, expected: types.VerdictPass},
		{name: "output CRLF", result: normal("a\r\nb\r\n"), exp: types.ExpectOutput{Stdout: "a\nb"}, expected: types.VerdictPass},
		{name: "output mismatch", result: normal("KO\n"), exp: types.ExpectOutput{Stdout: "OK"}, expected: types.VerdictFail, reason: "stdout mismatch"},
		{name: "output leading whitespace matters", result: normal(" OK"), exp: types.ExpectOutput{Stdout: "OK"}, expected: types.VerdictFail},
		{name: "output on nonzero exit", result: &types.ExecutionResult{Stdout: []byte("OK"), ExitCode: 1, Termination: types.TerminationNonZero}, exp: types.ExpectOutput{Stdout: "OK"}, expected: types.VerdictFail, reason: "abnormal termination"},
		{name: "empty output", result: normal(""), exp: types.ExpectOutput{}, expected: types.VerdictPass},

		// exit code
		{name: "exit code equal", result: exited(3), exp: types.ExpectExitCode{Code: 3}, expected: types.VerdictPass},
		{name: "exit code zero when three expected", result: exited(0), exp: types.ExpectExitCode{Code: 3}, expected: types.VerdictFail, reason: "exit code mismatch"},
		{name: "exit code zero expected", result: exited(0), exp: types.ExpectExitCode{Code: 0}, expected: types.VerdictPass},
		{name: "any nonzero", result: exited(42), exp: types.ExpectExitCode{AnyNonZero: true}, expected: types.VerdictPass},
		{name: "any nonzero with zero", result: exited(0), exp: types.ExpectExitCode{AnyNonZero: true}, expected: types.VerdictFail},
		{name: "exit code on signal", result: &types.ExecutionResult{Termination: types.TerminationSignal, Signal: "SIGSEGV", ExitCode: -1}, exp: types.ExpectExitCode{Code: 1}, expected: types.VerdictFail, reason: "did not exit on its own"},

		// exception
		{name: "exception any", result: exception("kotlin.IllegalStateException", "boom"), exp: types.ExpectException{}, expected: types.VerdictPass},
		{name: "exception type substring", result: exception("kotlin.IllegalStateException", "boom"), exp: types.ExpectException{Type: "IllegalStateException"}, expected: types.VerdictPass},
		{name: "exception type regexp", result: exception("kotlin.IllegalStateException", "boom"), exp: types.ExpectException{Type: "re:^kotlin\\.Illegal\\w+$"}, expected: types.VerdictPass},
		{name: "exception type mismatch", result: exception("kotlin.IllegalStateException", "boom"), exp: types.ExpectException{Type: "kotlin.Error"}, expected: types.VerdictFail, reason: "exception type mismatch"},
		{name: "exception message mismatch", result: exception("kotlin.Error", "boom"), exp: types.ExpectException{Message: "bang"}, expected: types.VerdictFail, reason: "exception message mismatch"},
		{name: "assertion failure is an exception", result: exception("kotlin.AssertionError", "Assertion failed"), exp: types.ExpectException{Type: "kotlin.AssertionError"}, expected: types.VerdictPass},
		{name: "no exception", result: exited(1), exp: types.ExpectException{}, expected: types.VerdictFail, reason: "no uncaught exception"},
		{name: "invalid pattern", result: exception("A", "b"), exp: types.ExpectException{Type: "re:("}, expected: types.VerdictError},

		// timeout
		{name: "timeout expected", result: timedOut(), exp: types.ExpectTimeout{}, expected: types.VerdictPass},
		{name: "timeout not reached", result: normal(""), exp: types.ExpectTimeout{}, expected: types.VerdictFail},
		{name: "timeout fails output", result: timedOut(), exp: types.ExpectOutput{Stdout: ""}, expected: types.VerdictFail, reason: "killed by timeout"},
		{name: "timeout fails exit code", result: timedOut(), exp: types.ExpectExitCode{AnyNonZero: true}, expected: types.VerdictFail, reason: "killed by timeout"},
		{name: "timeout fails hook", result: timedOut(), exp: types.ExpectHook{AnyNonZero: true}, expected: types.VerdictFail, reason: "killed by timeout"},

		// hook
		{name: "hook on stderr with abort", result: &types.ExecutionResult{Termination: types.TerminationSignal, Signal: "SIGABRT", ExitCode: -1, Stderr: []byte("hook called\n")}, exp: types.ExpectHook{Output: "hook called", AnyNonZero: true}, expected: types.VerdictPass},
		{name: "hook on stdout with exit code", result: &types.ExecutionResult{Termination: types.TerminationNonZero, ExitCode: 42, Stdout: []byte("hook\n")}, exp: types.ExpectHook{Output: "hook", ExitCode: 42}, expected: types.VerdictPass},
		{name: "hook output missing", result: exited(42), exp: types.ExpectHook{Output: "hook", ExitCode: 42}, expected: types.VerdictFail, reason: "hook output not found"},
		{name: "hook exit code mismatch", result: &types.ExecutionResult{Termination: types.TerminationNonZero, ExitCode: 1, Stdout: []byte("hook")}, exp: types.ExpectHook{Output: "hook", ExitCode: 42}, expected: types.VerdictFail, reason: "exit code mismatch"},
		{name: "hook but normal exit", result: normal("hook"), exp: types.ExpectHook{Output: "hook", AnyNonZero: true}, expected: types.VerdictFail},

		// compile error expected but program ran
		{name: "compile error expected", result: normal("OK"), exp: types.ExpectCompileError{}, expected: types.VerdictFail, reason: "compilation succeeded"},

		// errors
		{name: "nil result", result: nil, exp: types.ExpectOutput{}, expected: types.VerdictError},
		{name: "nil expectation", result: normal(""), exp: nil, expected: types.VerdictError},
		{name: "cancelled", result: &types.ExecutionResult{Termination: types.TerminationCancelled}, exp: types.ExpectTimeout{}, expected: types.VerdictError},
	}

	m := newTestMatcher(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := m.Match(tt.result, tt.exp)
			assert.Equal(t, tt.expected, v.Status, v.String())
			if tt.reason != "" {
				assert.Contains(t, v.Reason, tt.reason)
			}
			if v.Status == types.VerdictFail {
				assert.NotEmpty(t, v.Observed)
				assert.NotEmpty(t, v.Expected)
			}
		})
	}
}

func TestMatchExitCodeCarriesObservedAndExpected(t *testing.T) {
	v := newTestMatcher(t).Match(exited(0), types.ExpectExitCode{Code: 3})
	assert.Equal(t, types.VerdictFail, v.Status)
	assert.Equal(t, "exit code 0", v.Observed)
	assert.Equal(t, "exit code 3", v.Expected)
}

func TestMatchOutputDiff(t *testing.T) {
	v := newTestMatcher(t).Match(normal("line1\nline2\n"), types.ExpectOutput{Stdout: "line1\nlineX\n"})
	require.Equal(t, types.VerdictFail, v.Status)
	assert.Contains(t, v.Reason, "--- expected")
	assert.Contains(t, v.Reason, "+++ observed")
	assert.Contains(t, v.Reason, "-lineX")
	assert.Contains(t, v.Reason, "+line2")
	assert.Equal(t, `"line1\nline2"`, v.Observed)
}

func TestMatchIsIdempotent(t *testing.T) {
	m := newTestMatcher(t)
	res := normal("OK")
	exp := types.ExpectOutput{Stdout: "OK"}
	first := m.Match(res, exp)
	second := m.Match(res, exp)
	assert.Equal(t, first, second)
}

func TestMatchCompileError(t *testing.T) {
	compileErr := &types.CompileError{
		Module:      "main",
		Modules:     []string{"main"},
		ExitCode:    1,
		Diagnostics: []types.Diagnostic{{Severity: "error", File: "main/main.kt", Line: 1, Column: 1, Message: "unresolved reference: foo"}},
		Output:      "main/main.kt:1:1: error: unresolved reference: foo\n",
	}

	tests := []struct {
		name     string
		exp      types.Expectation
		expected types.VerdictStatus
	}{
		{name: "any compile error", exp: types.ExpectCompileError{}, expected: types.VerdictPass},
		{name: "message substring", exp: types.ExpectCompileError{Message: "unresolved reference"}, expected: types.VerdictPass},
		{name: "message regexp", exp: types.ExpectCompileError{Message: "re:unresolved reference: \\w+"}, expected: types.VerdictPass},
		{name: "message mismatch", exp: types.ExpectCompileError{Message: "type mismatch"}, expected: types.VerdictFail},
		{name: "program expected", exp: types.ExpectOutput{Stdout: "OK"}, expected: types.VerdictError},
	}

	m := newTestMatcher(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := m.MatchCompileError(compileErr, tt.exp)
			assert.Equal(t, tt.expected, v.Status)
		})
	}

	v := m.MatchCompileError(compileErr, types.ExpectOutput{})
	assert.True(t, types.IsCompileError(v.Err))
}

func TestPatternCacheEvicts(t *testing.T) {
	p, err := newPatternCache(2)
	require.NoError(t, err)
	for _, expr := range []string{"re:a", "re:b", "re:c"} {
		ok, err := p.match(expr, "abc")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	assert.Equal(t, 2, p.compiled.Len())

	ok, err := p.match("plain", "a plain string")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2, p.compiled.Len())
}

func TestNormalizeOutput(t *testing.T) {
	assert.Equal(t, "OK", NormalizeOutput("OK\n"))
	assert.Equal(t, "OK", NormalizeOutput("OK\r\n\r\n"))
	assert.Equal(t, "\nOK", NormalizeOutput("\nOK\n"))
	assert.Equal(t, "", NormalizeOutput("\n"))
}
