package blackbox

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/ethereum-optimism/infra/op-blackbox/exitcodes"
	"github.com/ethereum-optimism/infra/op-blackbox/runner"
	"github.com/ethereum-optimism/infra/op-blackbox/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

func TestErrorTypes(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		isRuntime   bool
		isFailure   bool
		wantMessage string
	}{
		{
			name:        "runtime error",
			err:         NewRuntimeError("load manifest", errors.New("manifest not found")),
			isRuntime:   true,
			wantMessage: "runtime error: load manifest: manifest not found",
		},
		{
			name:        "runtime error without stage",
			err:         NewRuntimeError("", errors.New("boom")),
			isRuntime:   true,
			wantMessage: "runtime error: boom",
		},
		{
			name:        "wrapped runtime error",
			err:         fmt.Errorf("start: %w", NewRuntimeError("execute groups", errors.New("boom"))),
			isRuntime:   true,
			wantMessage: "start: runtime error: execute groups: boom",
		},
		{
			name:        "test failure",
			err:         &TestFailureError{RunID: "r1", Total: 3, Failed: 2},
			isFailure:   true,
			wantMessage: "test failure: 2 failed, 0 errored of 3 test cases in run r1",
		},
		{
			name:        "plain error",
			err:         errors.New("other"),
			wantMessage: "other",
		},
		{
			name: "nil",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.isRuntime, IsRuntimeError(tt.err))
			assert.Equal(t, tt.isFailure, IsTestFailureError(tt.err))
			if tt.err != nil {
				assert.Equal(t, tt.wantMessage, tt.err.Error())
			}
		})
	}

	inner := errors.New("inner")
	assert.ErrorIs(t, NewRuntimeError("stage", inner), inner)
}

func TestErrorExitCodes(t *testing.T) {
	var coder cli.ExitCoder
	require.ErrorAs(t, NewRuntimeError("create config", errors.New("x")), &coder)
	assert.Equal(t, exitcodes.RuntimeErr, coder.ExitCode())

	require.ErrorAs(t, &TestFailureError{Failed: 1, Total: 1}, &coder)
	assert.Equal(t, exitcodes.TestFailure, coder.ExitCode())
}

func TestNewTestFailureError(t *testing.T) {
	rhm := runner.NewResultHierarchyManager()
	start := time.Now()

	passing := rhm.CreateEmptyResult("run-ok", start)
	pass := types.Pass()
	pass.TestID = "output"
	rhm.AddVerdictToResults(passing, "fir", runner.TestCaseGroup{ID: "smoke"}, pass)
	rhm.FinalizeResults(passing, start)
	assert.Nil(t, NewTestFailureError(passing))
	assert.Nil(t, NewTestFailureError(nil))

	result := rhm.CreateEmptyResult("run-1", start)
	rhm.AddVerdictToResults(result, "fir", runner.TestCaseGroup{ID: "smoke"}, pass)
	for i := 0; i < 6; i++ {
		v := types.Fail("stdout mismatch", "a", "b")
		v.TestID = fmt.Sprintf("case%d", i)
		rhm.AddVerdictToResults(result, "fir", runner.TestCaseGroup{ID: "smoke"}, v)
	}
	errored := types.Errored(errors.New("compiler crashed"))
	errored.TestID = "broken"
	rhm.AddVerdictToResults(result, "legacy", runner.TestCaseGroup{ID: "smoke"}, errored)
	rhm.FinalizeResults(result, start)

	failure := NewTestFailureError(result)
	require.NotNil(t, failure)
	assert.Equal(t, "run-1", failure.RunID)
	assert.Equal(t, 8, failure.Total)
	assert.Equal(t, 6, failure.Failed)
	assert.Equal(t, 1, failure.Errored)
	require.Len(t, failure.Cases, 7)
	assert.Equal(t, "fir/smoke/case0", failure.Cases[0])
	assert.Equal(t, "legacy/smoke/broken", failure.Cases[6])
	assert.Equal(t,
		"test failure: 6 failed, 1 errored of 8 test cases in run run-1: "+
			"fir/smoke/case0, fir/smoke/case1, fir/smoke/case2, fir/smoke/case3, fir/smoke/case4 (+2 more)",
		failure.Error())
}
