package types

import (
	"fmt"
	"time"
)

// VerdictStatus represents the terminal state of a test case
type VerdictStatus string

const (
	VerdictPass    VerdictStatus = "pass"
	VerdictFail    VerdictStatus = "fail"
	VerdictSkipped VerdictStatus = "skipped"
	VerdictError   VerdictStatus = "error"
)

// Verdict is the single terminal outcome of running a test case.
type Verdict struct {
	TestID   string
	Pipeline string
	Status   VerdictStatus
	Reason   string
	Observed string
	Expected string
	SkipTag  string
	Err      error // infrastructure or configuration cause for VerdictError
	Result   *ExecutionResult
	Duration time.Duration
}

// Pass returns a passing verdict.
func Pass() Verdict {
	return Verdict{Status: VerdictPass}
}

// Fail returns a failing verdict carrying observed and expected values.
func Fail(reason, observed, expected string) Verdict {
	return Verdict{
		Status:   VerdictFail,
		Reason:   reason,
		Observed: observed,
		Expected: expected,
	}
}

// Skipped returns a verdict for a case excluded by tag.
func Skipped(tag string) Verdict {
	return Verdict{
		Status:  VerdictSkipped,
		Reason:  fmt.Sprintf("tag %q not applicable", tag),
		SkipTag: tag,
	}
}

// Errored returns a verdict for an infrastructure or configuration failure.
func Errored(err error) Verdict {
	reason := "unknown error"
	if err != nil {
		reason = err.Error()
	}
	return Verdict{
		Status: VerdictError,
		Reason: reason,
		Err:    err,
	}
}

func (v Verdict) String() string {
	switch v.Status {
	case VerdictPass:
		return "pass"
	case VerdictSkipped:
		return fmt.Sprintf("skipped(%s)", v.SkipTag)
	case VerdictFail:
		return fmt.Sprintf("fail(%s; observed=%s; expected=%s)", v.Reason, v.Observed, v.Expected)
	}
	return fmt.Sprintf("%s(%s)", v.Status, v.Reason)
}
