package types

import (
	"fmt"
	"time"
)

// Termination classifies how a child process ended.
type Termination string

const (
	TerminationNormal    Termination = "normal"
	TerminationNonZero   Termination = "nonzero-exit"
	TerminationTimeout   Termination = "timeout"
	TerminationSignal    Termination = "signal"
	TerminationException Termination = "uncaught-exception"
	TerminationAssertion Termination = "assertion-failure"
	TerminationCancelled Termination = "cancelled"
)

// ExitedOnItsOwn reports whether the process ended by returning an exit code
// within its time budget.
func (t Termination) ExitedOnItsOwn() bool {
	return t == TerminationNormal || t == TerminationNonZero
}

// IsException reports whether the process died of an uncaught exception,
// assertion failures included.
func (t Termination) IsException() bool {
	return t == TerminationException || t == TerminationAssertion
}

// ExceptionInfo is the parsed uncaught-exception report of a process.
type ExceptionInfo struct {
	Type    string
	Message string
	Raw     string // the full report line
}

// ExecutionResult captures one run of an artifact. It is produced once and
// never mutated.
type ExecutionResult struct {
	Stdout          []byte
	Stderr          []byte
	StdoutTruncated bool
	StderrTruncated bool
	ExitCode        int
	Signal          string
	Termination     Termination
	Exception       *ExceptionInfo
	Duration        time.Duration
	Timeout         time.Duration
	PID             int
}

// Describe returns a one-line summary of the termination.
func (r *ExecutionResult) Describe() string {
	if r == nil {
		return "no result"
	}
	switch r.Termination {
	case TerminationNormal:
		return "exited normally"
	case TerminationNonZero:
		return fmt.Sprintf("exited with code %d", r.ExitCode)
	case TerminationTimeout:
		return fmt.Sprintf("killed after timeout of %s", r.Timeout)
	case TerminationSignal:
		return fmt.Sprintf("killed by signal %s", r.Signal)
	case TerminationException, TerminationAssertion:
		if r.Exception != nil {
			return fmt.Sprintf("%s: %s", r.Termination, r.Exception.Raw)
		}
		return string(r.Termination)
	case TerminationCancelled:
		return "cancelled"
	}
	return string(r.Termination)
}
