package types

import "fmt"

// Expectation is the closed set of outcomes a test case can declare. The
// unexported marker method keeps the set closed to this package; the matcher
// handles every variant.
type Expectation interface {
	isExpectation()
	fmt.Stringer
}

// ExpectOutput expects normal termination with exactly Stdout on standard
// output, modulo trailing newlines.
type ExpectOutput struct {
	Stdout string
}

// ExpectExitCode expects the program to exit on its own with Code, or with
// any nonzero code when AnyNonZero is set.
type ExpectExitCode struct {
	Code       int
	AnyNonZero bool
}

// ExpectException expects termination by an uncaught exception. Type and
// Message are optional patterns.
type ExpectException struct {
	Type    string
	Message string
}

// ExpectTimeout declares that running into the timeout is the expected
// behaviour.
type ExpectTimeout struct{}

// ExpectHook expects a custom termination hook to have run: Output must be
// printed (stdout or stderr) and the process must exit with ExitCode. With
// AnyNonZero any abnormal ending counts, signals included.
type ExpectHook struct {
	Output     string
	ExitCode   int
	AnyNonZero bool
}

// ExpectCompileError expects compilation to fail, optionally with a
// diagnostic matching Message.
type ExpectCompileError struct {
	Message string
}

func (ExpectOutput) isExpectation()       {}
func (ExpectExitCode) isExpectation()     {}
func (ExpectException) isExpectation()    {}
func (ExpectTimeout) isExpectation()      {}
func (ExpectHook) isExpectation()         {}
func (ExpectCompileError) isExpectation() {}

func (e ExpectOutput) String() string {
	return fmt.Sprintf("stdout %q", e.Stdout)
}

func (e ExpectExitCode) String() string {
	if e.AnyNonZero {
		return "exit code != 0"
	}
	return fmt.Sprintf("exit code %d", e.Code)
}

func (e ExpectException) String() string {
	switch {
	case e.Type != "" && e.Message != "":
		return fmt.Sprintf("uncaught exception %s: %s", e.Type, e.Message)
	case e.Type != "":
		return fmt.Sprintf("uncaught exception %s", e.Type)
	case e.Message != "":
		return fmt.Sprintf("uncaught exception with message %q", e.Message)
	}
	return "uncaught exception"
}

func (ExpectTimeout) String() string {
	return "timeout"
}

func (e ExpectHook) String() string {
	if e.AnyNonZero {
		return fmt.Sprintf("hook output %q and abnormal termination", e.Output)
	}
	return fmt.Sprintf("hook output %q and exit code %d", e.Output, e.ExitCode)
}

func (e ExpectCompileError) String() string {
	if e.Message == "" {
		return "compile error"
	}
	return fmt.Sprintf("compile error %q", e.Message)
}

// ExpectsCompileError reports whether e declares a compile-time failure.
func ExpectsCompileError(e Expectation) bool {
	_, ok := e.(ExpectCompileError)
	return ok
}
