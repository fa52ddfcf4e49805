package types

import (
	"errors"
	"fmt"
	"strings"
)

// ConfigurationError is a problem with the test case or pipeline itself, such
// as a cyclic module graph or an unresolvable entry point.
type ConfigurationError struct {
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("configuration error: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("configuration error: %s", e.Reason)
}

// Unwrap implements the errors.Unwrap interface
func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// IsConfigurationError checks if the error is or wraps a ConfigurationError
func IsConfigurationError(err error) bool {
	var cfgErr *ConfigurationError
	return err != nil && errors.As(err, &cfgErr)
}

// Diagnostic is one compiler message with its source location.
type Diagnostic struct {
	Severity string
	File     string
	Line     int
	Column   int
	Message  string
}

func (d Diagnostic) String() string {
	if d.File == "" {
		return fmt.Sprintf("%s: %s", d.Severity, d.Message)
	}
	return fmt.Sprintf("%s:%d:%d: %s: %s", d.File, d.Line, d.Column, d.Severity, d.Message)
}

// CompileError is a structured compilation failure. It is attributed to the
// whole unit set; Module names the invocation that failed.
type CompileError struct {
	Module      string
	Modules     []string
	ExitCode    int
	Diagnostics []Diagnostic
	Output      string
}

func (e *CompileError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "compilation of [%s] failed in module %s", strings.Join(e.Modules, ", "), e.Module)
	if first := e.FirstError(); first != nil {
		fmt.Fprintf(&sb, ": %s", first)
	} else if e.ExitCode != 0 {
		fmt.Fprintf(&sb, ": compiler exited with code %d", e.ExitCode)
	}
	return sb.String()
}

// FirstError returns the first error-severity diagnostic, if any.
func (e *CompileError) FirstError() *Diagnostic {
	for i := range e.Diagnostics {
		if e.Diagnostics[i].Severity == "error" {
			return &e.Diagnostics[i]
		}
	}
	return nil
}

// IsCompileError checks if the error is or wraps a CompileError
func IsCompileError(err error) bool {
	var compileErr *CompileError
	return err != nil && errors.As(err, &compileErr)
}

// InfrastructureError means the environment, not the program under test,
// failed: a process could not be spawned, the filesystem refused access, the
// cache is inconsistent.
type InfrastructureError struct {
	Op  string
	Err error
}

func (e *InfrastructureError) Error() string {
	return fmt.Sprintf("infrastructure failure during %s: %v", e.Op, e.Err)
}

// Unwrap implements the errors.Unwrap interface
func (e *InfrastructureError) Unwrap() error {
	return e.Err
}

// NewInfrastructureError creates a new InfrastructureError
func NewInfrastructureError(op string, err error) *InfrastructureError {
	return &InfrastructureError{Op: op, Err: err}
}

// IsInfrastructureError checks if the error is or wraps an InfrastructureError
func IsInfrastructureError(err error) bool {
	var infraErr *InfrastructureError
	return err != nil && errors.As(err, &infraErr)
}
