package types

import (
	"fmt"
	"strings"
	"time"
)

// SourceFile is a single source file belonging to a module.
type SourceFile struct {
	Path    string
	Content string
}

// Module is a named set of source files with an ordered list of the modules
// it depends on.
type Module struct {
	Name      string
	DependsOn []string
	Files     []SourceFile
}

// TestCase describes one black-box test: the modules to compile, how to run
// the resulting program and what to expect from it.
//
// A TestCase is passed by value and must not be mutated once loaded.
type TestCase struct {
	ID    string
	Group string

	Modules    []Module
	MainModule string // optional, see ResolveMainModule
	EntryPoint string // optional, discovered when empty

	Args    []string
	Stdin   Stdin
	Timeout time.Duration // zero means the pipeline default

	Expected Expectation

	RequiredTags []string // every tag must be enabled in the pipeline
	DisabledTags []string // any enabled tag disables the case
}

// GetName returns a display name for the test case
func (tc TestCase) GetName() string {
	if tc.Group != "" {
		return tc.Group + "/" + tc.ID
	}
	return tc.ID
}

// ResolveMainModule returns the name of the module that produces the
// program: the explicit MainModule, else a module named "main", else the
// last declared module.
func (tc TestCase) ResolveMainModule() (string, error) {
	if len(tc.Modules) == 0 {
		return "", &ConfigurationError{Reason: "test case has no modules"}
	}
	if tc.MainModule != "" {
		for _, m := range tc.Modules {
			if m.Name == tc.MainModule {
				return tc.MainModule, nil
			}
		}
		return "", &ConfigurationError{Reason: fmt.Sprintf("main module %q is not declared", tc.MainModule)}
	}
	for _, m := range tc.Modules {
		if m.Name == DefaultMainModule {
			return DefaultMainModule, nil
		}
	}
	return tc.Modules[len(tc.Modules)-1].Name, nil
}

// DefaultMainModule is the conventional name of the program module.
const DefaultMainModule = "main"

// Stdin is the input-encoding contract for a child process. It keeps three
// states apart: no stdin at all, an empty stream, and explicit content
// (which may be a single empty line).
type Stdin struct {
	provided bool
	data     []byte
}

// NoStdin returns a Stdin that attaches the null device to the child.
func NoStdin() Stdin {
	return Stdin{}
}

// StdinBytes returns a Stdin that streams exactly b through a pipe. An empty
// b yields an empty stream, which is distinct from NoStdin.
func StdinBytes(b []byte) Stdin {
	data := make([]byte, len(b))
	copy(data, b)
	return Stdin{provided: true, data: data}
}

// StdinString is StdinBytes for string content.
func StdinString(s string) Stdin {
	return StdinBytes([]byte(s))
}

// StdinLines returns a Stdin made of the given lines, each terminated by a
// newline. StdinLines() is an empty stream and StdinLines("") a single empty
// line.
func StdinLines(lines ...string) Stdin {
	var sb strings.Builder
	for _, line := range lines {
		sb.WriteString(line)
		sb.WriteByte('\n')
	}
	return Stdin{provided: true, data: []byte(sb.String())}
}

// Provided reports whether a stream is attached to the child.
func (s Stdin) Provided() bool {
	return s.provided
}

// Bytes returns a copy of the stream content.
func (s Stdin) Bytes() []byte {
	out := make([]byte, len(s.data))
	copy(out, s.data)
	return out
}

// Len returns the stream length in bytes.
func (s Stdin) Len() int {
	return len(s.data)
}

func (s Stdin) String() string {
	if !s.provided {
		return "<none>"
	}
	return fmt.Sprintf("%q", s.data)
}
