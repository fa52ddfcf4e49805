package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ethereum-optimism/infra/op-blackbox/types"
)

// Manifest is the on-disk description of pipelines and test case groups.
type Manifest struct {
	Pipelines []PipelineSpec `yaml:"pipelines" toml:"pipelines"`
	Groups    []GroupSpec    `yaml:"groups" toml:"groups"`
}

// PipelineSpec configures one compilation pipeline. Zero fields are taken
// from the inherited pipelines.
type PipelineSpec struct {
	Name           string         `yaml:"name" toml:"name"`
	Inherits       []string       `yaml:"inherits,omitempty" toml:"inherits"`
	Frontend       string         `yaml:"frontend,omitempty" toml:"frontend"`
	ModuleKind     string         `yaml:"module_kind,omitempty" toml:"module_kind"`
	SessionMode    string         `yaml:"session_mode,omitempty" toml:"session_mode"`
	Backend        string         `yaml:"backend,omitempty" toml:"backend"`
	Tags           []string       `yaml:"tags,omitempty" toml:"tags"`
	CompilerArgs   []string       `yaml:"compiler_args,omitempty" toml:"compiler_args"`
	DefaultTimeout *time.Duration `yaml:"default_timeout,omitempty" toml:"default_timeout"`
	Runtime        *RuntimeSpec   `yaml:"runtime,omitempty" toml:"runtime"`
}

// RuntimeSpec overrides how abnormal terminations are reported.
type RuntimeSpec struct {
	ExceptionMarker string   `yaml:"exception_marker,omitempty" toml:"exception_marker"`
	AssertionTypes  []string `yaml:"assertion_types,omitempty" toml:"assertion_types"`
}

// GroupSpec is a set of related cases. Its modules are shared fixtures added
// to every case that does not declare a module of the same name.
type GroupSpec struct {
	ID          string       `yaml:"id" toml:"id"`
	Description string       `yaml:"description,omitempty" toml:"description"`
	Modules     []ModuleSpec `yaml:"modules,omitempty" toml:"modules"`
	Cases       []CaseSpec   `yaml:"cases" toml:"cases"`
}

// ModuleSpec declares one module and its sources.
type ModuleSpec struct {
	Name      string     `yaml:"name" toml:"name"`
	DependsOn []string   `yaml:"depends_on,omitempty" toml:"depends_on"`
	Files     []FileSpec `yaml:"files" toml:"files"`
}

// FileSpec is an inline source or a reference to a file relative to the
// manifest.
type FileSpec struct {
	Path    string `yaml:"path" toml:"path"`
	Content string `yaml:"content,omitempty" toml:"content"`
	File    string `yaml:"file,omitempty" toml:"file"`
}

// CaseSpec declares one test case.
type CaseSpec struct {
	ID           string         `yaml:"id" toml:"id"`
	Modules      []ModuleSpec   `yaml:"modules,omitempty" toml:"modules"`
	MainModule   string         `yaml:"main_module,omitempty" toml:"main_module"`
	EntryPoint   string         `yaml:"entry_point,omitempty" toml:"entry_point"`
	Args         []string       `yaml:"args,omitempty" toml:"args"`
	Stdin        *string        `yaml:"stdin,omitempty" toml:"stdin"`
	StdinLines   []string       `yaml:"stdin_lines,omitempty" toml:"stdin_lines"`
	Timeout      *time.Duration `yaml:"timeout,omitempty" toml:"timeout"`
	RequiredTags []string       `yaml:"required_tags,omitempty" toml:"required_tags"`
	DisabledTags []string       `yaml:"disabled_tags,omitempty" toml:"disabled_tags"`
	Expect       ExpectSpec     `yaml:"expect" toml:"expect"`
}

// ExpectSpec declares exactly one expected outcome.
type ExpectSpec struct {
	Output         *string           `yaml:"output,omitempty" toml:"output"`
	OutputFile     string            `yaml:"output_file,omitempty" toml:"output_file"`
	ExitCode       *int              `yaml:"exit_code,omitempty" toml:"exit_code"`
	AnyNonZeroExit bool              `yaml:"any_nonzero_exit,omitempty" toml:"any_nonzero_exit"`
	Exception      *ExceptionSpec    `yaml:"exception,omitempty" toml:"exception"`
	Timeout        bool              `yaml:"timeout,omitempty" toml:"timeout"`
	Hook           *HookSpec         `yaml:"hook,omitempty" toml:"hook"`
	CompileError   *CompileErrorSpec `yaml:"compile_error,omitempty" toml:"compile_error"`
}

type ExceptionSpec struct {
	Type    string `yaml:"type,omitempty" toml:"type"`
	Message string `yaml:"message,omitempty" toml:"message"`
}

type HookSpec struct {
	Output     string `yaml:"output" toml:"output"`
	ExitCode   int    `yaml:"exit_code,omitempty" toml:"exit_code"`
	AnyNonZero bool   `yaml:"any_nonzero,omitempty" toml:"any_nonzero"`
}

type CompileErrorSpec struct {
	Message string `yaml:"message,omitempty" toml:"message"`
}

// toExpectation converts the declared outcome; baseDir resolves output_file.
func (e ExpectSpec) toExpectation(baseDir string) (types.Expectation, error) {
	var found []types.Expectation

	switch {
	case e.Output != nil && e.OutputFile != "":
		return nil, fmt.Errorf("output and output_file are mutually exclusive")
	case e.Output != nil:
		found = append(found, types.ExpectOutput{Stdout: *e.Output})
	case e.OutputFile != "":
		data, err := readRelative(baseDir, e.OutputFile)
		if err != nil {
			return nil, err
		}
		found = append(found, types.ExpectOutput{Stdout: string(data)})
	}
	if e.ExitCode != nil && e.AnyNonZeroExit {
		return nil, fmt.Errorf("exit_code and any_nonzero_exit are mutually exclusive")
	}
	if e.ExitCode != nil {
		found = append(found, types.ExpectExitCode{Code: *e.ExitCode})
	}
	if e.AnyNonZeroExit {
		found = append(found, types.ExpectExitCode{AnyNonZero: true})
	}
	if e.Exception != nil {
		found = append(found, types.ExpectException{Type: e.Exception.Type, Message: e.Exception.Message})
	}
	if e.Timeout {
		found = append(found, types.ExpectTimeout{})
	}
	if e.Hook != nil {
		if e.Hook.Output == "" {
			return nil, fmt.Errorf("hook output cannot be empty")
		}
		found = append(found, types.ExpectHook{Output: e.Hook.Output, ExitCode: e.Hook.ExitCode, AnyNonZero: e.Hook.AnyNonZero})
	}
	if e.CompileError != nil {
		found = append(found, types.ExpectCompileError{Message: e.CompileError.Message})
	}

	switch len(found) {
	case 0:
		return nil, fmt.Errorf("no expectation declared")
	case 1:
		return found[0], nil
	}
	return nil, fmt.Errorf("%d expectations declared, want exactly one", len(found))
}

func (c CaseSpec) toStdin() (types.Stdin, error) {
	if c.Stdin != nil && c.StdinLines != nil {
		return types.Stdin{}, fmt.Errorf("stdin and stdin_lines are mutually exclusive")
	}
	if c.Stdin != nil {
		return types.StdinString(*c.Stdin), nil
	}
	if c.StdinLines != nil {
		return types.StdinLines(c.StdinLines...), nil
	}
	return types.NoStdin(), nil
}

func (m ModuleSpec) toModule(baseDir string) (types.Module, error) {
	mod := types.Module{
		Name:      m.Name,
		DependsOn: append([]string(nil), m.DependsOn...),
	}
	for _, f := range m.Files {
		if f.Path == "" {
			return types.Module{}, fmt.Errorf("module %s: file path cannot be empty", m.Name)
		}
		content := f.Content
		if f.File != "" {
			if f.Content != "" {
				return types.Module{}, fmt.Errorf("module %s: %s has both content and file", m.Name, f.Path)
			}
			data, err := readRelative(baseDir, f.File)
			if err != nil {
				return types.Module{}, fmt.Errorf("module %s: %w", m.Name, err)
			}
			content = string(data)
		}
		mod.Files = append(mod.Files, types.SourceFile{Path: f.Path, Content: content})
	}
	return mod, nil
}

func readRelative(baseDir, path string) ([]byte, error) {
	if !filepath.IsAbs(path) {
		path = filepath.Join(baseDir, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return data, nil
}
