package compiler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum-optimism/infra/op-blackbox/types"
	"github.com/ethereum/go-ethereum/log"
)

const (
	sourceDirName  = "src"
	libraryDirName = "lib"
	programName    = "program"
	librarySuffix  = ".klib"
)

// Driver compiles build requests with a Toolchain. It implements the
// artifact cache's Compiler interface.
type Driver struct {
	toolchain Toolchain
	log       log.Logger
}

// NewDriver creates a Driver
func NewDriver(toolchain Toolchain, logger log.Logger) (*Driver, error) {
	if toolchain == nil {
		return nil, fmt.Errorf("toolchain cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	return &Driver{
		toolchain: toolchain,
		log:       logger.New("component", "compiler"),
	}, nil
}

// Identity returns the toolchain identity folded into cache keys.
func (d *Driver) Identity() string {
	return d.toolchain.Identity()
}

// Compile writes the request's sources under outDir and runs the invocations
// its module kind calls for. The first failing invocation stops the build and
// is reported as a *types.CompileError for the whole unit set.
func (d *Driver) Compile(ctx context.Context, req types.BuildRequest, outDir string) (*types.Artifact, error) {
	if req.Config == nil {
		return nil, &types.ConfigurationError{Reason: "build request has no pipeline config"}
	}
	main := req.Main()
	if main == nil {
		return nil, &types.ConfigurationError{Reason: fmt.Sprintf("main module %q is not among the compilation units", req.MainModule)}
	}

	start := time.Now()
	b := &build{
		driver:  d,
		req:     req,
		main:    main,
		outDir:  outDir,
		srcRoot: filepath.Join(outDir, sourceDirName),
		libDir:  filepath.Join(outDir, libraryDirName),
		sources: make(map[string][]string, len(req.Units)),
		libs:    make(map[string]string, len(req.Units)),
	}
	if err := b.writeSources(); err != nil {
		return nil, err
	}

	var plan []Invocation
	switch req.Config.ModuleKind {
	case types.ModuleKindSource:
		plan = b.sourcePlan()
	case types.ModuleKindLibrary:
		plan = b.libraryPlan()
	case types.ModuleKindMulti:
		plan = b.multiModulePlan()
	default:
		return nil, &types.ConfigurationError{Reason: fmt.Sprintf("unknown module kind %q", req.Config.ModuleKind)}
	}

	var diagnostics []string
	var executable string
	for _, inv := range plan {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, err := d.toolchain.Invoke(ctx, inv)
		if err != nil {
			return nil, err
		}
		if res.ExitCode != 0 {
			d.log.Debug("Compilation failed", "test", req.TestID, "module", inv.Module, "exit_code", res.ExitCode)
			return nil, &types.CompileError{
				Module:      inv.Module,
				Modules:     b.moduleNames(),
				ExitCode:    res.ExitCode,
				Diagnostics: ParseDiagnostics(res.Output, b.srcRoot),
				Output:      res.Output,
			}
		}
		if out := strings.TrimSpace(res.Output); out != "" {
			diagnostics = append(diagnostics, out)
		}
		if inv.Produce == ProduceProgram {
			executable = res.Produced
		}
	}

	if _, err := os.Stat(executable); err != nil {
		return nil, types.NewInfrastructureError("locate executable", fmt.Errorf("compiler reported success but produced no program: %w", err))
	}

	return &types.Artifact{
		Dir:         outDir,
		Executable:  executable,
		EntryPoint:  req.EntryPoint,
		Modules:     b.moduleNames(),
		Diagnostics: strings.Join(diagnostics, "\n"),
		CompiledAt:  start,
		Duration:    time.Since(start),
	}, nil
}

type build struct {
	driver  *Driver
	req     types.BuildRequest
	main    *types.CompilationUnit
	outDir  string
	srcRoot string
	libDir  string
	sources map[string][]string // module -> absolute source paths
	libs    map[string]string   // module -> library path
}

func (b *build) writeSources() error {
	for _, u := range b.req.Units {
		moduleDir := filepath.Join(b.srcRoot, u.Module)
		if err := os.MkdirAll(moduleDir, 0o755); err != nil {
			return types.NewInfrastructureError("create source directory", err)
		}
		for _, f := range u.Files {
			if !filepath.IsLocal(f.Path) {
				return &types.ConfigurationError{Reason: fmt.Sprintf("module %s: source path %q escapes the module directory", u.Module, f.Path)}
			}
			path := filepath.Join(moduleDir, f.Path)
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return types.NewInfrastructureError("create source directory", err)
			}
			if err := os.WriteFile(path, []byte(f.Content), 0o644); err != nil {
				return types.NewInfrastructureError("write source file", err)
			}
			b.sources[u.Module] = append(b.sources[u.Module], path)
		}
		b.libs[u.Module] = filepath.Join(b.libDir, u.Module+librarySuffix)
	}
	if err := os.MkdirAll(b.libDir, 0o755); err != nil {
		return types.NewInfrastructureError("create library directory", err)
	}
	return nil
}

func (b *build) moduleNames() []string {
	names := make([]string, 0, len(b.req.Units))
	for _, u := range b.req.Units {
		names = append(names, u.Module)
	}
	return names
}

// closure returns the libraries of u's transitive dependencies in build order.
func (b *build) closure(u *types.CompilationUnit) []string {
	seen := make(map[string]bool)
	var walk func(*types.CompilationUnit)
	walk = func(n *types.CompilationUnit) {
		for _, d := range n.Deps {
			if !seen[d.Module] {
				seen[d.Module] = true
				walk(d)
			}
		}
	}
	walk(u)

	var libs []string
	for _, unit := range b.req.Units {
		if seen[unit.Module] {
			libs = append(libs, b.libs[unit.Module])
		}
	}
	return libs
}

func (b *build) invocation(module string, produce Produce, output string) Invocation {
	return Invocation{
		Module:  module,
		Produce: produce,
		Output:  output,
		Config:  b.req.Config,
		WorkDir: b.outDir,
	}
}

func (b *build) program(module string) Invocation {
	inv := b.invocation(module, ProduceProgram, filepath.Join(b.outDir, programName))
	inv.EntryPoint = b.req.EntryPoint
	return inv
}

// sourcePlan compiles every source of every module in one invocation.
func (b *build) sourcePlan() []Invocation {
	inv := b.program(b.main.Module)
	for _, u := range b.req.Units {
		inv.Sources = append(inv.Sources, b.sources[u.Module]...)
	}
	return []Invocation{inv}
}

// libraryPlan compiles every module to a library and links the program from
// the main library.
func (b *build) libraryPlan() []Invocation {
	plan := make([]Invocation, 0, len(b.req.Units)+1)
	for _, u := range b.req.Units {
		inv := b.invocation(u.Module, ProduceLibrary, b.libs[u.Module])
		inv.Sources = b.sources[u.Module]
		inv.Libraries = b.closure(u)
		plan = append(plan, inv)
	}
	link := b.program(b.main.Module)
	link.Libraries = b.closure(b.main)
	link.Includes = []string{b.libs[b.main.Module]}
	return append(plan, link)
}

// multiModulePlan compiles the main module's dependencies to libraries and
// the main module with them straight into the program. Units outside the
// main module's dependency closure are not compiled.
func (b *build) multiModulePlan() []Invocation {
	needed := make(map[string]bool)
	var walk func(*types.CompilationUnit)
	walk = func(n *types.CompilationUnit) {
		for _, d := range n.Deps {
			if !needed[d.Module] {
				needed[d.Module] = true
				walk(d)
			}
		}
	}
	walk(b.main)

	plan := make([]Invocation, 0, len(b.req.Units))
	for _, u := range b.req.Units {
		if u == b.main || !needed[u.Module] {
			continue
		}
		inv := b.invocation(u.Module, ProduceLibrary, b.libs[u.Module])
		inv.Sources = b.sources[u.Module]
		inv.Libraries = b.closure(u)
		plan = append(plan, inv)
	}
	inv := b.program(b.main.Module)
	inv.Sources = b.sources[b.main.Module]
	inv.Libraries = b.closure(b.main)
	return append(plan, inv)
}
