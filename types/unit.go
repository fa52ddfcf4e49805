package types

import "time"

// CompilationUnit is one module's source set plus the units it depends on,
// in dependency order.
type CompilationUnit struct {
	Module string
	Files  []SourceFile
	Deps   []*CompilationUnit
}

// DepNames returns the module names of the direct dependencies.
func (u *CompilationUnit) DepNames() []string {
	names := make([]string, 0, len(u.Deps))
	for _, d := range u.Deps {
		names = append(names, d.Module)
	}
	return names
}

// BuildRequest is everything that determines a compiled artifact. Units are
// topologically ordered: every unit appears after its dependencies.
type BuildRequest struct {
	TestID     string // diagnostics only, not part of the cache key
	Units      []*CompilationUnit
	MainModule string
	EntryPoint string
	Config     *PipelineConfig
}

// Main returns the unit producing the program, or nil.
func (r BuildRequest) Main() *CompilationUnit {
	for _, u := range r.Units {
		if u.Module == r.MainModule {
			return u
		}
	}
	return nil
}

// Artifact is a compiled, runnable program. Artifacts are owned by the
// artifact cache and shared read-only between test cases.
type Artifact struct {
	Key         string
	Dir         string
	Executable  string
	EntryPoint  string
	Modules     []string
	Diagnostics string // compiler output of successful invocations
	CompiledAt  time.Time
	Duration    time.Duration
}
