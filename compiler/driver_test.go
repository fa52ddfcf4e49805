package compiler

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/ethereum-optimism/infra/op-blackbox/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeToolchain records invocations and fails the modules listed in fail.
type fakeToolchain struct {
	mu          sync.Mutex
	invocations []Invocation
	fail        map[string]string // module -> compiler output
	skipOutput  bool
}

func (f *fakeToolchain) Identity() string { return "fake-1.0" }

func (f *fakeToolchain) Invoke(ctx context.Context, inv Invocation) (InvocationResult, error) {
	f.mu.Lock()
	f.invocations = append(f.invocations, inv)
	f.mu.Unlock()

	if out, ok := f.fail[inv.Module]; ok {
		return InvocationResult{Output: out, ExitCode: 1}, nil
	}
	if !f.skipOutput {
		if err := os.WriteFile(inv.Output, []byte(inv.Module), 0o755); err != nil {
			return InvocationResult{}, err
		}
	}
	return InvocationResult{Output: "", Produced: inv.Output}, nil
}

func (f *fakeToolchain) modules() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var names []string
	for _, inv := range f.invocations {
		names = append(names, inv.Module+":"+string(inv.Produce))
	}
	return names
}

func newRequest(t *testing.T, kind types.ModuleKind, modules ...types.Module) types.BuildRequest {
	t.Helper()
	cfg := &types.PipelineConfig{Name: "p", Frontend: types.FrontendFIR, ModuleKind: kind, Backend: "native"}
	tc := types.TestCase{ID: "t", Modules: modules, EntryPoint: "main"}
	req, err := NewBuildRequest(tc, cfg, DefaultEntryPointRule())
	require.NoError(t, err)
	return req
}

func newTestDriver(t *testing.T, tc Toolchain) *Driver {
	d, err := NewDriver(tc, log.NewLogger(log.DiscardHandler()))
	require.NoError(t, err)
	return d
}

func TestDriverPlans(t *testing.T) {
	modules := []types.Module{mod("main", "mid"), mod("mid", "base"), mod("base")}
	tests := []struct {
		name     string
		kind     types.ModuleKind
		expected []string
	}{
		{
			name:     "source",
			kind:     types.ModuleKindSource,
			expected: []string{"main:program"},
		},
		{
			name:     "library",
			kind:     types.ModuleKindLibrary,
			expected: []string{"base:library", "mid:library", "main:library", "main:program"},
		},
		{
			name:     "multi-module",
			kind:     types.ModuleKindMulti,
			expected: []string{"base:library", "mid:library", "main:program"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tc := &fakeToolchain{}
			d := newTestDriver(t, tc)
			outDir := t.TempDir()

			art, err := d.Compile(context.Background(), newRequest(t, tt.kind, modules...), outDir)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, tc.modules())
			assert.Equal(t, filepath.Join(outDir, programName), art.Executable)
			assert.Equal(t, []string{"base", "mid", "main"}, art.Modules)
			assert.Equal(t, "main", art.EntryPoint)
			assert.FileExists(t, filepath.Join(outDir, sourceDirName, "mid", "mid.kt"))
		})
	}
}

func TestDriverLibraryClosure(t *testing.T) {
	tc := &fakeToolchain{}
	d := newTestDriver(t, tc)
	outDir := t.TempDir()
	req := newRequest(t, types.ModuleKindLibrary, mod("main", "mid"), mod("mid", "base"), mod("base"))

	_, err := d.Compile(context.Background(), req, outDir)
	require.NoError(t, err)
	require.Len(t, tc.invocations, 4)

	lib := func(name string) string { return filepath.Join(outDir, libraryDirName, name+librarySuffix) }
	assert.Empty(t, tc.invocations[0].Libraries)
	assert.Equal(t, []string{lib("base")}, tc.invocations[1].Libraries)
	assert.Equal(t, []string{lib("base"), lib("mid")}, tc.invocations[2].Libraries)

	link := tc.invocations[3]
	assert.Empty(t, link.Sources)
	assert.Equal(t, []string{lib("main")}, link.Includes)
	assert.Equal(t, []string{lib("base"), lib("mid")}, link.Libraries)
	assert.Equal(t, "main", link.EntryPoint)
}

func TestDriverSourcePlanIncludesAllSources(t *testing.T) {
	tc := &fakeToolchain{}
	d := newTestDriver(t, tc)
	outDir := t.TempDir()
	req := newRequest(t, types.ModuleKindSource, mod("main", "lib"), mod("lib"))

	_, err := d.Compile(context.Background(), req, outDir)
	require.NoError(t, err)
	require.Len(t, tc.invocations, 1)
	assert.Equal(t, []string{
		filepath.Join(outDir, sourceDirName, "lib", "lib.kt"),
		filepath.Join(outDir, sourceDirName, "main", "main.kt"),
	}, tc.invocations[0].Sources)
}

func TestDriverUpstreamFailureStopsBuild(t *testing.T) {
	tc := &fakeToolchain{fail: map[string]string{
		"base": filepath.Join("OUT", "base.kt") + ":2:7: error: expecting member declaration\n",
	}}
	d := newTestDriver(t, tc)
	outDir := t.TempDir()
	req := newRequest(t, types.ModuleKindMulti, mod("main", "mid"), mod("mid", "base"), mod("base"))

	_, err := d.Compile(context.Background(), req, outDir)
	require.Error(t, err)

	var compileErr *types.CompileError
	require.ErrorAs(t, err, &compileErr)
	assert.Equal(t, "base", compileErr.Module)
	assert.Equal(t, []string{"base", "mid", "main"}, compileErr.Modules)
	assert.Equal(t, 1, compileErr.ExitCode)
	require.NotNil(t, compileErr.FirstError())
	assert.Equal(t, "expecting member declaration", compileErr.FirstError().Message)

	// nothing downstream of the failing module was invoked
	assert.Equal(t, []string{"base:library"}, tc.modules())
}

func TestDriverMissingProgramIsInfrastructureError(t *testing.T) {
	tc := &fakeToolchain{skipOutput: true}
	d := newTestDriver(t, tc)
	req := newRequest(t, types.ModuleKindSource, mod("main"))

	_, err := d.Compile(context.Background(), req, t.TempDir())
	assert.True(t, types.IsInfrastructureError(err))
}

func TestDriverRejectsEscapingPaths(t *testing.T) {
	d := newTestDriver(t, &fakeToolchain{})
	req := newRequest(t, types.ModuleKindSource, mod("main"))
	req.Units[0].Files = []types.SourceFile{{Path: "../evil.kt", Content: "fun main() {}"}}

	_, err := d.Compile(context.Background(), req, t.TempDir())
	assert.True(t, types.IsConfigurationError(err))
}

func TestDriverHonoursCancelledContext(t *testing.T) {
	tc := &fakeToolchain{}
	d := newTestDriver(t, tc)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := d.Compile(ctx, newRequest(t, types.ModuleKindSource, mod("main")), t.TempDir())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, tc.invocations)
}

func TestNewBuildRequestRejectsDependedOnMain(t *testing.T) {
	cfg := &types.PipelineConfig{Name: "p", Frontend: types.FrontendFIR, ModuleKind: types.ModuleKindMulti, Backend: "native"}
	tc := types.TestCase{ID: "t", Modules: []types.Module{mod("app"), mod("extra", "app")}, MainModule: "app", EntryPoint: "main"}

	_, err := NewBuildRequest(tc, cfg, DefaultEntryPointRule())
	require.Error(t, err)
	assert.True(t, types.IsConfigurationError(err))
	assert.Contains(t, err.Error(), "main module app is a dependency of module extra")

	// the other module kinds compile the main module as a library or in one pass
	for _, kind := range []types.ModuleKind{types.ModuleKindSource, types.ModuleKindLibrary} {
		cfg := &types.PipelineConfig{Name: "p", Frontend: types.FrontendFIR, ModuleKind: kind, Backend: "native"}
		_, err := NewBuildRequest(tc, cfg, DefaultEntryPointRule())
		assert.NoError(t, err, string(kind))
	}
}

func TestDriverMultiModuleSkipsUnusedModules(t *testing.T) {
	tc := &fakeToolchain{}
	d := newTestDriver(t, tc)
	outDir := t.TempDir()
	req := newRequest(t, types.ModuleKindMulti, mod("base"), mod("unused", "base"), mod("main", "base"))

	_, err := d.Compile(context.Background(), req, outDir)
	require.NoError(t, err)
	assert.Equal(t, []string{"base:library", "main:program"}, tc.modules())
	assert.Equal(t, []string{filepath.Join(outDir, libraryDirName, "base"+librarySuffix)}, tc.invocations[1].Libraries)
}
