package compiler

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum-optimism/infra/op-blackbox/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCompilerScript records its arguments and creates the -o output. It
// fails when a source contains the word BROKEN.
const fakeCompilerScript = `#!/bin/sh
out=""
prev=""
for a in "$@"; do
  if [ "$prev" = "-o" ]; then out="$a"; fi
  prev="$a"
done
echo "$@" > "$out.args"
for a in "$@"; do
  case "$a" in
    *.kt)
      if grep -q BROKEN "$a"; then
        printf '\033[31m%s:1:1: error: broken source\033[0m\n' "$a" >&2
        exit 1
      fi
      ;;
  esac
done
touch "$out$SUFFIX"
echo "warning: compiled $out"
`

func writeScript(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-konanc")
	require.NoError(t, os.WriteFile(path, []byte(fakeCompilerScript), 0o755))
	return path
}

func newExecToolchain(t *testing.T, cfg ExecConfig) *ExecToolchain {
	t.Helper()
	if cfg.Binary == "" {
		cfg.Binary = writeScript(t)
	}
	cfg.Log = log.NewLogger(log.DiscardHandler())
	tc, err := NewExecToolchain(cfg)
	require.NoError(t, err)
	return tc
}

func TestExecToolchainArgs(t *testing.T) {
	tc := newExecToolchain(t, ExecConfig{
		Target:          "linux_x64",
		ExtraArgs:       []string{"-nowarn"},
		SessionModeFlag: "-Xsession-mode",
	})
	cfg := &types.PipelineConfig{
		Name:         "p",
		Frontend:     types.FrontendLegacy,
		ModuleKind:   types.ModuleKindLibrary,
		SessionMode:  "isolated",
		Backend:      "native",
		CompilerArgs: []string{"-opt"},
	}

	args := tc.Args(Invocation{
		Module:     "main",
		Produce:    ProduceProgram,
		Sources:    []string{"/s/a.kt"},
		Libraries:  []string{"/l/base.klib"},
		Includes:   []string{"/l/main.klib"},
		Output:     "/o/program",
		EntryPoint: "p.main",
		Config:     cfg,
	})
	assert.Equal(t, []string{
		"-nowarn",
		"-language-version", "1.9",
		"-Xsession-mode=isolated",
		"-opt",
		"-target", "linux_x64",
		"-produce", "program", "-o", "/o/program",
		"-l", "/l/base.klib",
		"-Xinclude=/l/main.klib",
		"-e", "p.main",
		"/s/a.kt",
	}, args)

	lib := tc.Args(Invocation{Produce: ProduceLibrary, Output: "/o/x.klib", EntryPoint: "ignored"})
	assert.NotContains(t, lib, "-e")
}

func TestExecToolchainIdentity(t *testing.T) {
	script := writeScript(t)
	a := newExecToolchain(t, ExecConfig{Binary: script, Version: "2.1.0", Target: "linux_x64"})
	b := newExecToolchain(t, ExecConfig{Binary: script, Version: "2.1.0", Target: "macos_arm64"})
	c := newExecToolchain(t, ExecConfig{Binary: script})

	assert.NotEqual(t, a.Identity(), b.Identity())
	assert.Contains(t, c.Identity(), "size=")

	d := newExecToolchain(t, ExecConfig{Binary: script, Version: "v2.1", Target: "linux_x64"})
	assert.Equal(t, a.Identity(), d.Identity())
}

func TestCanonicalVersion(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "", want: ""},
		{in: "2.1", want: "v2.1.0"},
		{in: "v2.1.0", want: "v2.1.0"},
		{in: " 2.0.20-RC ", want: "v2.0.20-RC"},
		{in: "2.1.0+build.7", want: "v2.1.0"},
		{in: "nightly-2024", want: "nightly-2024"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, canonicalVersion(tt.in))
		})
	}
}

func TestNewExecToolchainErrors(t *testing.T) {
	_, err := NewExecToolchain(ExecConfig{Log: log.NewLogger(log.DiscardHandler())})
	assert.EqualError(t, err, "compiler binary cannot be empty")

	_, err = NewExecToolchain(ExecConfig{Binary: "/nonexistent/konanc", Log: log.NewLogger(log.DiscardHandler())})
	assert.Error(t, err)
}

func TestExecToolchainWithDriver(t *testing.T) {
	tc := newExecToolchain(t, ExecConfig{ExecutableSuffix: ".kexe", Env: []string{"SUFFIX=.kexe"}})
	d := newTestDriver(t, tc)
	outDir := t.TempDir()

	req := newRequest(t, types.ModuleKindMulti, mod("main", "lib"), mod("lib"))
	art, err := d.Compile(context.Background(), req, outDir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(outDir, programName+".kexe"), art.Executable)
	assert.FileExists(t, art.Executable)
	assert.Contains(t, art.Diagnostics, "warning: compiled")

	recorded, err := os.ReadFile(filepath.Join(outDir, programName) + ".args")
	require.NoError(t, err)
	assert.Contains(t, string(recorded), "-l "+filepath.Join(outDir, libraryDirName, "lib.klib"))
	assert.True(t, strings.HasSuffix(strings.TrimSpace(string(recorded)), filepath.Join(sourceDirName, "main", "main.kt")))
}

func TestExecToolchainCompileError(t *testing.T) {
	tc := newExecToolchain(t, ExecConfig{})
	d := newTestDriver(t, tc)
	outDir := t.TempDir()

	req := newRequest(t, types.ModuleKindMulti,
		mod("main", "lib"),
		types.Module{Name: "lib", Files: []types.SourceFile{{Path: "lib.kt", Content: "BROKEN"}}},
	)
	_, err := d.Compile(context.Background(), req, outDir)
	require.Error(t, err)

	var compileErr *types.CompileError
	require.ErrorAs(t, err, &compileErr)
	assert.Equal(t, "lib", compileErr.Module)
	require.Len(t, compileErr.Diagnostics, 1)
	assert.Equal(t, types.Diagnostic{Severity: "error", File: "lib/lib.kt", Line: 1, Column: 1, Message: "broken source"}, compileErr.Diagnostics[0])
	assert.NoFileExists(t, filepath.Join(outDir, programName+".args"))
}

func TestExecToolchainKilledCompilerIsInfrastructureError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crashing-konanc")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\nkill -9 $$\n"), 0o755))
	tc := newExecToolchain(t, ExecConfig{Binary: path})
	d := newTestDriver(t, tc)

	req := newRequest(t, types.ModuleKindSource, mod("main"))
	_, err := d.Compile(context.Background(), req, t.TempDir())
	require.Error(t, err)
	assert.True(t, types.IsInfrastructureError(err))
	assert.False(t, types.IsCompileError(err))
}
