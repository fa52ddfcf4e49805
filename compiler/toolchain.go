package compiler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/acarl005/stripansi"
	"github.com/ethereum-optimism/infra/op-blackbox/types"
	"github.com/ethereum/go-ethereum/log"
	"golang.org/x/mod/semver"
)

// Produce is the kind of output an invocation creates.
type Produce string

const (
	ProduceLibrary Produce = "library"
	ProduceProgram Produce = "program"
)

// Invocation is a single compiler call.
type Invocation struct {
	Module     string
	Produce    Produce
	Sources    []string // absolute paths
	Libraries  []string // libraries to compile against
	Includes   []string // libraries linked into the output
	Output     string
	EntryPoint string // program invocations only
	Config     *types.PipelineConfig
	WorkDir    string
}

// InvocationResult is the outcome of a compiler call that ran to completion.
type InvocationResult struct {
	Output   string // combined stdout and stderr, ANSI codes removed
	ExitCode int
	Produced string // path of the file the call was asked to produce
}

// Toolchain is the boundary to the external compiler. Invoke returns an error
// only when the compiler could not be run; a failed compilation is a nonzero
// ExitCode.
type Toolchain interface {
	Identity() string
	Invoke(ctx context.Context, inv Invocation) (InvocationResult, error)
}

// ExecConfig configures an ExecToolchain
type ExecConfig struct {
	Binary           string
	Version          string // folded into Identity; the binary's size and mtime when empty
	Target           string
	ExtraArgs        []string
	FrontendFlags    map[types.Frontend][]string
	SessionModeFlag  string // flag carrying PipelineConfig.SessionMode; the mode is not passed when empty
	ExecutableSuffix string // appended by the compiler to program outputs
	Env              []string
	WaitDelay        time.Duration
	Log              log.Logger
}

// DefaultFrontendFlags selects the frontend through the language version.
func DefaultFrontendFlags() map[types.Frontend][]string {
	return map[types.Frontend][]string{
		types.FrontendLegacy: {"-language-version", "1.9"},
		types.FrontendFIR:    {"-language-version", "2.0"},
	}
}

// ExecToolchain runs a compiler binary as a child process.
type ExecToolchain struct {
	cfg      ExecConfig
	identity string
	log      log.Logger
}

// NewExecToolchain creates an ExecToolchain
func NewExecToolchain(cfg ExecConfig) (*ExecToolchain, error) {
	if cfg.Binary == "" {
		return nil, fmt.Errorf("compiler binary cannot be empty")
	}
	if cfg.Log == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	bin, err := exec.LookPath(cfg.Binary)
	if err != nil {
		return nil, fmt.Errorf("compiler binary %s not found: %w", cfg.Binary, err)
	}
	if abs, err := filepath.Abs(bin); err == nil {
		bin = abs
	}
	cfg.Binary = bin
	if cfg.FrontendFlags == nil {
		cfg.FrontendFlags = DefaultFrontendFlags()
	}
	if cfg.WaitDelay == 0 {
		cfg.WaitDelay = 5 * time.Second
	}

	version := canonicalVersion(cfg.Version)
	if version == "" {
		info, err := os.Stat(bin)
		if err != nil {
			return nil, fmt.Errorf("failed to stat compiler binary: %w", err)
		}
		version = fmt.Sprintf("size=%d,mtime=%d", info.Size(), info.ModTime().UnixNano())
	}

	return &ExecToolchain{
		cfg:      cfg,
		identity: fmt.Sprintf("%s@%s/%s", bin, version, cfg.Target),
		log:      cfg.Log.New("component", "toolchain"),
	}, nil
}

// canonicalVersion maps semantic versions to one spelling ("2.1" and
// "v2.1.0" give "v2.1.0"). Other version strings are kept as given.
func canonicalVersion(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return ""
	}
	candidate := v
	if !strings.HasPrefix(candidate, "v") {
		candidate = "v" + candidate
	}
	if semver.IsValid(candidate) {
		return semver.Canonical(candidate)
	}
	return v
}

// Identity implements Toolchain
func (t *ExecToolchain) Identity() string {
	return t.identity
}

// Args builds the command line for inv, without the binary.
func (t *ExecToolchain) Args(inv Invocation) []string {
	var args []string
	args = append(args, t.cfg.ExtraArgs...)
	if cfg := inv.Config; cfg != nil {
		args = append(args, t.cfg.FrontendFlags[cfg.Frontend]...)
		if cfg.SessionMode != "" && t.cfg.SessionModeFlag != "" {
			args = append(args, t.cfg.SessionModeFlag+"="+cfg.SessionMode)
		}
		args = append(args, cfg.CompilerArgs...)
	}
	if t.cfg.Target != "" {
		args = append(args, "-target", t.cfg.Target)
	}
	args = append(args, "-produce", string(inv.Produce), "-o", inv.Output)
	for _, lib := range inv.Libraries {
		args = append(args, "-l", lib)
	}
	for _, inc := range inv.Includes {
		args = append(args, "-Xinclude="+inc)
	}
	if inv.Produce == ProduceProgram && inv.EntryPoint != "" {
		args = append(args, "-e", inv.EntryPoint)
	}
	args = append(args, inv.Sources...)
	return args
}

// Invoke implements Toolchain
func (t *ExecToolchain) Invoke(ctx context.Context, inv Invocation) (InvocationResult, error) {
	args := t.Args(inv)
	cmd := exec.CommandContext(ctx, t.cfg.Binary, args...)
	cmd.Dir = inv.WorkDir
	cmd.WaitDelay = t.cfg.WaitDelay
	if len(t.cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), t.cfg.Env...)
	}
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	t.log.Debug("Invoking compiler", "module", inv.Module, "produce", inv.Produce, "args", strings.Join(args, " "))
	start := time.Now()
	err := cmd.Run()
	result := InvocationResult{
		Output:   stripansi.Strip(out.String()),
		Produced: t.produced(inv),
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return result, ctxErr
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			// ExitCode is -1 when the compiler was killed by a signal.
			if exitErr.ExitCode() < 0 {
				t.log.Warn("Compiler terminated abnormally", "module", inv.Module, "state", exitErr.String())
				return result, types.NewInfrastructureError("run compiler", err)
			}
			result.ExitCode = exitErr.ExitCode()
			t.log.Debug("Compiler failed", "module", inv.Module, "exit_code", result.ExitCode, "duration", time.Since(start))
			return result, nil
		}
		return result, types.NewInfrastructureError("run compiler", err)
	}
	t.log.Debug("Compiler finished", "module", inv.Module, "duration", time.Since(start))
	return result, nil
}

func (t *ExecToolchain) produced(inv Invocation) string {
	if inv.Produce == ProduceProgram && t.cfg.ExecutableSuffix != "" && !strings.HasSuffix(inv.Output, t.cfg.ExecutableSuffix) {
		return inv.Output + t.cfg.ExecutableSuffix
	}
	return inv.Output
}
