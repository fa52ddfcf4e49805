package blackbox

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/ethereum-optimism/infra/op-blackbox/flags"
	"github.com/ethereum/go-ethereum/log"
)

// Config holds the application configuration
type Config struct {
	ManifestFile     string
	CompilerBinary   string
	CompilerVersion  string // folded into artifact cache keys
	Target           string
	CompilerArgs     []string
	SessionModeFlag  string
	ExecutableSuffix string
	Pipelines        []string      // empty selects every pipeline
	Groups           []string      // empty selects every group
	ScratchDir       string        // parent of the per-run scratch directories
	LogDir           string        // Directory to store run logs
	Concurrency      int           // Groups run concurrently
	CasesPerGroup    int           // Cases of one group run concurrently
	MaxProcesses     int64         // Compiled programs running at once
	MaxCompilations  int64         // Compilations running at once
	MaxOutputBytes   int           // Captured bytes per output stream
	DefaultTimeout   time.Duration // Execution timeout when neither pipeline nor case sets one
	RunInterval      time.Duration // Interval between runs
	RunOnce          bool          // Exit after one run
	ShowProgress     bool
	ProgressInterval time.Duration
	Log              log.Logger
}

// NewConfig creates a new Config from cli context
func NewConfig(ctx *cli.Context, log log.Logger, manifest string, compiler string) (*Config, error) {
	if err := flags.CheckRequired(ctx); err != nil {
		return nil, fmt.Errorf("missing required flags: %w", err)
	}
	if manifest == "" {
		return nil, errors.New("manifest file is required")
	}
	if compiler == "" {
		return nil, errors.New("compiler binary is required")
	}

	absManifest, err := filepath.Abs(manifest)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path for manifest '%s': %w", manifest, err)
	}

	runInterval := ctx.Duration(flags.RunInterval.Name)
	runOnce := runInterval == 0

	// Get log directory, default to "logs" if not specified
	logDir := ctx.String(flags.LogDir.Name)
	if logDir == "" {
		logDir = "logs"
	}
	logDir, err = filepath.Abs(logDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path for log directory '%s': %w", logDir, err)
	}

	scratchDir := ctx.String(flags.ScratchDir.Name)
	if scratchDir == "" {
		scratchDir = filepath.Join(os.TempDir(), "op-blackbox")
	}
	scratchDir, err = filepath.Abs(scratchDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path for scratch directory '%s': %w", scratchDir, err)
	}

	return &Config{
		ManifestFile:     absManifest,
		CompilerBinary:   compiler,
		CompilerVersion:  ctx.String(flags.CompilerVersion.Name),
		Target:           ctx.String(flags.Target.Name),
		CompilerArgs:     ctx.StringSlice(flags.CompilerArgs.Name),
		SessionModeFlag:  ctx.String(flags.SessionModeFlag.Name),
		ExecutableSuffix: ctx.String(flags.ExecutableSuffix.Name),
		Pipelines:        ctx.StringSlice(flags.Pipelines.Name),
		Groups:           ctx.StringSlice(flags.Groups.Name),
		ScratchDir:       scratchDir,
		LogDir:           logDir,
		Concurrency:      ctx.Int(flags.Concurrency.Name),
		CasesPerGroup:    ctx.Int(flags.CasesPerGroup.Name),
		MaxProcesses:     int64(ctx.Int(flags.MaxProcesses.Name)),
		MaxCompilations:  int64(ctx.Int(flags.MaxCompilations.Name)),
		MaxOutputBytes:   ctx.Int(flags.MaxOutputBytes.Name),
		DefaultTimeout:   ctx.Duration(flags.DefaultTimeout.Name),
		RunInterval:      runInterval,
		RunOnce:          runOnce,
		ShowProgress:     ctx.Bool(flags.ShowProgress.Name),
		ProgressInterval: ctx.Duration(flags.ProgressInterval.Name),
		Log:              log,
	}, nil
}
