package flags

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	opservice "github.com/ethereum-optimism/optimism/op-service"
	opflags "github.com/ethereum-optimism/optimism/op-service/flags"
	oplog "github.com/ethereum-optimism/optimism/op-service/log"
)

const EnvVarPrefix = "OP_BLACKBOX"

var (
	Manifest = &cli.StringFlag{
		Name:     "manifest",
		Value:    "",
		Required: true,
		EnvVars:  opservice.PrefixEnvVar(EnvVarPrefix, "MANIFEST"),
		Usage:    "Path to the pipeline and test case manifest (eg. 'blackbox.yaml' or 'blackbox.toml')",
	}
	Compiler = &cli.StringFlag{
		Name:     "compiler",
		Value:    "",
		Required: true,
		EnvVars:  opservice.PrefixEnvVar(EnvVarPrefix, "COMPILER"),
		Usage:    "Path to the compiler binary under test",
	}
	CompilerVersion = &cli.StringFlag{
		Name:    "compiler-version",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "COMPILER_VERSION"),
		Usage:   "Version string folded into artifact cache keys. Defaults to the binary's size and modification time.",
	}
	Target = &cli.StringFlag{
		Name:    "target",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "TARGET"),
		Usage:   "Compilation target passed to the compiler",
	}
	CompilerArgs = &cli.StringSliceFlag{
		Name:    "compiler-args",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "COMPILER_ARGS"),
		Usage:   "Extra arguments passed to every compiler invocation",
	}
	SessionModeFlag = &cli.StringFlag{
		Name:    "session-mode-flag",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "SESSION_MODE_FLAG"),
		Usage:   "Compiler flag carrying a pipeline's session mode (eg. '-Xsession-mode'). Session modes are not passed when empty.",
	}
	ExecutableSuffix = &cli.StringFlag{
		Name:    "executable-suffix",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "EXECUTABLE_SUFFIX"),
		Usage:   "Suffix the compiler appends to program outputs (eg. '.kexe')",
	}
	Pipelines = &cli.StringSliceFlag{
		Name:    "pipelines",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "PIPELINES"),
		Usage:   "Pipelines to run. Runs every pipeline in the manifest when empty.",
	}
	Groups = &cli.StringSliceFlag{
		Name:    "groups",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "GROUPS"),
		Usage:   "Test case groups to run. Runs every group in the manifest when empty.",
	}
	ScratchDir = &cli.StringFlag{
		Name:    "scratch-dir",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "SCRATCH_DIR"),
		Usage:   "Directory for compiled artifacts and execution working directories. Defaults to the system temp directory.",
	}
	LogDir = &cli.StringFlag{
		Name:    "logdir",
		Value:   "logs",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "LOGDIR"),
		Usage:   "Directory to store per-run verdict logs",
	}
	Concurrency = &cli.IntFlag{
		Name:    "concurrency",
		Value:   4,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "CONCURRENCY"),
		Usage:   "Number of test case groups run concurrently",
		Action:  validatePositive("concurrency"),
	}
	CasesPerGroup = &cli.IntFlag{
		Name:    "cases-per-group",
		Value:   4,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "CASES_PER_GROUP"),
		Usage:   "Number of test cases of one group run concurrently",
		Action:  validatePositive("cases-per-group"),
	}
	MaxProcesses = &cli.IntFlag{
		Name:    "max-processes",
		Value:   8,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "MAX_PROCESSES"),
		Usage:   "Maximum number of compiled programs running at once",
		Action:  validatePositive("max-processes"),
	}
	MaxCompilations = &cli.IntFlag{
		Name:    "max-compilations",
		Value:   4,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "MAX_COMPILATIONS"),
		Usage:   "Maximum number of compiler invocations running at once, independent of max-processes",
		Action:  validatePositive("max-compilations"),
	}
	MaxOutputBytes = &cli.IntFlag{
		Name:    "max-output-bytes",
		Value:   4 << 20,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "MAX_OUTPUT_BYTES"),
		Usage:   "Bytes of stdout and stderr kept per execution; the rest is dropped and the result marked truncated",
		Action:  validatePositive("max-output-bytes"),
	}
	DefaultTimeout = &cli.DurationFlag{
		Name:    "default-timeout",
		Value:   30 * time.Second,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "DEFAULT_TIMEOUT"),
		Usage:   "Execution timeout for pipelines and test cases that do not set one",
	}
	RunInterval = &cli.DurationFlag{
		Name:    "run-interval",
		Value:   0,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "RUN_INTERVAL"),
		Usage:   "Interval between runs (e.g. '1h', '30m'). Set to 0 or omit for run-once mode.",
	}
	ShowProgress = &cli.BoolFlag{
		Name:    "show-progress",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "SHOW_PROGRESS"),
		Usage:   "Log periodic progress updates while test cases run",
	}
	ProgressInterval = &cli.DurationFlag{
		Name:    "progress-interval",
		Value:   30 * time.Second,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "PROGRESS_INTERVAL"),
		Usage:   "Interval between progress updates when --show-progress is set",
	}
	HealthzAddr = &cli.StringFlag{
		Name:    "healthz-addr",
		Value:   "0.0.0.0:8080",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "HEALTHZ_ADDR"),
		Usage:   "Listen address of the healthz endpoint. Disabled when empty.",
	}
	MetricsAddr = &cli.StringFlag{
		Name:    "metrics-addr",
		Value:   "0.0.0.0:7300",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "METRICS_ADDR"),
		Usage:   "Listen address of the prometheus endpoint. Disabled when empty.",
	}
)

var requiredFlags = []cli.Flag{
	Manifest,
	Compiler,
}

var optionalFlags = []cli.Flag{
	CompilerVersion,
	Target,
	CompilerArgs,
	SessionModeFlag,
	ExecutableSuffix,
	Pipelines,
	Groups,
	ScratchDir,
	LogDir,
	Concurrency,
	CasesPerGroup,
	MaxProcesses,
	MaxCompilations,
	MaxOutputBytes,
	DefaultTimeout,
	RunInterval,
	ShowProgress,
	ProgressInterval,
	HealthzAddr,
	MetricsAddr,
}
var Flags []cli.Flag

func init() {
	optionalFlags = append(optionalFlags, oplog.CLIFlags(EnvVarPrefix)...)

	Flags = append(requiredFlags, optionalFlags...)
}

func validatePositive(name string) func(*cli.Context, int) error {
	return func(_ *cli.Context, v int) error {
		if v <= 0 {
			return fmt.Errorf("%s must be positive, got %d", name, v)
		}
		return nil
	}
}

func CheckRequired(ctx *cli.Context) error {
	for _, f := range requiredFlags {
		if !ctx.IsSet(f.Names()[0]) {
			return fmt.Errorf("flag %s is required", f.Names()[0])
		}
	}
	return opflags.CheckRequiredXor(ctx)
}
