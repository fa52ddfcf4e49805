package process

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/ethereum-optimism/infra/op-blackbox/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRunner(t *testing.T, mutate ...func(*Config)) *Runner {
	t.Helper()
	cfg := Config{
		ScratchDir:   t.TempDir(),
		MaxProcesses: 4,
		WaitDelay:    500 * time.Millisecond,
		Log:          log.NewLogger(log.DiscardHandler()),
	}
	for _, m := range mutate {
		m(&cfg)
	}
	r, err := NewRunner(cfg)
	require.NoError(t, err)
	return r
}

func shell(script string, args ...string) RunRequest {
	return RunRequest{
		TestID:     "t",
		Executable: "/bin/sh",
		Args:       append([]string{"-c", script, "sh"}, args...),
		Timeout:    10 * time.Second,
		Convention: types.DefaultRuntimeConvention(),
	}
}

// processAlive treats zombies as dead: they are only waiting to be reaped.
func processAlive(pid int) bool {
	if data, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid)); err == nil {
		fields := strings.Fields(string(data[strings.LastIndexByte(string(data), ')')+1:]))
		return len(fields) > 0 && fields[0] != "Z"
	}
	return syscall.Kill(pid, 0) == nil
}

func TestRunClassification(t *testing.T) {
	tests := []struct {
		name        string
		script      string
		termination types.Termination
		exitCode    int
		signal      string
		stdout      string
	}{
		{
			name:        "normal exit",
			script:      `echo OK`,
			termination: types.TerminationNormal,
			stdout:      "OK\n",
		},
		{
			name:        "explicit exit code",
			script:      `exit 3`,
			termination: types.TerminationNonZero,
			exitCode:    3,
		},
		{
			name:        "raised signal",
			script:      `kill -TERM $$`,
			termination: types.TerminationSignal,
			exitCode:    -1,
			signal:      "SIGTERM",
		},
		{
			name:        "abort",
			script:      `kill -ABRT $$`,
			termination: types.TerminationSignal,
			exitCode:    -1,
			signal:      "SIGABRT",
		},
	}

	r := newTestRunner(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := r.Run(context.Background(), shell(tt.script))
			require.NoError(t, err)
			assert.Equal(t, tt.termination, res.Termination)
			assert.Equal(t, tt.exitCode, res.ExitCode)
			assert.Equal(t, tt.signal, res.Signal)
			assert.Equal(t, tt.stdout, string(res.Stdout))
			assert.Nil(t, res.Exception)
		})
	}
}

func TestRunUncaughtException(t *testing.T) {
	r := newTestRunner(t)

	res, err := r.Run(context.Background(), shell(`echo partial; echo "Uncaught Kotlin exception: kotlin.IllegalStateException: boom" >&2; kill -ABRT $$`))
	require.NoError(t, err)
	assert.Equal(t, types.TerminationException, res.Termination)
	require.NotNil(t, res.Exception)
	assert.Equal(t, "kotlin.IllegalStateException", res.Exception.Type)
	assert.Equal(t, "boom", res.Exception.Message)
	assert.Equal(t, "SIGABRT", res.Signal)
	assert.Equal(t, "partial\n", string(res.Stdout))

	res, err = r.Run(context.Background(), shell(`echo "Uncaught Kotlin exception: kotlin.AssertionError: Assertion failed" >&2; exit 1`))
	require.NoError(t, err)
	assert.Equal(t, types.TerminationAssertion, res.Termination)
	assert.Equal(t, 1, res.ExitCode)
}

func TestRunSeparatesStreams(t *testing.T) {
	r := newTestRunner(t)
	res, err := r.Run(context.Background(), shell(`echo out1; echo err1 >&2; echo out2; echo err2 >&2`))
	require.NoError(t, err)
	assert.Equal(t, "out1\nout2\n", string(res.Stdout))
	assert.Equal(t, "err1\nerr2\n", string(res.Stderr))
}

func TestRunPassesArgsExactly(t *testing.T) {
	r := newTestRunner(t)
	tests := []struct {
		name     string
		args     []string
		expected string
	}{
		{name: "no args", args: nil, expected: "0:"},
		{name: "one empty arg", args: []string{""}, expected: "1:[]"},
		{name: "spaces kept", args: []string{"a b", "c"}, expected: "2:[a b][c]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := r.Run(context.Background(), shell(`printf '%s:' $#; for a in "$@"; do printf '[%s]' "$a"; done`, tt.args...))
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(res.Stdout))
		})
	}
}

func TestRunStdinStates(t *testing.T) {
	r := newTestRunner(t)
	tests := []struct {
		name     string
		stdin    types.Stdin
		expected string
	}{
		{name: "no stdin", stdin: types.NoStdin(), expected: "0"},
		{name: "empty stream", stdin: types.StdinLines(), expected: "0"},
		{name: "single empty line", stdin: types.StdinLines(""), expected: "1"},
		{name: "two lines", stdin: types.StdinLines("a", "b"), expected: "2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := shell(`wc -l`)
			req.Stdin = tt.stdin
			res, err := r.Run(context.Background(), req)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, strings.TrimSpace(string(res.Stdout)))
		})
	}
}

func TestRunTimeoutKillsProcessTree(t *testing.T) {
	r := newTestRunner(t)
	req := shell(`sleep 60 & echo $!; while :; do :; done`)
	req.Timeout = 300 * time.Millisecond

	start := time.Now()
	res, err := r.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, types.TerminationTimeout, res.Termination)
	assert.Equal(t, req.Timeout, res.Timeout)
	assert.Equal(t, "SIGKILL", res.Signal)

	child, err := strconv.Atoi(strings.TrimSpace(string(res.Stdout)))
	require.NoError(t, err)
	assert.False(t, processAlive(res.PID), "leader survived")
	assert.Eventually(t, func() bool { return !processAlive(child) }, 2*time.Second, 20*time.Millisecond, "background child survived")
}

func TestRunBackgroundChildKilledAfterExit(t *testing.T) {
	r := newTestRunner(t)
	res, err := r.Run(context.Background(), shell(`sleep 60 >/dev/null 2>&1 & echo $!`))
	require.NoError(t, err)
	assert.Equal(t, types.TerminationNormal, res.Termination)

	child, err := strconv.Atoi(strings.TrimSpace(string(res.Stdout)))
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return !processAlive(child) }, 2*time.Second, 20*time.Millisecond)
}

func TestRunCancellation(t *testing.T) {
	r := newTestRunner(t)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(200 * time.Millisecond)
		cancel()
	}()

	res, err := r.Run(ctx, shell(`sleep 60`))
	require.NoError(t, err)
	assert.Equal(t, types.TerminationCancelled, res.Termination)
}

func TestRunSpawnFailure(t *testing.T) {
	r := newTestRunner(t)
	_, err := r.Run(context.Background(), RunRequest{Executable: "/nonexistent/program.kexe"})
	require.Error(t, err)
	assert.True(t, types.IsInfrastructureError(err))

	_, err = r.Run(context.Background(), RunRequest{})
	assert.True(t, types.IsInfrastructureError(err))
}

func TestRunTruncatesOutput(t *testing.T) {
	r := newTestRunner(t, func(c *Config) { c.MaxOutputBytes = 10 })
	res, err := r.Run(context.Background(), shell(`printf '%0100d' 0`))
	require.NoError(t, err)
	assert.Len(t, res.Stdout, 10)
	assert.True(t, res.StdoutTruncated)
	assert.False(t, res.StderrTruncated)
}

func TestRunUsesIsolatedWorkDir(t *testing.T) {
	r := newTestRunner(t)
	first, err := r.Run(context.Background(), shell(`pwd`))
	require.NoError(t, err)
	second, err := r.Run(context.Background(), shell(`pwd`))
	require.NoError(t, err)

	dir1 := strings.TrimSpace(string(first.Stdout))
	dir2 := strings.TrimSpace(string(second.Stdout))
	assert.NotEqual(t, dir1, dir2)
	assert.NoDirExists(t, dir1)
	assert.NoDirExists(t, dir2)
}

func TestRunRespectsProcessCap(t *testing.T) {
	r := newTestRunner(t, func(c *Config) { c.MaxProcesses = 1 })

	var wg sync.WaitGroup
	start := time.Now()
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := r.Run(context.Background(), shell(`sleep 0.2`))
			assert.NoError(t, err)
			assert.Equal(t, types.TerminationNormal, res.Termination)
		}()
	}
	wg.Wait()
	// three 200ms children cannot overlap with a cap of one
	assert.GreaterOrEqual(t, time.Since(start), 600*time.Millisecond)
}

func TestNewRunnerValidation(t *testing.T) {
	_, err := NewRunner(Config{Log: log.NewLogger(log.DiscardHandler())})
	assert.EqualError(t, err, "scratch directory cannot be empty")
	_, err = NewRunner(Config{ScratchDir: t.TempDir()})
	assert.EqualError(t, err, "logger cannot be nil")
}
