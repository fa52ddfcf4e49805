package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/log"
	"github.com/honeycombio/otel-config-go/otelconfig"
	"github.com/urfave/cli/v2"

	blackbox "github.com/ethereum-optimism/infra/op-blackbox"
	"github.com/ethereum-optimism/infra/op-blackbox/exitcodes"
	"github.com/ethereum-optimism/infra/op-blackbox/flags"
	"github.com/ethereum-optimism/infra/op-blackbox/service"
	"github.com/ethereum-optimism/optimism/devnet-sdk/telemetry"
	"github.com/ethereum-optimism/optimism/op-service/cliapp"
	"github.com/ethereum-optimism/optimism/op-service/ctxinterrupt"
	oplog "github.com/ethereum-optimism/optimism/op-service/log"
)

var (
	Version   = "v0.1.0"
	GitCommit = ""
	GitDate   = ""
)

func main() {
	app := cli.NewApp()
	app.Version = fmt.Sprintf("%s-%s-%s", Version, GitCommit, GitDate)
	app.Name = "op-blackbox"
	app.Usage = "Black-box compiler test execution engine"
	app.Description = "op-blackbox compiles test programs, runs them and checks their observable behaviour"
	app.Flags = cliapp.ProtectFlags(flags.Flags)
	app.Action = cliapp.LifecycleCmd(run)
	app.ExitErrHandler = func(c *cli.Context, err error) {
		var exitErr cli.ExitCoder
		if errors.As(err, &exitErr) {
			cli.HandleExitCoder(exitErr)
		} else if err != nil {
			if blackbox.IsRuntimeError(err) {
				cli.HandleExitCoder(cli.Exit(err.Error(), exitcodes.RuntimeErr))
			} else {
				// test failures and unspecified errors
				cli.HandleExitCoder(cli.Exit(err.Error(), exitcodes.TestFailure))
			}
		}
	}

	// Start telemetry
	ctx, shutdown, err := telemetry.SetupOpenTelemetry(
		context.Background(),
		otelconfig.WithServiceName(app.Name),
		otelconfig.WithServiceVersion(app.Version),
	)
	if err != nil {
		log.Crit("Failed to setup open telemetry", "message", err)
	}
	defer shutdown()

	// Start CLI
	ctx = ctxinterrupt.WithSignalWaiterMain(ctx)
	err = app.RunContext(ctx, os.Args)
	if err != nil {
		log.Crit("Application failed", "message", err)
	}
}

func run(ctx *cli.Context, closeApp context.CancelCauseFunc) (cliapp.Lifecycle, error) {
	logCfg := oplog.ReadCLIConfig(ctx)
	log := oplog.NewLogger(oplog.AppOut(ctx), logCfg)
	oplog.SetGlobalLogHandler(log.Handler())
	oplog.SetupDefaults()

	cfg, err := blackbox.NewConfig(
		ctx,
		log,
		ctx.String(flags.Manifest.Name),
		ctx.String(flags.Compiler.Name),
	)
	if err != nil {
		return nil, blackbox.NewRuntimeError("create config", err)
	}

	cfg.Log.Debug("Config", "config", cfg)

	svc := service.New(service.Config{
		HealthzAddr: ctx.String(flags.HealthzAddr.Name),
		MetricsAddr: ctx.String(flags.MetricsAddr.Name),
		Log:         log,
	})
	svc.Start(ctx.Context)

	bb, err := blackbox.New(ctx.Context, cfg, Version, func(err error) {
		svc.Shutdown()
		closeApp(err)
	})
	if err != nil {
		svc.Shutdown()
		return nil, blackbox.NewRuntimeError("create op-blackbox", err)
	}

	return &serviceLifecycle{Lifecycle: bb, svc: svc}, nil
}

// serviceLifecycle shuts the healthz and metrics servers down with the app.
type serviceLifecycle struct {
	cliapp.Lifecycle
	svc *service.Service
}

func (s *serviceLifecycle) Stop(ctx context.Context) error {
	err := s.Lifecycle.Stop(ctx)
	s.svc.Shutdown()
	return err
}
