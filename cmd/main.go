package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"

	"github.com/ethereum/go-ethereum/log"
	"github.com/honeycombio/otel-config-go/otelconfig"
	"github.com/urfave/cli/v2"

	loupe "github.com/loupe-ci/loupe"
	"github.com/loupe-ci/loupe/config"
	"github.com/loupe-ci/loupe/flags"
	"github.com/loupe-ci/loupe/service"
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
	app.Name = "loupe"
	app.Usage = "Visual Regression Test Runner"
	app.Description = "loupe captures browser screenshots of application states and compares them against stored references"
	app.Flags = cliapp.ProtectFlags(flags.Flags)
	app.Action = cliapp.LifecycleCmd(run)
	app.ExitErrHandler = func(c *cli.Context, err error) {
		var exitErr cli.ExitCoder
		if errors.As(err, &exitErr) {
			cli.HandleExitCoder(exitErr)
		} else if err != nil {
			if loupe.IsRuntimeError(err) {
				cli.HandleExitCoder(cli.Exit(err.Error(), 2))
			} else if loupe.IsTestFailureError(err) {
				cli.HandleExitCoder(cli.Exit(err.Error(), 1))
			} else {
				cli.HandleExitCoder(cli.Exit(err.Error(), 1))
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

	// Start health and metrics servers
	svc := service.New()
	svc.Start(ctx)
	defer svc.Shutdown()

	// Start CLI
	ctx = ctxinterrupt.WithSignalWaiterMain(ctx)
	err = app.RunContext(ctx, os.Args)
	if err != nil {
		log.Crit("Application failed", "message", err)
	}
}

func run(ctx *cli.Context, closeApp context.CancelCauseFunc) (cliapp.Lifecycle, error) {
	if err := flags.CheckRequired(ctx); err != nil {
		return nil, loupe.NewRuntimeError(err)
	}

	logCfg := oplog.ReadCLIConfig(ctx)
	logger := oplog.NewLogger(oplog.AppOut(ctx), logCfg)
	oplog.SetGlobalLogHandler(logger.Handler())
	oplog.SetupDefaults()

	debug := ctx.Bool(flags.Debug.Name)
	cfg, err := config.Load(ctx.String(flags.Config.Name), &config.Overrides{
		Debug:   &debug,
		RootURL: ctx.String(flags.RootURL.Name),
	})
	if err != nil {
		return nil, loupe.NewRuntimeError(fmt.Errorf("failed to load config: %w", err))
	}

	l, err := loupe.New(cfg, loupe.WithLogger(logger))
	if err != nil {
		return nil, loupe.NewRuntimeError(fmt.Errorf("failed to create loupe: %w", err))
	}

	// Plugins get a chance to contribute flags and commands before the
	// run options are read.
	l.ExtendCLI(ctx.App)

	opts, err := runOptions(ctx)
	if err != nil {
		return nil, loupe.NewRuntimeError(err)
	}

	mode := loupe.ModeTest
	if ctx.Bool(flags.Update.Name) {
		mode = loupe.ModeUpdate
	}
	if ctx.Bool(flags.ListTests.Name) {
		mode = loupe.ModeList
	}

	src := loupe.PathSource(ctx.StringSlice(flags.TestDir.Name)...)
	return loupe.NewApp(l, mode, src, opts, func(err error) { closeApp(err) }), nil
}

func runOptions(ctx *cli.Context) (*loupe.RunOptions, error) {
	opts := &loupe.RunOptions{
		Browsers:     nil, // all configured browsers unless --browsers is given
		SkipBrowsers: loupe.SplitBrowserList(ctx.String(flags.SkipBrowsers.Name)),
		DiffOnly:     ctx.Bool(flags.DiffOnly.Name),
	}
	if ctx.IsSet(flags.Browsers.Name) {
		opts.Browsers = loupe.SplitBrowserList(ctx.String(flags.Browsers.Name))
	}
	if pattern := ctx.String(flags.Grep.Name); pattern != "" {
		grep, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid grep pattern %q: %w", pattern, err)
		}
		opts.Grep = grep
	}
	for _, name := range ctx.StringSlice(flags.Reporters.Name) {
		opts.Reporters = append(opts.Reporters, loupe.Reporter{Name: name})
	}
	return opts, nil
}
