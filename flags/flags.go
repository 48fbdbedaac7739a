package flags

import (
	"fmt"

	"github.com/urfave/cli/v2"

	opservice "github.com/ethereum-optimism/optimism/op-service"
	oplog "github.com/ethereum-optimism/optimism/op-service/log"
)

const EnvVarPrefix = "LOUPE"

var (
	Config = &cli.StringFlag{
		Name:     "config",
		Value:    "",
		Required: true,
		EnvVars:  opservice.PrefixEnvVar(EnvVarPrefix, "CONFIG"),
		Usage:    "Path to the loupe config file (eg. 'loupe.yaml')",
	}
	TestDir = &cli.StringSliceFlag{
		Name:     "testdir",
		Required: true,
		EnvVars:  opservice.PrefixEnvVar(EnvVarPrefix, "TESTDIR"),
		Usage:    "Paths to discover suite manifests in (repeatable)",
	}
	Browsers = &cli.StringFlag{
		Name:    "browsers",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "BROWSERS"),
		Usage:   "Comma-separated browser ids to run in (all configured browsers when omitted)",
	}
	SkipBrowsers = &cli.StringFlag{
		Name:    "skip-browsers",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "SKIP_BROWSERS"),
		Usage:   "Comma-separated browser ids to skip in every suite",
	}
	Grep = &cli.StringFlag{
		Name:    "grep",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "GREP"),
		Usage:   "Run only suites whose full name matches this regular expression",
	}
	Reporters = &cli.StringSliceFlag{
		Name:    "reporter",
		Value:   cli.NewStringSlice("flat"),
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "REPORTER"),
		Usage:   "Reporters to attach ('flat', 'json'; repeatable)",
	}
	Update = &cli.BoolFlag{
		Name:    "update",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "UPDATE"),
		Usage:   "Write captures as new reference images instead of comparing",
	}
	DiffOnly = &cli.BoolFlag{
		Name:    "diff-only",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "DIFF_ONLY"),
		Usage:   "With --update, only write references that are missing",
	}
	ListTests = &cli.BoolFlag{
		Name:    "list-tests",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "LIST_TESTS"),
		Usage:   "Discover and list suites without running anything",
	}
	RootURL = &cli.StringFlag{
		Name:    "root-url",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "ROOT_URL"),
		Usage:   "Base URL relative suite urls are resolved against",
	}
	Debug = &cli.BoolFlag{
		Name:    "debug",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "DEBUG"),
		Usage:   "Enable debug mode",
	}
)

var requiredFlags = []cli.Flag{
	Config,
	TestDir,
}

var optionalFlags = []cli.Flag{
	Browsers,
	SkipBrowsers,
	Grep,
	Reporters,
	Update,
	DiffOnly,
	ListTests,
	RootURL,
	Debug,
}
var Flags []cli.Flag

func init() {
	optionalFlags = append(optionalFlags, oplog.CLIFlags(EnvVarPrefix)...)

	Flags = append(requiredFlags, optionalFlags...)
}

func CheckRequired(ctx *cli.Context) error {
	for _, f := range requiredFlags {
		if !ctx.IsSet(f.Names()[0]) {
			return fmt.Errorf("flag %s is required", f.Names()[0])
		}
	}
	return nil
}
