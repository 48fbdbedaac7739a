package flags

import (
	"testing"

	opservice "github.com/ethereum-optimism/optimism/op-service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

// TestOptionalFlagsDontSetRequired asserts that all flags deemed optional set
// the Required field to false.
func TestOptionalFlagsDontSetRequired(t *testing.T) {
	for _, flag := range optionalFlags {
		reqFlag, ok := flag.(cli.RequiredFlag)
		require.True(t, ok)
		require.False(t, reqFlag.IsRequired())
	}
}

// TestUniqueFlags asserts that all flag names are unique, to avoid accidental conflicts between the many flags.
func TestUniqueFlags(t *testing.T) {
	seenCLI := make(map[string]struct{})
	for _, flag := range Flags {
		name := flag.Names()[0]
		if _, ok := seenCLI[name]; ok {
			t.Errorf("duplicate flag %s", name)
			continue
		}
		seenCLI[name] = struct{}{}
	}
}

func TestHasEnvVar(t *testing.T) {
	for _, flag := range Flags {
		flagName := flag.Names()[0]

		t.Run(flagName, func(t *testing.T) {
			envFlagGetter, ok := flag.(interface {
				GetEnvVars() []string
			})
			require.True(t, ok, "must be able to cast the flag to an EnvVar interface")
			envFlags := envFlagGetter.GetEnvVars()
			require.Equal(t, 1, len(envFlags), "flags should have exactly one env var")
		})
	}
}

func TestEnvVarFormat(t *testing.T) {
	for _, flag := range Flags {
		flagName := flag.Names()[0]

		t.Run(flagName, func(t *testing.T) {
			envFlagGetter, ok := flag.(interface {
				GetEnvVars() []string
			})
			require.True(t, ok, "must be able to cast the flag to an EnvVar interface")
			envFlags := envFlagGetter.GetEnvVars()
			require.Equal(t, 1, len(envFlags), "flags should have exactly one env var")

			// The repeatable --reporter flag keeps a singular env var name.
			if flagName == "reporter" {
				require.Equal(t, "LOUPE_REPORTER", envFlags[0])
				return
			}
			expectedEnvVar := opservice.FlagNameToEnvVarName(flagName, EnvVarPrefix)
			require.Equal(t, expectedEnvVar, envFlags[0])
		})
	}
}

func TestBrowserListFlags(t *testing.T) {
	testCases := []struct {
		name     string
		args     []string
		browsers string
		skipped  string
	}{
		{"defaults", []string{"app"}, "", ""},
		{"browsers only", []string{"app", "--browsers", "chromium,firefox"}, "chromium,firefox", ""},
		{"skip only", []string{"app", "--skip-browsers", "webkit"}, "", "webkit"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			app := &cli.App{
				Flags: []cli.Flag{Browsers, SkipBrowsers},
				Action: func(ctx *cli.Context) error {
					assert.Equal(t, tc.browsers, ctx.String(Browsers.Name))
					assert.Equal(t, tc.skipped, ctx.String(SkipBrowsers.Name))
					return nil
				},
			}
			require.NoError(t, app.Run(tc.args))
		})
	}
}

func TestReporterFlagDefaultsToFlat(t *testing.T) {
	app := &cli.App{
		Flags: []cli.Flag{Reporters},
		Action: func(ctx *cli.Context) error {
			assert.Equal(t, []string{"flat"}, ctx.StringSlice(Reporters.Name))
			return nil
		},
	}
	require.NoError(t, app.Run([]string{"app"}))
}
