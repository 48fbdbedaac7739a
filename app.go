package loupe

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"

	"github.com/loupe-ci/loupe/exitcodes"
	"github.com/loupe-ci/loupe/runner"
	"github.com/loupe-ci/loupe/suite"
)

// RunMode selects what a CLI invocation does with the discovered suites.
type RunMode string

const (
	// ModeTest compares captures against stored references.
	ModeTest RunMode = "test"
	// ModeUpdate writes captures as the new references.
	ModeUpdate RunMode = "update"
	// ModeList discovers and prints suites without executing anything.
	ModeList RunMode = "list"
)

// App adapts one run-once orchestrator invocation to the cliapp.Lifecycle
// interface: Start performs the run and signals shutdown, Stop cancels
// whatever is still in flight.
type App struct {
	loupe *Loupe
	mode  RunMode
	src   Source
	opts  *RunOptions

	running atomic.Bool

	shutdownCallback func(error)
}

// NewApp wraps a run of the given mode as a CLI lifecycle.
func NewApp(l *Loupe, mode RunMode, src Source, opts *RunOptions, shutdownCallback func(error)) *App {
	return &App{
		loupe:            l,
		mode:             mode,
		src:              src,
		opts:             opts,
		shutdownCallback: shutdownCallback,
	}
}

// Start runs the selected operation once.
// Start implements the cliapp.Lifecycle interface.
func (a *App) Start(ctx context.Context) error {
	defer func() {
		if r := recover(); r != nil {
			a.loupe.log.Error("Runtime error occurred", "error", r)
			os.Exit(exitcodes.RuntimeErr)
		}
	}()

	a.running.Store(true)
	defer a.running.Store(false)

	var stats *runner.Stats
	var err error
	switch a.mode {
	case ModeList:
		var collection *suite.Collection
		collection, err = a.loupe.ReadTests(ctx, a.src, a.opts)
		if err == nil {
			printCollection(collection)
		}
	case ModeUpdate:
		stats, err = a.loupe.Update(ctx, a.src, a.opts)
	default:
		stats, err = a.loupe.Test(ctx, a.src, a.opts)
	}
	if err != nil {
		return NewRuntimeError(err)
	}
	if stats != nil && stats.Status == runner.StatusFail {
		return NewTestFailureError(fmt.Sprintf("run %s failed: %d of %d states failed", stats.RunID, stats.Failed, stats.Total))
	}

	go func() {
		a.shutdownCallback(nil)
	}()
	return nil
}

// Stop cancels the active run, if any.
// Stop implements the cliapp.Lifecycle interface.
func (a *App) Stop(ctx context.Context) error {
	if !a.running.Load() {
		return nil
	}
	a.running.Store(false)
	a.loupe.Cancel()
	return nil
}

// Stopped implements the cliapp.Lifecycle interface.
func (a *App) Stopped() bool {
	return !a.running.Load()
}

func printCollection(c *suite.Collection) {
	for _, s := range c.Leaves() {
		fmt.Printf("%s (%d states)\n", s.FullName(), len(s.States))
	}
}
