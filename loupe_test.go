package loupe

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"github.com/loupe-ci/loupe/config"
	"github.com/loupe-ci/loupe/events"
	"github.com/loupe-ci/loupe/plugins"
	"github.com/loupe-ci/loupe/processor"
	"github.com/loupe-ci/loupe/reader"
	"github.com/loupe-ci/loupe/runner"
	"github.com/loupe-ci/loupe/suite"
)

// fakeRunner emits a scripted End event and records what it was run with.
type fakeRunner struct {
	bus     *events.Bus
	stats   *runner.Stats
	runErr  error
	started chan struct{} // closed when Run begins
	release chan struct{} // Run blocks on this when non-nil

	mu         sync.Mutex
	cancels    int
	collection *suite.Collection
}

func newFakeRunner(stats *runner.Stats) *fakeRunner {
	return &fakeRunner{
		bus:     events.NewBus(),
		stats:   stats,
		started: make(chan struct{}),
	}
}

func (f *fakeRunner) Run(ctx context.Context, collection *suite.Collection) error {
	f.mu.Lock()
	f.collection = collection
	f.mu.Unlock()
	close(f.started)

	f.bus.Emit(events.Begin, runner.BeginPayload{RunID: "fake-run"})
	if f.release != nil {
		<-f.release
	}
	if f.stats != nil {
		f.bus.Emit(events.End, f.stats)
	}
	return f.runErr
}

func (f *fakeRunner) Cancel() {
	f.mu.Lock()
	f.cancels++
	f.mu.Unlock()
}

func (f *fakeRunner) Events() *events.Bus { return f.bus }

func (f *fakeRunner) cancelCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancels
}

// fakeReader serves a canned suite tree.
type fakeReader struct {
	root *suite.Suite
	err  error

	mu   sync.Mutex
	opts reader.Options
}

func (f *fakeReader) Discover(ctx context.Context, cfg *config.Config, opts reader.Options) (*suite.Suite, error) {
	f.mu.Lock()
	f.opts = opts
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.root, nil
}

// fakeInterrupts lets tests fire interrupts by hand.
type fakeInterrupts struct {
	mu       sync.Mutex
	handler  func()
	detached int
}

func (f *fakeInterrupts) OnInterrupt(fn func()) func() {
	f.mu.Lock()
	f.handler = fn
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		f.detached++
		f.mu.Unlock()
	}
}

func (f *fakeInterrupts) fire() {
	f.mu.Lock()
	fn := f.handler
	f.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// nopProcessor satisfies processor.StateProcessor for runs that never reach
// real captures.
type nopProcessor struct{}

func (nopProcessor) Prepare(ctx context.Context) error { return nil }
func (nopProcessor) ProcessState(ctx context.Context, ref processor.StateRef) (*processor.StateResult, error) {
	return &processor.StateResult{Ref: ref, Equal: true}, nil
}
func (nopProcessor) Close() error { return nil }

type nopProcessors struct{}

func (nopProcessors) NewTester(cfg *config.Config) (processor.StateProcessor, error) {
	return nopProcessor{}, nil
}
func (nopProcessors) NewScreenUpdater(cfg *config.Config, opts processor.UpdaterOptions) (processor.StateProcessor, error) {
	return nopProcessor{}, nil
}

func testTree() *suite.Suite {
	root := suite.NewRoot()
	header := suite.New("header")
	header.AddState("default")
	root.AddChild(header)
	return root
}

func testConfig(t *testing.T, extra string) *config.Config {
	t.Helper()
	cfg, err := config.New([]byte(`
browsers:
  chromium: {}
  firefox: {}
`+extra), nil)
	require.NoError(t, err)
	return cfg
}

type harness struct {
	loupe      *Loupe
	runner     *fakeRunner
	reader     *fakeReader
	interrupts *fakeInterrupts
}

func newHarness(t *testing.T, stats *runner.Stats) *harness {
	t.Helper()
	h := &harness{
		runner:     newFakeRunner(stats),
		reader:     &fakeReader{root: testTree()},
		interrupts: &fakeInterrupts{},
	}
	l, err := New(testConfig(t, ""),
		WithReader(h.reader),
		WithInterruptSource(h.interrupts),
		WithProcessorFactory(nopProcessors{}),
		WithRunnerFactory(func(cfg runner.Config) (runner.Runner, error) {
			return h.runner, nil
		}),
	)
	require.NoError(t, err)
	h.loupe = l
	return h
}

func passStats() *runner.Stats {
	return &runner.Stats{RunID: "fake-run", Status: runner.StatusPass, Total: 1, Passed: 1}
}

func TestNewRequiresConfig(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)
}

func TestTestReturnsStatsFromEndEvent(t *testing.T) {
	h := newHarness(t, passStats())

	stats, err := h.loupe.Test(context.Background(), PathSource("tests"), nil)
	require.NoError(t, err)
	require.NotNil(t, stats)
	assert.Equal(t, "fake-run", stats.RunID)
	assert.Equal(t, runner.StatusPass, stats.Status)
}

func TestRunnerEventsPassThroughOrchestratorBus(t *testing.T) {
	h := newHarness(t, passStats())

	var seen []string
	h.loupe.Events().On(events.Begin, func(payload any) { seen = append(seen, events.Begin) })
	h.loupe.Events().On(events.End, func(payload any) { seen = append(seen, events.End) })

	_, err := h.loupe.Test(context.Background(), PathSource("tests"), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{events.Begin, events.End}, seen)

	// Forwarding is scoped to the run; later emissions stay on the runner bus.
	h.runner.bus.Emit(events.Begin, nil)
	assert.Equal(t, []string{events.Begin, events.End}, seen)
}

func TestInitHookRunsExactlyOnceUnderConcurrency(t *testing.T) {
	var hookCalls atomic.Int32
	plugins.Register("loupe-once-counter", func(api *plugins.API, opts map[string]any) error {
		api.OnInit(func(ctx context.Context) error {
			time.Sleep(10 * time.Millisecond) // widen the race window
			hookCalls.Add(1)
			return nil
		})
		return nil
	})

	cfg := testConfig(t, "plugins:\n  loupe-once-counter: true\n")
	rdr := &fakeReader{root: testTree()}
	l, err := New(cfg,
		WithReader(rdr),
		WithInterruptSource(&fakeInterrupts{}),
		WithProcessorFactory(nopProcessors{}),
		WithRunnerFactory(func(runner.Config) (runner.Runner, error) {
			return newFakeRunner(passStats()), nil
		}),
	)
	require.NoError(t, err)

	var initEvents atomic.Int32
	l.Events().On(events.Init, func(payload any) { initEvents.Add(1) })

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.ReadTests(context.Background(), PathSource("tests"), nil)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), hookCalls.Load())
	assert.Equal(t, int32(1), initEvents.Load())
}

func TestInitFailureIsSticky(t *testing.T) {
	hookErr := errors.New("plugin store unreachable")
	var hookCalls atomic.Int32
	plugins.Register("loupe-failing-init", func(api *plugins.API, opts map[string]any) error {
		api.OnInit(func(ctx context.Context) error {
			hookCalls.Add(1)
			return hookErr
		})
		return nil
	})

	cfg := testConfig(t, "plugins:\n  loupe-failing-init: true\n")
	l, err := New(cfg,
		WithReader(&fakeReader{root: testTree()}),
		WithInterruptSource(&fakeInterrupts{}),
		WithProcessorFactory(nopProcessors{}),
	)
	require.NoError(t, err)

	_, err = l.ReadTests(context.Background(), PathSource("tests"), nil)
	require.ErrorIs(t, err, hookErr)

	_, err = l.Test(context.Background(), PathSource("tests"), nil)
	require.ErrorIs(t, err, hookErr)

	// The failed attempt is not retried.
	assert.Equal(t, int32(1), hookCalls.Load())
}

func TestUnknownPluginFailsConstruction(t *testing.T) {
	cfg := testConfig(t, "plugins:\n  loupe-nobody-registered-this: true\n")
	_, err := New(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown plugin")
}

func TestReadTestsEmitsAfterTestsRead(t *testing.T) {
	h := newHarness(t, nil)

	var payload any
	h.loupe.Events().On(events.AfterTestsRead, func(p any) { payload = p })

	collection, err := h.loupe.ReadTests(context.Background(), PathSource("tests"), nil)
	require.NoError(t, err)
	require.NotNil(t, collection)
	assert.Same(t, collection, payload)
	assert.Equal(t, 1, collection.StateCount())
}

func TestReadTestsForwardsGrep(t *testing.T) {
	h := newHarness(t, nil)
	grep := regexp.MustCompile(`^header`)

	_, err := h.loupe.ReadTests(context.Background(), PathSource("tests"), &RunOptions{Grep: grep})
	require.NoError(t, err)
	assert.Same(t, grep, h.reader.opts.Grep)
	assert.Equal(t, []string{"tests"}, h.reader.opts.Paths)
}

func TestCollectionSourceSkipsDiscovery(t *testing.T) {
	h := newHarness(t, passStats())
	h.reader.err = errors.New("discovery must not run")

	collection := suite.NewCollection(testTree().Children)
	_, err := h.loupe.Test(context.Background(), CollectionSource(collection), nil)
	require.NoError(t, err)
	assert.Same(t, collection, h.runner.collection)
}

func TestEmptySourceFails(t *testing.T) {
	h := newHarness(t, nil)

	_, err := h.loupe.Test(context.Background(), Source{}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no test sources")
}

func TestUnknownRequestedBrowsersAreDroppedWithWarning(t *testing.T) {
	var gotBrowsers []string
	rnr := newFakeRunner(passStats())
	l, err := New(testConfig(t, ""),
		WithReader(&fakeReader{root: testTree()}),
		WithInterruptSource(&fakeInterrupts{}),
		WithProcessorFactory(nopProcessors{}),
		WithRunnerFactory(func(cfg runner.Config) (runner.Runner, error) {
			gotBrowsers = cfg.Browsers
			return rnr, nil
		}),
	)
	require.NoError(t, err)

	var warning string
	l.Events().On(events.Warning, func(payload any) {
		if msg, ok := payload.(string); ok {
			warning = msg
		}
	})

	_, err = l.Test(context.Background(), PathSource("tests"), &RunOptions{
		Browsers: []string{"chromium", "ghost"},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"chromium"}, gotBrowsers)
	assert.Contains(t, warning, "ghost")
	assert.Contains(t, warning, "chromium, firefox")
}

func TestNilBrowsersMeansAllConfigured(t *testing.T) {
	var gotBrowsers []string
	l, err := New(testConfig(t, ""),
		WithReader(&fakeReader{root: testTree()}),
		WithInterruptSource(&fakeInterrupts{}),
		WithProcessorFactory(nopProcessors{}),
		WithRunnerFactory(func(cfg runner.Config) (runner.Runner, error) {
			gotBrowsers = cfg.Browsers
			return newFakeRunner(passStats()), nil
		}),
	)
	require.NoError(t, err)

	_, err = l.Test(context.Background(), PathSource("tests"), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"chromium", "firefox"}, gotBrowsers)

	// An explicitly empty list stays empty.
	_, err = l.Test(context.Background(), PathSource("tests"), &RunOptions{Browsers: []string{}})
	require.NoError(t, err)
	assert.Empty(t, gotBrowsers)
}

func TestSkipBrowsersAnnotateCollection(t *testing.T) {
	h := newHarness(t, passStats())

	_, err := h.loupe.Test(context.Background(), PathSource("tests"), &RunOptions{
		SkipBrowsers: []string{"firefox", "ghost"},
	})
	require.NoError(t, err)

	require.NotNil(t, h.runner.collection)
	assert.True(t, h.runner.collection.IsSkipped("firefox"))
	assert.False(t, h.runner.collection.IsSkipped("ghost")) // unknown ids are dropped
	assert.False(t, h.runner.collection.IsSkipped("chromium"))
}

func TestReporterCallableReceivesRunnerBeforeRun(t *testing.T) {
	h := newHarness(t, passStats())

	var sawBegin bool
	reporter := func(r runner.Runner) error {
		r.Events().On(events.Begin, func(payload any) { sawBegin = true })
		return nil
	}

	_, err := h.loupe.Test(context.Background(), PathSource("tests"), &RunOptions{
		Reporters: []Reporter{{Fn: reporter}},
	})
	require.NoError(t, err)
	assert.True(t, sawBegin)
}

func TestReporterByName(t *testing.T) {
	h := newHarness(t, passStats())

	_, err := h.loupe.Test(context.Background(), PathSource("tests"), &RunOptions{
		Reporters: []Reporter{{Name: "json", Path: "/dev/null"}},
	})
	require.NoError(t, err)
}

func TestUnknownReporterFailsRun(t *testing.T) {
	h := newHarness(t, passStats())

	_, err := h.loupe.Test(context.Background(), PathSource("tests"), &RunOptions{
		Reporters: []Reporter{{Name: "teapot"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no such reporter")
}

func TestMalformedReporterFailsRun(t *testing.T) {
	h := newHarness(t, passStats())

	_, err := h.loupe.Test(context.Background(), PathSource("tests"), &RunOptions{
		Reporters: []Reporter{{}},
	})
	require.Error(t, err)
	assert.True(t, IsMalformedReporterError(err))
}

func TestReporterAttachFailurePropagates(t *testing.T) {
	h := newHarness(t, passStats())
	attachErr := errors.New("cannot open sink")

	_, err := h.loupe.Test(context.Background(), PathSource("tests"), &RunOptions{
		Reporters: []Reporter{{Fn: func(r runner.Runner) error { return attachErr }}},
	})
	require.ErrorIs(t, err, attachErr)
}

func TestInterruptCancelsActiveRun(t *testing.T) {
	h := newHarness(t, passStats())
	h.runner.release = make(chan struct{})

	var interrupted atomic.Bool
	h.loupe.Events().On(events.Interrupt, func(payload any) { interrupted.Store(true) })

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := h.loupe.Test(context.Background(), PathSource("tests"), nil)
		assert.NoError(t, err)
	}()

	<-h.runner.started
	h.interrupts.fire()
	close(h.runner.release)
	<-done

	assert.True(t, interrupted.Load())
	assert.Equal(t, 1, h.runner.cancelCount())

	h.interrupts.mu.Lock()
	detached := h.interrupts.detached
	h.interrupts.mu.Unlock()
	assert.Equal(t, 1, detached)
}

func TestExtendCLIEmitsCLIEvent(t *testing.T) {
	h := newHarness(t, nil)

	var payload any
	h.loupe.Events().On(events.CLI, func(p any) { payload = p })

	app := cli.NewApp()
	h.loupe.ExtendCLI(app)
	assert.Same(t, app, payload)
}

func TestRunnerFactoryErrorSurfaces(t *testing.T) {
	l, err := New(testConfig(t, ""),
		WithReader(&fakeReader{root: testTree()}),
		WithInterruptSource(&fakeInterrupts{}),
		WithProcessorFactory(nopProcessors{}),
		WithRunnerFactory(func(runner.Config) (runner.Runner, error) {
			return nil, errors.New("driver not installed")
		}),
	)
	require.NoError(t, err)

	_, err = l.Test(context.Background(), PathSource("tests"), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "creating runner")
}

func TestRunErrorPropagates(t *testing.T) {
	h := newHarness(t, nil)
	h.runner.runErr = errors.New("prepare failed")

	_, err := h.loupe.Test(context.Background(), PathSource("tests"), nil)
	require.ErrorIs(t, err, h.runner.runErr)
}

func TestUpdatePassesDiffOnlyToProcessorFactory(t *testing.T) {
	var gotOpts processor.UpdaterOptions
	factory := &capturingProcessors{onUpdater: func(opts processor.UpdaterOptions) { gotOpts = opts }}
	l, err := New(testConfig(t, ""),
		WithReader(&fakeReader{root: testTree()}),
		WithInterruptSource(&fakeInterrupts{}),
		WithProcessorFactory(factory),
		WithRunnerFactory(func(runner.Config) (runner.Runner, error) {
			return newFakeRunner(passStats()), nil
		}),
	)
	require.NoError(t, err)

	_, err = l.Update(context.Background(), PathSource("tests"), &RunOptions{DiffOnly: true})
	require.NoError(t, err)
	assert.True(t, gotOpts.DiffOnly)
}

type capturingProcessors struct {
	onUpdater func(processor.UpdaterOptions)
}

func (c *capturingProcessors) NewTester(cfg *config.Config) (processor.StateProcessor, error) {
	return nopProcessor{}, nil
}

func (c *capturingProcessors) NewScreenUpdater(cfg *config.Config, opts processor.UpdaterOptions) (processor.StateProcessor, error) {
	if c.onUpdater != nil {
		c.onUpdater(opts)
	}
	return nopProcessor{}, nil
}
