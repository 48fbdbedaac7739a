// Package loupe is the orchestration core of the visual-regression test
// runner: it sequences plugin initialization, suite discovery and
// filtering, browser-target resolution, execution delegation and
// halt/failure propagation.
package loupe

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"sync"

	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"

	"github.com/loupe-ci/loupe/browser"
	"github.com/loupe-ci/loupe/config"
	"github.com/loupe-ci/loupe/events"
	"github.com/loupe-ci/loupe/plugins"
	"github.com/loupe-ci/loupe/processor"
	"github.com/loupe-ci/loupe/reader"
	"github.com/loupe-ci/loupe/reporters"
	"github.com/loupe-ci/loupe/runner"
	"github.com/loupe-ci/loupe/suite"
)

// Source names the test input of one run: either paths to discover suites
// from, or a collection that was already built (discovery is then skipped).
// Exactly one field is set.
type Source struct {
	Paths      []string
	Collection *suite.Collection
}

// PathSource builds a Source from discovery paths.
func PathSource(paths ...string) Source {
	return Source{Paths: paths}
}

// CollectionSource builds a Source from an existing collection.
func CollectionSource(c *suite.Collection) Source {
	return Source{Collection: c}
}

// Reporter is the descriptor of one reporter to attach: a builtin name, a
// name with an extra output path, or a callable. Exactly one of Name and Fn
// must be set; Path is only meaningful together with Name.
type Reporter struct {
	Name string
	Path string
	Fn   ReporterFn
}

// ReporterFn is a callable reporter; it subscribes to whatever runner
// events it needs.
type ReporterFn func(r runner.Runner) error

// RunOptions carry the per-run parameters of Test, Update and ReadTests.
type RunOptions struct {
	// Browsers is the explicit requested browser list. nil means "all
	// configured browsers"; an empty non-nil slice means "none".
	Browsers []string
	// SkipBrowsers are excluded from execution for every suite.
	SkipBrowsers []string
	// Reporters to attach before execution starts.
	Reporters []Reporter
	// Grep prunes discovered suites by full name before the run.
	Grep *regexp.Regexp
	// DiffOnly makes Update leave existing references untouched.
	DiffOnly bool
}

// RunnerFactory builds the runner for one run. Injectable for tests.
type RunnerFactory func(cfg runner.Config) (runner.Runner, error)

// ProcessorFactory builds the state processors. Injectable for tests.
type ProcessorFactory interface {
	NewTester(cfg *config.Config) (processor.StateProcessor, error)
	NewScreenUpdater(cfg *config.Config, opts processor.UpdaterOptions) (processor.StateProcessor, error)
}

// Loupe is the orchestrator. One instance serves many sequential runs;
// concurrent runs on the same instance are not a supported configuration.
type Loupe struct {
	cfg        *config.Config
	log        log.Logger
	bus        *events.Bus
	api        *plugins.API
	reader     reader.Reader
	interrupts InterruptSource
	newRunner  RunnerFactory
	processors ProcessorFactory
	exit       func(code int)

	initOnce sync.Once
	initErr  error

	critMu  sync.Mutex
	critErr error

	runnerMu     sync.Mutex
	activeRunner runner.Runner
}

// Option customizes a Loupe instance at construction.
type Option func(*Loupe)

// WithLogger replaces the default logger.
func WithLogger(logger log.Logger) Option {
	return func(l *Loupe) { l.log = logger }
}

// WithReader replaces the test-discovery collaborator.
func WithReader(r reader.Reader) Option {
	return func(l *Loupe) { l.reader = r }
}

// WithInterruptSource replaces the process-interrupt collaborator.
func WithInterruptSource(src InterruptSource) Option {
	return func(l *Loupe) { l.interrupts = src }
}

// WithRunnerFactory replaces the runner construction step.
func WithRunnerFactory(f RunnerFactory) Option {
	return func(l *Loupe) { l.newRunner = f }
}

// WithProcessorFactory replaces the state-processor construction step.
func WithProcessorFactory(f ProcessorFactory) Option {
	return func(l *Loupe) { l.processors = f }
}

// New creates an orchestrator over the given configuration and activates
// the plugins it declares.
func New(cfg *config.Config, opts ...Option) (*Loupe, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}

	l := &Loupe{
		cfg:  cfg,
		log:  log.New(),
		bus:  events.NewBus(),
		exit: os.Exit,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.reader == nil {
		l.reader = reader.NewManifestReader(l.log)
	}
	if l.interrupts == nil {
		l.interrupts = NewSignalSource()
	}
	if l.newRunner == nil {
		l.newRunner = func(cfg runner.Config) (runner.Runner, error) {
			return runner.NewBrowserRunner(cfg)
		}
	}
	if l.processors == nil {
		l.processors = &browserProcessors{log: l.log}
	}

	l.api = plugins.NewAPI(l.bus, cfg)
	if err := plugins.Load(l.api, cfg.Plugins, plugins.NamePrefix); err != nil {
		return nil, fmt.Errorf("loading plugins: %w", err)
	}

	l.log.Debug("Created orchestrator", "browsers", cfg.BrowserIDs(), "debug", cfg.Debug)
	return l, nil
}

// Config returns the read-only system configuration.
func (l *Loupe) Config() *config.Config {
	return l.cfg
}

// Events returns the orchestrator bus. Runner progress events are
// re-emitted here under the same names during a run.
func (l *Loupe) Events() *events.Bus {
	return l.bus
}

// initialize performs the one-time initialization sequence: awaiting every
// plugin-registered init hook, then broadcasting Init. Concurrent first
// calls all await the same in-flight attempt; later calls observe the
// memoized outcome immediately.
func (l *Loupe) initialize(ctx context.Context) error {
	l.initOnce.Do(func() {
		l.log.Debug("Initializing", "initHooks", len(l.api.InitHooks()))
		for _, hook := range l.api.InitHooks() {
			if err := hook(ctx); err != nil {
				l.initErr = fmt.Errorf("plugin initialization: %w", err)
				return
			}
		}
		l.bus.Emit(events.Init, nil)
	})
	return l.initErr
}

// wrap runs a public operation body behind the initialization gate and
// surfaces a recorded critical error over (or alongside) the body outcome.
func (l *Loupe) wrap(ctx context.Context, body func() error) error {
	if err := l.initialize(ctx); err != nil {
		return l.withCritical(err)
	}
	return l.withCritical(body())
}

func (l *Loupe) withCritical(err error) error {
	crit := l.CriticalError()
	if crit == nil {
		return err
	}
	if err == nil {
		return crit
	}
	return errors.Join(crit, err)
}

// Test captures every state and compares it against its stored reference.
func (l *Loupe) Test(ctx context.Context, src Source, opts *RunOptions) (*runner.Stats, error) {
	opts = normalizeOptions(opts)
	var stats *runner.Stats
	err := l.wrap(ctx, func() error {
		proc, err := l.processors.NewTester(l.cfg)
		if err != nil {
			return err
		}
		stats, err = l.run(ctx, src, opts, proc)
		return err
	})
	return stats, err
}

// Update captures every state and writes it as the new reference.
func (l *Loupe) Update(ctx context.Context, src Source, opts *RunOptions) (*runner.Stats, error) {
	opts = normalizeOptions(opts)
	var stats *runner.Stats
	err := l.wrap(ctx, func() error {
		proc, err := l.processors.NewScreenUpdater(l.cfg, processor.UpdaterOptions{DiffOnly: opts.DiffOnly})
		if err != nil {
			return err
		}
		stats, err = l.run(ctx, src, opts, proc)
		return err
	})
	return stats, err
}

// ReadTests discovers and filters suites without executing anything. The
// returned collection can be handed back to Test or Update as a source.
func (l *Loupe) ReadTests(ctx context.Context, src Source, opts *RunOptions) (*suite.Collection, error) {
	opts = normalizeOptions(opts)
	var collection *suite.Collection
	err := l.wrap(ctx, func() error {
		var err error
		collection, err = l.resolveCollection(ctx, src, opts)
		if err != nil {
			return err
		}
		l.bus.Emit(events.AfterTestsRead, collection)
		return nil
	})
	return collection, err
}

// ExtendCLI lets plugins contribute flags and commands to the CLI parser.
func (l *Loupe) ExtendCLI(app *cli.App) {
	l.bus.Emit(events.CLI, app)
}

// run is the pipeline shared by Test and Update.
func (l *Loupe) run(ctx context.Context, src Source, opts *RunOptions, proc processor.StateProcessor) (*runner.Stats, error) {
	collection, err := l.resolveCollection(ctx, src, opts)
	if err != nil {
		return nil, err
	}

	skip := l.checkBrowsers(opts.SkipBrowsers)
	collection.SkipBrowsers(skip)

	browserIDs := l.resolveBrowsers(opts.Browsers)

	r, err := l.newRunner(runner.Config{
		Browsers:  browserIDs,
		Processor: proc,
		Log:       l.log,
	})
	if err != nil {
		return nil, fmt.Errorf("creating runner: %w", err)
	}

	l.setActiveRunner(r)
	defer l.setActiveRunner(nil)

	// Re-emit runner progress on the orchestrator bus under the same names.
	detachForward := events.PassThrough(l.bus, r.Events(), events.RunnerEvents...)
	defer detachForward()

	// All reporters attach before the runner emits any progress event.
	for _, desc := range opts.Reporters {
		if err := l.attachReporter(r, desc); err != nil {
			return nil, err
		}
	}

	var stats *runner.Stats
	r.Events().Once(events.End, func(payload any) {
		if s, ok := payload.(*runner.Stats); ok {
			stats = s
		}
	})

	// Interrupt handling is scoped to this run's runner instance.
	detachInterrupt := l.interrupts.OnInterrupt(func() {
		l.log.Warn("Interrupt received, cancelling active run")
		l.bus.Emit(events.Interrupt, nil)
		r.Cancel()
	})
	defer detachInterrupt()

	if err := r.Run(ctx, collection); err != nil {
		return nil, err
	}
	return stats, nil
}

func (l *Loupe) resolveCollection(ctx context.Context, src Source, opts *RunOptions) (*suite.Collection, error) {
	if src.Collection != nil {
		return src.Collection, nil
	}
	if len(src.Paths) == 0 {
		return nil, errors.New("no test sources given")
	}
	root, err := l.reader.Discover(ctx, l.cfg, reader.Options{
		Paths: src.Paths,
		Grep:  opts.Grep,
	})
	if err != nil {
		return nil, fmt.Errorf("discovering tests: %w", err)
	}
	return suite.NewCollection(root.Children), nil
}

func (l *Loupe) attachReporter(r runner.Runner, desc Reporter) error {
	switch {
	case desc.Fn != nil:
		return desc.Fn(r)
	case desc.Name != "":
		attach, err := reporters.Resolve(desc.Name)
		if err != nil {
			return err
		}
		return attach(r, desc.Path)
	default:
		return &MalformedReporterError{}
	}
}

func (l *Loupe) setActiveRunner(r runner.Runner) {
	l.runnerMu.Lock()
	defer l.runnerMu.Unlock()
	l.activeRunner = r
}

func normalizeOptions(opts *RunOptions) *RunOptions {
	if opts == nil {
		return &RunOptions{}
	}
	return opts
}

// browserProcessors is the default ProcessorFactory; each processor owns a
// fresh browser session pool that is closed with the processor.
type browserProcessors struct {
	log log.Logger
}

func (f *browserProcessors) NewTester(cfg *config.Config) (processor.StateProcessor, error) {
	return processor.NewTester(cfg, browser.NewPool(cfg, f.log), f.log), nil
}

func (f *browserProcessors) NewScreenUpdater(cfg *config.Config, opts processor.UpdaterOptions) (processor.StateProcessor, error) {
	return processor.NewScreenUpdater(cfg, browser.NewPool(cfg, f.log), opts, f.log), nil
}
