// Package runner executes a suite collection against resolved browser
// targets, delegating each state to a state processor and reporting
// progress through lifecycle events.
package runner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/loupe-ci/loupe/events"
	"github.com/loupe-ci/loupe/metrics"
	"github.com/loupe-ci/loupe/processor"
	"github.com/loupe-ci/loupe/suite"
)

// Runner executes a suite collection. Run emits the full lifecycle event
// vocabulary on Events() and always emits a terminating End event carrying
// *Stats, even when the run was cancelled. Cancel requests a cooperative
// stop; the run unwinds at the next state boundary.
type Runner interface {
	Run(ctx context.Context, collection *suite.Collection) error
	Cancel()
	Events() *events.Bus
}

// Config holds configuration for creating a browser runner.
type Config struct {
	Browsers  []string // resolved browser ids in execution order
	Processor processor.StateProcessor
	Log       log.Logger
}

// BrowserRunner runs every non-skipped state of a collection in every
// requested browser, sequentially, one run at a time.
type BrowserRunner struct {
	browsers []string
	proc     processor.StateProcessor
	log      log.Logger
	bus      *events.Bus
	tracer   trace.Tracer

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewBrowserRunner creates a runner over the given browser ids and state
// processor.
func NewBrowserRunner(cfg Config) (*BrowserRunner, error) {
	if cfg.Processor == nil {
		return nil, fmt.Errorf("state processor is required")
	}
	if cfg.Log == nil {
		cfg.Log = log.New()
	}
	return &BrowserRunner{
		browsers: cfg.Browsers,
		proc:     cfg.Processor,
		log:      cfg.Log,
		bus:      events.NewBus(),
		tracer:   otel.Tracer("loupe/runner"),
	}, nil
}

// Events returns the bus run progress is emitted on.
func (r *BrowserRunner) Events() *events.Bus {
	return r.bus
}

// Cancel requests a cooperative stop of the active run. Calling it with no
// run active is a no-op.
func (r *BrowserRunner) Cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		r.cancel()
	}
}

// Run executes the collection. Final statistics travel on the terminating
// End event. Processor failures on individual states are recorded in the
// statistics and the Err event, not returned; only setup failures surface
// as errors.
func (r *BrowserRunner) Run(ctx context.Context, collection *suite.Collection) error {
	runCtx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.cancel = cancel
	r.mu.Unlock()
	defer func() {
		cancel()
		r.mu.Lock()
		r.cancel = nil
		r.mu.Unlock()
	}()

	runCtx, span := r.tracer.Start(runCtx, "run")
	defer span.End()

	stats := &Stats{
		RunID:     uuid.New().String(),
		StartTime: time.Now(),
	}

	if err := r.proc.Prepare(runCtx); err != nil {
		return fmt.Errorf("preparing state processor: %w", err)
	}
	defer func() {
		if err := r.proc.Close(); err != nil {
			r.log.Error("Error closing state processor", "error", err)
		}
	}()

	r.bus.Emit(events.Begin, BeginPayload{
		RunID:      stats.RunID,
		Browsers:   r.browsers,
		StateCount: collection.StateCount(),
	})

	// The End event must fire with whatever statistics exist, cancelled
	// or not.
	defer func() {
		stats.finalize()
		metrics.RecordRun(stats.RunID, string(stats.Status),
			stats.Total, stats.Passed, stats.Failed, stats.Skipped, stats.Duration)
		r.bus.Emit(events.End, stats)
	}()

	leaves := collection.Leaves()
	for _, browserID := range r.browsers {
		if collection.IsSkipped(browserID) {
			r.skipBrowser(stats, browserID, leaves)
			continue
		}

		r.bus.Emit(events.StartBrowser, browserID)
		r.runBrowser(runCtx, stats, browserID, leaves)
		r.bus.Emit(events.StopBrowser, browserID)

		if runCtx.Err() != nil {
			r.log.Warn("Run cancelled", "run_id", stats.RunID, "browser", browserID)
			break
		}
	}

	return nil
}

func (r *BrowserRunner) runBrowser(ctx context.Context, stats *Stats, browserID string, leaves []*suite.Suite) {
	for _, leaf := range leaves {
		suiteEvent := SuiteEvent{RunID: stats.RunID, Browser: browserID, Suite: leaf.FullName()}
		r.bus.Emit(events.BeginSuite, suiteEvent)

		for _, state := range leaf.States {
			if ctx.Err() != nil {
				r.bus.Emit(events.EndSuite, suiteEvent)
				return
			}
			r.runState(ctx, stats, browserID, leaf, state)
		}

		r.bus.Emit(events.EndSuite, suiteEvent)
	}
}

func (r *BrowserRunner) runState(ctx context.Context, stats *Stats, browserID string, leaf *suite.Suite, state string) {
	stateEvent := StateEvent{
		RunID:   stats.RunID,
		Browser: browserID,
		Suite:   leaf.FullName(),
		State:   state,
	}
	r.bus.Emit(events.BeginState, stateEvent)
	started := time.Now()

	result, err := r.proc.ProcessState(ctx, processor.StateRef{
		Browser: browserID,
		Suite:   leaf,
		State:   state,
	})

	stateEvent.Duration = time.Since(started)
	stats.Total++

	switch {
	case err != nil:
		stats.Errored++
		stateEvent.Status = StatusFail
		stateEvent.Error = err.Error()
		r.log.Error("State processing failed", "state", stateEvent.State, "suite", stateEvent.Suite, "browser", browserID, "error", err)
		metrics.RecordErrorDetails("state processing failed", err)
		r.bus.Emit(events.Err, stateEvent)

	case result.Updated:
		stats.Updated++
		stats.Passed++
		stateEvent.Status = StatusUpdated
		stateEvent.ReferencePath = result.ReferencePath
		r.bus.Emit(events.UpdateResult, stateEvent)

	case result.NoReference:
		stats.Failed++
		stateEvent.Status = StatusFail
		stateEvent.ReferencePath = result.ReferencePath
		stateEvent.Error = processor.ErrNoReference.Error()
		r.bus.Emit(events.TestResult, stateEvent)

	case result.Equal:
		stats.Passed++
		stateEvent.Status = StatusPass
		stateEvent.ReferencePath = result.ReferencePath
		r.bus.Emit(events.TestResult, stateEvent)

	default:
		stats.Failed++
		stateEvent.Status = StatusFail
		stateEvent.ReferencePath = result.ReferencePath
		r.bus.Emit(events.TestResult, stateEvent)
	}

	r.bus.Emit(events.EndState, stateEvent)
}

func (r *BrowserRunner) skipBrowser(stats *Stats, browserID string, leaves []*suite.Suite) {
	for _, leaf := range leaves {
		for _, state := range leaf.States {
			stats.Total++
			stats.Skipped++
			r.bus.Emit(events.SkipState, StateEvent{
				RunID:   stats.RunID,
				Browser: browserID,
				Suite:   leaf.FullName(),
				State:   state,
				Status:  StatusSkip,
			})
		}
	}
}
