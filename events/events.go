// Package events carries the lifecycle event vocabulary shared by the
// orchestrator, the runner and plugins, and the bus they exchange those
// events on.
package events

import (
	"sync"
	"sync/atomic"

	evbus "github.com/asaskevich/EventBus"
)

// Lifecycle event names. The orchestrator re-emits every runner-originated
// event under the same name, so subscribers never need to know which emitter
// an event came from.
const (
	Init           = "init"
	CLI            = "cli"
	AfterTestsRead = "afterTestsRead"
	Begin          = "begin"
	End            = "end"
	Interrupt      = "interrupt"

	StartBrowser = "startBrowser"
	StopBrowser  = "stopBrowser"
	BeginSuite   = "beginSuite"
	EndSuite     = "endSuite"
	BeginState   = "beginState"
	EndState     = "endState"
	SkipState    = "skipState"
	TestResult   = "testResult"
	UpdateResult = "updateResult"
	Err          = "err"
	Warning      = "warning"
	Info         = "info"
)

// RunnerEvents is the full set of event names a runner emits during a run,
// including the terminating End event carrying final statistics.
var RunnerEvents = []string{
	Begin,
	StartBrowser,
	StopBrowser,
	BeginSuite,
	EndSuite,
	BeginState,
	EndState,
	SkipState,
	TestResult,
	UpdateResult,
	Err,
	Warning,
	Info,
	End,
}

// Handler receives the payload an event was emitted with. Payload types are
// event-specific; subscribers assert the type they expect.
type Handler func(payload any)

// Bus is a synchronous publish/subscribe channel. Handlers run on the
// emitter's goroutine in subscription order, so a slow subscriber delays
// later subscribers within the same emission.
//
// The bus keeps its own ordered subscription list per event and registers a
// single dispatcher with the underlying EventBus. EventBus unsubscribes by
// function code pointer, which every wrapper closure shares, so detaching
// through it would remove an arbitrary subscriber instead of the right one.
type Bus struct {
	mu   sync.Mutex
	bus  evbus.Bus
	subs map[string][]*subscription
}

type subscription struct {
	fn    Handler
	once  bool
	fired atomic.Bool
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		bus:  evbus.New(),
		subs: make(map[string][]*subscription),
	}
}

// On subscribes fn to the named event and returns a detach function that
// removes exactly this subscription.
func (b *Bus) On(event string, fn Handler) func() {
	s := &subscription{fn: fn}
	b.add(event, s)
	return func() { b.remove(event, s) }
}

// Once subscribes fn for a single delivery of the named event.
func (b *Bus) Once(event string, fn Handler) {
	b.add(event, &subscription{fn: fn, once: true})
}

// Emit publishes payload to every subscriber of the named event and returns
// once all of them have run.
func (b *Bus) Emit(event string, payload any) {
	b.bus.Publish(event, payload)
}

// add appends s to the event's subscription list, wiring the dispatcher on
// the event's first subscription. The dispatcher stays registered for the
// bus's lifetime; dispatching to an emptied list is a no-op.
func (b *Bus) add(event string, s *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[event]; !ok {
		_ = b.bus.Subscribe(event, func(payload any) { b.dispatch(event, payload) })
	}
	b.subs[event] = append(b.subs[event], s)
}

// remove drops exactly s; removing an already-removed subscription is a
// no-op.
func (b *Bus) remove(event string, s *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.subs[event]
	for i, cur := range list {
		if cur == s {
			b.subs[event] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

func (b *Bus) dispatch(event string, payload any) {
	b.mu.Lock()
	list := make([]*subscription, len(b.subs[event]))
	copy(list, b.subs[event])
	b.mu.Unlock()

	for _, s := range list {
		if s.once {
			if !s.fired.CompareAndSwap(false, true) {
				continue
			}
			b.remove(event, s)
		}
		s.fn(payload)
	}
}

// PassThrough re-emits every named event from src on dst under the same
// name. It returns a detach function removing all forwarders, intended to
// scope the forwarding to a single run.
func PassThrough(dst, src *Bus, names ...string) func() {
	detach := make([]func(), 0, len(names))
	for _, name := range names {
		name := name
		detach = append(detach, src.On(name, func(payload any) {
			dst.Emit(name, payload)
		}))
	}
	return func() {
		for _, d := range detach {
			d()
		}
	}
}
