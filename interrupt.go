package loupe

import (
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// InterruptSource fans process interrupts out to the orchestrator. It is
// injectable so tests can trigger interrupts without real signals.
type InterruptSource interface {
	// OnInterrupt registers fn and returns a detach function. The
	// orchestrator subscribes once per active run and detaches when the
	// run completes.
	OnInterrupt(fn func()) (detach func())
}

// signalSource delivers SIGINT/SIGTERM as interrupts.
type signalSource struct{}

// NewSignalSource creates the default, os/signal backed interrupt source.
func NewSignalSource() InterruptSource {
	return &signalSource{}
}

func (s *signalSource) OnInterrupt(fn func()) func() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ch:
				fn()
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			signal.Stop(ch)
			close(done)
		})
	}
}
