package loupe

import (
	"time"

	"github.com/loupe-ci/loupe/exitcodes"
	"github.com/loupe-ci/loupe/metrics"
)

// DefaultHaltTimeout is the forced-shutdown delay Halt applies when the
// caller passes no explicit timeout.
const DefaultHaltTimeout = 60 * time.Second

// Halt cancels the active run (a no-op when none is active), records err as
// the instance's terminal critical error and, unless timeout is zero,
// schedules a forced process termination as a last-resort safeguard should
// graceful cancellation not complete in time. Repeated halts overwrite the
// stored error; each non-zero timeout arms its own safeguard.
//
// Once recorded, the critical error surfaces from every subsequently
// completing public operation, superseding or accompanying its own outcome.
func (l *Loupe) Halt(err error, timeout time.Duration) {
	l.log.Error("Halt requested", "error", err, "timeout", timeout)
	metrics.RecordHalt()

	l.critMu.Lock()
	l.critErr = err
	l.critMu.Unlock()

	l.Cancel()

	if timeout != 0 {
		// The timer does not keep the process alive once everything else
		// has finished; it only fires if cancellation stalls.
		time.AfterFunc(timeout, func() {
			l.log.Error("Cancellation did not complete in time, forcing shutdown", "timeout", timeout)
			l.exit(exitcodes.ForcedShutdown)
		})
	}
}

// Cancel requests graceful cancellation of the active run without recording
// a critical error. It is a no-op when no run is active.
func (l *Loupe) Cancel() {
	l.runnerMu.Lock()
	r := l.activeRunner
	l.runnerMu.Unlock()
	if r != nil {
		r.Cancel()
	}
}

// CriticalError returns the error recorded by Halt, or nil.
func (l *Loupe) CriticalError() error {
	l.critMu.Lock()
	defer l.critMu.Unlock()
	return l.critErr
}
