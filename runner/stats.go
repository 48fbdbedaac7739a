package runner

import "time"

// Status represents the possible outcomes of a state or of a whole run.
type Status string

const (
	StatusPass    Status = "pass"
	StatusFail    Status = "fail"
	StatusSkip    Status = "skip"
	StatusUpdated Status = "updated"
)

// Stats captures the final statistics of one run. The runner emits it as
// the payload of the terminating End event.
type Stats struct {
	RunID     string
	Status    Status
	Total     int
	Passed    int
	Failed    int
	Skipped   int
	Updated   int
	Errored   int
	StartTime time.Time
	Duration  time.Duration
}

// finalize computes the overall status and duration once a run ends.
func (s *Stats) finalize() {
	s.Duration = time.Since(s.StartTime)
	switch {
	case s.Failed > 0 || s.Errored > 0:
		s.Status = StatusFail
	case s.Total > 0 && s.Skipped == s.Total:
		s.Status = StatusSkip
	default:
		s.Status = StatusPass
	}
}

// SuiteEvent is the payload of BeginSuite/EndSuite events.
type SuiteEvent struct {
	RunID   string
	Browser string
	Suite   string
}

// StateEvent is the payload of per-state events (BeginState, EndState,
// SkipState, TestResult, UpdateResult, Err).
type StateEvent struct {
	RunID         string
	Browser       string
	Suite         string
	State         string
	Status        Status
	ReferencePath string
	Error         string
	Duration      time.Duration
}

// BeginPayload is the payload of the Begin event.
type BeginPayload struct {
	RunID      string
	Browsers   []string
	StateCount int
}
