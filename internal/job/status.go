package job

// Status is the canonical job state.
//
// Lifecycle: Pending → Submitted → Running → {Succeeded, Failed, Aborted,
// Lost}. Aborted can be entered from any non-terminal state. Lost is
// distinct from Failed: the scheduler stopped reporting the job without
// leaving exit evidence, so visibility was lost rather than failure known.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSubmitted Status = "submitted"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusAborted   Status = "aborted"
	StatusLost      Status = "lost"
)

// Terminal reports whether no further transition can occur.
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusAborted, StatusLost:
		return true
	}
	return false
}

// CanTransition reports whether from → to is a legal lifecycle step.
func CanTransition(from, to Status) bool {
	if from.Terminal() {
		return false
	}
	if to == StatusAborted {
		return true
	}
	switch from {
	case StatusPending:
		return to == StatusSubmitted || to == StatusFailed
	case StatusSubmitted:
		return to == StatusRunning || to == StatusSucceeded || to == StatusFailed || to == StatusLost
	case StatusRunning:
		return to == StatusRunning || to == StatusSucceeded || to == StatusFailed || to == StatusLost
	}
	return false
}

// Evidence is what one check-alive round-trip established about a job.
type Evidence struct {
	// Alive is true when the scheduler still reports the job.
	Alive bool

	// ExitCode is the job's own exit evidence (rc sentinel file), nil when
	// no such artifact exists.
	ExitCode *int
}

// Resolve returns the state the job moves to given fresh evidence. Pure;
// the state machine holds no timers and is driven entirely by the caller's
// polling.
func Resolve(cur Status, ev Evidence) Status {
	if cur.Terminal() {
		return cur
	}
	if ev.Alive {
		return StatusRunning
	}
	if ev.ExitCode != nil {
		if *ev.ExitCode == 0 {
			return StatusSucceeded
		}
		return StatusFailed
	}
	return StatusLost
}
