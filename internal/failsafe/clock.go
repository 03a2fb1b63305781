package failsafe

import "time"

// Fixed deadlines. These are not configurable at runtime.
const (
	// BootstrapTimeout bounds identity resolution at process start.
	BootstrapTimeout = 2000 * time.Millisecond

	// EnrollmentCheckTimeout bounds the enrollment check after a sign-in event.
	EnrollmentCheckTimeout = 1500 * time.Millisecond

	// EnrollmentRaceTimeout bounds each enrollment fetch or create.
	EnrollmentRaceTimeout = 3000 * time.Millisecond

	// SubmissionTimeout bounds an activity submission end to end.
	SubmissionTimeout = 5000 * time.Millisecond
)

// Clock abstracts wall time and timer scheduling.
//
// Thread-safety: implementations must be safe for concurrent use.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a scheduled callback that can be cancelled.
type Timer interface {
	// Stop prevents the callback from running. Returns false if it
	// already ran or was already stopped.
	Stop() bool
}

// RealClock is the production Clock backed by package time.
type RealClock struct{}

// Now returns the current wall time.
func (RealClock) Now() time.Time {
	return time.Now()
}

// AfterFunc schedules f after d using time.AfterFunc.
func (RealClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Remaining returns how much of budget is left since start, never negative.
func Remaining(c Clock, start time.Time, budget time.Duration) time.Duration {
	left := budget - c.Now().Sub(start)
	if left < 0 {
		return 0
	}
	return left
}
