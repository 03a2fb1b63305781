// Package failsafe implements the deadline primitives of the sync core.
//
// Every wait on the remote service is bounded. Instead of four bespoke
// timer races, callers use one primitive:
//
//	out := failsafe.Race(ctx, clock, failsafe.SubmissionTimeout, op)
//	switch {
//	case out.TimedOut: // deterministic fallback
//	case out.Err != nil: // remote failure
//	default: // out.Value
//	}
//
// A timer firing ahead of the network is a normal control-flow branch,
// not an error. The timer is stopped on every other path, including ctx
// cancellation, so torn-down components never receive stale callbacks.
//
// Time is injected through Clock so tests can drive deadlines without
// sleeping (see testutil.FakeClock).
package failsafe
