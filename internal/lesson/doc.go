// Package lesson implements the per-lesson progression state machine and
// the lesson catalog loader.
//
// Each section of a lesson is locked, unlocked or completed. Lock state is
// derived from completion evidence on every read, never stored:
//
//   - section 0 is always reachable
//   - a section unlocks when its predecessor is completed
//   - a section with an activity completes when a completion record exists
//   - a section without one completes when the user advances past it
//
// Completion evidence is only ever added, so the set of reachable sections
// never shrinks.
package lesson
