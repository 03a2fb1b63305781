package model

import "time"

// Default enrollment values used when the remote has no record for a user.
const (
	DefaultProgram    = "COLLEGE"
	DefaultTrackLevel = "beginner"
	DefaultLocale     = "en"
)

// Identity is the authenticated user for the current session.
type Identity struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
}

// Enrollment binds a user to a program, track level and locale.
type Enrollment struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	Program    string    `json:"program"`
	TrackLevel string    `json:"track_level"`
	Locale     string    `json:"locale"`
	CreatedAt  time.Time `json:"created_at"`

	// LocalOnly marks an enrollment that was never acknowledged by the
	// remote service. A background reconciliation may promote it.
	LocalOnly bool `json:"local_only,omitempty"`
}

// Normalize returns a copy with CreatedAt in UTC and truncated to
// microseconds, which is what the remote stores.
func (e Enrollment) Normalize() Enrollment {
	e.CreatedAt = e.CreatedAt.UTC().Truncate(time.Microsecond)
	return e
}

// Section is one ordered unit of a lesson. Identity is (week, index).
type Section struct {
	Index            int    `json:"index" yaml:"index"`
	Title            string `json:"title,omitempty" yaml:"title,omitempty"`
	RequiresActivity bool   `json:"requires_activity" yaml:"requires_activity"`
}

// LessonInstance is the read-only content structure of one week's lesson.
type LessonInstance struct {
	WeekNumber int       `json:"week_number" yaml:"week_number"`
	ProgramID  string    `json:"program_id" yaml:"program_id"`
	Title      string    `json:"title,omitempty" yaml:"title,omitempty"`
	Sections   []Section `json:"sections" yaml:"sections"`
}

// Durability reports whether a completion record reached the remote.
type Durability string

const (
	DurabilityPending       Durability = "pending"
	DurabilityConfirmed     Durability = "confirmed"
	DurabilityOrphanedLocal Durability = "orphaned_local"
)

// CanTransition reports whether d may move to next.
// Records never move back to pending and confirmed is terminal.
func (d Durability) CanTransition(next Durability) bool {
	switch d {
	case DurabilityPending:
		return next == DurabilityConfirmed || next == DurabilityOrphanedLocal
	case DurabilityOrphanedLocal:
		return next == DurabilityConfirmed
	default:
		return false
	}
}

// SectionCompletionRecord is durable evidence that a section's required
// activity was submitted. Created once per (user, week, section).
type SectionCompletionRecord struct {
	WeekNumber   int        `json:"week_number"`
	SectionIndex int        `json:"section_index"`
	ResponseText string     `json:"response"`
	SubmittedAt  time.Time  `json:"timestamp"`
	Durability   Durability `json:"durability"`
}

// ActivityResponse is the remote row written for one submission.
type ActivityResponse struct {
	UserID       string    `json:"user_id"`
	EnrollmentID string    `json:"enrollment_id,omitempty"`
	WeekNumber   int       `json:"week_number"`
	SectionIndex int       `json:"section_index"`
	ResponseText string    `json:"response_text"`
	SubmittedAt  time.Time `json:"submitted_at"`
}

// AppState is the application-level state exposed to the surrounding UI.
type AppState string

const (
	StateChecking        AppState = "checking"
	StateNoSession       AppState = "no_session"
	StateNeedsEnrollment AppState = "needs_enrollment"
	StateNeedsOnboarding AppState = "needs_onboarding"
	StateReady           AppState = "ready"
	StateError           AppState = "error"
)

// SectionState is the lock state of one section within a lesson.
type SectionState string

const (
	SectionLocked    SectionState = "locked"
	SectionUnlocked  SectionState = "unlocked"
	SectionCompleted SectionState = "completed"
)

// Reachable reports whether a section in this state may be selected.
func (s SectionState) Reachable() bool {
	return s == SectionUnlocked || s == SectionCompleted
}
