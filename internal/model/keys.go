package model

import "fmt"

// Keys used in the local durable store.
const (
	// EnrollmentKey holds the JSON snapshot of the active Enrollment.
	EnrollmentKey = "progsync.enrollment"

	activityKeyPrefix   = "progsync.activity"
	onboardingKeyPrefix = "progsync.onboarded"
	readKeyPrefix       = "progsync.read"
)

// ActivityKey returns the key of the completion record for (user, week, section).
func ActivityKey(userID string, week, section int) string {
	return fmt.Sprintf("%s%d", ActivityPrefix(userID, week), section)
}

// ActivityPrefix returns the key prefix shared by every completion record of
// one user's week.
func ActivityPrefix(userID string, week int) string {
	return fmt.Sprintf("%s.%s.w%d.s", activityKeyPrefix, userOrAnon(userID), week)
}

// ReadKey returns the key of the flag marking an activity-free section as
// read by a user.
func ReadKey(userID string, week, section int) string {
	return fmt.Sprintf("%s%d", ReadPrefix(userID, week), section)
}

// ReadPrefix returns the key prefix shared by the read flags of one
// user's week.
func ReadPrefix(userID string, week int) string {
	return fmt.Sprintf("%s.%s.w%d.s", readKeyPrefix, userOrAnon(userID), week)
}

// OnboardingKey returns the key of the onboarding flag for a user.
func OnboardingKey(userID string) string {
	return fmt.Sprintf("%s.%s", onboardingKeyPrefix, userOrAnon(userID))
}

// EnrollmentKeys lists every key removed on sign-out.
func EnrollmentKeys() []string {
	return []string{EnrollmentKey}
}

func userOrAnon(userID string) string {
	if userID == "" {
		return "anonymous"
	}
	return userID
}
