// Package localstore provides the local durable key/value store.
//
// The store is a persistent key→string mapping that survives process
// restarts, with synchronous Get/Set/Remove. It is the only shared mutable
// resource of the sync core and is accessed read-then-write without
// transactions; writers only add keys or overwrite with newer data for the
// same identity.
//
// # Keys
//
//   - model.EnrollmentKey: JSON of the active Enrollment
//   - model.ActivityKey(user, week, section): JSON of {response, timestamp, durability}
//   - model.OnboardingKey(user): onboarding flag
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//
// Values are encoded with HTML escaping disabled and struct field order,
// so rewriting an unchanged record produces byte-identical output.
package localstore
