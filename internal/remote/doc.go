// Package remote defines the Remote State Service consumed by the sync core
// and provides an HTTP implementation of it.
//
// The service exposes an Enrollment record and append-only activity
// responses, scoped by identity, plus an auth event channel emitting
// SIGNED_IN / SIGNED_OUT. Every call may be slow, unreachable or failing;
// callers bound each one with failsafe.Race.
//
// Client speaks a PostgREST-style API:
//
//	GET  /auth/v1/user
//	GET  /rest/v1/enrollments?user_id=eq.{id}&order=created_at.desc&limit=1
//	POST /rest/v1/enrollments
//	POST /rest/v1/activity_responses
//	GET  /rest/v1/activity_responses?user_id=eq.{id}&week_number=eq.{n}&select=section_index
//
// Auth events are delivered asynchronously through Hub, in publish order.
package remote
