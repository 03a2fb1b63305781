// Package harness runs sync scenarios end to end against the real session,
// lesson controller and submission pipeline.
//
// Scenarios drive the engine with a fake remote service and a manually
// advanced clock, so failsafe timers, held network calls and late
// acknowledgments replay identically on every run.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: offline_submission
//	description: "What this scenario validates"
//	catalog: ../catalog.yaml
//	setup:
//	  identity: { user_id: u1, email: u1@example.com }
//	  cache: { id: enr-cached, user_id: u1 }
//	steps:
//	  - do: init
//	  - do: wait_state
//	    state: ready
//	  - do: open_lesson
//	    week: 1
//	  - do: hold
//	    method: InsertActivityResponse
//	  - do: submit
//	    section: 0
//	    length: 200
//	    ms: 5000
//	    expect: { status: accepted, durability: orphaned_local }
//	assertions:
//	  - type: durability
//	    section: 0
//	    value: orphaned_local
//
// # Steps
//
//   - init, sign_out, settle, teardown_lesson: lifecycle calls
//   - wait_state: blocks until the session reaches state
//   - hold, release, fail, wait_calls: control the fake remote by method
//     name; hold and release without a method apply to every method
//   - set_identity, sign_in, sign_out_event: change the remote session
//   - advance: moves the clock forward ms, optionally after a timer of
//     timer ms is scheduled
//   - open_lesson, lesson_state, select, lesson_advance, hydrate: drive the
//     lesson controller
//   - submit: submits section; with ms set, the clock is advanced once the
//     submission timer is scheduled
//   - complete_onboarding
//
// A step's expect clause is a subset match against the step's result.
//
// # Assertion Types
//
//   - state, section_state, durability, lesson_finished: compare value
//   - cached_enrollment: subset match against the cached record, or
//     value "none"
//   - remote_calls, remote_responses: compare count
//   - trace_contains, trace_order, trace_count: inspect the step trace
package harness
