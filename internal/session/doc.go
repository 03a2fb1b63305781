// Package session owns the signed-in user's session: it boots application
// state from the local cache, resolves identity against the remote service
// and keeps the cached enrollment reconciled with the remote copy.
//
// A Session is an explicit context object with a lifecycle. Construct it
// with New, start it with Init and release it with Teardown. There is no
// package-level state; every collaborator is injected.
//
// Failures never escape as errors except for a missing identity: network
// faults, timeouts and corrupt cache entries degrade to local state and are
// logged.
package session
