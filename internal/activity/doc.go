// Package activity implements the activity submission pipeline.
//
// Every valid submission reaches a terminal outcome within
// failsafe.SubmissionTimeout whatever the network does. The pipeline
// commits the completion record locally first, then races one best-effort
// remote write against the failsafe timer. The section completes in the
// lesson exactly once, on whichever path finishes first. The remote outcome
// only ever moves the record's durability flag.
package activity
