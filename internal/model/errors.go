package model

import (
	"errors"
	"fmt"
)

// SyncError represents a classified failure inside the sync core.
//
// Most codes never leave the component that produced them: they are logged
// and the component degrades to local state. Only validation-type rejections
// and AUTH_SESSION_MISSING are returned to callers.
type SyncError struct {
	// Code identifies the error category.
	Code ErrorCode

	// Op names the operation that failed (e.g. "reconcile", "submit").
	Op string

	// Message is a human-readable description.
	Message string

	// Err is the underlying error, if any.
	Err error
}

// ErrorCode categorizes sync errors.
type ErrorCode string

const (
	// ErrCodeCacheCorruption indicates a cached value failed to parse.
	ErrCodeCacheCorruption ErrorCode = "CACHE_CORRUPTION"

	// ErrCodeNetworkTimeout indicates a failsafe timer fired before the network answered.
	ErrCodeNetworkTimeout ErrorCode = "NETWORK_TIMEOUT"

	// ErrCodeRemoteWriteFailure indicates the remote service rejected a read or write.
	ErrCodeRemoteWriteFailure ErrorCode = "REMOTE_WRITE_FAILURE"

	// ErrCodeValidation indicates user input failed local validation.
	ErrCodeValidation ErrorCode = "VALIDATION"

	// ErrCodeAuthSessionMissing indicates no identity could be resolved.
	ErrCodeAuthSessionMissing ErrorCode = "AUTH_SESSION_MISSING"

	// ErrCodeSectionLocked indicates an operation targeted a locked section.
	ErrCodeSectionLocked ErrorCode = "SECTION_LOCKED"

	// ErrCodeDuplicateSubmission indicates the section already has a submission.
	ErrCodeDuplicateSubmission ErrorCode = "DUPLICATE_SUBMISSION"
)

// ErrAuthSessionMissing is returned when an operation needs an identity and none exists.
var ErrAuthSessionMissing = &SyncError{Code: ErrCodeAuthSessionMissing, Message: "no authenticated session"}

// Error implements the error interface.
func (e *SyncError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s (op=%s)", e.Code, msg, e.Op)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

// Unwrap returns the underlying error.
func (e *SyncError) Unwrap() error {
	return e.Err
}

// Is matches any SyncError carrying the same code, so errors.Is works
// against the package-level sentinels.
func (e *SyncError) Is(target error) bool {
	var t *SyncError
	if errors.As(target, &t) {
		return t.Code == e.Code
	}
	return false
}

// IsCode returns true if err is a SyncError with the given code.
// Uses errors.As to handle wrapped errors.
func IsCode(err error, code ErrorCode) bool {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Code == code
	}
	return false
}

// IsValidation returns true if err is a validation rejection.
func IsValidation(err error) bool {
	return IsCode(err, ErrCodeValidation)
}

// IsRejection returns true for every error a submission may be rejected with.
func IsRejection(err error) bool {
	return IsCode(err, ErrCodeValidation) ||
		IsCode(err, ErrCodeSectionLocked) ||
		IsCode(err, ErrCodeDuplicateSubmission)
}

// NewCacheCorruptionError creates a SyncError for a cache entry that failed to parse.
func NewCacheCorruptionError(key string, err error) *SyncError {
	return &SyncError{
		Code:    ErrCodeCacheCorruption,
		Op:      "cache.read",
		Message: fmt.Sprintf("cached value for %q is corrupt", key),
		Err:     err,
	}
}

// NewRemoteError creates a SyncError for a failed remote call.
func NewRemoteError(op string, err error) *SyncError {
	return &SyncError{
		Code: ErrCodeRemoteWriteFailure,
		Op:   op,
		Err:  err,
	}
}

// NewTimeoutError creates a SyncError recording that a failsafe timer won a race.
func NewTimeoutError(op string) *SyncError {
	return &SyncError{
		Code:    ErrCodeNetworkTimeout,
		Op:      op,
		Message: "failsafe timer fired before the remote answered",
	}
}

// NewValidationError creates a SyncError for rejected input.
func NewValidationError(message string) *SyncError {
	return &SyncError{
		Code:    ErrCodeValidation,
		Op:      "submit",
		Message: message,
	}
}
