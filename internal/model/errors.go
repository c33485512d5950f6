package model

import (
	"errors"
	"fmt"
	"time"
)

// Error classes. Concrete errors wrap or match one of these so callers can
// branch with errors.Is without knowing the specific failure.
var (
	ErrValidation    = errors.New("validation failed")
	ErrAuthorization = errors.New("not authorized")
	ErrRateLimited   = errors.New("rate limited")
	ErrStorage       = errors.New("storage failure")
)

// Common errors used across the application
var (
	// Player errors
	ErrPlayerNotFound = errors.New("player not found")

	// Session errors
	ErrHandleNotFound       = errors.New("session handle not found")
	ErrNotAuthenticated     = fmt.Errorf("%w: session is not authenticated", ErrAuthorization)
	ErrAlreadyAuthenticated = fmt.Errorf("%w: session is already authenticated", ErrAuthorization)
	ErrInvalidCredential    = fmt.Errorf("%w: invalid credential", ErrAuthorization)

	// Energy errors
	ErrInvalidCost = fmt.Errorf("%w: cost does not match the game price", ErrValidation)

	// Score errors
	ErrImplausibleScore = fmt.Errorf("%w: score exceeds level ceiling", ErrValidation)
	ErrSubmitTooSoon    = fmt.Errorf("%w: score submitted too soon", ErrRateLimited)
	ErrCommitUnverified = fmt.Errorf("%w: post-commit state did not match", ErrStorage)

	// Leaderboard errors
	ErrLeaderboardUnavailable = fmt.Errorf("%w: leaderboard unavailable", ErrStorage)

	// Dispatch errors
	ErrUnknownEvent = fmt.Errorf("%w: unknown event", ErrValidation)
)

// ValidationError reports malformed or out-of-range input
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Is matches ErrValidation
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// NewValidationError creates a ValidationError for a field
func NewValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// RateLimitError reports a rejected event and how long until the window frees up
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited: retry after %s", e.RetryAfter)
}

// Is matches ErrRateLimited
func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

// StorageError wraps a failure from the backing store
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying store error
func (e *StorageError) Unwrap() error {
	return e.Err
}

// Is matches ErrStorage
func (e *StorageError) Is(target error) bool {
	return target == ErrStorage
}

// WrapStorage wraps err as a StorageError unless it is nil or already one
func WrapStorage(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}
