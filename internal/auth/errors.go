package auth

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidCredentials covers both an unknown email and a wrong
	// password. The single message prevents account enumeration.
	ErrInvalidCredentials = errors.New("invalid email or password")

	// ErrIdentityNotFound is returned by UserDirectory implementations;
	// the verifier folds it into ErrInvalidCredentials before it
	// reaches a caller.
	ErrIdentityNotFound = errors.New("identity not found")

	// ErrVerificationTimeout reports that the directory round trip
	// exceeded its deadline. Retryable, and distinct from a credential
	// mismatch.
	ErrVerificationTimeout = errors.New("credential verification timed out")
)

// ValidationError reports malformed login input. Raised before any
// directory lookup or rate-limit consultation, and never counted as a
// failed attempt.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// RateLimitError reports that the limiter is refusing attempts for
// this identity. Message and RetryAfter come from the limiter.
type RateLimitError struct {
	RetryAfter time.Duration
	Message    string
}

func (e *RateLimitError) Error() string {
	return e.Message
}
