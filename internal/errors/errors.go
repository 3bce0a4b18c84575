package errors

import (
	"errors"
	"fmt"
)

// Common error types for the auth client
var (
	// Acquisition errors
	ErrNetwork      = errors.New("network error")
	ErrInvalidGrant = errors.New("invalid or expired grant")
	ErrRateLimited  = errors.New("rate limited")
	ErrAuthFailed   = errors.New("authentication failed")
	ErrUnauthorized = errors.New("unauthorized")

	// Request errors
	ErrInvalidRequest = errors.New("invalid request")
	ErrInvalidState   = errors.New("invalid state parameter")

	// Storage integrity errors
	ErrEmptyToken              = errors.New("token is empty")
	ErrStorageIntegrity        = errors.New("storage integrity failure")
	ErrCorruptRecord           = errors.New("corrupt auth record")
	ErrSchemaMismatch          = errors.New("auth record schema mismatch")
	ErrInconsistentPermissions = errors.New("elevated role without permissions")

	// Session errors
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrSessionEnded     = errors.New("session ended while request was in flight")
	ErrIDTokenMismatch  = errors.New("id token does not match user")
)

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// New is errors.New, re-exported so callers only need one errors import.
func New(text string) error {
	return errors.New(text)
}

// IsRetryable reports whether the same request may succeed if simply tried again.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrNetwork)
}

// IsIntegrity reports whether err means stored session data can no longer be trusted.
func IsIntegrity(err error) bool {
	return errors.Is(err, ErrEmptyToken) ||
		errors.Is(err, ErrStorageIntegrity) ||
		errors.Is(err, ErrCorruptRecord) ||
		errors.Is(err, ErrSchemaMismatch) ||
		errors.Is(err, ErrInconsistentPermissions)
}

// UserMessage maps an error to the message shown on the login page.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNetwork):
		return "We could not reach the server. Please wait a moment and try again."
	case errors.Is(err, ErrRateLimited):
		return "Too many sign-in attempts. Please wait before trying again."
	case errors.Is(err, ErrInvalidGrant):
		return "Your sign-in link has expired or was already used. Please sign in again."
	case errors.Is(err, ErrInvalidState):
		return "The sign-in request could not be verified. Please start again."
	case IsIntegrity(err):
		return "Your session data was invalid and has been cleared. Please sign in again."
	case errors.Is(err, ErrNotAuthenticated), errors.Is(err, ErrSessionEnded), errors.Is(err, ErrUnauthorized):
		return "Your session has ended. Please sign in again."
	default:
		return "Sign-in failed. Please try again."
	}
}
