package errors

import "errors"

// Sentinel errors for common error conditions
var (
	// ErrNotFound indicates that a requested resource was not found
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput indicates that input validation failed
	ErrInvalidInput = errors.New("invalid input")

	// ErrStoreUnavailable indicates that a backing store could not be reached
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrProviderFailed indicates that a language-model backend returned an error
	ErrProviderFailed = errors.New("provider failed")

	// ErrNoBackends indicates that no language-model backend is configured for a mode
	ErrNoBackends = errors.New("no backends configured")

	// ErrInternal indicates an internal server error
	ErrInternal = errors.New("internal error")
)
