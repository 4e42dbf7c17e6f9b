package util

import "errors"

// Sentinel errors for common failure modes
var (
	// ErrNotFound indicates a required resource was not found
	ErrNotFound = errors.New("not found")

	// ErrInvalidConfig indicates invalid configuration
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrRateLimited indicates the upstream kept answering 429 after all retries
	ErrRateLimited = errors.New("rate limited")

	// ErrUserNotFound indicates an identifier has no resolvable profile
	ErrUserNotFound = errors.New("user not found")

	// ErrMalformedResponse indicates the upstream returned an unexpected shape
	ErrMalformedResponse = errors.New("malformed response")
)
