// Package errs contains sentinel and typed errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across repo/service layers.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized indicates failed authentication/authorization.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrRateLimited indicates temporary lock due to rate limiting.
	ErrRateLimited = errors.New("rate limited")

	// ErrAlreadyExists indicates a uniqueness violation (e.g., username or email taken).
	ErrAlreadyExists = errors.New("already exists")

	// ErrEngine indicates the query engine failed (malformed query, connection error).
	ErrEngine = errors.New("query engine failure")

	// ErrInvalidToken indicates a forgot-password token that is unset, wrong or expired.
	ErrInvalidToken = errors.New("invalid token")

	// ErrValidation indicates caller input rejected before reaching storage.
	ErrValidation = errors.New("validation")
)
