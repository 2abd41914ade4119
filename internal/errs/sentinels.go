// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across repo/service layers.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates a unique constraint violation (e.g., email taken).
	ErrAlreadyExists = errors.New("already exists")

	// ErrUnauthorized indicates failed authentication/authorization.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrRateLimited indicates temporary login lock due to rate limiting.
	ErrRateLimited = errors.New("rate limited")

	// ErrValidation indicates malformed caller input.
	ErrValidation = errors.New("validation")
)

// Credit ledger.
var (
	// ErrInsufficientCredits means free + purchased credits do not cover the request.
	// Nothing was charged.
	ErrInsufficientCredits = errors.New("insufficient credits")

	// ErrInvalidOwner indicates a missing or malformed owner identity.
	ErrInvalidOwner = errors.New("invalid owner")
)

// Generation jobs.
var (
	// ErrJobNotFound indicates the job does not exist (or is not visible to the caller).
	ErrJobNotFound = errors.New("job not found")

	// ErrJobAlreadyTerminal indicates an attempt to move a completed/failed job.
	ErrJobAlreadyTerminal = errors.New("job already terminal")

	// ErrInvalidTransition indicates a state change not allowed by the lifecycle.
	ErrInvalidTransition = errors.New("invalid state transition")
)

// Payments and external providers.
var (
	// ErrDuplicatePurchaseEvent marks a redelivered fulfillment event. Callers treat it as success.
	ErrDuplicatePurchaseEvent = errors.New("duplicate purchase event")

	// ErrProviderUnavailable indicates a generation or payment provider failure.
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrInvalidSignature indicates a webhook payload failed authenticity checks.
	ErrInvalidSignature = errors.New("invalid signature")
)
