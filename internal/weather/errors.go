package weather

import "errors"

var (
	// ErrInvalidCoordinates is returned for latitude/longitude outside their valid ranges.
	ErrInvalidCoordinates = errors.New("invalid coordinates")

	// ErrRateLimitExceeded is returned when a provider's local request window is exhausted.
	ErrRateLimitExceeded = errors.New("provider rate limit exceeded")

	// ErrAuthenticationFailed is returned when a provider rejects its credentials.
	ErrAuthenticationFailed = errors.New("provider authentication failed")

	// ErrProviderData is returned for malformed or unparseable provider payloads.
	ErrProviderData = errors.New("provider data error")

	// ErrAllProvidersFailed is returned when every provider in the failover order failed.
	ErrAllProvidersFailed = errors.New("all providers failed")

	// ErrLocationNotFound is returned when a location or owner cannot be found.
	ErrLocationNotFound = errors.New("location not found")

	ErrProviderNotFound      = errors.New("provider not found")
	ErrProviderInactive      = errors.New("provider is not active")
	ErrCapabilityUnsupported = errors.New("capability not supported by provider")
	ErrBatchTooLarge         = errors.New("batch too large")
	ErrNoProviders           = errors.New("no weather providers available")
)
