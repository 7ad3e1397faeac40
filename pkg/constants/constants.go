// Package constants provides shared constants used throughout the extaudit
// codebase. This includes retry tuning, rate-limit thresholds, page sizes,
// header names, and other values that should be consistent across the
// application.
package constants

import "time"

// Retry and timeout constants tune the transport layer
const (
	// MaxRetries is the maximum number of attempts for a single logical API call
	MaxRetries = 5

	// InitialBackoff is the delay before the first retry
	InitialBackoff = 500 * time.Millisecond

	// MaxBackoff caps the exponential backoff between retries
	MaxBackoff = 8 * time.Second

	// BackoffMultiplier is the exponential growth factor between retries
	BackoffMultiplier = 1.8

	// MaxJitter is the upper bound of the random jitter added to each backoff
	MaxJitter = 250 * time.Millisecond

	// RequestTimeout is the per-request deadline for a single HTTP attempt
	RequestTimeout = 120 * time.Second
)

// Rate limiting constants
const (
	// RateLimitLowWater is the remaining-call threshold at or below which the
	// client throttles itself until the advertised reset
	RateLimitLowWater = 2

	// DefaultThrottleSleep is the throttle duration used when no reset time
	// was advertised
	DefaultThrottleSleep = 1 * time.Second

	// ThrottlePad is added past the advertised reset to absorb clock skew
	ThrottlePad = 250 * time.Millisecond

	// MaxThrottleSleep caps a single throttle pause
	MaxThrottleSleep = 65 * time.Second
)

// Header names used by the directory platform
const (
	// HeaderCorrelationID carries the per-call correlation identifier
	HeaderCorrelationID = "X-Correlation-Id"

	// HeaderRequestID is the platform-assigned request identifier
	HeaderRequestID = "X-Request-Id"

	// HeaderRetryAfter is the standard retry delay header
	HeaderRetryAfter = "Retry-After"

	// HeaderRateLimitLimit is the per-window call budget
	HeaderRateLimitLimit = "X-RateLimit-Limit"

	// HeaderRateLimitRemaining is the calls left in the current window
	HeaderRateLimitRemaining = "X-RateLimit-Remaining"

	// HeaderRateLimitReset is when the current window resets
	HeaderRateLimitReset = "X-RateLimit-Reset"
)

// Page size constants bound the directory listing endpoints
const (
	// UsersPageSizeMax is the largest page size the users endpoint accepts
	UsersPageSizeMax = 500

	// RecordsPageSizeMax is the largest page size the extension and DID
	// endpoints accept
	RecordsPageSizeMax = 100
)

// Remediation pacing constants
const (
	// DefaultPatchSleep is the pause between consecutive real writes
	DefaultPatchSleep = 200 * time.Millisecond

	// VerifyDelay is the pause between consecutive verification reads
	VerifyDelay = 100 * time.Millisecond
)

// Default values
const (
	// DefaultConfigName is the config file base name searched for in the home
	// directory (.extaudit.yaml)
	DefaultConfigName = ".extaudit"
)
