// Package backoff computes exponential retry delays with jitter and runs
// retry loops around platform calls.
package backoff

import (
	"math"
	"math/rand"
	"time"
)

// BackoffPolicy defines the parameters for exponential backoff calculation.
type BackoffPolicy struct {
	// InitialMs is the delay before the second attempt, in milliseconds.
	InitialMs float64
	// MaxMs caps any single delay, in milliseconds.
	MaxMs float64
	// Factor multiplies the delay after each attempt.
	Factor float64
	// Jitter adds up to this fraction of the base delay at random.
	Jitter float64
}

// ComputeBackoff returns the delay after the given attempt (1-indexed).
func ComputeBackoff(policy BackoffPolicy, attempt int) time.Duration {
	return ComputeBackoffWithRand(policy, attempt, rand.Float64()) // #nosec G404 -- jitter does not require cryptographic randomness
}

// ComputeBackoffWithRand is ComputeBackoff with a caller-supplied random
// value in [0, 1).
func ComputeBackoffWithRand(policy BackoffPolicy, attempt int, randomValue float64) time.Duration {
	exp := math.Max(float64(attempt-1), 0)
	base := policy.InitialMs * math.Pow(policy.Factor, exp)
	total := math.Min(policy.MaxMs, base+base*policy.Jitter*randomValue)
	return time.Duration(math.Round(total)) * time.Millisecond
}

// DefaultPolicy is used for platform API calls.
// Initial: 250ms, Max: 10s, Factor: 2, Jitter: 10%
func DefaultPolicy() BackoffPolicy {
	return BackoffPolicy{
		InitialMs: 250,
		MaxMs:     10000,
		Factor:    2,
		Jitter:    0.1,
	}
}

// DownloadPolicy is used for media downloads.
// Initial: 500ms, Max: 5s, Factor: 2, Jitter: 20%
func DownloadPolicy() BackoffPolicy {
	return BackoffPolicy{
		InitialMs: 500,
		MaxMs:     5000,
		Factor:    2,
		Jitter:    0.2,
	}
}
