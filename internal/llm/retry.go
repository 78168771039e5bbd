package llm

import (
	"math/rand/v2"
	"time"
)

// RetryConfig controls the retry loop around provider invocations.
type RetryConfig struct {
	// MaxAttempts bounds total tries, including the first.
	MaxAttempts int
	// InitialInterval is the base delay before the first retry.
	InitialInterval time.Duration
	// MaxInterval caps the exponential growth.
	MaxInterval time.Duration
	// Multiplier scales the interval between attempts.
	Multiplier float64
	// UseJitter enables full jitter: a uniform delay in [0, interval].
	UseJitter bool
}

// DefaultRetryConfig returns the retry policy used when none is configured.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:     4,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
		Multiplier:      2.0,
		UseJitter:       true,
	}
}

// Backoff computes the delay before the given retry attempt, 1-based.
// Returns zero for non-positive attempts. Uses math/rand/v2, which is safe
// for concurrent use.
func Backoff(attempt int, cfg RetryConfig) time.Duration {
	if attempt <= 0 {
		return 0
	}

	backoff := cfg.InitialInterval
	if backoff <= 0 {
		backoff = time.Millisecond
	}
	for i := 1; i < attempt; i++ {
		mult := cfg.Multiplier
		if mult < 1.0 {
			mult = 1.0
		}
		backoff = time.Duration(float64(backoff) * mult)
		if cfg.MaxInterval > 0 && backoff > cfg.MaxInterval {
			backoff = cfg.MaxInterval
			break
		}
	}

	if cfg.UseJitter {
		// Full jitter: random between 0 and the computed backoff.
		jitterMs := rand.Int64N(backoff.Milliseconds() + 1)
		return time.Duration(jitterMs) * time.Millisecond
	}
	return backoff
}
