package errhandling

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// Default retry configuration values
const (
	DefaultMaxAttempts       = 3
	DefaultDelayMs           = 1000
	DefaultBackoffMultiplier = 2.0
	DefaultMaxDelayMs        = 30000
	MaxRetryAttempts         = 10
	MinBackoffMultiplier     = 1.0
)

// RetryConfig controls how transient remote failures are retried.
type RetryConfig struct {
	// MaxAttempts is the number of retries after the first attempt (0 = no retry).
	MaxAttempts int
	// DelayMs is the delay before the first retry.
	DelayMs int
	// BackoffMultiplier grows the delay between consecutive retries.
	BackoffMultiplier float64
	// MaxDelayMs caps the delay.
	MaxDelayMs int
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       DefaultMaxAttempts,
		DelayMs:           DefaultDelayMs,
		BackoffMultiplier: DefaultBackoffMultiplier,
		MaxDelayMs:        DefaultMaxDelayMs,
	}
}

// Validate returns an error if any value is out of range.
func (c RetryConfig) Validate() error {
	if c.MaxAttempts < 0 {
		return errors.New("maxAttempts must be >= 0")
	}
	if c.MaxAttempts > MaxRetryAttempts {
		return fmt.Errorf("maxAttempts must be <= %d", MaxRetryAttempts)
	}
	if c.DelayMs < 0 {
		return errors.New("delayMs must be >= 0")
	}
	if c.BackoffMultiplier < MinBackoffMultiplier {
		return fmt.Errorf("backoffMultiplier must be >= %v", MinBackoffMultiplier)
	}
	if c.MaxDelayMs < 0 {
		return errors.New("maxDelayMs must be >= 0")
	}
	return nil
}

// CalculateDelay returns min(delayMs * multiplier^attempt, maxDelayMs).
func (c RetryConfig) CalculateDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delayMs := float64(c.DelayMs) * math.Pow(c.BackoffMultiplier, float64(attempt))
	if c.MaxDelayMs > 0 && delayMs > float64(c.MaxDelayMs) {
		delayMs = float64(c.MaxDelayMs)
	}
	return time.Duration(delayMs) * time.Millisecond
}

// RetryInfo describes the attempts made by the last Execute call.
type RetryInfo struct {
	TotalAttempts int
	RetryCount    int
	TotalDuration time.Duration
	Delays        []time.Duration
	Errors        []error
}

// RetryExecutor runs a function, retrying it while its error is retryable.
type RetryExecutor struct {
	config RetryConfig
	info   RetryInfo

	// OnRetry, when set, is called before each wait with the failed attempt
	// (0-indexed), its error and the upcoming delay.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// NewRetryExecutor creates a new retry executor with the given configuration.
func NewRetryExecutor(config RetryConfig) *RetryExecutor {
	return &RetryExecutor{config: config}
}

// Execute runs fn until it succeeds, fails with a non-retryable error, the
// attempts are exhausted or ctx is done. The last error is returned as is.
func (e *RetryExecutor) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	start := time.Now()
	e.info = RetryInfo{}
	defer func() { e.info.TotalDuration = time.Since(start) }()

	for attempt := 0; ; attempt++ {
		e.info.TotalAttempts = attempt + 1
		e.info.RetryCount = attempt

		if err := ctx.Err(); err != nil {
			return ClassifyNetworkError(err)
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		e.info.Errors = append(e.info.Errors, err)

		if !IsRetryable(err) || attempt >= e.config.MaxAttempts {
			return err
		}

		delay := e.config.CalculateDelay(attempt)
		e.info.Delays = append(e.info.Delays, delay)
		if e.OnRetry != nil {
			e.OnRetry(attempt, err, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ClassifyNetworkError(ctx.Err())
		case <-timer.C:
		}
	}
}

// Info returns information about the last Execute call.
func (e *RetryExecutor) Info() RetryInfo {
	return e.info
}
