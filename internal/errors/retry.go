package errors

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"
)

// RetryConfig defines retry behavior configuration
type RetryConfig struct {
	// MaxRetries is the maximum number of retry attempts
	MaxRetries int
	// InitialBackoff is the initial backoff duration
	InitialBackoff time.Duration
	// MaxBackoff is the maximum backoff duration
	MaxBackoff time.Duration
	// Multiplier is the backoff multiplier for exponential backoff
	Multiplier float64
	// RetryableErrors decides whether an error is worth another attempt
	RetryableErrors func(error) bool
}

// StoreRetryConfig retries writes that lost a race for the SQLite write lock.
// Download outcomes are recorded from several workers at once.
func StoreRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      4,
		InitialBackoff:  25 * time.Millisecond,
		MaxBackoff:      500 * time.Millisecond,
		Multiplier:      2.0,
		RetryableErrors: IsBusy,
	}
}

// IsBusy reports whether err is SQLite refusing a write because another
// connection holds the lock
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "sqlite_busy")
}

// RetryWithBackoff executes a function with exponential backoff retry logic
func RetryWithBackoff(ctx context.Context, config RetryConfig, fn func() error) error {
	var lastErr error

	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		lastErr = err

		if config.RetryableErrors != nil && !config.RetryableErrors(err) {
			return err
		}

		if attempt == config.MaxRetries {
			break
		}

		backoff := calculateBackoff(attempt, config.InitialBackoff, config.MaxBackoff, config.Multiplier)

		select {
		case <-ctx.Done():
			return fmt.Errorf("retry cancelled: %w", ctx.Err())
		case <-time.After(backoff):
		}
	}

	return fmt.Errorf("max retries (%d) exceeded: %w", config.MaxRetries, lastErr)
}

// calculateBackoff returns initial * multiplier^attempt, capped at max
func calculateBackoff(attempt int, initial, max time.Duration, multiplier float64) time.Duration {
	if multiplier < 1 {
		multiplier = 1
	}
	backoff := float64(initial) * math.Pow(multiplier, float64(attempt))
	if backoff > float64(max) {
		backoff = float64(max)
	}
	return time.Duration(backoff)
}
