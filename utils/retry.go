package utils

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"
)

type RetryConfig struct {
	MaxAttempts    int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	Multiplier     float64
	Jitter         bool
	BackoffType    BackoffType
	RetryableCheck func(error) bool
}

type BackoffType int

const (
	Linear BackoffType = iota
	Exponential
	ExponentialJitter
	Fixed
)

type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// PermanentError stops a retry loop immediately.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

func CreateDefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    5 * time.Second,
		Multiplier:  2.0,
		Jitter:      true,
		BackoffType: ExponentialJitter,
	}
}

func CreateRetry(ctx context.Context, config *RetryConfig, operation func() error) error {
	_, err := CreateRetryWithResult(ctx, config, func() (interface{}, error) {
		return nil, operation()
	})
	return err
}

func CreateRetryWithResult(ctx context.Context, config *RetryConfig, operation func() (interface{}, error)) (interface{}, error) {
	var lastErr error

	for attempt := 0; attempt < config.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := calculateDelay(config, attempt)

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		result, err := operation()
		if err == nil {
			return result, nil
		}

		lastErr = err

		if !isRetryableError(err, config.RetryableCheck) {
			return result, err
		}
	}

	return nil, fmt.Errorf("operation failed after %d attempts: %w", config.MaxAttempts, lastErr)
}

func calculateDelay(config *RetryConfig, attempt int) time.Duration {
	var delay time.Duration

	switch config.BackoffType {
	case Linear:
		delay = config.BaseDelay * time.Duration(attempt)
	case Exponential:
		delay = time.Duration(float64(config.BaseDelay) * math.Pow(config.Multiplier, float64(attempt-1)))
	case ExponentialJitter:
		baseDelay := time.Duration(float64(config.BaseDelay) * math.Pow(config.Multiplier, float64(attempt-1)))
		if config.Jitter {
			jitter := time.Duration(rand.Float64() * float64(baseDelay) * 0.1)
			delay = baseDelay + jitter
		} else {
			delay = baseDelay
		}
	default:
		delay = config.BaseDelay
	}

	if config.MaxDelay > 0 && delay > config.MaxDelay {
		delay = config.MaxDelay
	}

	return delay
}

func isRetryableError(err error, check func(error) bool) bool {
	var permanent *PermanentError
	if errors.As(err, &permanent) {
		return false
	}
	var retryable *RetryableError
	if errors.As(err, &retryable) {
		return true
	}
	if check != nil {
		return check(err)
	}
	return true
}

func CreateRetryableError(err error) *RetryableError {
	return &RetryableError{Err: err}
}

func CreatePermanentError(err error) *PermanentError {
	return &PermanentError{Err: err}
}
