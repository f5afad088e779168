package initialization

import (
	"context"
	"fmt"
	"time"

	"github.com/neurondb/NeuronGateway/internal/logging"
)

// RetryConfig defines retry behavior
type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultRetryConfig returns the retry policy used for startup dependencies
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  5,
		InitialDelay: 1 * time.Second,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
	}
}

// RetryableFunc is a function that can be retried
type RetryableFunc func(ctx context.Context) error

// Retry runs fn until it succeeds, attempts run out or ctx ends, backing off exponentially
func Retry(ctx context.Context, logger *logging.Logger, config RetryConfig, operation string, fn RetryableFunc) error {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}

	var lastErr error
	delay := config.InitialDelay

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			if attempt > 1 {
				logger.Info("Startup step recovered", map[string]interface{}{
					"operation": operation,
					"attempts":  attempt,
				})
			}
			return nil
		}

		logger.Warn("Startup step failed", map[string]interface{}{
			"operation":    operation,
			"attempt":      attempt,
			"max_attempts": config.MaxAttempts,
			"error":        lastErr.Error(),
		})

		// no wait after the last attempt
		if attempt == config.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay = time.Duration(float64(delay) * config.Multiplier)
		if config.MaxDelay > 0 && delay > config.MaxDelay {
			delay = config.MaxDelay
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operation, config.MaxAttempts, lastErr)
}

// RetryWithBackoff executes a function with the default retry policy
func RetryWithBackoff(ctx context.Context, logger *logging.Logger, operation string, fn RetryableFunc) error {
	return Retry(ctx, logger, DefaultRetryConfig(), operation, fn)
}
