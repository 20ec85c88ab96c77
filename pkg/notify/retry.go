package notify

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var (
	webhookRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "groupscan_webhook_retries_total",
		Help: "Webhook delivery retries by error class",
	}, []string{"error_class"})

	webhookRetryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "groupscan_webhook_retry_exhausted_total",
		Help: "Webhook deliveries abandoned after the last attempt, by error class",
	}, []string{"error_class"})
)

// RetryConfig holds the configuration for retry logic.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including the initial request).
	MaxAttempts int

	// InitialBackoff is the initial backoff duration.
	InitialBackoff time.Duration

	// MaxBackoff is the maximum backoff duration.
	MaxBackoff time.Duration

	// BackoffMultiplier is the multiplier for exponential backoff.
	BackoffMultiplier float64
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    1 * time.Second,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// RetryConfigForErrorClass returns the appropriate retry configuration for an error class.
func RetryConfigForErrorClass(errorClass ErrorClass) RetryConfig {
	switch errorClass {
	case ErrorClassRateLimit:
		// Webhook buckets refill within seconds
		return RetryConfig{
			MaxAttempts:       5,
			InitialBackoff:    2 * time.Second,
			MaxBackoff:        60 * time.Second,
			BackoffMultiplier: 2.0,
		}
	case ErrorClassServer:
		return RetryConfig{
			MaxAttempts:       3,
			InitialBackoff:    1 * time.Second,
			MaxBackoff:        10 * time.Second,
			BackoffMultiplier: 2.0,
		}
	default:
		return DefaultRetryConfig()
	}
}

// retryWithBackoff runs fn until it succeeds, fails with a non-retriable
// class, or MaxAttempts for the class of the last failure is reached. The
// backoff restarts when the failure class changes, and a RetryAfter carried
// by the failure raises the wait to at least that long.
func retryWithBackoff(ctx context.Context, logger zerolog.Logger, configFor func(ErrorClass) RetryConfig, fn func() error) error {
	var (
		class     ErrorClass
		inClass   int // consecutive failures of class
		attempts  int
		exhausted bool
	)

	err := retry.Do(
		func() error {
			attempts++
			return fn()
		},
		retry.Context(ctx),
		retry.UntilSucceeded(),
		retry.RetryIf(func(err error) bool {
			next := errorClassOf(err)
			if next != class {
				class, inClass = next, 0
			}
			inClass++

			if !shouldRetry(class) {
				return false
			}
			if attempts >= configFor(class).MaxAttempts {
				exhausted = true
				return false
			}
			return true
		}),
		retry.DelayType(func(_ uint, err error, _ *retry.Config) time.Duration {
			return backoffDelay(configFor(class), inClass, err)
		}),
		retry.OnRetry(func(_ uint, err error) {
			webhookRetriesTotal.WithLabelValues(string(class)).Inc()
			logger.Debug().
				Err(err).
				Str("error_class", string(class)).
				Int("attempt", attempts).
				Msg("Retrying webhook after backoff")
		}),
	)

	switch {
	case err == nil:
		if attempts > 1 {
			logger.Info().
				Str("error_class", string(class)).
				Int("attempt", attempts).
				Msg("Webhook delivered after retry")
		}
		return nil
	case exhausted:
		webhookRetryExhaustedTotal.WithLabelValues(string(class)).Inc()
		logger.Warn().
			Str("error_class", string(class)).
			Int("max_attempts", configFor(class).MaxAttempts).
			Msg("Webhook retry attempts exhausted")
		return fmt.Errorf("%w after %d attempts: %v", ErrRetryExhausted, attempts, err)
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		return fmt.Errorf("webhook retry: %w", err)
	default:
		return err
	}
}

// backoffDelay is the wait before the next attempt after the n-th
// consecutive failure of one class: exponential, capped, with ±20% jitter.
func backoffDelay(config RetryConfig, n int, err error) time.Duration {
	backoff := float64(config.InitialBackoff) * math.Pow(config.BackoffMultiplier, float64(max(n-1, 0)))
	wait := time.Duration(min(backoff, float64(config.MaxBackoff)))
	wait = time.Duration(float64(wait) * (0.8 + rand.Float64()*0.4))

	var whErr *WebhookError
	if errors.As(err, &whErr) && whErr.RetryAfter > wait {
		wait = min(whErr.RetryAfter, config.MaxBackoff)
	}
	return wait
}
