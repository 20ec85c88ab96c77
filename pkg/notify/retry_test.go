package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestBackoffDelay(t *testing.T) {
	config := RetryConfig{
		MaxAttempts:       5,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        time.Second,
		BackoffMultiplier: 2,
	}

	tests := []struct {
		name    string
		n       int
		err     error
		wantMin time.Duration
		wantMax time.Duration
	}{
		{name: "first failure", n: 1, wantMin: 80 * time.Millisecond, wantMax: 120 * time.Millisecond},
		{name: "third failure", n: 3, wantMin: 320 * time.Millisecond, wantMax: 480 * time.Millisecond},
		{name: "capped", n: 10, wantMin: 800 * time.Millisecond, wantMax: 1200 * time.Millisecond},
		{
			name:    "retry-after raises wait",
			n:       1,
			err:     &WebhookError{ErrorClass: ErrorClassRateLimit, RetryAfter: 700 * time.Millisecond},
			wantMin: 700 * time.Millisecond,
			wantMax: 700 * time.Millisecond,
		},
		{
			name:    "retry-after capped by max backoff",
			n:       1,
			err:     &WebhookError{ErrorClass: ErrorClassRateLimit, RetryAfter: time.Minute},
			wantMin: time.Second,
			wantMax: time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := backoffDelay(config, tt.n, tt.err)
			if got < tt.wantMin || got > tt.wantMax {
				t.Errorf("backoffDelay(n=%d) = %v, want in [%v, %v]", tt.n, got, tt.wantMin, tt.wantMax)
			}
		})
	}
}

func TestRetryWithBackoff_AttemptsFollowLastClass(t *testing.T) {
	configFor := func(class ErrorClass) RetryConfig {
		attempts := 2
		if class == ErrorClassRateLimit {
			attempts = 4
		}
		return RetryConfig{MaxAttempts: attempts, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, BackoffMultiplier: 1}
	}

	classes := []ErrorClass{ErrorClassServer, ErrorClassRateLimit, ErrorClassRateLimit, ErrorClassRateLimit, ErrorClassServer}
	calls := 0
	err := retryWithBackoff(context.Background(), zerolog.Nop(), configFor, func() error {
		class := classes[calls]
		calls++
		return &WebhookError{ErrorClass: class}
	})

	if !errors.Is(err, ErrRetryExhausted) {
		t.Fatalf("retryWithBackoff() error = %v, want ErrRetryExhausted", err)
	}
	if calls != 4 {
		t.Errorf("calls = %d, want 4", calls)
	}
}

func TestRetryWithBackoff_CancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := retryWithBackoff(ctx, zerolog.Nop(), RetryConfigForErrorClass, func() error {
		calls++
		return nil
	})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("retryWithBackoff() error = %v, want context.Canceled", err)
	}
	if calls != 0 {
		t.Errorf("calls = %d, want 0", calls)
	}
}
