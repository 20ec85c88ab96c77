package notify

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Common errors returned by the notifiers.
var (
	// ErrRetryExhausted is returned when all webhook attempts failed.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrQueueFull is returned by Dispatcher.Notify when the queue has no room.
	ErrQueueFull = errors.New("notification queue full")
)

// ErrorClass represents a classification of webhook delivery errors.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx responses other than 429.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx responses.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents 429 responses.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNetwork represents network and timeout errors.
	ErrorClassNetwork ErrorClass = "network"
)

// WebhookError is a failed webhook delivery attempt.
type WebhookError struct {
	StatusCode int
	ErrorClass ErrorClass
	Message    string
	RetryAfter time.Duration
	Err        error
}

// Error implements the error interface.
func (e *WebhookError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("webhook %s error (status %d): %s: %v",
			e.ErrorClass, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("webhook %s error (status %d): %s",
		e.ErrorClass, e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *WebhookError) Unwrap() error {
	return e.Err
}

// classifyStatus maps a non-2xx status code to an error class.
func classifyStatus(code int) ErrorClass {
	switch {
	case code == http.StatusTooManyRequests:
		return ErrorClassRateLimit
	case code >= 400 && code < 500:
		return ErrorClassClient
	default:
		return ErrorClassServer
	}
}

// shouldRetry determines if an error should be retried based on its classification.
func shouldRetry(errorClass ErrorClass) bool {
	switch errorClass {
	case ErrorClassServer, ErrorClassRateLimit, ErrorClassNetwork:
		return true
	default:
		// A rejected payload or a deleted webhook will not recover.
		return false
	}
}

// errorClassOf extracts the class of a delivery error; unknown errors count as network failures.
func errorClassOf(err error) ErrorClass {
	var whErr *WebhookError
	if errors.As(err, &whErr) {
		return whErr.ErrorClass
	}
	return ErrorClassNetwork
}
