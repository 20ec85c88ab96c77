package groupapi

import (
	"errors"
	"fmt"
	"net"
)

// Common errors returned by the protocol codecs.
var (
	// ErrUnexpectedStatus is returned when the API answers with anything but HTTP/1.1 200.
	ErrUnexpectedStatus = errors.New("unexpected response status")

	// ErrMalformedPayload is returned when a response body cannot be decompressed or decoded.
	ErrMalformedPayload = errors.New("malformed response payload")
)

// ErrorClass represents a classification of protocol failures.
type ErrorClass string

const (
	// ErrorClassNetwork represents transport and timeout errors.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassStatus represents non-success HTTP responses.
	ErrorClassStatus ErrorClass = "status"

	// ErrorClassPayload represents bodies that could not be decoded.
	ErrorClassPayload ErrorClass = "payload"
)

// Error is a protocol failure on a single request. Every Error means the
// underlying transport must be discarded.
type Error struct {
	Op         string
	StatusCode int
	Class      ErrorClass
	Err        error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("group api %s %s error (status %d): %v", e.Op, e.Class, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("group api %s %s error: %v", e.Op, e.Class, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// Classify returns the class of err, or "" when err is not a protocol failure.
func Classify(err error) ErrorClass {
	if err == nil {
		return ""
	}

	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Class
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return ErrorClassNetwork
	}

	switch {
	case errors.Is(err, ErrUnexpectedStatus):
		return ErrorClassStatus
	case errors.Is(err, ErrMalformedPayload):
		return ErrorClassPayload
	default:
		return ErrorClassNetwork
	}
}

func networkError(op string, err error) error {
	return &Error{Op: op, Class: ErrorClassNetwork, Err: err}
}

func statusError(op string, code int, status string) error {
	return &Error{
		Op:         op,
		StatusCode: code,
		Class:      ErrorClassStatus,
		Err:        fmt.Errorf("%w: %s", ErrUnexpectedStatus, status),
	}
}

func payloadError(op string, err error) error {
	return &Error{Op: op, Class: ErrorClassPayload, Err: fmt.Errorf("%w: %v", ErrMalformedPayload, err)}
}
