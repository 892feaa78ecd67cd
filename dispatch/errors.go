package dispatch

import (
	"context"
	"errors"
	"strings"
)

// ProcessingError wraps a handler failure with its retry classification
type ProcessingError struct {
	Err       error
	Retryable bool
}

func (e *ProcessingError) Error() string {
	return e.Err.Error()
}

func (e *ProcessingError) Unwrap() error {
	return e.Err
}

// NonRetryable marks an error as permanently failed
func NonRetryable(err error) error {
	return &ProcessingError{Err: err, Retryable: false}
}

// Retryable marks an error as transient
func Retryable(err error) error {
	return &ProcessingError{Err: err, Retryable: true}
}

var transientFragments = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"timeout",
	"timed out",
	"temporarily unavailable",
	"service unavailable",
	"too many requests",
	"internal server error",
	"bad gateway",
	"eof",
}

// IsRetryable classifies an error. Explicit ProcessingError markers win;
// otherwise the message is matched against known transient failures.
// Unknown errors are treated as permanent so bad events reach the dead
// letter queue instead of looping.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var perr *ProcessingError
	if errors.As(err, &perr) {
		return perr.Retryable
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	msg := strings.ToLower(err.Error())
	for _, fragment := range transientFragments {
		if strings.Contains(msg, fragment) {
			return true
		}
	}
	return false
}
