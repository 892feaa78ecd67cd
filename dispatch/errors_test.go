package dispatch

import (
	"context"
	"fmt"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestIsRetryableExplicitMarkers(t *testing.T) {
	assert.True(t, IsRetryable(Retryable(fmt.Errorf("anything"))))
	assert.False(t, IsRetryable(NonRetryable(fmt.Errorf("connection refused"))))
	assert.False(t, IsRetryable(nil))

	// Markers survive wrapping.
	wrapped := errors.Wrap(Retryable(fmt.Errorf("slow downstream")), "publishing failed")
	assert.True(t, IsRetryable(wrapped))
}

func TestIsRetryableContextErrors(t *testing.T) {
	assert.True(t, IsRetryable(context.DeadlineExceeded))
	assert.False(t, IsRetryable(context.Canceled))
}

func TestIsRetryableTransientFragments(t *testing.T) {
	transient := []string{
		"dial tcp: connection refused",
		"read: connection reset by peer",
		"write: broken pipe",
		"request timed out",
		"i/o timeout",
		"503 Service Unavailable",
		"429 Too Many Requests",
		"502 Bad Gateway",
		"unexpected EOF",
	}
	for _, msg := range transient {
		assert.True(t, IsRetryable(errors.New(msg)), msg)
	}

	permanent := []string{
		"invalid payload",
		"unknown event type",
		"record not found",
	}
	for _, msg := range permanent {
		assert.False(t, IsRetryable(errors.New(msg)), msg)
	}
}

func TestProcessingErrorUnwrap(t *testing.T) {
	inner := fmt.Errorf("root cause")
	err := Retryable(inner)

	assert.Equal(t, "root cause", err.Error())
	assert.ErrorIs(t, err, inner)
}
