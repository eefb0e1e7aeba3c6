package classify

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassifyBufferFull(t *testing.T) {
	cases := []string{
		"buffer full",
		"Buffer is full, try later",
		"503 Service Unavailable",
		"service fault detected",
		"internal server error",
	}
	for _, msg := range cases {
		require.Equal(t, BufferFull, Classify(errors.New(msg)), msg)
	}
}

func TestClassifyRateLimit(t *testing.T) {
	cases := []string{"rate limit exceeded", "throttled by upstream", "too many requests"}
	for _, msg := range cases {
		require.Equal(t, RateLimit, Classify(errors.New(msg)), msg)
	}
}

func TestClassifyNetworkIssue(t *testing.T) {
	cases := []string{
		"dial tcp: i/o timeout",
		"connection reset by peer",
		"connection refused",
		"context deadline exceeded: timed out",
		"unexpected EOF",
		"no route to host",
	}
	for _, msg := range cases {
		require.Equal(t, NetworkIssue, Classify(errors.New(msg)), msg)
	}
}

func TestClassifyGenericFallback(t *testing.T) {
	require.Equal(t, GenericFailure, Classify(errors.New("validation error: bad schema")))
}

func TestClassifyNilErrorIsGeneric(t *testing.T) {
	require.Equal(t, GenericFailure, Classify(nil))
}

func TestClassifyIsCaseInsensitive(t *testing.T) {
	require.Equal(t, BufferFull, Classify(errors.New("BUFFER FULL")))
}
