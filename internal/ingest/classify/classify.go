// Package classify maps a sink delivery error to one of four retry
// classes via simple string inspection, rather than modeling every
// possible error type explicitly.
package classify

import "strings"

// Class is one of the four exception classes the retry strategy keys
// off of.
type Class string

const (
	BufferFull     Class = "BUFFER_FULL"
	RateLimit      Class = "RATE_LIMIT"
	NetworkIssue   Class = "NETWORK_ISSUE"
	GenericFailure Class = "GENERIC_FAILURE"
)

// Classify inspects err's message for known substrings and returns the
// matching class. Unrecognised errors fall back to GenericFailure.
func Classify(err error) Class {
	if err == nil {
		return GenericFailure
	}
	msg := strings.ToLower(err.Error())

	switch {
	case containsAny(msg, "buffer full", "buffer is full", "service unavailable", "service fault", "internal server error"):
		return BufferFull
	case containsAny(msg, "rate limit", "throttl", "too many requests"):
		return RateLimit
	case containsAny(msg, "timeout", "timed out", "connection reset", "connection refused", "i/o timeout", "broken pipe", "eof", "no route to host", "network"):
		return NetworkIssue
	default:
		return GenericFailure
	}
}

func containsAny(s string, substrings ...string) bool {
	for _, sub := range substrings {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
