package voice

import (
	"errors"
	"fmt"
)

// ErrSessionNotActive is returned when a turn is sent on a session that has
// already ended or failed. This is a caller bug, not a provider condition.
var ErrSessionNotActive = fmt.Errorf("session is not active")

// ErrorKind classifies provider failures for retry decisions made by the
// scheduler. Retries never happen inside this package.
type ErrorKind string

const (
	// KindUnauthenticated means no credential is configured or the provider
	// refused ours. A configuration fault: the operator must fix it.
	KindUnauthenticated ErrorKind = "unauthenticated"
	// KindUnavailable covers transport failures and 5xx responses. Retryable
	// at call-attempt granularity only.
	KindUnavailable ErrorKind = "unavailable"
	// KindRejected covers 4xx responses: our request was malformed. A defect,
	// never retried blindly.
	KindRejected ErrorKind = "rejected"
)

// ProviderError is a failed interaction with the voice AI provider.
type ProviderError struct {
	Kind       ErrorKind
	Op         string
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("provider %s: %s (status %d): %v", e.Op, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("provider %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// KindOf extracts the provider error kind, or "" for non-provider errors.
func KindOf(err error) ErrorKind {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}
