package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound = errors.New("not found")

	ErrTransientFetch    = errors.New("transient fetch error")
	ErrPermanentFetch    = errors.New("permanent fetch error")
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	ErrStorage           = errors.New("storage error")
	ErrSecretNotFound    = errors.New("secret not found")
	ErrInvalidConfig     = errors.New("invalid configuration")
	ErrInvalidPayload    = errors.New("invalid payload")
	// ErrRecordRejected marks a single record refused by a storage constraint.
	// The surrounding batch carries on without it.
	ErrRecordRejected = errors.New("record rejected")
)

// FetchError describes the final outcome of a fetch against a provider.
// Kind is one of ErrTransientFetch, ErrPermanentFetch or ErrRateLimitExceeded.
type FetchError struct {
	Provider   string
	Kind       error
	StatusCode int
	Attempts   int
	Err        error
}

func (e *FetchError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %v", e.Provider, e.Kind)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.Attempts > 0 {
		fmt.Fprintf(&b, " after %d attempt(s)", e.Attempts)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *FetchError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// NormalizationWarning reports entries dropped from an otherwise usable payload.
type NormalizationWarning struct {
	Domain  string
	Skipped int
	Reasons []string
}

func (w *NormalizationWarning) Error() string {
	if len(w.Reasons) == 0 {
		return fmt.Sprintf("%s: skipped %d malformed entries", w.Domain, w.Skipped)
	}
	return fmt.Sprintf("%s: skipped %d malformed entries: %s", w.Domain, w.Skipped, strings.Join(w.Reasons, "; "))
}

// StorageError wraps a failure of the persistence layer.
func StorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}

// IsFatal reports whether err should stop its cadence: misconfiguration
// that another attempt next period will not fix.
func IsFatal(err error) bool {
	return errors.Is(err, ErrPermanentFetch) ||
		errors.Is(err, ErrSecretNotFound) ||
		errors.Is(err, ErrInvalidConfig)
}
