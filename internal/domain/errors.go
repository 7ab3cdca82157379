package domain

import (
	"errors"
	"fmt"
)

// ErrAntiBotBlocked means the site answered with its "prove you are human"
// page instead of content. It is retryable on a materially longer backoff
// than a transport failure and must never be treated as a content error.
var ErrAntiBotBlocked = errors.New("anti-bot check page returned instead of content")

// ErrCategoryLocked means another worker is reconciling the same category
// right now. Reconciliation is not re-entrant per category.
var ErrCategoryLocked = errors.New("category reconciliation already in progress")

// ErrNotLeaf means a non-leaf category was asked to reconcile its listing.
var ErrNotLeaf = errors.New("category is not a leaf")

// TransportError covers connection failures, deadline expiry and non-2xx
// responses. Retryable on a short jittered backoff.
type TransportError struct {
	URL    string
	Status int
	Err    error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("transport error for %s: HTTP %d", e.URL, e.Status)
	}
	return fmt.Sprintf("transport error for %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsRetryable reports whether err should be handed back to the retry shell.
func IsRetryable(err error) bool {
	var te *TransportError
	return errors.Is(err, ErrAntiBotBlocked) || errors.As(err, &te)
}
