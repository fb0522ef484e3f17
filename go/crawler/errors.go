package crawler

import (
	"errors"
	"fmt"
)

// Kind classifies a capture failure for the scheduler's retry policy.
type Kind int

const (
	// KindTransient failures (timeouts, resets, DNS) are retried with
	// decremented urgency, up to the retry budget.
	KindTransient Kind = iota
	// KindRemote failures (non-200 HTTP) are terminal for this cycle;
	// last_checked_at still advances so the site isn't hot-looped.
	KindRemote
	// KindArtifact failures (filesystem) fail the job with no snapshot row.
	KindArtifact
	// KindCatalog failures roll back the enclosing transaction and are
	// retried up to the retry budget.
	KindCatalog
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindRemote:
		return "remote"
	case KindArtifact:
		return "artifact"
	case KindCatalog:
		return "catalog"
	default:
		return "unknown"
	}
}

// CaptureError wraps a capture failure with its classification.
type CaptureError struct {
	Kind   Kind
	Status int // HTTP status of KindRemote failures.
	Err    error
}

func (e *CaptureError) Error() string {
	return fmt.Sprintf("%s capture error: %v", e.Kind, e.Err)
}

func (e *CaptureError) Unwrap() error { return e.Err }

// Retryable tells whether the scheduler should requeue the job.
func (e *CaptureError) Retryable() bool {
	return e.Kind == KindTransient || e.Kind == KindCatalog
}

// KindOf extracts the classification of a capture error, defaulting any
// unclassified error to transient.
func KindOf(err error) Kind {
	var ce *CaptureError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindTransient
}
