package services

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Error taxonomy for the award path. Transient failures are recovered locally
// (tier fallback, offline queue, reconcile); permanent and validation
// failures are surfaced to the caller unchanged.

var (
	// ErrInvalidPoints rejects award requests whose point amount is not a
	// positive integer.
	ErrInvalidPoints = errors.New("points must be a positive integer")

	// ErrAttemptInProgress means the same transactionRef already has an
	// outstanding attempt; the duplicate submission is a no-op.
	ErrAttemptInProgress = errors.New("award attempt already in progress for this transaction ref")
)

// TransientError wraps a failure that is safe to retry on the next tier
// (timeout, network error, 5xx-like remote response).
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("transient: %v", e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError wraps a failure that must not be retried or queued
// (unknown program/customer, 4xx-like remote response).
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return fmt.Sprintf("permanent: %v", e.Err) }
func (e *PermanentError) Unwrap() error { return e.Err }

// EnrollmentError marks a failed enrollment creation or card
// materialization. Fatal for the current attempt; eligible for the bounded
// outer retry, never for tier fallback.
type EnrollmentError struct {
	Err error
}

func (e *EnrollmentError) Error() string { return fmt.Sprintf("enrollment: %v", e.Err) }
func (e *EnrollmentError) Unwrap() error { return e.Err }

// Transient reports whether err should fall through to the next tier.
// Timeouts and context deadlines count as transient: the tier call may have
// landed remotely, which is exactly why every tier carries the same
// transactionRef.
func Transient(err error) bool {
	if err == nil {
		return false
	}
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// Permanent reports whether err must be surfaced without retry or queueing.
func Permanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}
