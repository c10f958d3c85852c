package services

import (
	"context"
	"log"
	"sync"
	"time"

	"loyalty-scan-system/models"
)

// Outcome is the result of one award invocation. Deferred means every live
// tier failed and the request is queued for reconciliation; callers treat
// that as success pending sync, never as failure.
type Outcome struct {
	Status   models.AwardStatus `json:"status"`
	TierUsed int                `json:"tier_used,omitempty"`
	Deferred bool               `json:"deferred"`
}

// OfflineEnqueuer hands exhausted requests to the offline queue.
type OfflineEnqueuer interface {
	Enqueue(ctx context.Context, req models.AwardRequest) error
}

// EventRecorder publishes the outbound domain event after a committed (or
// deferred) credit.
type EventRecorder interface {
	RecordAward(ctx context.Context, event models.AwardEvent)
}

// AwardOrchestrator executes the idempotent, tiered credit sequence. Tier
// calls are strictly sequential — one outstanding remote call at a time —
// which keeps the idempotency guard simple and auditable.
type AwardOrchestrator struct {
	cards  CardDirectory
	tiers  []AwardTier
	queue  OfflineEnqueuer
	events EventRecorder

	// resolveRetries bounds the outer retry around enrollment/card
	// materialization failures.
	resolveRetries int

	// outstanding tracks transactionRefs with a live attempt. A duplicate
	// submission for an outstanding ref is a no-op, not a second attempt.
	mu          sync.Mutex
	outstanding map[string]struct{}
}

func NewAwardOrchestrator(cards CardDirectory, tiers []AwardTier, queue OfflineEnqueuer, events EventRecorder) *AwardOrchestrator {
	return &AwardOrchestrator{
		cards:          cards,
		tiers:          tiers,
		queue:          queue,
		events:         events,
		resolveRetries: 2,
		outstanding:    make(map[string]struct{}),
	}
}

// AwardPoints runs the full resolution sequence for one request:
// resolve/enroll the card, walk the tier list, and fall back to the offline
// queue on exhaustion. Exactly one committed credit can exist per
// transactionRef regardless of how many tiers or retries run.
func (o *AwardOrchestrator) AwardPoints(ctx context.Context, req models.AwardRequest) (Outcome, error) {
	if req.Points <= 0 {
		return Outcome{Status: models.AwardStatusCreated}, &PermanentError{Err: ErrInvalidPoints}
	}

	o.mu.Lock()
	if _, busy := o.outstanding[req.TransactionRef]; busy {
		o.mu.Unlock()
		log.Printf("↩️  Duplicate submission for outstanding ref %s, ignoring", req.TransactionRef)
		return Outcome{Status: models.AwardStatusAttempting}, ErrAttemptInProgress
	}
	o.outstanding[req.TransactionRef] = struct{}{}
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		delete(o.outstanding, req.TransactionRef)
		o.mu.Unlock()
	}()

	req.Status = models.AwardStatusAttempting

	card, err := o.resolveCard(ctx, req)
	if err != nil {
		if Permanent(err) {
			return Outcome{Status: models.AwardStatusCreated}, err
		}
		// Enrollment/materialization kept failing after the bounded outer
		// retry: fall to offline queueing like an exhausted tier walk.
		return o.deferToQueue(ctx, req, err)
	}

	tierUsed, err := RunTierSequence(ctx, o.tiers, req, card)
	if err == nil {
		req.Status = models.AwardStatusSucceeded
		o.emit(ctx, req, false)
		return Outcome{Status: models.AwardStatusSucceeded, TierUsed: tierUsed}, nil
	}
	if Permanent(err) {
		return Outcome{Status: models.AwardStatusCreated}, err
	}

	return o.deferToQueue(ctx, req, err)
}

// deferToQueue hands an exhausted request to the offline queue. The caller
// sees success-pending-sync.
func (o *AwardOrchestrator) deferToQueue(ctx context.Context, req models.AwardRequest, err error) (Outcome, error) {
	if qErr := o.queue.Enqueue(ctx, req); qErr != nil {
		log.Printf("❌ Failed to enqueue exhausted award %s: %v", req.TransactionRef, qErr)
		return Outcome{Status: models.AwardStatusAttempting}, err
	}
	req.Status = models.AwardStatusQueued
	o.emit(ctx, req, true)
	log.Printf("📥 Award %s queued for offline sync (%d points, customer %s)",
		req.TransactionRef, req.Points, req.CustomerID)
	return Outcome{Status: models.AwardStatusSucceeded, Deferred: true}, nil
}

// resolveCard wraps EnsureCard in the bounded outer retry. Enrollment and
// materialization failures are never tier-fallback material.
func (o *AwardOrchestrator) resolveCard(ctx context.Context, req models.AwardRequest) (*models.Card, error) {
	var lastErr error
	for attempt := 0; attempt <= o.resolveRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, &TransientError{Err: ctx.Err()}
			case <-time.After(time.Duration(attempt) * 200 * time.Millisecond):
			}
		}
		card, err := o.cards.EnsureCard(ctx, req.CustomerID, req.BusinessID, req.ProgramID)
		if err == nil {
			return card, nil
		}
		lastErr = err
		log.Printf("⚠️  Card resolution attempt %d failed for customer %s: %v",
			attempt+1, req.CustomerID, err)
	}
	return nil, lastErr
}

func (o *AwardOrchestrator) emit(ctx context.Context, req models.AwardRequest, deferred bool) {
	if o.events == nil {
		return
	}
	o.events.RecordAward(ctx, models.AwardEvent{
		CustomerID: req.CustomerID,
		BusinessID: req.BusinessID,
		ProgramID:  req.ProgramID,
		Points:     req.Points,
		Deferred:   deferred,
	})
}
