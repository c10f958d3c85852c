package services

import (
	"context"
	"errors"
	"log"
	"time"

	"loyalty-scan-system/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// OfflineQueueStore is the durable backlog of award requests that exhausted
// every live tier. Reconciliation sweeps drain it in FIFO enqueue order.
type OfflineQueueStore interface {
	Enqueue(ctx context.Context, req models.AwardRequest) error
	// PendingDue returns Pending entries whose backoff has elapsed, oldest
	// enqueue first.
	PendingDue(ctx context.Context, now time.Time, limit int) ([]models.OfflineQueueEntry, error)
	// Claim flips one entry Pending → InFlight. False means another sweep
	// got there first; the caller must skip the entry.
	Claim(ctx context.Context, entryID string) (bool, error)
	// ReclaimStale flips InFlight entries claimed before cutoff back to
	// Pending. A claim that old means its sweep died mid-entry.
	ReclaimStale(ctx context.Context, cutoff time.Time) (int64, error)
	MarkSynced(ctx context.Context, entryID string) error
	// Release puts a failed entry back to Pending with backoff applied.
	Release(ctx context.Context, entry *models.OfflineQueueEntry, attemptErr error, nextAttemptAt time.Time) error
	Abandon(ctx context.Context, entry *models.OfflineQueueEntry, reason string) error
}

// GormOfflineQueue is the PostgreSQL-backed queue store.
type GormOfflineQueue struct {
	DB *gorm.DB
}

func NewGormOfflineQueue(db *gorm.DB) *GormOfflineQueue {
	return &GormOfflineQueue{DB: db}
}

// Enqueue persists the request with syncState=Pending. A ref already queued
// is left untouched; the queue holds at most one entry per transactionRef.
func (q *GormOfflineQueue) Enqueue(ctx context.Context, req models.AwardRequest) error {
	now := time.Now().UTC()
	entry := models.OfflineQueueEntry{
		ID:             uuid.NewString(),
		TransactionRef: req.TransactionRef,
		CustomerID:     req.CustomerID,
		ProgramID:      req.ProgramID,
		BusinessID:     req.BusinessID,
		Points:         req.Points,
		Source:         string(req.Source),
		Description:    req.Description,
		SyncState:      models.SyncStatePending,
		AttemptCount:   0,
		EnqueuedAt:     now,
		NextAttemptAt:  now,
	}
	err := q.DB.WithContext(ctx).Create(&entry).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		log.Printf("↩️  Ref %s already queued, skipping enqueue", req.TransactionRef)
		return nil
	}
	return err
}

func (q *GormOfflineQueue) PendingDue(ctx context.Context, now time.Time, limit int) ([]models.OfflineQueueEntry, error) {
	var entries []models.OfflineQueueEntry
	query := q.DB.WithContext(ctx).
		Where("sync_state = ? AND next_attempt_at <= ?", models.SyncStatePending, now).
		Order("enqueued_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Find(&entries).Error
	return entries, err
}

// Claim is the mutual-exclusion mechanism between concurrent sweeps: the
// conditional UPDATE succeeds for exactly one caller.
func (q *GormOfflineQueue) Claim(ctx context.Context, entryID string) (bool, error) {
	result := q.DB.WithContext(ctx).
		Model(&models.OfflineQueueEntry{}).
		Where("id = ? AND sync_state = ?", entryID, models.SyncStatePending).
		Update("sync_state", models.SyncStateInFlight)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// ReclaimStale recovers entries stranded InFlight by a crashed or failed
// sweep. Every tier is idempotent per transactionRef, so re-running a claim
// whose outcome is unknown cannot double-credit.
func (q *GormOfflineQueue) ReclaimStale(ctx context.Context, cutoff time.Time) (int64, error) {
	result := q.DB.WithContext(ctx).
		Model(&models.OfflineQueueEntry{}).
		Where("sync_state = ? AND updated_at < ?", models.SyncStateInFlight, cutoff).
		Update("sync_state", models.SyncStatePending)
	return result.RowsAffected, result.Error
}

func (q *GormOfflineQueue) MarkSynced(ctx context.Context, entryID string) error {
	return q.DB.WithContext(ctx).
		Model(&models.OfflineQueueEntry{}).
		Where("id = ?", entryID).
		Update("sync_state", models.SyncStateSynced).Error
}

func (q *GormOfflineQueue) Release(ctx context.Context, entry *models.OfflineQueueEntry, attemptErr error, nextAttemptAt time.Time) error {
	msg := ""
	if attemptErr != nil {
		msg = attemptErr.Error()
	}
	return q.DB.WithContext(ctx).
		Model(&models.OfflineQueueEntry{}).
		Where("id = ?", entry.ID).
		Updates(map[string]any{
			"sync_state":      models.SyncStatePending,
			"attempt_count":   entry.AttemptCount + 1,
			"next_attempt_at": nextAttemptAt,
			"last_error":      msg,
		}).Error
}

func (q *GormOfflineQueue) Abandon(ctx context.Context, entry *models.OfflineQueueEntry, reason string) error {
	return q.DB.WithContext(ctx).
		Model(&models.OfflineQueueEntry{}).
		Where("id = ?", entry.ID).
		Updates(map[string]any{
			"sync_state": models.SyncStateAbandoned,
			"last_error": reason,
		}).Error
}

// ListEntries returns recent queue entries for the inspection endpoint.
func (q *GormOfflineQueue) ListEntries(ctx context.Context, state models.SyncState, limit int) ([]models.OfflineQueueEntry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query := q.DB.WithContext(ctx).Order("enqueued_at DESC").Limit(limit)
	if state != "" {
		query = query.Where("sync_state = ?", state)
	}
	var entries []models.OfflineQueueEntry
	err := query.Find(&entries).Error
	return entries, err
}
