package models

import (
	"time"

	"gorm.io/gorm"
)

// SyncState is the reconciliation state of an offline queue entry
type SyncState string

const (
	SyncStatePending   SyncState = "pending"
	SyncStateInFlight  SyncState = "in_flight"
	SyncStateSynced    SyncState = "synced"
	SyncStateAbandoned SyncState = "abandoned"
)

// OfflineQueueEntry is a durable award request that exhausted every live
// tier. Reconciliation sweeps claim entries by flipping Pending → InFlight;
// NextAttemptAt implements exponential backoff between sweeps.
type OfflineQueueEntry struct {
	ID             string    `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	TransactionRef string    `gorm:"uniqueIndex;not null" json:"transaction_ref"`
	CustomerID     string    `gorm:"not null;index" json:"customer_id"`
	ProgramID      string    `gorm:"not null" json:"program_id"`
	BusinessID     string    `gorm:"not null" json:"business_id"`
	Points         int64     `gorm:"not null" json:"points"`
	Source         string    `json:"source"`
	Description    string    `gorm:"type:text" json:"description"`
	SyncState      SyncState `gorm:"not null;default:'pending';index" json:"sync_state"`
	AttemptCount   int       `gorm:"not null;default:0" json:"attempt_count"`
	EnqueuedAt     time.Time `gorm:"not null;index" json:"enqueued_at"`
	NextAttemptAt  time.Time `gorm:"not null;index" json:"next_attempt_at"`
	LastError      string    `gorm:"type:text" json:"last_error,omitempty"`

	CreatedAt time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// Request rebuilds the award request carried by this entry.
func (e *OfflineQueueEntry) Request() AwardRequest {
	return AwardRequest{
		TransactionRef: e.TransactionRef,
		CustomerID:     e.CustomerID,
		ProgramID:      e.ProgramID,
		BusinessID:     e.BusinessID,
		Points:         e.Points,
		Source:         AwardSource(e.Source),
		Description:    e.Description,
		CreatedAt:      e.EnqueuedAt,
		Status:         AwardStatusQueued,
	}
}
