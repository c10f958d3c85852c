package models

import "time"

// PointTransaction is the immutable ledger record behind every committed
// credit. The unique index on TransactionRef is what makes the direct credit
// path idempotent: replaying the same ref hits the constraint instead of
// double-crediting.
type PointTransaction struct {
	ID             string    `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	TransactionRef string    `gorm:"uniqueIndex;not null" json:"transaction_ref"`
	CardID         string    `gorm:"not null;index" json:"card_id"`
	CustomerID     string    `gorm:"not null;index" json:"customer_id"`
	ProgramID      string    `gorm:"not null" json:"program_id"`
	Points         int64     `gorm:"not null" json:"points"`
	Source         string    `json:"source"`
	Description    string    `gorm:"type:text" json:"description"`
	CreatedAt      time.Time `json:"created_at" gorm:"autoCreateTime"`
}
