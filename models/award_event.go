package models

import "time"

// AwardEvent is the outbound domain event appended after every committed
// credit. Notification and UI subsystems consume it via the SSE stream.
type AwardEvent struct {
	ID         string    `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	CustomerID string    `gorm:"not null;index" json:"customer_id"`
	BusinessID string    `gorm:"not null" json:"business_id"`
	ProgramID  string    `gorm:"not null" json:"program_id"`
	Points     int64     `gorm:"not null" json:"points"`
	Deferred   bool      `gorm:"default:false" json:"deferred"`
	CreatedAt  time.Time `json:"timestamp" gorm:"autoCreateTime;index"`
}
