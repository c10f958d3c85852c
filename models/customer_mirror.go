package models

import (
	"time"

	"gorm.io/gorm"
)

// CustomerMirror is a local snapshot of customer data needed for enrollment
// and card display. Owned solely by the loyalty service; populated by the
// customer sync worker from the profile service.
type CustomerMirror struct {
	ID                 string  `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	ExternalCustomerID string  `gorm:"uniqueIndex;not null" json:"external_customer_id"`
	Name               string  `gorm:"index" json:"name"`
	Email              string  `json:"email,omitempty"`
	PhoneNumber        *string `json:"phone_number,omitempty"`
	IsActive           bool    `gorm:"default:true" json:"is_active"`

	CreatedAt time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}
