package models

import (
	"time"

	"gorm.io/gorm"
)

// Program is a loyalty program run by a business.
type Program struct {
	ID         string `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	BusinessID string `gorm:"not null;index" json:"business_id"`
	Name       string `gorm:"not null" json:"name"`
	Slug       string `gorm:"index" json:"slug"`
	IsActive   bool   `gorm:"default:true" json:"is_active"`

	CreatedAt time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// Enrollment links a customer to a program. One row per (customer, program).
type Enrollment struct {
	ID         string `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	CustomerID string `gorm:"not null;index:idx_enroll_customer_program,unique" json:"customer_id"`
	ProgramID  string `gorm:"not null;index:idx_enroll_customer_program,unique" json:"program_id"`
	BusinessID string `gorm:"not null;index" json:"business_id"`

	CreatedAt time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// Card is the loyalty card backing an enrollment.
// PointsBalance never goes negative here; TotalEarned is monotonic.
type Card struct {
	ID            string `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	CardNumber    string `gorm:"uniqueIndex;not null" json:"card_number"`
	CustomerID    string `gorm:"not null;index" json:"customer_id"`
	ProgramID     string `gorm:"not null;index" json:"program_id"`
	BusinessID    string `gorm:"not null;index" json:"business_id"`
	PointsBalance int64  `gorm:"not null;default:0" json:"points_balance"`
	TotalEarned   int64  `gorm:"not null;default:0" json:"total_earned"`
	IsActive      bool   `gorm:"default:true" json:"is_active"`

	CreatedAt time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}
