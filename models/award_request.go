package models

import "time"

// AwardSource indicates how an award request entered the system
type AwardSource string

const (
	AwardSourceScan   AwardSource = "scan"
	AwardSourceManual AwardSource = "manual"
	AwardSourceQuick  AwardSource = "quick"
)

// AwardStatus is the lifecycle state of an award request.
// Transitions only move forward except for the bounded in-tier retry.
type AwardStatus string

const (
	AwardStatusCreated    AwardStatus = "created"
	AwardStatusAttempting AwardStatus = "attempting"
	AwardStatusSucceeded  AwardStatus = "succeeded"
	AwardStatusQueued     AwardStatus = "queued"
	AwardStatusAbandoned  AwardStatus = "abandoned"
)

// AwardRequest is one logical "credit points" intent. TransactionRef is the
// idempotency key: at most one committed credit exists per ref, no matter how
// many tiers or retries were attempted.
type AwardRequest struct {
	TransactionRef string      `json:"transaction_ref"`
	CustomerID     string      `json:"customer_id"`
	ProgramID      string      `json:"program_id"`
	BusinessID     string      `json:"business_id"`
	Points         int64       `json:"points"`
	Source         AwardSource `json:"source"`
	Description    string      `json:"description"`
	CreatedAt      time.Time   `json:"created_at"`
	Status         AwardStatus `json:"status"`
}
