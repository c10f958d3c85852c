package models

// PayloadKind tags the variant of a classified QR payload
type PayloadKind string

const (
	PayloadKindCustomer    PayloadKind = "customer"
	PayloadKindLoyaltyCard PayloadKind = "loyalty_card"
	PayloadKindPromoCode   PayloadKind = "promo_code"
	PayloadKindUnknown     PayloadKind = "unknown"
)

// QrPayload is the typed result of classifying raw scanned text.
// Exactly one concrete variant implements each kind.
type QrPayload interface {
	Kind() PayloadKind
}

// CustomerPayload identifies a customer presenting their code at the counter.
type CustomerPayload struct {
	CustomerID string `json:"customer_id"`
	BusinessID string `json:"business_id,omitempty"`
	Name       string `json:"name,omitempty"`
}

func (CustomerPayload) Kind() PayloadKind { return PayloadKindCustomer }

// LoyaltyCardPayload identifies a specific card within a program.
type LoyaltyCardPayload struct {
	CardID     string `json:"card_id"`
	CustomerID string `json:"customer_id"`
	ProgramID  string `json:"program_id"`
	BusinessID string `json:"business_id"`
}

func (LoyaltyCardPayload) Kind() PayloadKind { return PayloadKindLoyaltyCard }

// PromoCodePayload carries a promotional code scanned by a customer.
type PromoCodePayload struct {
	Code       string `json:"code"`
	BusinessID string `json:"business_id"`
}

func (PromoCodePayload) Kind() PayloadKind { return PayloadKindPromoCode }

// UnknownPayload preserves raw text that matched no known variant.
type UnknownPayload struct {
	RawText string `json:"raw_text"`
}

func (UnknownPayload) Kind() PayloadKind { return PayloadKindUnknown }
