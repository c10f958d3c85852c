package services

import (
	"encoding/json"
	"strconv"
	"strings"

	"loyalty-scan-system/models"
)

// PayloadClassifier turns raw scanned text into a typed payload. It is pure:
// same input, same output, no side effects, and it never errors — anything
// unclassifiable comes back as UnknownPayload.
type PayloadClassifier struct{}

func NewPayloadClassifier() *PayloadClassifier {
	return &PayloadClassifier{}
}

// Bounds for treating a bare numeric string as a legacy customer identifier
// (printed membership numbers predate the JSON payload format).
const (
	minNumericIDLen = 4
	maxNumericIDLen = 19
)

// Classify resolves rawText to a payload variant.
//
// Order of attack: bare numeric strings and anything that is not a JSON
// object are legacy raw customer identifiers. JSON objects go through strict
// validation (Customer > LoyaltyCard > PromoCode, first match wins), then a
// lenient customer normalizer for legacy field names, then a best-effort
// salvage when any value mentions "customer". Only then Unknown.
func (c *PayloadClassifier) Classify(rawText string) models.QrPayload {
	trimmed := strings.TrimSpace(rawText)
	if trimmed == "" {
		return models.UnknownPayload{RawText: rawText}
	}

	if isBareNumericID(trimmed) {
		return models.CustomerPayload{CustomerID: trimmed}
	}

	var fields map[string]any
	if err := json.Unmarshal([]byte(trimmed), &fields); err != nil || fields == nil {
		// Not structured data: the highest-volume legacy format is a raw
		// customer identifier.
		return models.CustomerPayload{CustomerID: trimmed}
	}

	if p, ok := strictCustomer(fields); ok {
		return p
	}
	if p, ok := strictLoyaltyCard(fields); ok {
		return p
	}
	if p, ok := strictPromoCode(fields); ok {
		return p
	}
	if p, ok := lenientCustomer(fields); ok {
		return p
	}
	if p, ok := salvageCustomer(fields, trimmed); ok {
		return p
	}

	return models.UnknownPayload{RawText: rawText}
}

func isBareNumericID(s string) bool {
	if len(s) < minNumericIDLen || len(s) > maxNumericIDLen {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// stringField returns the first present key as a string. Numeric values are
// accepted and formatted: legacy producers emit ids as JSON numbers.
func stringField(fields map[string]any, keys ...string) string {
	for _, key := range keys {
		v, ok := fields[key]
		if !ok {
			continue
		}
		switch t := v.(type) {
		case string:
			if t != "" {
				return t
			}
		case float64:
			return strconv.FormatFloat(t, 'f', -1, 64)
		}
	}
	return ""
}

// onlyKeys enforces the strict half of "strict schema validation": no
// fields outside the variant's schema.
func onlyKeys(fields map[string]any, allowed ...string) bool {
	for key := range fields {
		found := false
		for _, a := range allowed {
			if key == a {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func typeMatches(fields map[string]any, accepted ...string) bool {
	raw, ok := fields["type"]
	if !ok {
		return true // type tag is optional in every known producer
	}
	s, ok := raw.(string)
	if !ok {
		return false
	}
	s = strings.ToLower(strings.TrimSpace(s))
	for _, a := range accepted {
		if s == a {
			return true
		}
	}
	return false
}

func strictCustomer(fields map[string]any) (models.CustomerPayload, bool) {
	if !typeMatches(fields, "customer") {
		return models.CustomerPayload{}, false
	}
	if !onlyKeys(fields, "type", "customerId", "customer_id", "businessId", "business_id", "name") {
		return models.CustomerPayload{}, false
	}
	id := stringField(fields, "customerId", "customer_id")
	if id == "" {
		return models.CustomerPayload{}, false
	}
	return models.CustomerPayload{
		CustomerID: id,
		BusinessID: stringField(fields, "businessId", "business_id"),
		Name:       stringField(fields, "name"),
	}, true
}

func strictLoyaltyCard(fields map[string]any) (models.LoyaltyCardPayload, bool) {
	if !typeMatches(fields, "loyalty_card", "loyaltycard", "card") {
		return models.LoyaltyCardPayload{}, false
	}
	if !onlyKeys(fields, "type", "cardId", "card_id", "customerId", "customer_id", "programId", "program_id", "businessId", "business_id") {
		return models.LoyaltyCardPayload{}, false
	}
	p := models.LoyaltyCardPayload{
		CardID:     stringField(fields, "cardId", "card_id"),
		CustomerID: stringField(fields, "customerId", "customer_id"),
		ProgramID:  stringField(fields, "programId", "program_id"),
		BusinessID: stringField(fields, "businessId", "business_id"),
	}
	if p.CardID == "" || p.CustomerID == "" || p.ProgramID == "" || p.BusinessID == "" {
		return models.LoyaltyCardPayload{}, false
	}
	return p, true
}

func strictPromoCode(fields map[string]any) (models.PromoCodePayload, bool) {
	if !typeMatches(fields, "promo_code", "promocode", "promo") {
		return models.PromoCodePayload{}, false
	}
	if !onlyKeys(fields, "type", "code", "businessId", "business_id") {
		return models.PromoCodePayload{}, false
	}
	p := models.PromoCodePayload{
		Code:       stringField(fields, "code"),
		BusinessID: stringField(fields, "businessId", "business_id"),
	}
	if p.Code == "" || p.BusinessID == "" {
		return models.PromoCodePayload{}, false
	}
	return p, true
}

// lenientCustomer normalizes legacy customer payloads: `id` stands in for a
// missing customerId, and `customerName`/`name` are interchangeable. The
// type tag, when present, must still point at a customer.
func lenientCustomer(fields map[string]any) (models.CustomerPayload, bool) {
	typeMentionsCustomer := false
	if raw, ok := fields["type"]; ok {
		s, isStr := raw.(string)
		if !isStr || !strings.Contains(strings.ToLower(s), "customer") {
			return models.CustomerPayload{}, false
		}
		typeMentionsCustomer = true
	}
	id := stringField(fields, "customerId", "customer_id")
	if id == "" {
		// The bare `id` fallback needs a customer-ish type tag; otherwise
		// any object with an id field would classify as a customer.
		if !typeMentionsCustomer {
			return models.CustomerPayload{}, false
		}
		id = stringField(fields, "id")
	}
	if id == "" {
		return models.CustomerPayload{}, false
	}
	return models.CustomerPayload{
		CustomerID: id,
		BusinessID: stringField(fields, "businessId", "business_id"),
		Name:       stringField(fields, "customerName", "customer_name", "name"),
	}, true
}

// salvageCustomer synthesizes a best-effort customer payload when any field
// value mentions "customer" but strict and lenient validation both failed.
// Rejecting outright would drop real customers behind malformed producers.
func salvageCustomer(fields map[string]any, rawText string) (models.CustomerPayload, bool) {
	mentioned := false
	for _, v := range fields {
		s, ok := v.(string)
		if ok && strings.Contains(strings.ToLower(s), "customer") {
			mentioned = true
			break
		}
	}
	if !mentioned {
		return models.CustomerPayload{}, false
	}
	id := stringField(fields, "customerId", "customer_id", "id")
	if id == "" {
		id = rawText
	}
	return models.CustomerPayload{
		CustomerID: id,
		BusinessID: stringField(fields, "businessId", "business_id"),
		Name:       stringField(fields, "customerName", "customer_name", "name"),
	}, true
}
