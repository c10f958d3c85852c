package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"loyalty-scan-system/models"
)

// LoyaltyBackendClient talks to one remote loyalty backend. Every mutating
// call carries the transactionRef; the backend contract is idempotent per
// ref, so replays after a timeout are safe.
type LoyaltyBackendClient struct {
	Name         string
	BaseURL      string
	ServiceToken string
	HTTPClient   *http.Client
}

func NewLoyaltyBackendClient(name, baseURL, serviceToken string, timeout time.Duration) *LoyaltyBackendClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &LoyaltyBackendClient{
		Name:         name,
		BaseURL:      baseURL,
		ServiceToken: serviceToken,
		HTTPClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type awardPointsPayload struct {
	TransactionRef string `json:"transaction_ref"`
	CustomerID     string `json:"customer_id"`
	ProgramID      string `json:"program_id"`
	BusinessID     string `json:"business_id"`
	Points         int64  `json:"points"`
	Source         string `json:"source"`
	Description    string `json:"description"`
}

type enrollmentPayload struct {
	CustomerID   string `json:"customer_id"`
	ProgramID    string `json:"program_id"`
	BusinessID   string `json:"business_id"`
	CustomerName string `json:"customer_name,omitempty"`
}

type EnrollmentResult struct {
	EnrollmentID string `json:"enrollment_id"`
	CardID       string `json:"card_id"`
	CardNumber   string `json:"card_number"`
	Created      bool   `json:"created"`
}

// AwardPoints executes the remote award operation.
func (c *LoyaltyBackendClient) AwardPoints(ctx context.Context, req models.AwardRequest) error {
	payload := awardPointsPayload{
		TransactionRef: req.TransactionRef,
		CustomerID:     req.CustomerID,
		ProgramID:      req.ProgramID,
		BusinessID:     req.BusinessID,
		Points:         req.Points,
		Source:         string(req.Source),
		Description:    req.Description,
	}
	return c.post(ctx, "/api/v1/loyalty/awards", payload, nil)
}

// ResolveOrCreateEnrollment ensures the customer is enrolled remotely and
// returns the backing card identifiers.
func (c *LoyaltyBackendClient) ResolveOrCreateEnrollment(ctx context.Context, customerID, programID, businessID, customerName string) (*EnrollmentResult, error) {
	payload := enrollmentPayload{
		CustomerID:   customerID,
		ProgramID:    programID,
		BusinessID:   businessID,
		CustomerName: customerName,
	}
	var out EnrollmentResult
	if err := c.post(ctx, "/api/v1/loyalty/enrollments", payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// MaterializeCard creates the persistent card record for an existing
// enrollment (drift repair).
func (c *LoyaltyBackendClient) MaterializeCard(ctx context.Context, customerID, programID, businessID string) (*EnrollmentResult, error) {
	payload := enrollmentPayload{
		CustomerID: customerID,
		ProgramID:  programID,
		BusinessID: businessID,
	}
	var out EnrollmentResult
	if err := c.post(ctx, "/api/v1/loyalty/cards", payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetCard fetches the remote view of a card.
func (c *LoyaltyBackendClient) GetCard(ctx context.Context, customerID, programID string) (*models.Card, error) {
	base, err := url.Parse(c.BaseURL)
	if err != nil {
		return nil, &PermanentError{Err: fmt.Errorf("invalid backend URL %q: %w", c.BaseURL, err)}
	}
	endpoint := base.JoinPath("/api/v1/loyalty/cards")
	q := endpoint.Query()
	q.Set("customer_id", customerID)
	q.Set("program_id", programID)
	endpoint.RawQuery = q.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, "GET", endpoint.String(), nil)
	if err != nil {
		return nil, &PermanentError{Err: err}
	}
	httpReq.Header.Set("X-Service-Token", c.ServiceToken)

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, &TransientError{Err: fmt.Errorf("backend %s: %w", c.Name, err)}
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if err := classifyStatus(c.Name, resp); err != nil {
		return nil, err
	}

	var card models.Card
	if err := json.NewDecoder(resp.Body).Decode(&card); err != nil {
		return nil, &TransientError{Err: fmt.Errorf("backend %s: decode card: %w", c.Name, err)}
	}
	return &card, nil
}

func (c *LoyaltyBackendClient) post(ctx context.Context, path string, payload any, out any) error {
	base, err := url.Parse(c.BaseURL)
	if err != nil {
		return &PermanentError{Err: fmt.Errorf("invalid backend URL %q: %w", c.BaseURL, err)}
	}
	endpoint := base.JoinPath(path)

	body, err := json.Marshal(payload)
	if err != nil {
		return &PermanentError{Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", endpoint.String(), bytes.NewReader(body))
	if err != nil {
		return &PermanentError{Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Service-Token", c.ServiceToken)

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		// Timeouts and connection failures: the call may have landed, which
		// is why the ref travels with every retry.
		return &TransientError{Err: fmt.Errorf("backend %s: %w", c.Name, err)}
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if err := classifyStatus(c.Name, resp); err != nil {
		return err
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return &TransientError{Err: fmt.Errorf("backend %s: decode response: %w", c.Name, err)}
		}
	}
	return nil
}

// classifyStatus maps HTTP status to the error taxonomy: 2xx success,
// 5xx and 429 transient, everything else permanent.
func classifyStatus(name string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	err := fmt.Errorf("backend %s returned status %d: %s", name, resp.StatusCode, string(body))
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return &TransientError{Err: err}
	}
	return &PermanentError{Err: err}
}
