// workers/customer_sync_worker.go
package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"

	"loyalty-scan-system/models"
	"loyalty-scan-system/utils"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MirroredCustomerProfile matches the JSON response from the profile sync
// service.
type MirroredCustomerProfile struct {
	ID          string    `json:"id"`
	ExternalID  string    `json:"external_id"`
	Name        string    `json:"name"`
	Email       string    `json:"email"`
	PhoneNumber *string   `json:"phone_number,omitempty"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// GetCustomerChangesResponse is the top-level structure of the sync service
// response.
type GetCustomerChangesResponse struct {
	Customers []MirroredCustomerProfile `json:"customers"`
}

// CustomerSyncWorker mirrors customer profiles into customer_mirrors so
// enrollment creation can attach a display name without a live profile call.
type CustomerSyncWorker struct {
	db           *gorm.DB
	interval     time.Duration
	baseURL      string
	endpointPath string
	serviceToken string
	httpClient   *http.Client
}

func NewCustomerSyncWorker(db *gorm.DB, syncServiceBaseURL, endpointPath, serviceToken string) *CustomerSyncWorker {
	return &CustomerSyncWorker{
		db:           db,
		interval:     1 * time.Minute,
		baseURL:      syncServiceBaseURL,
		endpointPath: endpointPath,
		serviceToken: serviceToken,
		httpClient:   utils.HTTPClient,
	}
}

func (w *CustomerSyncWorker) Start(ctx context.Context) {
	log.Println("🔁 Starting Customer Sync Worker (profile service → customer_mirrors)…")
	go w.run(ctx)
}

func (w *CustomerSyncWorker) run(ctx context.Context) {
	// Initial backfill from the beginning of time.
	if err := w.syncBatch(ctx, time.Time{}); err != nil {
		log.Printf("⚠️ Initial customer sync failed: %v", err)
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			lastSyncTime := w.getLastSyncTime()
			if err := w.syncBatch(ctx, lastSyncTime); err != nil {
				log.Printf("❌ Customer sync batch failed: %v", err)
			}
		case <-ctx.Done():
			log.Println("⏹️ Customer Sync Worker stopped")
			return
		}
	}
}

// getLastSyncTime finds the most recent UpdatedAt in customer_mirrors.
func (w *CustomerSyncWorker) getLastSyncTime() time.Time {
	var lastTime time.Time
	err := w.db.Raw("SELECT MAX(updated_at) FROM customer_mirrors WHERE deleted_at IS NULL").Scan(&lastTime).Error
	if err != nil || lastTime.IsZero() {
		return time.Unix(0, 0)
	}
	return lastTime
}

// syncBatch fetches customer changes since the cursor and upserts them
// locally.
func (w *CustomerSyncWorker) syncBatch(ctx context.Context, since time.Time) error {
	sinceStr := since.UTC().Format(time.RFC3339)

	base, err := url.Parse(w.baseURL)
	if err != nil {
		return fmt.Errorf("invalid sync service URL %q: %w", w.baseURL, err)
	}
	endpointURL := base.JoinPath(w.endpointPath)
	q := endpointURL.Query()
	q.Set("since", sinceStr)
	endpointURL.RawQuery = q.Encode()
	finalURL := endpointURL.String()

	req, err := http.NewRequestWithContext(ctx, "GET", finalURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request to %s: %w", finalURL, err)
	}
	req.Header.Set("X-Service-Token", w.serviceToken)

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request to sync service failed: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("sync service non-200 response: %d — %s", resp.StatusCode, string(body))
	}

	var response GetCustomerChangesResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return fmt.Errorf("failed to decode sync service response: %w", err)
	}

	if len(response.Customers) == 0 {
		return nil
	}

	var upsertCount, errorCount int
	for _, remote := range response.Customers {
		local := models.CustomerMirror{
			ExternalCustomerID: remote.ExternalID,
			Name:               remote.Name,
			Email:              remote.Email,
			PhoneNumber:        remote.PhoneNumber,
			IsActive:           remote.IsActive,
			CreatedAt:          remote.CreatedAt,
			UpdatedAt:          remote.UpdatedAt,
		}

		if err := w.db.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "external_customer_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"name", "email", "phone_number", "is_active", "created_at", "updated_at",
			}),
		}).Create(&local).Error; err != nil {
			errorCount++
			log.Printf("[SYNC] ⚠️ Failed to upsert customer_mirror (external_id=%q): %v",
				remote.ExternalID, err)
		} else {
			upsertCount++
		}
	}

	log.Printf("[SYNC] ✅ Synced %d customer(s) since %s (%d upserted, %d errors)",
		len(response.Customers), sinceStr, upsertCount, errorCount)
	return nil
}
