// handlers/scan_routes.go
package handlers

import (
	"errors"
	"strconv"
	"time"

	"loyalty-scan-system/models"
	"loyalty-scan-system/services"
	"loyalty-scan-system/workers"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// SetupScanRoutes wires the scan ingest, award and queue endpoints. The
// gateway forwards paths like /api/v1/loyalty/s/scan -> /s/scan.
func SetupScanRoutes(app *fiber.App,
	scanService *services.ScanService,
	orchestrator *services.AwardOrchestrator,
	cardService *services.CardService,
	queue *services.GormOfflineQueue,
	eventService *services.EventService,
	reconciler *workers.ReconcileWorker,
) {
	// Scan ingest: decoded text + capture timestamp from the camera source.
	app.Post("/s/scan", func(c *fiber.Ctx) error {
		var req struct {
			RawText    string     `json:"raw_text"`
			CapturedAt *time.Time `json:"captured_at"`
			SourceID   string     `json:"source_id"`
		}
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
		}
		if req.RawText == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "raw_text is required"})
		}

		capturedAt := time.Now()
		if req.CapturedAt != nil {
			capturedAt = *req.CapturedAt
		}

		result := scanService.Submit(req.RawText, capturedAt)
		switch result.Status {
		case services.SubmitDroppedRateLimit:
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"status":           result.Status,
				"reset_in_seconds": int(result.ResetIn.Seconds()),
			})
		case services.SubmitDroppedDuplicate:
			// Silent drop, not an error.
			return c.JSON(fiber.Map{"status": result.Status})
		default:
			return c.Status(fiber.StatusAccepted).JSON(result)
		}
	})

	// Manual and quick awards bypass the gate but not the orchestrator.
	app.Post("/s/awards", func(c *fiber.Ctx) error {
		var req struct {
			CustomerID     string `json:"customer_id"`
			ProgramID      string `json:"program_id"`
			BusinessID     string `json:"business_id"`
			Points         int64  `json:"points"`
			Description    string `json:"description"`
			Source         string `json:"source"`
			TransactionRef string `json:"transaction_ref"`
		}
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
		}
		if req.CustomerID == "" || req.ProgramID == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "customer_id and program_id are required"})
		}
		if req.Points <= 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "points must be a positive integer"})
		}

		source := models.AwardSourceManual
		if req.Source == string(models.AwardSourceQuick) {
			source = models.AwardSourceQuick
		}
		ref := req.TransactionRef
		if ref == "" {
			ref = services.NewTransactionRef()
		}

		outcome, err := orchestrator.AwardPoints(c.Context(), models.AwardRequest{
			TransactionRef: ref,
			CustomerID:     req.CustomerID,
			ProgramID:      req.ProgramID,
			BusinessID:     req.BusinessID,
			Points:         req.Points,
			Source:         source,
			Description:    req.Description,
			CreatedAt:      time.Now(),
			Status:         models.AwardStatusCreated,
		})
		if err != nil {
			if errors.Is(err, services.ErrAttemptInProgress) {
				return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "award already in progress", "transaction_ref": ref})
			}
			if errors.Is(err, services.ErrInvalidPoints) {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
			}
			status := fiber.StatusBadGateway
			if services.Permanent(err) {
				status = fiber.StatusUnprocessableEntity
			}
			return c.Status(status).JSON(fiber.Map{"error": err.Error(), "transaction_ref": ref})
		}

		body := fiber.Map{
			"outcome":         outcome,
			"transaction_ref": ref,
		}
		if outcome.Deferred {
			// Deferred presents identically to success, with the marker only.
			body["will_sync"] = true
		}
		return c.JSON(body)
	})

	// Card lookup for the scanner UI.
	app.Get("/s/cards/:customerId", func(c *fiber.Ctx) error {
		customerID := c.Params("customerId")
		programID := c.Query("program_id")
		if programID == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "program_id is required"})
		}

		card, err := cardService.GetCard(c.Context(), customerID, programID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Card not found"})
			}
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "DB error"})
		}
		return c.JSON(card)
	})

	// Offline queue inspection.
	app.Get("/s/queue", func(c *fiber.Ctx) error {
		limit, _ := strconv.Atoi(c.Query("limit"))
		state := models.SyncState(c.Query("state"))

		entries, err := queue.ListEntries(c.Context(), state, limit)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to fetch queue entries"})
		}
		return c.JSON(fiber.Map{"entries": entries, "count": len(entries)})
	})

	// Connectivity-restored trigger: wake the reconcile worker now.
	app.Post("/s/queue/reconcile", func(c *fiber.Ctx) error {
		reconciler.Wake()
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"message": "Reconcile sweep triggered"})
	})

	// Recent award events + live SSE stream for notification consumers.
	app.Get("/s/events", func(c *fiber.Ctx) error {
		customerID := c.Query("customer_id")
		if customerID == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "customer_id is required"})
		}
		limit, _ := strconv.Atoi(c.Query("limit"))
		events, err := eventService.RecentEvents(c.Context(), customerID, limit)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to fetch events"})
		}
		return c.JSON(events)
	})
	app.Get("/s/events/stream", eventService.StreamAwardEventsSSE)
}
