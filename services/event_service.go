package services

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"loyalty-scan-system/models"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// EventService appends outbound award events and streams them to
// notification/UI consumers.
type EventService struct {
	DB *gorm.DB
}

func NewEventService(db *gorm.DB) *EventService {
	return &EventService{DB: db}
}

// RecordAward appends the domain event. A failed append never fails the
// award itself; the credit is already committed.
func (s *EventService) RecordAward(ctx context.Context, event models.AwardEvent) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if err := s.DB.WithContext(ctx).Create(&event).Error; err != nil {
		log.Printf("⚠️  Failed to record award event for customer %s: %v", event.CustomerID, err)
	}
}

// RecentEvents returns the latest award events for a customer.
func (s *EventService) RecentEvents(ctx context.Context, customerID string, limit int) ([]models.AwardEvent, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	var events []models.AwardEvent
	err := s.DB.WithContext(ctx).
		Where("customer_id = ?", customerID).
		Order("created_at DESC").
		Limit(limit).
		Find(&events).Error
	return events, err
}

// StreamAwardEventsSSE streams award events for a customer in real time.
func (s *EventService) StreamAwardEventsSSE(c *fiber.Ctx) error {
	customerID := c.Query("customer_id")
	if customerID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "customer_id is required"})
	}

	// SSE headers
	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no") // nginx

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()

		var lastMaxCreatedAt time.Time

		var latest models.AwardEvent
		if err := s.DB.
			Where("customer_id = ?", customerID).
			Order("created_at DESC").
			First(&latest).Error; err == nil {
			lastMaxCreatedAt = latest.CreatedAt
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			log.Printf("SSE init error for customer %s: %v", customerID, err)
		}

		// Initial keepalive (comment event)
		w.WriteString(":\n\n")
		w.Flush()

		for {
			select {
			case <-ticker.C:
				var newEvents []models.AwardEvent

				err := s.DB.
					Where("customer_id = ? AND created_at > ?", customerID, lastMaxCreatedAt).
					Order("created_at ASC").
					Find(&newEvents).Error
				if err != nil {
					log.Printf("SSE query error for customer %s: %v", customerID, err)
					continue
				}

				if len(newEvents) == 0 {
					continue
				}

				lastMaxCreatedAt = newEvents[len(newEvents)-1].CreatedAt

				for _, e := range newEvents {
					payload, _ := json.Marshal(e)
					fmt.Fprintf(w, "event: points_awarded\ndata: %s\n\n", payload)
				}

				if err := w.Flush(); err != nil {
					// Client disconnected
					return
				}

			case <-c.Context().Done():
				return
			}
		}
	})

	return nil
}
