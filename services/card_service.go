package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"loyalty-scan-system/models"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"gorm.io/gorm"
)

// CardDirectory resolves the active card an award should land on,
// enrolling the customer and materializing the card if needed.
type CardDirectory interface {
	EnsureCard(ctx context.Context, customerID, businessID, programID string) (*models.Card, error)
}

// CardService owns card, program and enrollment records in the local store.
type CardService struct {
	DB *gorm.DB
}

func NewCardService(db *gorm.DB) *CardService {
	return &CardService{DB: db}
}

// EnsureCard resolves the active card for (customer, business, program).
// Absent enrollment creates enrollment + card as one logical step; enrolled
// but cardless (drift) materializes the card only. Failures here are
// EnrollmentError: fatal for this attempt, eligible for the bounded outer
// retry, never for tier fallback.
func (s *CardService) EnsureCard(ctx context.Context, customerID, businessID, programID string) (*models.Card, error) {
	var card models.Card
	err := s.DB.WithContext(ctx).
		Where("customer_id = ? AND business_id = ? AND program_id = ? AND is_active = ?",
			customerID, businessID, programID, true).
		First(&card).Error
	if err == nil {
		return &card, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &EnrollmentError{Err: fmt.Errorf("card lookup: %w", err)}
	}

	var enrollment models.Enrollment
	err = s.DB.WithContext(ctx).
		Where("customer_id = ? AND program_id = ?", customerID, programID).
		First(&enrollment).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return s.enrollAndMaterialize(ctx, customerID, businessID, programID)
	case err != nil:
		return nil, &EnrollmentError{Err: fmt.Errorf("enrollment lookup: %w", err)}
	default:
		// Enrolled but the card is missing: repair the drift.
		return s.materializeCard(ctx, customerID, businessID, programID)
	}
}

// enrollAndMaterialize creates enrollment and card atomically. The program
// row is created on first sight of a new program id (enroll-if-absent is the
// only enrollment business rule this service owns).
func (s *CardService) enrollAndMaterialize(ctx context.Context, customerID, businessID, programID string) (*models.Card, error) {
	var created *models.Card
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var program models.Program
		if err := tx.Where("id = ?", programID).First(&program).Error; err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
			program = models.Program{
				ID:         programID,
				BusinessID: businessID,
				Name:       fmt.Sprintf("Program %s", shortID(programID)),
				IsActive:   true,
			}
			program.Slug = slug.Make(program.Name)
			if err := tx.Create(&program).Error; err != nil {
				return err
			}
		}

		enrollment := models.Enrollment{
			ID:         uuid.NewString(),
			CustomerID: customerID,
			ProgramID:  programID,
			BusinessID: businessID,
		}
		if err := tx.Create(&enrollment).Error; err != nil {
			return err
		}

		card := models.Card{
			ID:            uuid.NewString(),
			CardNumber:    NewCardNumber(),
			CustomerID:    customerID,
			ProgramID:     programID,
			BusinessID:    businessID,
			PointsBalance: 0,
			TotalEarned:   0,
			IsActive:      true,
		}
		if err := tx.Create(&card).Error; err != nil {
			return err
		}
		created = &card
		return nil
	})
	if err != nil {
		return nil, &EnrollmentError{Err: fmt.Errorf("enroll customer %s in program %s: %w", customerID, programID, err)}
	}
	log.Printf("✅ Enrolled customer %s in program %s (card %s)", customerID, programID, created.CardNumber)
	return created, nil
}

func (s *CardService) materializeCard(ctx context.Context, customerID, businessID, programID string) (*models.Card, error) {
	card := models.Card{
		ID:            uuid.NewString(),
		CardNumber:    NewCardNumber(),
		CustomerID:    customerID,
		ProgramID:     programID,
		BusinessID:    businessID,
		PointsBalance: 0,
		TotalEarned:   0,
		IsActive:      true,
	}
	if err := s.DB.WithContext(ctx).Create(&card).Error; err != nil {
		return nil, &EnrollmentError{Err: fmt.Errorf("materialize card for customer %s: %w", customerID, err)}
	}
	log.Printf("✅ Materialized card %s for enrolled customer %s", card.CardNumber, customerID)
	return &card, nil
}

// CreditCard applies one atomic credit: balance update plus immutable
// transaction record, all or nothing. The unique index on transaction_ref
// makes replays no-ops — a second call with the same ref reports success
// without touching the balance.
func (s *CardService) CreditCard(ctx context.Context, cardID string, req models.AwardRequest) error {
	if req.Points <= 0 {
		return &PermanentError{Err: ErrInvalidPoints}
	}
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.PointTransaction
		err := tx.Where("transaction_ref = ?", req.TransactionRef).First(&existing).Error
		if err == nil {
			log.Printf("↩️  Credit for ref %s already committed, skipping", req.TransactionRef)
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		var card models.Card
		if err := tx.Where("id = ?", cardID).First(&card).Error; err != nil {
			return fmt.Errorf("card %s not found: %w", cardID, err)
		}

		card.PointsBalance += req.Points
		card.TotalEarned += req.Points
		if err := tx.Save(&card).Error; err != nil {
			return err
		}

		record := models.PointTransaction{
			ID:             uuid.NewString(),
			TransactionRef: req.TransactionRef,
			CardID:         card.ID,
			CustomerID:     req.CustomerID,
			ProgramID:      req.ProgramID,
			Points:         req.Points,
			Source:         string(req.Source),
			Description:    req.Description,
		}
		if err := tx.Create(&record).Error; err != nil {
			return err
		}

		log.Printf("💳 Credited %d points to card %s (ref %s, balance %d)",
			req.Points, card.CardNumber, req.TransactionRef, card.PointsBalance)
		return nil
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		// Lost a race with a concurrent attempt for the same ref; the credit
		// is committed exactly once either way.
		log.Printf("↩️  Credit for ref %s committed concurrently, skipping", req.TransactionRef)
		return nil
	}
	return err
}

// GetCard returns the active card for a customer in a program, if any.
func (s *CardService) GetCard(ctx context.Context, customerID, programID string) (*models.Card, error) {
	var card models.Card
	err := s.DB.WithContext(ctx).
		Where("customer_id = ? AND program_id = ? AND is_active = ?", customerID, programID, true).
		First(&card).Error
	if err != nil {
		return nil, err
	}
	return &card, nil
}

// CustomerName looks up the mirrored display name, empty if unsynced.
func (s *CardService) CustomerName(ctx context.Context, customerID string) string {
	var mirror models.CustomerMirror
	if err := s.DB.WithContext(ctx).
		Where("external_customer_id = ?", customerID).
		First(&mirror).Error; err != nil {
		return ""
	}
	return mirror.Name
}

// NewCardNumber generates a unique human-readable card number.
func NewCardNumber() string {
	raw := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	return fmt.Sprintf("LC-%d-%s", time.Now().Year(), raw[:12])
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
