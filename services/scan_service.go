package services

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"loyalty-scan-system/models"

	"github.com/google/uuid"
)

// ScanService is the ingest pipeline: gate → classifier → orchestrator.
// One instance per scanner source; the gate serializes its bursts.
type ScanService struct {
	cfg          *Config
	classifier   *PayloadClassifier
	orchestrator *AwardOrchestrator
	gate         *ScanIngestGate
}

func NewScanService(cfg *Config, classifier *PayloadClassifier, orchestrator *AwardOrchestrator) *ScanService {
	s := &ScanService{
		cfg:          cfg,
		classifier:   classifier,
		orchestrator: orchestrator,
	}
	s.gate = NewScanIngestGate(cfg.GateConfig(), &ScanGateState{}, s.process)
	return s
}

// Submit runs one decoded scan through the ingest gate. Accepted scans are
// classified and awarded before Submit returns; award outcomes surface
// through the event stream.
func (s *ScanService) Submit(rawText string, capturedAt time.Time) SubmitResult {
	if capturedAt.IsZero() {
		capturedAt = time.Now()
	}
	return s.gate.Submit(rawText, capturedAt)
}

// process handles one accepted scan. Always releases the gate so pending
// scans replay.
func (s *ScanService) process(rawText string, capturedAt time.Time) {
	defer s.gate.Complete()

	payload := s.classifier.Classify(rawText)

	var req models.AwardRequest
	switch p := payload.(type) {
	case models.CustomerPayload:
		businessID := p.BusinessID
		if businessID == "" {
			businessID = s.cfg.DefaultBusinessID
		}
		req = models.AwardRequest{
			TransactionRef: NewTransactionRef(),
			CustomerID:     p.CustomerID,
			ProgramID:      s.cfg.DefaultProgramID,
			BusinessID:     businessID,
			Points:         s.cfg.ScanAwardPoints,
			Source:         models.AwardSourceScan,
			Description:    "Points for scan visit",
			CreatedAt:      capturedAt,
			Status:         models.AwardStatusCreated,
		}
	case models.LoyaltyCardPayload:
		req = models.AwardRequest{
			TransactionRef: NewTransactionRef(),
			CustomerID:     p.CustomerID,
			ProgramID:      p.ProgramID,
			BusinessID:     p.BusinessID,
			Points:         s.cfg.ScanAwardPoints,
			Source:         models.AwardSourceScan,
			Description:    fmt.Sprintf("Points for card %s scan", p.CardID),
			CreatedAt:      capturedAt,
			Status:         models.AwardStatusCreated,
		}
	case models.PromoCodePayload:
		// Promo redemption rules live outside this service.
		log.Printf("🎟️  Promo code %s scanned for business %s, no award", p.Code, p.BusinessID)
		return
	default:
		log.Printf("⚠️  Unclassifiable scan dropped: %.48q", rawText)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	outcome, err := s.orchestrator.AwardPoints(ctx, req)
	if err != nil {
		log.Printf("❌ Scan award failed for customer %s (ref %s): %v",
			req.CustomerID, req.TransactionRef, err)
		return
	}
	if outcome.Deferred {
		log.Printf("✅ Scan award for customer %s will sync later (ref %s)",
			req.CustomerID, req.TransactionRef)
		return
	}
	log.Printf("✅ Scan award for customer %s committed via tier %d (ref %s)",
		req.CustomerID, outcome.TierUsed, req.TransactionRef)
}

// NewTransactionRef composes the idempotency key from timestamp plus random
// uuid. Collisions are treated as negligible; the ledger's unique index
// turns any collision into a no-op rather than a double credit.
func NewTransactionRef() string {
	return fmt.Sprintf("txn-%d-%s", time.Now().UnixMilli(),
		strings.Split(uuid.NewString(), "-")[0])
}
