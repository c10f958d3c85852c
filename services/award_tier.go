package services

import (
	"context"
	"errors"

	"loyalty-scan-system/models"
)

// AwardTier is one candidate execution path for crediting points. Tiers are
// tried in a fixed priority order; each attempt carries the same
// transactionRef so that retries cannot double-credit.
type AwardTier interface {
	Name() string
	Attempt(ctx context.Context, req models.AwardRequest, card *models.Card) error
}

// RemoteAwardTier credits through one remote loyalty backend.
type RemoteAwardTier struct {
	Client *LoyaltyBackendClient
}

func (t *RemoteAwardTier) Name() string { return t.Client.Name }

func (t *RemoteAwardTier) Attempt(ctx context.Context, req models.AwardRequest, _ *models.Card) error {
	return t.Client.AwardPoints(ctx, req)
}

// DirectCreditTier is the last synchronous resort: one atomic transactional
// credit against the local store.
type DirectCreditTier struct {
	Cards *CardService
}

func (t *DirectCreditTier) Name() string { return "direct-credit" }

func (t *DirectCreditTier) Attempt(ctx context.Context, req models.AwardRequest, card *models.Card) error {
	return t.Cards.CreditCard(ctx, card.ID, req)
}

// RunTierSequence walks the tier list in priority order. Transient failures
// fall through to the next tier; the first success or permanent failure
// stops the walk. Returns the 1-based tier that succeeded.
func RunTierSequence(ctx context.Context, tiers []AwardTier, req models.AwardRequest, card *models.Card) (int, error) {
	var lastErr error
	for i, tier := range tiers {
		err := tier.Attempt(ctx, req, card)
		if err == nil {
			return i + 1, nil
		}
		if Transient(err) {
			lastErr = err
			continue
		}
		return 0, err
	}
	if lastErr == nil {
		lastErr = &TransientError{Err: errors.New("no award tiers configured")}
	}
	return 0, lastErr
}
