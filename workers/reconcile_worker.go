package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"loyalty-scan-system/models"
	"loyalty-scan-system/services"
	"loyalty-scan-system/utils"

	"github.com/go-co-op/gocron/v2"
)

// ReconcileWorker drains the offline queue: on every sweep it re-runs the
// full tier sequence (from tier 1 — connectivity may have changed) for each
// due entry, with exponential backoff between failures and abandonment after
// too many attempts or too much age.
type ReconcileWorker struct {
	store  services.OfflineQueueStore
	cards  services.CardDirectory
	tiers  []services.AwardTier
	events services.EventRecorder
	cfg    services.ReconcileConfig
	wake   chan struct{}
}

func NewReconcileWorker(store services.OfflineQueueStore, cards services.CardDirectory, tiers []services.AwardTier, events services.EventRecorder, cfg services.ReconcileConfig) *ReconcileWorker {
	return &ReconcileWorker{
		store:  store,
		cards:  cards,
		tiers:  tiers,
		events: events,
		cfg:    cfg,
		wake:   make(chan struct{}, 1),
	}
}

// Start schedules periodic sweeps and listens for wake signals
// (connectivity-restored events trigger a sweep outside the schedule).
func (w *ReconcileWorker) Start(ctx context.Context) {
	interval := time.Duration(w.cfg.IntervalSeconds) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}

	sched, err := gocron.NewScheduler()
	if err != nil {
		log.Printf("❌ Failed to create reconcile scheduler: %v", err)
		return
	}
	_, err = sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			if err := w.Reconcile(ctx); err != nil {
				log.Printf("❌ Reconcile sweep failed: %v", err)
			}
		}),
	)
	if err != nil {
		log.Printf("❌ Failed to schedule reconcile job: %v", err)
		return
	}
	sched.Start()
	log.Printf("🔁 Reconcile worker running (every %s)", interval)

	go func() {
		for {
			select {
			case <-ctx.Done():
				_ = sched.Shutdown()
				log.Println("⏹️ Reconcile worker stopped")
				return
			case <-w.wake:
				if err := w.Reconcile(ctx); err != nil {
					log.Printf("❌ Triggered reconcile sweep failed: %v", err)
				}
			}
		}
	}()
}

// Wake triggers a sweep outside the schedule. Non-blocking; a sweep already
// pending absorbs the signal.
func (w *ReconcileWorker) Wake() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Reconcile runs one sweep over due Pending entries in FIFO enqueue order.
// Entries stranded InFlight by a dead sweep are reclaimed first so the award
// is retried instead of silently dropped.
func (w *ReconcileWorker) Reconcile(ctx context.Context) error {
	now := time.Now().UTC()

	if n, err := w.store.ReclaimStale(ctx, now.Add(-w.staleClaimAge())); err != nil {
		log.Printf("⚠️ Failed to reclaim stale in-flight entries: %v", err)
	} else if n > 0 {
		log.Printf("♻️ Reclaimed %d stale in-flight queue entries", n)
	}

	entries, err := w.store.PendingDue(ctx, now, w.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("loading due queue entries: %w", err)
	}
	if len(entries) == 0 {
		return nil
	}
	log.Printf("🔁 Reconciling %d queued award(s)…", len(entries))

	for i := range entries {
		entry := &entries[i]
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		w.reconcileEntry(ctx, entry, now)
	}
	return nil
}

func (w *ReconcileWorker) reconcileEntry(ctx context.Context, entry *models.OfflineQueueEntry, now time.Time) {
	// The InFlight claim is the mutual exclusion against a concurrently
	// triggered second sweep; the loser skips.
	claimed, err := w.store.Claim(ctx, entry.ID)
	if err != nil {
		log.Printf("⚠️ Failed to claim queue entry %s: %v", entry.ID, err)
		return
	}
	if !claimed {
		return
	}

	if w.shouldAbandon(entry, now) {
		w.abandon(ctx, entry)
		return
	}

	req := entry.Request()
	card, err := w.cards.EnsureCard(ctx, req.CustomerID, req.BusinessID, req.ProgramID)
	if err != nil {
		w.release(ctx, entry, err)
		return
	}

	tierUsed, err := services.RunTierSequence(ctx, w.tiers, req, card)
	if err != nil {
		w.release(ctx, entry, err)
		return
	}

	if err := w.store.MarkSynced(ctx, entry.ID); err != nil {
		log.Printf("⚠️ Synced entry %s but failed to record it: %v", entry.ID, err)
		return
	}
	if w.events != nil {
		w.events.RecordAward(ctx, models.AwardEvent{
			CustomerID: req.CustomerID,
			BusinessID: req.BusinessID,
			ProgramID:  req.ProgramID,
			Points:     req.Points,
		})
	}
	log.Printf("✅ Reconciled award %s via tier %d (%d points, customer %s)",
		req.TransactionRef, tierUsed, req.Points, req.CustomerID)
}

// staleClaimAge is how long an InFlight claim may sit before it is presumed
// dead: several sweep intervals, floored so a short interval cannot reclaim
// a claim that is merely slow.
func (w *ReconcileWorker) staleClaimAge() time.Duration {
	age := 10 * time.Duration(w.cfg.IntervalSeconds) * time.Second
	if age < 10*time.Minute {
		age = 10 * time.Minute
	}
	return age
}

func (w *ReconcileWorker) shouldAbandon(entry *models.OfflineQueueEntry, now time.Time) bool {
	if w.cfg.MaxAttempts > 0 && entry.AttemptCount >= w.cfg.MaxAttempts {
		return true
	}
	maxAge := time.Duration(w.cfg.MaxAgeHours) * time.Hour
	return maxAge > 0 && now.Sub(entry.EnqueuedAt) > maxAge
}

// release puts the entry back to Pending with exponential backoff.
func (w *ReconcileWorker) release(ctx context.Context, entry *models.OfflineQueueEntry, attemptErr error) {
	base := time.Duration(w.cfg.BackoffBaseSeconds) * time.Second
	if base <= 0 {
		base = 30 * time.Second
	}
	backoff := base << uint(entry.AttemptCount)
	if backoff > time.Hour {
		backoff = time.Hour
	}
	next := time.Now().UTC().Add(backoff)
	if err := w.store.Release(ctx, entry, attemptErr, next); err != nil {
		log.Printf("⚠️ Failed to release queue entry %s: %v", entry.ID, err)
		return
	}
	log.Printf("⏳ Award %s still failing (attempt %d), next try in %s: %v",
		entry.TransactionRef, entry.AttemptCount+1, backoff, attemptErr)
}

// abandon is terminal: reported via audit log and archived, never retried.
func (w *ReconcileWorker) abandon(ctx context.Context, entry *models.OfflineQueueEntry) {
	reason := fmt.Sprintf("abandoned after %d attempts (enqueued %s)",
		entry.AttemptCount, entry.EnqueuedAt.Format(time.RFC3339))
	if err := w.store.Abandon(ctx, entry, reason); err != nil {
		log.Printf("⚠️ Failed to mark entry %s abandoned: %v", entry.ID, err)
		return
	}
	log.Printf("🚨 ABANDONED award %s: %s (customer %s, %d points)",
		entry.TransactionRef, reason, entry.CustomerID, entry.Points)

	// Best-effort archive for offline audit.
	doc, err := json.Marshal(entry)
	if err == nil {
		key := fmt.Sprintf("abandoned-awards/%s/%s.json",
			entry.EnqueuedAt.Format("2006-01-02"), entry.TransactionRef)
		if err := utils.ArchiveJSON(ctx, key, doc); err != nil {
			log.Printf("⚠️ Failed to archive abandoned entry %s: %v", entry.TransactionRef, err)
		}
	}
}
