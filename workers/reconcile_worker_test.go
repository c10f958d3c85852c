package workers

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"loyalty-scan-system/models"
	"loyalty-scan-system/services"
)

// memQueueStore is an in-memory stand-in for the PostgreSQL-backed store.
type memQueueStore struct {
	mu       sync.Mutex
	entries  map[string]*models.OfflineQueueEntry
	order    []string
	released []time.Time
}

func newMemQueueStore() *memQueueStore {
	return &memQueueStore{entries: map[string]*models.OfflineQueueEntry{}}
}

func (s *memQueueStore) add(entry models.OfflineQueueEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := entry
	s.entries[e.ID] = &e
	s.order = append(s.order, e.ID)
}

func (s *memQueueStore) get(id string) models.OfflineQueueEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.entries[id]
}

func (s *memQueueStore) Enqueue(_ context.Context, req models.AwardRequest) error {
	s.add(models.OfflineQueueEntry{
		ID:             req.TransactionRef,
		TransactionRef: req.TransactionRef,
		CustomerID:     req.CustomerID,
		ProgramID:      req.ProgramID,
		BusinessID:     req.BusinessID,
		Points:         req.Points,
		SyncState:      models.SyncStatePending,
		EnqueuedAt:     time.Now().UTC(),
		NextAttemptAt:  time.Now().UTC(),
	})
	return nil
}

func (s *memQueueStore) PendingDue(_ context.Context, now time.Time, limit int) ([]models.OfflineQueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []models.OfflineQueueEntry
	for _, id := range s.order {
		e := s.entries[id]
		if e.SyncState == models.SyncStatePending && !e.NextAttemptAt.After(now) {
			due = append(due, *e)
			if limit > 0 && len(due) == limit {
				break
			}
		}
	}
	return due, nil
}

func (s *memQueueStore) Claim(_ context.Context, entryID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[entryID]
	if !ok || e.SyncState != models.SyncStatePending {
		return false, nil
	}
	e.SyncState = models.SyncStateInFlight
	e.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (s *memQueueStore) ReclaimStale(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, e := range s.entries {
		if e.SyncState == models.SyncStateInFlight && e.UpdatedAt.Before(cutoff) {
			e.SyncState = models.SyncStatePending
			n++
		}
	}
	return n, nil
}

func (s *memQueueStore) MarkSynced(_ context.Context, entryID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[entryID].SyncState = models.SyncStateSynced
	return nil
}

func (s *memQueueStore) Release(_ context.Context, entry *models.OfflineQueueEntry, attemptErr error, nextAttemptAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entries[entry.ID]
	e.SyncState = models.SyncStatePending
	e.AttemptCount = entry.AttemptCount + 1
	e.NextAttemptAt = nextAttemptAt
	if attemptErr != nil {
		e.LastError = attemptErr.Error()
	}
	s.released = append(s.released, nextAttemptAt)
	return nil
}

func (s *memQueueStore) Abandon(_ context.Context, entry *models.OfflineQueueEntry, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entries[entry.ID]
	e.SyncState = models.SyncStateAbandoned
	e.LastError = reason
	return nil
}

type stubDirectory struct {
	err error
}

func (d *stubDirectory) EnsureCard(_ context.Context, customerID, businessID, programID string) (*models.Card, error) {
	if d.err != nil {
		return nil, d.err
	}
	return &models.Card{
		ID:         "card-1",
		CustomerID: customerID,
		BusinessID: businessID,
		ProgramID:  programID,
		IsActive:   true,
	}, nil
}

// recordingTier records each ref it is asked to credit and fails until the
// backend is marked up.
type recordingTier struct {
	mu   sync.Mutex
	up   bool
	refs []string
}

func (t *recordingTier) Name() string { return "recording" }

func (t *recordingTier) Attempt(_ context.Context, req models.AwardRequest, _ *models.Card) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.up {
		return &services.TransientError{Err: errors.New("backend down")}
	}
	t.refs = append(t.refs, req.TransactionRef)
	return nil
}

func (t *recordingTier) setUp(up bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.up = up
}

func (t *recordingTier) credited() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.refs...)
}

func testReconcileConfig() services.ReconcileConfig {
	return services.ReconcileConfig{
		IntervalSeconds:    60,
		MaxAttempts:        8,
		MaxAgeHours:        72,
		BackoffBaseSeconds: 30,
		BatchSize:          25,
	}
}

func queuedEntry(ref string, enqueuedAt time.Time) models.OfflineQueueEntry {
	return models.OfflineQueueEntry{
		ID:             "entry-" + ref,
		TransactionRef: ref,
		CustomerID:     "42",
		ProgramID:      "p-7",
		BusinessID:     "b-1",
		Points:         10,
		SyncState:      models.SyncStatePending,
		EnqueuedAt:     enqueuedAt,
		NextAttemptAt:  enqueuedAt,
	}
}

func TestReconcileSyncsEachEntryOnce(t *testing.T) {
	store := newMemQueueStore()
	past := time.Now().UTC().Add(-time.Minute)
	store.add(queuedEntry("tx-a", past))
	store.add(queuedEntry("tx-b", past.Add(time.Second)))

	tier := &recordingTier{up: true}
	w := NewReconcileWorker(store, &stubDirectory{}, []services.AwardTier{tier}, nil, testReconcileConfig())

	if err := w.Reconcile(context.Background()); err != nil {
		t.Fatalf("Reconcile() error: %v", err)
	}

	// FIFO by enqueue time, each exactly once.
	if got := tier.credited(); len(got) != 2 || got[0] != "tx-a" || got[1] != "tx-b" {
		t.Errorf("credited = %v, want [tx-a tx-b]", got)
	}
	for _, id := range []string{"entry-tx-a", "entry-tx-b"} {
		if state := store.get(id).SyncState; state != models.SyncStateSynced {
			t.Errorf("entry %s state = %v, want synced", id, state)
		}
	}

	// A second sweep finds nothing due.
	if err := w.Reconcile(context.Background()); err != nil {
		t.Fatalf("second Reconcile() error: %v", err)
	}
	if got := tier.credited(); len(got) != 2 {
		t.Errorf("entry re-credited after sync: %v", got)
	}
}

func TestReconcileBackoffGrowsPerAttempt(t *testing.T) {
	store := newMemQueueStore()
	entry := queuedEntry("tx-c", time.Now().UTC().Add(-time.Minute))
	store.add(entry)

	tier := &recordingTier{up: false}
	w := NewReconcileWorker(store, &stubDirectory{}, []services.AwardTier{tier}, nil, testReconcileConfig())

	// Three failing sweeps, forcing the entry due again before each.
	var delays []time.Duration
	for i := 0; i < 3; i++ {
		before := time.Now().UTC()
		if err := w.Reconcile(context.Background()); err != nil {
			t.Fatalf("Reconcile() error: %v", err)
		}
		got := store.get(entry.ID)
		if got.SyncState != models.SyncStatePending {
			t.Fatalf("attempt %d: state = %v, want pending", i+1, got.SyncState)
		}
		if got.AttemptCount != i+1 {
			t.Fatalf("attempt %d: AttemptCount = %d, want %d", i+1, got.AttemptCount, i+1)
		}
		delays = append(delays, got.NextAttemptAt.Sub(before))

		store.mu.Lock()
		store.entries[entry.ID].NextAttemptAt = time.Now().UTC().Add(-time.Second)
		store.mu.Unlock()
	}

	// 30s base doubling per attempt: 30s, 60s, 120s.
	for i, want := range []time.Duration{30 * time.Second, time.Minute, 2 * time.Minute} {
		if delays[i] < want-5*time.Second || delays[i] > want+5*time.Second {
			t.Errorf("backoff %d = %v, want about %v", i+1, delays[i], want)
		}
	}
	if got := store.get(entry.ID).LastError; got == "" {
		t.Error("LastError not recorded on release")
	}
}

func TestReconcileAbandonsAfterMaxAttempts(t *testing.T) {
	store := newMemQueueStore()
	entry := queuedEntry("tx-d", time.Now().UTC().Add(-time.Minute))
	entry.AttemptCount = 8
	store.add(entry)

	tier := &recordingTier{up: true}
	w := NewReconcileWorker(store, &stubDirectory{}, []services.AwardTier{tier}, nil, testReconcileConfig())

	if err := w.Reconcile(context.Background()); err != nil {
		t.Fatalf("Reconcile() error: %v", err)
	}

	got := store.get(entry.ID)
	if got.SyncState != models.SyncStateAbandoned {
		t.Errorf("state = %v, want abandoned", got.SyncState)
	}
	if got.LastError == "" {
		t.Error("abandonment reason not recorded")
	}
	// Abandonment is decided before any credit attempt.
	if credited := tier.credited(); len(credited) != 0 {
		t.Errorf("abandoned entry was credited: %v", credited)
	}
}

func TestReconcileAbandonsStaleEntries(t *testing.T) {
	store := newMemQueueStore()
	stale := queuedEntry("tx-e", time.Now().UTC().Add(-80*time.Hour))
	stale.NextAttemptAt = time.Now().UTC().Add(-time.Minute)
	store.add(stale)

	w := NewReconcileWorker(store, &stubDirectory{}, []services.AwardTier{&recordingTier{up: true}}, nil, testReconcileConfig())

	if err := w.Reconcile(context.Background()); err != nil {
		t.Fatalf("Reconcile() error: %v", err)
	}
	if state := store.get(stale.ID).SyncState; state != models.SyncStateAbandoned {
		t.Errorf("state = %v, want abandoned (older than max age)", state)
	}
}

func TestReconcileSkipsLostClaims(t *testing.T) {
	store := newMemQueueStore()
	entry := queuedEntry("tx-f", time.Now().UTC().Add(-time.Minute))
	store.add(entry)

	// Another sweep claimed the entry between PendingDue and Claim.
	store.mu.Lock()
	store.entries[entry.ID].SyncState = models.SyncStateInFlight
	store.mu.Unlock()

	tier := &recordingTier{up: true}
	w := NewReconcileWorker(store, &stubDirectory{}, []services.AwardTier{tier}, nil, testReconcileConfig())

	w.reconcileEntry(context.Background(), &entry, time.Now().UTC())

	if credited := tier.credited(); len(credited) != 0 {
		t.Errorf("lost claim still credited: %v", credited)
	}
	if state := store.get(entry.ID).SyncState; state != models.SyncStateInFlight {
		t.Errorf("state = %v, want in_flight untouched", state)
	}
}

func TestReconcileRecoversStaleClaims(t *testing.T) {
	store := newMemQueueStore()
	entry := queuedEntry("tx-h", time.Now().UTC().Add(-2*time.Hour))
	entry.SyncState = models.SyncStateInFlight
	entry.UpdatedAt = time.Now().UTC().Add(-2 * time.Hour)
	store.add(entry)

	tier := &recordingTier{up: true}
	w := NewReconcileWorker(store, &stubDirectory{}, []services.AwardTier{tier}, nil, testReconcileConfig())

	// The sweep that claimed this entry died; the next sweep reclaims and
	// syncs it instead of leaving it stranded.
	if err := w.Reconcile(context.Background()); err != nil {
		t.Fatalf("Reconcile() error: %v", err)
	}

	if state := store.get(entry.ID).SyncState; state != models.SyncStateSynced {
		t.Errorf("state = %v, want synced", state)
	}
	if credited := tier.credited(); len(credited) != 1 || credited[0] != "tx-h" {
		t.Errorf("credited = %v, want [tx-h]", credited)
	}
}

func TestReconcileKeepsFreshClaims(t *testing.T) {
	store := newMemQueueStore()
	entry := queuedEntry("tx-i", time.Now().UTC().Add(-time.Minute))
	entry.SyncState = models.SyncStateInFlight
	entry.UpdatedAt = time.Now().UTC()
	store.add(entry)

	tier := &recordingTier{up: true}
	w := NewReconcileWorker(store, &stubDirectory{}, []services.AwardTier{tier}, nil, testReconcileConfig())

	if err := w.Reconcile(context.Background()); err != nil {
		t.Fatalf("Reconcile() error: %v", err)
	}

	// A claim held by a live concurrent sweep is left alone.
	if state := store.get(entry.ID).SyncState; state != models.SyncStateInFlight {
		t.Errorf("state = %v, want in_flight untouched", state)
	}
	if credited := tier.credited(); len(credited) != 0 {
		t.Errorf("fresh claim was credited: %v", credited)
	}
}

func TestReconcileReleasesOnEnrollmentFailure(t *testing.T) {
	store := newMemQueueStore()
	entry := queuedEntry("tx-g", time.Now().UTC().Add(-time.Minute))
	store.add(entry)

	dir := &stubDirectory{err: &services.EnrollmentError{Err: errors.New("db down")}}
	tier := &recordingTier{up: true}
	w := NewReconcileWorker(store, dir, []services.AwardTier{tier}, nil, testReconcileConfig())

	if err := w.Reconcile(context.Background()); err != nil {
		t.Fatalf("Reconcile() error: %v", err)
	}

	got := store.get(entry.ID)
	if got.SyncState != models.SyncStatePending || got.AttemptCount != 1 {
		t.Errorf("entry = state %v attempts %d, want pending with 1 attempt", got.SyncState, got.AttemptCount)
	}
	if credited := tier.credited(); len(credited) != 0 {
		t.Errorf("credited without a card: %v", credited)
	}
}

func TestWakeIsNonBlocking(t *testing.T) {
	w := NewReconcileWorker(newMemQueueStore(), &stubDirectory{}, nil, nil, testReconcileConfig())

	// Repeated wakes without a running worker must not block.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			w.Wake()
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Wake() blocked")
	}
}
