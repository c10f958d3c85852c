package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"loyalty-scan-system/models"
)

type fakeDirectory struct {
	mu    sync.Mutex
	card  *models.Card
	errs  []error // consumed per call before returning card
	calls int
}

func (f *fakeDirectory) EnsureCard(_ context.Context, customerID, businessID, programID string) (*models.Card, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return nil, err
	}
	if f.card != nil {
		return f.card, nil
	}
	return &models.Card{
		ID:         "card-1",
		CustomerID: customerID,
		BusinessID: businessID,
		ProgramID:  programID,
		IsActive:   true,
	}, nil
}

type fakeQueue struct {
	mu      sync.Mutex
	entries []models.AwardRequest
}

func (f *fakeQueue) Enqueue(_ context.Context, req models.AwardRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, req)
	return nil
}

func (f *fakeQueue) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries)
}

// tierFunc adapts a function to the AwardTier interface.
type tierFunc struct {
	name string
	fn   func(ctx context.Context, req models.AwardRequest, card *models.Card) error
}

func (t tierFunc) Name() string { return t.name }
func (t tierFunc) Attempt(ctx context.Context, req models.AwardRequest, card *models.Card) error {
	return t.fn(ctx, req, card)
}

func okTier(name string) AwardTier {
	return tierFunc{name: name, fn: func(context.Context, models.AwardRequest, *models.Card) error {
		return nil
	}}
}

func transientTier(name string) AwardTier {
	return tierFunc{name: name, fn: func(context.Context, models.AwardRequest, *models.Card) error {
		return &TransientError{Err: errors.New("remote unavailable")}
	}}
}

func testRequest(ref string) models.AwardRequest {
	return models.AwardRequest{
		TransactionRef: ref,
		CustomerID:     "42",
		ProgramID:      "p-7",
		BusinessID:     "b-1",
		Points:         10,
		Source:         models.AwardSourceScan,
		Description:    "test award",
		CreatedAt:      time.Now(),
		Status:         models.AwardStatusCreated,
	}
}

func TestAwardPointsFallsThroughToSecondTier(t *testing.T) {
	queue := &fakeQueue{}
	o := NewAwardOrchestrator(&fakeDirectory{},
		[]AwardTier{transientTier("primary"), okTier("secondary")},
		queue, nil)

	outcome, err := o.AwardPoints(context.Background(), testRequest("tx-1"))
	if err != nil {
		t.Fatalf("AwardPoints() error: %v", err)
	}
	if outcome.Status != models.AwardStatusSucceeded {
		t.Errorf("Status = %v, want succeeded", outcome.Status)
	}
	if outcome.TierUsed != 2 {
		t.Errorf("TierUsed = %d, want 2", outcome.TierUsed)
	}
	if outcome.Deferred {
		t.Error("Deferred = true, want false")
	}
	if queue.len() != 0 {
		t.Errorf("queue has %d entries, want 0", queue.len())
	}
}

func TestAwardPointsStopsAtFirstSuccess(t *testing.T) {
	var attempts []string
	record := func(name string, err error) AwardTier {
		return tierFunc{name: name, fn: func(context.Context, models.AwardRequest, *models.Card) error {
			attempts = append(attempts, name)
			return err
		}}
	}

	o := NewAwardOrchestrator(&fakeDirectory{},
		[]AwardTier{
			record("primary", nil),
			record("secondary", nil),
		}, &fakeQueue{}, nil)

	if _, err := o.AwardPoints(context.Background(), testRequest("tx-2")); err != nil {
		t.Fatalf("AwardPoints() error: %v", err)
	}
	if len(attempts) != 1 || attempts[0] != "primary" {
		t.Errorf("attempts = %v, want [primary] only", attempts)
	}
}

func TestAwardPointsExhaustionDefersToQueue(t *testing.T) {
	queue := &fakeQueue{}
	o := NewAwardOrchestrator(&fakeDirectory{},
		[]AwardTier{transientTier("primary"), transientTier("secondary"), transientTier("direct")},
		queue, nil)

	outcome, err := o.AwardPoints(context.Background(), testRequest("tx-3"))
	if err != nil {
		t.Fatalf("AwardPoints() error: %v (deferred outcome must not be an error)", err)
	}
	if outcome.Status != models.AwardStatusSucceeded || !outcome.Deferred {
		t.Errorf("outcome = %+v, want succeeded and deferred", outcome)
	}
	if queue.len() != 1 {
		t.Fatalf("queue has %d entries, want 1", queue.len())
	}
	if queue.entries[0].TransactionRef != "tx-3" {
		t.Errorf("queued ref = %q, want tx-3", queue.entries[0].TransactionRef)
	}
}

func TestAwardPointsPermanentErrorNeverQueued(t *testing.T) {
	queue := &fakeQueue{}
	permanent := tierFunc{name: "primary", fn: func(context.Context, models.AwardRequest, *models.Card) error {
		return &PermanentError{Err: errors.New("unknown program")}
	}}
	o := NewAwardOrchestrator(&fakeDirectory{}, []AwardTier{permanent, okTier("secondary")}, queue, nil)

	_, err := o.AwardPoints(context.Background(), testRequest("tx-4"))
	if err == nil {
		t.Fatal("AwardPoints() = nil error, want permanent error surfaced")
	}
	if !Permanent(err) {
		t.Errorf("error %v not classified permanent", err)
	}
	if queue.len() != 0 {
		t.Errorf("queue has %d entries, want 0", queue.len())
	}
}

func TestAwardPointsRejectsNonPositivePoints(t *testing.T) {
	o := NewAwardOrchestrator(&fakeDirectory{}, []AwardTier{okTier("primary")}, &fakeQueue{}, nil)

	for _, points := range []int64{0, -5} {
		req := testRequest("tx-5")
		req.Points = points
		_, err := o.AwardPoints(context.Background(), req)
		if !errors.Is(err, ErrInvalidPoints) {
			t.Errorf("points=%d: error = %v, want ErrInvalidPoints", points, err)
		}
	}
}

func TestAwardPointsDuplicateOutstandingRefIsNoOp(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var attempts int
	blocking := tierFunc{name: "primary", fn: func(context.Context, models.AwardRequest, *models.Card) error {
		attempts++
		close(started)
		<-release
		return nil
	}}

	o := NewAwardOrchestrator(&fakeDirectory{}, []AwardTier{blocking}, &fakeQueue{}, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := o.AwardPoints(context.Background(), testRequest("tx-6")); err != nil {
			t.Errorf("first AwardPoints() error: %v", err)
		}
	}()

	<-started
	// Second submission with the same ref while the first is outstanding.
	outcome, err := o.AwardPoints(context.Background(), testRequest("tx-6"))
	if !errors.Is(err, ErrAttemptInProgress) {
		t.Errorf("duplicate error = %v, want ErrAttemptInProgress", err)
	}
	if outcome.Status != models.AwardStatusAttempting {
		t.Errorf("duplicate status = %v, want attempting", outcome.Status)
	}

	close(release)
	<-done

	if attempts != 1 {
		t.Errorf("tier attempted %d times, want 1", attempts)
	}
}

func TestAwardPointsRetriesCardResolution(t *testing.T) {
	dir := &fakeDirectory{errs: []error{
		&EnrollmentError{Err: errors.New("db hiccup")},
		&EnrollmentError{Err: errors.New("db hiccup")},
	}}
	o := NewAwardOrchestrator(dir, []AwardTier{okTier("primary")}, &fakeQueue{}, nil)

	outcome, err := o.AwardPoints(context.Background(), testRequest("tx-7"))
	if err != nil {
		t.Fatalf("AwardPoints() error: %v", err)
	}
	if outcome.Status != models.AwardStatusSucceeded || outcome.Deferred {
		t.Errorf("outcome = %+v, want immediate success", outcome)
	}
	if dir.calls != 3 {
		t.Errorf("EnsureCard called %d times, want 3 (two failures + success)", dir.calls)
	}
}

func TestAwardPointsEnrollmentExhaustionDefersToQueue(t *testing.T) {
	dir := &fakeDirectory{errs: []error{
		&EnrollmentError{Err: errors.New("down")},
		&EnrollmentError{Err: errors.New("down")},
		&EnrollmentError{Err: errors.New("down")},
	}}
	queue := &fakeQueue{}
	o := NewAwardOrchestrator(dir, []AwardTier{okTier("primary")}, queue, nil)

	outcome, err := o.AwardPoints(context.Background(), testRequest("tx-8"))
	if err != nil {
		t.Fatalf("AwardPoints() error: %v", err)
	}
	if !outcome.Deferred {
		t.Errorf("outcome = %+v, want deferred", outcome)
	}
	if queue.len() != 1 {
		t.Errorf("queue has %d entries, want 1", queue.len())
	}
}
