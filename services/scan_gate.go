package services

import (
	"log"
	"sync"
	"time"
)

// SubmitStatus is the gate's verdict on one scan event
type SubmitStatus string

const (
	SubmitAccepted         SubmitStatus = "accepted"
	SubmitDroppedDuplicate SubmitStatus = "dropped_duplicate"
	SubmitDroppedRateLimit SubmitStatus = "dropped_rate_limited"
)

// SubmitResult carries the verdict plus rate-limit reset info. Deferred means
// the scan was accepted but parked in the pending FIFO because a prior award
// is still in flight; it will be replayed once that attempt completes.
type SubmitResult struct {
	Status   SubmitStatus  `json:"status"`
	Deferred bool          `json:"deferred,omitempty"`
	ResetIn  time.Duration `json:"-"`
}

// ScanGateConfig tunes the three gate rules.
type ScanGateConfig struct {
	DuplicateWindow    time.Duration
	ProcessingDebounce time.Duration
	RateLimit          int
	RateWindow         time.Duration
}

func DefaultScanGateConfig() ScanGateConfig {
	return ScanGateConfig{
		DuplicateWindow:    100 * time.Millisecond,
		ProcessingDebounce: 400 * time.Millisecond,
		RateLimit:          10,
		RateWindow:         time.Minute,
	}
}

// ScanGateState is the gate's explicit owned state: dedup cursor, pending
// FIFO and rate-limit window all live here, guarded by one mutex. Nothing is
// tracked in package globals.
type ScanGateState struct {
	mu             sync.Mutex
	lastRawText    string
	lastSeenAt     time.Time
	lastAcceptedAt time.Time
	inFlight       bool
	pending        []string // distinct raw texts awaiting replay, FIFO
	windowStart    time.Time
	windowCount    int
}

// ScanSink receives scans the gate has accepted for processing.
type ScanSink func(rawText string, capturedAt time.Time)

// ScanIngestGate applies duplicate suppression, single-flight debounce and
// rate limiting to incoming scan events, in that order, before they reach
// business logic. The camera source delivers events one at a time; the gate
// serializes bursts through the pending FIFO.
type ScanIngestGate struct {
	cfg   ScanGateConfig
	state *ScanGateState
	sink  ScanSink
}

func NewScanIngestGate(cfg ScanGateConfig, state *ScanGateState, sink ScanSink) *ScanIngestGate {
	if state == nil {
		state = &ScanGateState{}
	}
	return &ScanIngestGate{cfg: cfg, state: state, sink: sink}
}

// Submit runs one scan event through the gate rules. Accepted scans are
// forwarded to the sink before Submit returns, except deferred ones, which
// wait for Complete.
func (g *ScanIngestGate) Submit(rawText string, capturedAt time.Time) SubmitResult {
	return g.submit(rawText, capturedAt, false)
}

func (g *ScanIngestGate) submit(rawText string, capturedAt time.Time, replayed bool) SubmitResult {
	g.state.mu.Lock()

	// Rule 1: duplicate suppression. Skipped on replay: a parked scan wrote
	// its own dedup stamp when it was deferred and must not suppress itself.
	if !replayed && rawText == g.state.lastRawText && capturedAt.Sub(g.state.lastSeenAt) < g.cfg.DuplicateWindow {
		g.state.mu.Unlock()
		return SubmitResult{Status: SubmitDroppedDuplicate}
	}

	// Rule 2: single-flight debounce. Park the scan for replay; a value
	// already pending is not re-added.
	if g.state.inFlight && capturedAt.Sub(g.state.lastAcceptedAt) < g.cfg.ProcessingDebounce {
		queued := false
		for _, p := range g.state.pending {
			if p == rawText {
				queued = true
				break
			}
		}
		if !queued {
			g.state.pending = append(g.state.pending, rawText)
		}
		g.state.lastRawText = rawText
		g.state.lastSeenAt = capturedAt
		g.state.mu.Unlock()
		return SubmitResult{Status: SubmitAccepted, Deferred: true}
	}

	// Rule 3: rate limiting over a fixed rolling window.
	if g.state.windowStart.IsZero() || capturedAt.Sub(g.state.windowStart) >= g.cfg.RateWindow {
		g.state.windowStart = capturedAt
		g.state.windowCount = 0
	}
	if g.state.windowCount >= g.cfg.RateLimit {
		resetIn := g.cfg.RateWindow - capturedAt.Sub(g.state.windowStart)
		if resetIn < 0 {
			resetIn = 0
		}
		g.state.mu.Unlock()
		return SubmitResult{Status: SubmitDroppedRateLimit, ResetIn: resetIn}
	}
	g.state.windowCount++

	g.state.lastRawText = rawText
	g.state.lastSeenAt = capturedAt
	g.state.lastAcceptedAt = capturedAt
	g.state.inFlight = true
	g.state.mu.Unlock()

	if g.sink != nil {
		g.sink(rawText, capturedAt)
	}
	return SubmitResult{Status: SubmitAccepted}
}

// Complete tells the gate the in-flight award attempt has finished. The next
// pending scan, if any, is replayed; a replay the rate limiter drops produces
// no further Complete, so the FIFO keeps draining until a replay is accepted
// or nothing is left.
func (g *ScanIngestGate) Complete() {
	g.state.mu.Lock()
	g.state.inFlight = false
	for len(g.state.pending) > 0 {
		next := g.state.pending[0]
		g.state.pending = g.state.pending[1:]
		g.state.mu.Unlock()

		log.Printf("[SCAN_GATE] replaying pending scan %.24q", next)
		result := g.submit(next, time.Now(), true)
		if result.Status == SubmitAccepted {
			return
		}
		log.Printf("[SCAN_GATE] replayed scan dropped (%s), draining next", result.Status)
		g.state.mu.Lock()
	}
	g.state.mu.Unlock()
}
