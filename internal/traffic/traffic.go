package traffic

import (
	"sync"
	"time"
)

// Outcome classifies a request for health accounting.
type Outcome int

const (
	// OutcomeSuccess is a request answered without a server-side failure (including ineligible cities).
	OutcomeSuccess Outcome = iota
	// OutcomeError is a request that failed on the server side (model unavailable, bad model output).
	OutcomeError
	// OutcomeDenied is a request rejected by the rate limiter.
	OutcomeDenied
	numOutcomes
)

// DefaultRetention bounds how long timestamps are kept. Must cover the longest health window.
const DefaultRetention = 30 * time.Minute

// Tracker keeps sliding windows of outcome timestamps. Safe for concurrent use.
type Tracker struct {
	mu        sync.Mutex
	times     [numOutcomes][]time.Time
	retention time.Duration
	now       func() time.Time
}

// NewTracker returns a Tracker retaining timestamps for retention (DefaultRetention if <= 0).
func NewTracker(retention time.Duration) *Tracker {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Tracker{retention: retention, now: time.Now}
}

// Record records one outcome at the current time.
func (t *Tracker) Record(o Outcome) {
	t.RecordN(o, 1)
}

// RecordN records n outcomes at the current time.
func (t *Tracker) RecordN(o Outcome, n int) {
	if o < 0 || o >= numOutcomes || n <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.clock()
	for i := 0; i < n; i++ {
		t.times[o] = append(t.times[o], now)
	}
	t.pruneLocked(now)
}

// Count returns the number of o outcomes within window.
func (t *Tracker) Count(o Outcome, window time.Duration) int {
	if o < 0 || o >= numOutcomes {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return countSince(t.times[o], t.clock().Add(-window))
}

// RequestCount returns all outcomes (success, error, denied) within window.
func (t *Tracker) RequestCount(window time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.clock().Add(-window)
	n := 0
	for _, times := range t.times {
		n += countSince(times, cutoff)
	}
	return n
}

// ErrorRate returns (errors, errors+successes) within window. Denials are excluded.
func (t *Tracker) ErrorRate(window time.Duration) (errors, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.clock().Add(-window)
	errors = countSince(t.times[OutcomeError], cutoff)
	return errors, errors + countSince(t.times[OutcomeSuccess], cutoff)
}

// Reset drops all recorded outcomes.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.times {
		t.times[i] = nil
	}
}

func (t *Tracker) clock() time.Time {
	if t.now == nil {
		return time.Now()
	}
	return t.now()
}

// countSince assumes times is in ascending order.
func countSince(times []time.Time, cutoff time.Time) int {
	i := 0
	for ; i < len(times) && times[i].Before(cutoff); i++ {
	}
	return len(times) - i
}

func (t *Tracker) pruneLocked(now time.Time) {
	retention := t.retention
	if retention <= 0 {
		retention = DefaultRetention
	}
	cutoff := now.Add(-retention)
	for o, times := range t.times {
		i := 0
		for ; i < len(times) && times[i].Before(cutoff); i++ {
		}
		if i > 0 {
			t.times[o] = append(times[:0], times[i:]...)
		}
	}
}
