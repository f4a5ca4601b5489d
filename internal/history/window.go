package history

import (
	"sync"
	"time"
)

const (
	// DefaultRetention bounds the window when no retention is configured.
	DefaultRetention = 15 * time.Minute
	// DefaultFailureLimit caps RecentFailures when no limit is configured.
	DefaultFailureLimit = 10
)

// Window is the bounded, time-retained sequence of recent samples. Samples
// are kept in non-decreasing timestamp order; entries older than the
// retention duration are dropped from the head. One writer appends and
// evicts, any number of readers may snapshot concurrently.
//
// Storage is a slice with a head index: eviction advances the head, append
// grows the tail, and the dead prefix is compacted once it dominates, which
// keeps both operations amortized O(1).
type Window struct {
	mu           sync.RWMutex
	retention    time.Duration
	failureLimit int

	samples []Sample
	head    int
	skews   uint64
}

// NewWindow creates a window keeping samples for the given retention and
// reporting at most failureLimit recent failures. Non-positive arguments
// fall back to the defaults.
func NewWindow(retention time.Duration, failureLimit int) *Window {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if failureLimit <= 0 {
		failureLimit = DefaultFailureLimit
	}
	return &Window{
		retention:    retention,
		failureLimit: failureLimit,
	}
}

// Record appends a sample at the tail. Timestamps must be non-decreasing: a
// sample whose timestamp lies before the current tail is clamped to the tail
// timestamp and counted as a clock skew event, so a wall clock stepping
// backwards never discards an outcome or breaks the ordering invariant.
func (w *Window) Record(s Sample) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if n := len(w.samples); n > w.head {
		if last := w.samples[n-1].Timestamp; s.Timestamp.Before(last) {
			s.Timestamp = last
			w.skews++
		}
	}
	w.samples = append(w.samples, s)
}

// EvictExpired drops every sample older than the retention duration,
// measured against now, and returns how many were dropped.
func (w *Window) EvictExpired(now time.Time) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	cutoff := now.Add(-w.retention)
	evicted := 0
	for w.head < len(w.samples) && w.samples[w.head].Timestamp.Before(cutoff) {
		w.head++
		evicted++
	}

	// Compact once the evicted prefix outweighs the live samples.
	if w.head > 0 && w.head*2 >= len(w.samples) {
		n := copy(w.samples, w.samples[w.head:])
		clear(w.samples[n:])
		w.samples = w.samples[:n]
		w.head = 0
	}
	return evicted
}

// Snapshot computes the aggregate view over the samples inside the window at
// now. Samples already past the cutoff but not yet evicted are excluded
// without mutating, so the read path never takes the write lock. An empty
// window yields HasData=false rather than a zero percentage.
func (w *Window) Snapshot(now time.Time) AggregateView {
	w.mu.RLock()
	defer w.mu.RUnlock()

	view := AggregateView{ComputedAt: now}
	live := w.liveLocked(now)
	if len(live) == 0 {
		return view
	}

	successes := 0
	for _, s := range live {
		if s.Success {
			successes++
		}
	}

	view.HasData = true
	view.SampleCount = len(live)
	view.SuccessCount = successes
	view.SuccessPercentage = float64(successes) / float64(len(live)) * 100

	for i := len(live) - 1; i >= 0 && len(view.RecentFailures) < w.failureLimit; i-- {
		if !live[i].Success {
			view.RecentFailures = append(view.RecentFailures, live[i])
		}
	}
	return view
}

// Series returns a copy of the samples inside the window at now, oldest
// first, for chart plotting. Mutating the result does not affect the window.
func (w *Window) Series(now time.Time) []Sample {
	w.mu.RLock()
	defer w.mu.RUnlock()

	live := w.liveLocked(now)
	if len(live) == 0 {
		return nil
	}
	out := make([]Sample, len(live))
	copy(out, live)
	return out
}

// liveLocked returns the slice of samples not past the cutoff. Callers must
// hold at least the read lock; the result aliases internal storage.
func (w *Window) liveLocked(now time.Time) []Sample {
	cutoff := now.Add(-w.retention)
	live := w.samples[w.head:]
	i := 0
	for i < len(live) && live[i].Timestamp.Before(cutoff) {
		i++
	}
	return live[i:]
}

// Len reports the number of samples not yet evicted.
func (w *Window) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.samples) - w.head
}

// ClockSkews reports how many regressive timestamps were clamped.
func (w *Window) ClockSkews() uint64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.skews
}

// SetRetention changes the retention duration. Shrinking takes effect on the
// next eviction or snapshot. Non-positive values are ignored.
func (w *Window) SetRetention(d time.Duration) {
	if d <= 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.retention = d
}

// SetFailureLimit changes the recent-failure cap. Non-positive values are
// ignored.
func (w *Window) SetFailureLimit(n int) {
	if n <= 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.failureLimit = n
}
