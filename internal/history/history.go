package history

import "time"

// Sample is one timestamped probe outcome. Samples are immutable once
// recorded; the window hands out copies only.
type Sample struct {
	Timestamp time.Time
	Success   bool
	RTT       time.Duration
	// Detail carries the failure classification and cause for failed
	// samples. Empty on success.
	Detail string
}

// AggregateView is the derived, ephemeral read model of a window: the rolling
// success percentage plus the most recent failures. It is recomputed per
// request and never persisted.
type AggregateView struct {
	// HasData is false for an empty window. SuccessPercentage is
	// meaningless then and must not be displayed as a number.
	HasData           bool
	SuccessPercentage float64
	SampleCount       int
	SuccessCount      int
	// RecentFailures holds the newest failed samples, most recent first,
	// capped at the window's failure limit.
	RecentFailures []Sample
	ComputedAt     time.Time
}
