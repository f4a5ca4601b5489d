package probe

import (
	"context"
	"sync/atomic"
	"time"
)

// FallbackProber delegates to a primary prober and switches permanently to a
// secondary one the first time the primary fails with a permission error.
// The switch is sticky: once raw sockets are denied they stay denied for the
// life of the process.
type FallbackProber struct {
	primary   Prober
	secondary Prober
	degraded  atomic.Bool
}

// NewFallbackProber wires the primary and secondary probers together.
func NewFallbackProber(primary, secondary Prober) *FallbackProber {
	return &FallbackProber{primary: primary, secondary: secondary}
}

// Probe tries the primary prober unless a previous probe already downgraded,
// then retries permission failures on the secondary.
func (p *FallbackProber) Probe(ctx context.Context, host string, timeout time.Duration) Result {
	if p.degraded.Load() {
		return p.secondary.Probe(ctx, host, timeout)
	}

	result := p.primary.Probe(ctx, host, timeout)
	if result.Kind != KindPermissionDenied {
		return result
	}

	p.degraded.Store(true)
	return p.secondary.Probe(ctx, host, timeout)
}

// Downgraded reports whether the prober has switched to the secondary.
func (p *FallbackProber) Downgraded() bool {
	return p.degraded.Load()
}
