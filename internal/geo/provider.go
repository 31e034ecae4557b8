package geo

import (
	"context"
	"sync"
	"time"
)

// Provider is the location-sampling collaborator. The engine requests an
// accuracy tier; the provider emits samples at whatever cadence the host
// platform grants.
type Provider interface {
	SetTier(Tier)
	Samples() <-chan Sample
}

// --------------------------------------------------------------------------
// PushProvider — samples arrive from outside (HTTP ingest, tests)
// --------------------------------------------------------------------------

// PushProvider adapts an external feed of samples (the device posting its
// position) to the Provider interface. Push never blocks: if the engine has
// not drained the previous sample yet, the older one is dropped in favor of
// the newest fix.
type PushProvider struct {
	mu   sync.Mutex
	ch   chan Sample
	tier Tier
}

// NewPushProvider creates an empty push provider at TierNormal.
func NewPushProvider() *PushProvider {
	return &PushProvider{ch: make(chan Sample, 1)}
}

// Push hands a sample to the engine, replacing any undrained older sample.
func (p *PushProvider) Push(s Sample) {
	p.mu.Lock()
	defer p.mu.Unlock()
	select {
	case p.ch <- s:
	default:
		select {
		case <-p.ch:
		default:
		}
		p.ch <- s
	}
}

// SetTier records the requested tier. A push provider has no hardware to
// reconfigure; the tier is kept for status reporting.
func (p *PushProvider) SetTier(t Tier) {
	p.mu.Lock()
	p.tier = t
	p.mu.Unlock()
}

// Tier returns the last requested tier.
func (p *PushProvider) Tier() Tier {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tier
}

// Samples returns the sample feed.
func (p *PushProvider) Samples() <-chan Sample {
	return p.ch
}

// --------------------------------------------------------------------------
// ReplayProvider — replays a recorded track (simulate command, tests)
// --------------------------------------------------------------------------

// ReplayProvider emits a fixed track of samples at a configurable pace.
type ReplayProvider struct {
	track []Sample
	pace  time.Duration
	ch    chan Sample

	mu   sync.Mutex
	tier Tier
}

// NewReplayProvider creates a provider that will replay track with the given
// delay between samples. A zero pace emits as fast as the engine consumes.
func NewReplayProvider(track []Sample, pace time.Duration) *ReplayProvider {
	return &ReplayProvider{track: track, pace: pace, ch: make(chan Sample)}
}

// Run emits the track and then closes nothing: the channel stays open so the
// engine keeps ticking on its timer. Blocks until the track is exhausted or
// ctx is cancelled. Intended to be called with `go`.
func (r *ReplayProvider) Run(ctx context.Context) {
	for _, s := range r.track {
		if r.pace > 0 {
			select {
			case <-time.After(r.pace):
			case <-ctx.Done():
				return
			}
		}
		select {
		case r.ch <- s:
		case <-ctx.Done():
			return
		}
	}
}

// SetTier records the requested tier for inspection by tests.
func (r *ReplayProvider) SetTier(t Tier) {
	r.mu.Lock()
	r.tier = t
	r.mu.Unlock()
}

// Tier returns the last requested tier.
func (r *ReplayProvider) Tier() Tier {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tier
}

// Samples returns the sample feed.
func (r *ReplayProvider) Samples() <-chan Sample {
	return r.ch
}
