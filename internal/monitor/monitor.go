// Package monitor runs the alert engine: one goroutine owning the session
// registry, evaluating every armed alert against the latest location sample
// on a tier-driven cadence, and driving the fire/snooze/dismiss lifecycle.
//
// All registry mutation happens on the engine goroutine. Fires are the one
// asynchronous step: message resolution and dispatch run in a per-alert
// goroutine whose outcome is fed back through the fired channel and applied
// on the engine goroutine, so a slow generator never stalls evaluation.
package monitor

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/oriru-app/oriru-core/internal/alert"
	"github.com/oriru-app/oriru-core/internal/geo"
	"github.com/oriru-app/oriru-core/internal/message"
	"github.com/oriru-app/oriru-core/internal/metrics"
	"github.com/oriru-app/oriru-core/internal/notify"
	"github.com/oriru-app/oriru-core/internal/registry"
	"github.com/oriru-app/oriru-core/internal/stopfeed"
	"github.com/oriru-app/oriru-core/internal/store"
	"github.com/oriru-app/oriru-core/internal/trigger"
)

// Dismissal causes reported to metrics and logs.
const (
	causeUser      = "user"
	causeCeiling   = "ceiling"
	causeExpired   = "expired"
	causeCompleted = "completed"
)

// Options wires an Engine. Store and Provider are required; everything else
// has a working default.
type Options struct {
	Store      store.Store
	Registry   *registry.Registry
	Provider   geo.Provider
	Feed       stopfeed.Feed
	Resolver   *message.Resolver
	Dispatcher *notify.Dispatcher
	Metrics    *metrics.Set
	Logger     *slog.Logger

	Cadence       geo.Cadence
	Grace         time.Duration // time-mode expiry grace, zero means trigger.DefaultGrace
	SnoozeCeiling int           // host default for alerts without an explicit ceiling
}

// Engine owns the armed-alert set and evaluates it.
type Engine struct {
	store      store.Store
	reg        *registry.Registry
	provider   geo.Provider
	feed       stopfeed.Feed
	resolver   *message.Resolver
	dispatcher *notify.Dispatcher
	metrics    *metrics.Set
	logger     *slog.Logger

	cadence       geo.Cadence
	grace         time.Duration
	snoozeCeiling int

	commands chan command
	fired    chan fireResult

	// Owned by the engine goroutine (or the test driving pass directly).
	tier       geo.Tier
	lastSample *geo.Sample

	// now is swapped in tests.
	now func() time.Time
}

type fireResult struct {
	id     uuid.UUID
	result notify.Result
}

// New builds an engine. It does not start it; call Run.
func New(opts Options) *Engine {
	if opts.Registry == nil {
		opts.Registry = registry.New()
	}
	if opts.Feed == nil {
		opts.Feed = stopfeed.Unavailable{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Resolver == nil {
		opts.Resolver = message.NewResolver(nil, nil, 0, 0, opts.Logger)
	}
	if opts.Dispatcher == nil {
		opts.Dispatcher = notify.NewDispatcher(nil, opts.Store, opts.Logger)
	}
	if opts.Cadence == nil {
		opts.Cadence = geo.DefaultCadence()
	}
	if opts.Grace <= 0 {
		opts.Grace = trigger.DefaultGrace
	}
	if opts.SnoozeCeiling <= 0 {
		opts.SnoozeCeiling = alert.DefaultSnoozeCeiling
	}
	return &Engine{
		store:         opts.Store,
		reg:           opts.Registry,
		provider:      opts.Provider,
		feed:          opts.Feed,
		resolver:      opts.Resolver,
		dispatcher:    opts.Dispatcher,
		metrics:       opts.Metrics,
		logger:        opts.Logger,
		cadence:       opts.Cadence,
		grace:         opts.Grace,
		snoozeCeiling: opts.SnoozeCeiling,
		commands:      make(chan command),
		fired:         make(chan fireResult, 16),
		tier:          geo.TierNormal,
		now:           time.Now,
	}
}

// Run drives the engine until ctx is canceled. The tick interval follows the
// current accuracy tier; a fresh sample triggers an immediate pass.
func (e *Engine) Run(ctx context.Context) {
	e.logger.Info("alert engine started",
		"sessions", e.reg.Len(), "tier", e.tier.String())
	e.metrics.SetArmed(e.reg.Len())

	timer := time.NewTimer(e.cadence.Interval(e.tier))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("alert engine stopped")
			return

		case <-timer.C:
			e.pass(ctx)
			timer.Reset(e.cadence.Interval(e.tier))

		case s := <-e.provider.Samples():
			s = e.drain(s)
			e.lastSample = &s
			e.retune()
			e.pass(ctx)
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(e.cadence.Interval(e.tier))

		case cmd := <-e.commands:
			cmd.reply <- cmd.fn(ctx)

		case fr := <-e.fired:
			e.handleFired(ctx, fr)
		}
	}
}

// drain collapses a burst of queued samples to the newest one. Stale fixes
// are worthless once a fresher one exists.
func (e *Engine) drain(latest geo.Sample) geo.Sample {
	for {
		select {
		case s := <-e.provider.Samples():
			latest = s
		default:
			return latest
		}
	}
}

// retune recomputes the accuracy tier from the distance to the nearest
// station with a live distance- or stops-mode session.
func (e *Engine) retune() {
	if e.lastSample == nil {
		return
	}
	t := geo.TierFor(e.reg.MinDistance(*e.lastSample))
	if t == e.tier {
		return
	}
	e.logger.Info("accuracy tier changed",
		"from", e.tier.String(), "to", t.String())
	e.tier = t
	e.provider.SetTier(t)
	e.metrics.SetTier(int(t))
}

// pass evaluates every session once.
func (e *Engine) pass(ctx context.Context) {
	start := e.now()
	for _, s := range e.reg.Snapshot() {
		e.evaluate(ctx, s, start)
	}
	e.metrics.SetArmed(e.reg.Len())
	e.metrics.ObservePass(e.now().Sub(start))
}

func (e *Engine) evaluate(ctx context.Context, s *registry.Session, now time.Time) {
	switch s.Phase {
	case registry.Dismissed:
		// On its way out of the registry.
		return

	case registry.Firing:
		// Usually waiting on its dispatch goroutine. A failed dispatch
		// holds the session here with a retry deadline instead of burning
		// snooze budget on a notification nobody saw.
		if !s.RetryAt.IsZero() && !now.Before(s.RetryAt) {
			s.RetryAt = time.Time{}
			e.dispatch(ctx, s)
		}
		return

	case registry.Snoozed:
		if !s.SnoozeDue(now) {
			return
		}
		if s.SnoozeCount >= s.Alert.EffectiveSnoozeCeiling(e.snoozeCeiling) {
			e.logger.Info("snooze ceiling reached, dismissing",
				"alert", s.Alert.ID, "refires", s.SnoozeCount)
			e.finish(ctx, s, causeCeiling)
			return
		}
		s.SnoozeCount++
		e.metrics.Refire()
		e.startFire(ctx, s)

	case registry.Armed:
		// A repeating session re-armed for a future occurrence stays quiet
		// until that day; distance and stops modes have no time component of
		// their own to hold them back.
		if s.Alert.Repeating && !s.Alert.TargetArrival.IsZero() {
			y, m, d := s.Alert.TargetArrival.Date()
			dayStart := time.Date(y, m, d, 0, 0, 0, 0, s.Alert.TargetArrival.Location())
			if now.Before(dayStart) {
				return
			}
		}
		in := e.inputFor(ctx, s, now)
		s.LastSample = in.Sample
		s.LastEvaluated = now
		switch trigger.Evaluate(&s.Alert, &s.Station, in) {
		case trigger.Fire:
			e.metrics.Fire(string(s.Alert.Mode))
			e.startFire(ctx, s)
		case trigger.Expire:
			e.logger.Info("time alert lapsed without firing",
				"alert", s.Alert.ID, "target", s.Alert.TargetArrival)
			e.metrics.Expiry()
			e.finish(ctx, s, causeExpired)
		}
	}
}

// inputFor assembles the evaluation input for one session. The stop feed is
// consulted only for stops-mode alerts with a current fix.
func (e *Engine) inputFor(ctx context.Context, s *registry.Session, now time.Time) trigger.Input {
	in := trigger.Input{Now: now, Sample: e.lastSample, Grace: e.grace}
	if s.Alert.Mode == alert.TriggerStops && e.lastSample != nil {
		line := ""
		if len(s.Station.Lines) > 0 {
			line = s.Station.Lines[0]
		}
		in.StopsRemaining, in.StopsKnown =
			e.feed.RemainingStops(ctx, line, s.Station.ID.String(), *e.lastSample)
	}
	return in
}

// startFire transitions the session to Firing and kicks off resolution and
// dispatch off the engine goroutine.
func (e *Engine) startFire(ctx context.Context, s *registry.Session) {
	if err := s.Transition(registry.Firing); err != nil {
		e.logger.Error("fire transition rejected", "alert", s.Alert.ID, "error", err)
		return
	}
	e.dispatch(ctx, s)
}

// dispatch resolves and delivers in a per-alert goroutine. The outcome comes
// back via the fired channel. The session must already be Firing.
func (e *Engine) dispatch(ctx context.Context, s *registry.Session) {
	a := s.Alert
	st := s.Station
	go func() {
		body := e.resolver.Resolve(ctx, &st, a.Persona)
		res := e.dispatcher.Dispatch(ctx, &a, &st, body)
		select {
		case e.fired <- fireResult{id: a.ID, result: res}:
		case <-ctx.Done():
		}
	}()
}

// handleFired applies a dispatch outcome on the engine goroutine. The
// session may have been deleted or paused while the dispatch was in flight;
// that is fine, the outcome is simply dropped.
func (e *Engine) handleFired(ctx context.Context, fr fireResult) {
	s := e.reg.Get(fr.id)
	if s == nil || s.Phase != registry.Firing {
		return
	}
	e.metrics.Dispatch(fr.result.String())
	if fr.result == notify.Failed {
		// Nothing reached the user. Hold in Firing, leave the store and the
		// snooze budget alone, and try again on the next pass.
		s.RetryAt = e.now()
		e.logger.Warn("notification dispatch failed, will retry",
			"alert", s.Alert.ID)
		return
	}

	if s.Snoozable() {
		if err := s.Transition(registry.Snoozed); err != nil {
			e.logger.Error("snooze transition rejected", "alert", s.Alert.ID, "error", err)
			return
		}
		s.NextFireAt = e.now().Add(s.Alert.SnoozeInterval)
		return
	}
	e.finish(ctx, s, causeCompleted)
}

// finish ends a session: dismiss it, then either re-arm for the next
// repeat occurrence or deactivate the alert in the store.
func (e *Engine) finish(ctx context.Context, s *registry.Session, cause string) {
	if s.Phase != registry.Dismissed {
		if err := s.Transition(registry.Dismissed); err != nil {
			e.logger.Error("dismiss transition rejected", "alert", s.Alert.ID, "error", err)
		}
	}
	e.metrics.Dismissal(cause)
	e.dispatcher.Cancel(ctx, s.Alert.ID)
	e.reg.Remove(s.Alert.ID)

	a := s.Alert
	if next, ok := a.NextOccurrence(e.now()); ok {
		a.TargetArrival = next
		if err := e.store.SaveAlert(ctx, &a); err != nil {
			e.logger.Error("save repeating alert", "alert", a.ID, "error", err)
		}
		e.reg.Upsert(a, s.Station)
		e.logger.Info("repeating alert re-armed",
			"alert", a.ID, "next", next, "cause", cause)
		return
	}

	a.Active = false
	if err := e.store.SaveAlert(ctx, &a); err != nil {
		e.logger.Error("deactivate alert", "alert", a.ID, "error", err)
	}
	e.logger.Info("session dismissed", "alert", a.ID, "cause", cause)
}
