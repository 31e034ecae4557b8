package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/oriru-app/oriru-core/internal/alert"
	"github.com/oriru-app/oriru-core/internal/geo"
	"github.com/oriru-app/oriru-core/internal/notify"
	"github.com/oriru-app/oriru-core/internal/registry"
	"github.com/oriru-app/oriru-core/internal/stopfeed"
	"github.com/oriru-app/oriru-core/internal/store"
)

func newTestDispatcher(sink notify.Sink, st store.Store) *notify.Dispatcher {
	return notify.NewDispatcher(sink, st, nil)
}

// countingSink records deliveries. Dispatch goroutines may touch it off the
// test goroutine, so it locks.
type countingSink struct {
	mu        sync.Mutex
	delivered []string
	cancelled []string
}

func (s *countingSink) DeliverNow(_ context.Context, _, _, identifier string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delivered = append(s.delivered, identifier)
	return nil
}

func (s *countingSink) Cancel(_ context.Context, identifier string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled = append(s.cancelled, identifier)
	return nil
}

func (s *countingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.delivered)
}

type harness struct {
	engine  *Engine
	store   *store.Memory
	sink    *countingSink
	station alert.Station
	clock   *time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()
	mem := store.NewMemory()
	st := alert.Station{ID: uuid.New(), Name: "Kichijoji", Latitude: 35.7031, Longitude: 139.5797}
	if err := mem.SaveStation(ctx, &st); err != nil {
		t.Fatal(err)
	}
	sink := &countingSink{}
	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC) // a Monday

	e := New(Options{
		Store:      mem,
		Provider:   geo.NewPushProvider(),
		Dispatcher: newTestDispatcher(sink, mem),
	})
	e.now = func() time.Time { return now }

	return &harness{engine: e, store: mem, sink: sink, station: st, clock: &now}
}

func (h *harness) arm(t *testing.T, a alert.Alert) *registry.Session {
	t.Helper()
	a.ID = uuid.New()
	a.StationID = h.station.ID
	a.Persona = alert.PersonaPlain
	a.Active = true
	a.CreatedAt = *h.clock
	if err := a.Validate(); err != nil {
		t.Fatalf("test alert invalid: %v", err)
	}
	if err := h.store.SaveAlert(context.Background(), &a); err != nil {
		t.Fatal(err)
	}
	return h.engine.reg.Upsert(a, h.station)
}

// sampleAt places a fix the given number of meters due north of the target
// station.
func (h *harness) sampleAt(meters float64) {
	const metersPerDegree = 111195.08
	s := geo.Sample{
		Latitude:  h.station.Latitude + meters/metersPerDegree,
		Longitude: h.station.Longitude,
		Timestamp: *h.clock,
	}
	h.engine.lastSample = &s
}

// settle processes one fire completion on the engine goroutine's behalf.
func (h *harness) settle(t *testing.T, ctx context.Context) {
	t.Helper()
	select {
	case fr := <-h.engine.fired:
		h.engine.handleFired(ctx, fr)
	case <-time.After(2 * time.Second):
		t.Fatal("fire pipeline never completed")
	}
}

func TestDistanceApproachFiresOnce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	s := h.arm(t, alert.Alert{Mode: alert.TriggerDistance, ThresholdMeters: 500})
	id := s.Alert.ID

	// 600 m out: hold.
	h.sampleAt(600)
	h.engine.pass(ctx)
	if s.Phase != registry.Armed {
		t.Fatalf("at 600m phase = %v, want Armed", s.Phase)
	}

	// 480 m: fire.
	h.sampleAt(480)
	h.engine.pass(ctx)
	if s.Phase != registry.Firing {
		t.Fatalf("at 480m phase = %v, want Firing", s.Phase)
	}
	h.settle(t, ctx)

	// Non-snoozable alert completes after delivery.
	if h.engine.reg.Get(id) != nil {
		t.Error("completed session should leave the registry")
	}
	stored, err := h.store.GetAlert(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Active {
		t.Error("completed one-shot alert should be deactivated")
	}

	// 300 m: even closer, but the session is gone.
	h.sampleAt(300)
	h.engine.pass(ctx)
	if got := h.sink.count(); got != 1 {
		t.Errorf("deliveries = %d, want exactly 1", got)
	}

	hist, err := h.store.ListHistory(ctx, id, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != 1 {
		t.Errorf("history rows = %d, want 1", len(hist))
	}
}

func TestSnoozeCeilingBoundsRefires(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	s := h.arm(t, alert.Alert{
		Mode:            alert.TriggerDistance,
		ThresholdMeters: 500,
		SnoozeInterval:  time.Minute,
		SnoozeCeiling:   2,
	})
	id := s.Alert.ID

	h.sampleAt(100)
	h.engine.pass(ctx)
	h.settle(t, ctx)
	if s.Phase != registry.Snoozed {
		t.Fatalf("after first fire phase = %v, want Snoozed", s.Phase)
	}

	// Each snooze elapse re-fires until the ceiling, then dismisses.
	for refire := 1; refire <= 2; refire++ {
		*h.clock = h.clock.Add(time.Minute)
		h.engine.pass(ctx)
		if s.Phase != registry.Firing {
			t.Fatalf("refire %d: phase = %v, want Firing", refire, s.Phase)
		}
		if s.SnoozeCount != refire {
			t.Fatalf("refire %d: count = %d", refire, s.SnoozeCount)
		}
		h.settle(t, ctx)
	}

	*h.clock = h.clock.Add(time.Minute)
	h.engine.pass(ctx)
	if h.engine.reg.Get(id) != nil {
		t.Error("ceiling elapse should dismiss the session")
	}
	if got := h.sink.count(); got != 3 {
		t.Errorf("deliveries = %d, want 3 (initial + 2 refires)", got)
	}
}

// flakySink rejects deliveries until its failure budget runs out.
type flakySink struct {
	mu        sync.Mutex
	failures  int
	delivered int
}

func (s *flakySink) DeliverNow(context.Context, string, string, string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures > 0 {
		s.failures--
		return errors.New("push service unavailable")
	}
	s.delivered++
	return nil
}

func (s *flakySink) Cancel(context.Context, string) error { return nil }

func (s *flakySink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.delivered
}

func TestFailedDispatchRetriesUntilDelivered(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	flaky := &flakySink{failures: 2}
	h.engine.dispatcher = newTestDispatcher(flaky, h.store)

	s := h.arm(t, alert.Alert{Mode: alert.TriggerDistance, ThresholdMeters: 500})
	id := s.Alert.ID

	h.sampleAt(400)
	h.engine.pass(ctx)
	h.settle(t, ctx)

	// Nothing reached the user: the session stays re-firable and the alert
	// stays active in the store.
	if s.Phase != registry.Firing {
		t.Fatalf("after failed dispatch phase = %v, want Firing", s.Phase)
	}
	if s.RetryAt.IsZero() {
		t.Fatal("failed dispatch should schedule a retry")
	}
	stored, err := h.store.GetAlert(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if !stored.Active {
		t.Error("alert deactivated with zero notifications delivered")
	}

	// Second attempt also fails.
	*h.clock = h.clock.Add(30 * time.Second)
	h.engine.pass(ctx)
	h.settle(t, ctx)
	if s.Phase != registry.Firing {
		t.Fatalf("after second failure phase = %v, want Firing", s.Phase)
	}

	// Third attempt delivers and the one-shot session completes.
	*h.clock = h.clock.Add(30 * time.Second)
	h.engine.pass(ctx)
	h.settle(t, ctx)
	if got := flaky.count(); got != 1 {
		t.Errorf("deliveries = %d, want 1", got)
	}
	hist, err := h.store.ListHistory(ctx, id, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != 1 {
		t.Errorf("history rows = %d, want 1", len(hist))
	}
	if h.engine.reg.Get(id) != nil {
		t.Error("delivered one-shot session should leave the registry")
	}
	stored, err = h.store.GetAlert(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Active {
		t.Error("one-shot alert should deactivate only after delivery")
	}
}

func TestFailedDispatchKeepsSnoozeBudget(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	flaky := &flakySink{failures: 1}
	h.engine.dispatcher = newTestDispatcher(flaky, h.store)

	s := h.arm(t, alert.Alert{
		Mode:            alert.TriggerDistance,
		ThresholdMeters: 500,
		SnoozeInterval:  time.Minute,
		SnoozeCeiling:   2,
	})

	h.sampleAt(400)
	h.engine.pass(ctx)
	h.settle(t, ctx)
	if s.Phase != registry.Firing || s.SnoozeCount != 0 {
		t.Fatalf("after failed dispatch phase = %v count = %d, want Firing/0",
			s.Phase, s.SnoozeCount)
	}

	// The retry delivers; only then does the session snooze, with the full
	// re-fire budget still ahead of it.
	*h.clock = h.clock.Add(30 * time.Second)
	h.engine.pass(ctx)
	h.settle(t, ctx)
	if s.Phase != registry.Snoozed {
		t.Fatalf("after delivery phase = %v, want Snoozed", s.Phase)
	}
	if s.SnoozeCount != 0 {
		t.Errorf("snooze count = %d, want 0 after the initial delivery", s.SnoozeCount)
	}
	if got := flaky.count(); got != 1 {
		t.Errorf("deliveries = %d, want 1", got)
	}
}

func TestSnoozeNotDueHolds(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	s := h.arm(t, alert.Alert{
		Mode:            alert.TriggerDistance,
		ThresholdMeters: 500,
		SnoozeInterval:  5 * time.Minute,
	})

	h.sampleAt(100)
	h.engine.pass(ctx)
	h.settle(t, ctx)

	// 4 minutes of passes: no re-fire yet.
	for i := 0; i < 4; i++ {
		*h.clock = h.clock.Add(time.Minute)
		h.engine.pass(ctx)
	}
	if s.Phase != registry.Snoozed {
		t.Fatalf("phase = %v, want Snoozed", s.Phase)
	}
	if got := h.sink.count(); got != 1 {
		t.Errorf("deliveries = %d before snooze elapsed, want 1", got)
	}
}

func TestTimeAlertExpiresSilently(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	s := h.arm(t, alert.Alert{
		Mode:          alert.TriggerTime,
		LeadMinutes:   10,
		TargetArrival: h.clock.Add(-20 * time.Minute),
	})
	id := s.Alert.ID

	h.engine.pass(ctx)
	if h.engine.reg.Get(id) != nil {
		t.Error("lapsed alert should leave the registry")
	}
	if got := h.sink.count(); got != 0 {
		t.Errorf("deliveries = %d for an expired alert, want 0", got)
	}
	stored, err := h.store.GetAlert(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Active {
		t.Error("expired alert should be deactivated")
	}
}

func TestTimeAlertFiresWithoutSample(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	s := h.arm(t, alert.Alert{
		Mode:          alert.TriggerTime,
		LeadMinutes:   10,
		TargetArrival: h.clock.Add(5 * time.Minute),
	})

	// Time mode needs no location fix.
	h.engine.pass(ctx)
	if s.Phase != registry.Firing {
		t.Fatalf("phase = %v, want Firing", s.Phase)
	}
	h.settle(t, ctx)
	if got := h.sink.count(); got != 1 {
		t.Errorf("deliveries = %d, want 1", got)
	}
}

func TestRepeatingAlertRearms(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	s := h.arm(t, alert.Alert{
		Mode:          alert.TriggerTime,
		LeadMinutes:   10,
		TargetArrival: h.clock.Add(5 * time.Minute),
		Repeating:     true,
		Pattern:       alert.PatternDaily,
	})
	id := s.Alert.ID

	h.engine.pass(ctx)
	h.settle(t, ctx)

	fresh := h.engine.reg.Get(id)
	if fresh == nil {
		t.Fatal("repeating alert should re-arm after completion")
	}
	if fresh.Phase != registry.Armed || fresh.SnoozeCount != 0 {
		t.Error("re-armed session should start clean")
	}
	wantNext := s.Alert.TargetArrival.AddDate(0, 0, 1)
	if !fresh.Alert.TargetArrival.Equal(wantNext) {
		t.Errorf("next target = %v, want %v", fresh.Alert.TargetArrival, wantNext)
	}
	stored, err := h.store.GetAlert(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if !stored.Active {
		t.Error("repeating alert stays active")
	}

	// Still today: the re-armed session waits for its day.
	h.engine.pass(ctx)
	if fresh.Phase != registry.Armed {
		t.Errorf("same-day pass should hold, got %v", fresh.Phase)
	}
	if got := h.sink.count(); got != 1 {
		t.Errorf("deliveries = %d, want 1", got)
	}
}

func TestStopsModeHoldsWithoutFeedData(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	s := h.arm(t, alert.Alert{Mode: alert.TriggerStops, StopCount: 2})

	h.sampleAt(100)
	for i := 0; i < 50; i++ {
		*h.clock = h.clock.Add(30 * time.Second)
		h.engine.pass(ctx)
	}
	if s.Phase != registry.Armed {
		t.Fatalf("no stop data must never fire, phase = %v", s.Phase)
	}
	if got := h.sink.count(); got != 0 {
		t.Errorf("deliveries = %d, want 0", got)
	}
}

func TestStopsModeFiresAtThreshold(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	feed := stopfeed.Static{Remaining: map[string]int{}}
	h.engine.feed = feed

	s := h.arm(t, alert.Alert{Mode: alert.TriggerStops, StopCount: 2})

	h.sampleAt(3000)
	feed.Remaining[h.station.ID.String()] = 5
	h.engine.pass(ctx)
	if s.Phase != registry.Armed {
		t.Fatalf("5 stops out should hold, phase = %v", s.Phase)
	}

	feed.Remaining[h.station.ID.String()] = 2
	h.engine.pass(ctx)
	if s.Phase != registry.Firing {
		t.Fatalf("2 stops out should fire, phase = %v", s.Phase)
	}
	h.settle(t, ctx)
}

func TestDismissMidFlightDropsOutcome(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	s := h.arm(t, alert.Alert{
		Mode:            alert.TriggerDistance,
		ThresholdMeters: 500,
		SnoozeInterval:  time.Minute,
	})
	id := s.Alert.ID

	h.sampleAt(100)
	h.engine.pass(ctx)
	if s.Phase != registry.Firing {
		t.Fatal("expected in-flight fire")
	}

	// Session removed (pause/delete) while the dispatch is in flight: the
	// completion must not resurrect it.
	h.engine.reg.Remove(id)
	h.settle(t, ctx)
	if h.engine.reg.Get(id) != nil {
		t.Error("completion for a removed session must be dropped")
	}
}

func TestTierRetune(t *testing.T) {
	h := newHarness(t)
	h.arm(t, alert.Alert{Mode: alert.TriggerDistance, ThresholdMeters: 300})
	provider := h.engine.provider.(*geo.PushProvider)

	h.sampleAt(5000)
	h.engine.retune()
	if h.engine.tier != geo.TierNormal {
		t.Errorf("at 5km tier = %v, want normal", h.engine.tier)
	}

	h.sampleAt(1500)
	h.engine.retune()
	if h.engine.tier != geo.TierApproaching {
		t.Errorf("at 1.5km tier = %v, want approaching", h.engine.tier)
	}
	if provider.Tier() != geo.TierApproaching {
		t.Error("retune must propagate the tier to the provider")
	}

	h.sampleAt(400)
	h.engine.retune()
	if h.engine.tier != geo.TierNearTarget {
		t.Errorf("at 400m tier = %v, want near_target", h.engine.tier)
	}
}

func TestRunLoopCommands(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mem := store.NewMemory()
	st := alert.Station{ID: uuid.New(), Name: "Asagaya", Latitude: 35.7043, Longitude: 139.6357}
	if err := mem.SaveStation(ctx, &st); err != nil {
		t.Fatal(err)
	}
	sink := &countingSink{}
	e := New(Options{
		Store:      mem,
		Provider:   geo.NewPushProvider(),
		Dispatcher: newTestDispatcher(sink, mem),
	})
	go e.Run(ctx)

	created, err := e.Create(ctx, alert.Alert{
		StationID:       st.ID,
		Mode:            alert.TriggerDistance,
		ThresholdMeters: 800,
		Persona:         alert.PersonaCheerful,
		Active:          true,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	status, err := e.Snapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(status.Sessions) != 1 || status.Sessions[0].Phase != "armed" {
		t.Fatalf("status = %+v, want one armed session", status)
	}

	if err := e.Pause(ctx, created.ID); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	status, _ = e.Snapshot(ctx)
	if len(status.Sessions) != 0 {
		t.Error("paused alert should have no session")
	}

	if err := e.Resume(ctx, created.ID); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	status, _ = e.Snapshot(ctx)
	if len(status.Sessions) != 1 {
		t.Error("resumed alert should be armed again")
	}

	if err := e.Delete(ctx, created.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := mem.GetAlert(ctx, created.ID); err == nil {
		t.Error("deleted alert should be gone from the store")
	}
}

func TestCreateRejectsInvalid(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mem := store.NewMemory()
	e := New(Options{Store: mem, Provider: geo.NewPushProvider()})
	go e.Run(ctx)

	_, err := e.Create(ctx, alert.Alert{
		StationID:       uuid.New(),
		Mode:            alert.TriggerDistance,
		ThresholdMeters: 1, // below the floor
		Persona:         alert.PersonaPlain,
	})
	if err == nil {
		t.Fatal("out-of-bounds threshold must be rejected")
	}
}
