package message

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/oriru-app/oriru-core/internal/alert"
)

var shibuya = alert.Station{ID: uuid.New(), Name: "Shibuya", Latitude: 35.658, Longitude: 139.7016}

func newTestResolver(gen Generator) *Resolver {
	r := NewResolver(NewCache(time.Hour), gen, 200*time.Millisecond, 3, nil)
	r.sleep = func(context.Context, time.Duration) error { return nil } // skip backoff waits
	return r
}

type fakeGen struct {
	calls atomic.Int64
	text  string
	err   error
}

func (f *fakeGen) Generate(ctx context.Context, station string, persona alert.Persona) (string, error) {
	f.calls.Add(1)
	if f.err != nil {
		return "", f.err
	}
	return f.text, nil
}

func TestResolveCachesRemoteResult(t *testing.T) {
	gen := &fakeGen{text: "Almost Shibuya, friend."}
	r := newTestResolver(gen)
	ctx := context.Background()

	first := r.Resolve(ctx, &shibuya, alert.PersonaHealing)
	if first != gen.text {
		t.Fatalf("Resolve() = %q, want remote text", first)
	}

	// Within the TTL every call returns byte-identical text with no second
	// network call.
	for i := 0; i < 10; i++ {
		if got := r.Resolve(ctx, &shibuya, alert.PersonaHealing); got != first {
			t.Fatalf("cached resolve %d = %q, want %q", i, got, first)
		}
	}
	if n := gen.calls.Load(); n != 1 {
		t.Errorf("generator called %d times, want 1", n)
	}
}

func TestResolveFallbackOnPersistentFailure(t *testing.T) {
	gen := &fakeGen{err: errors.New("boom")}
	r := newTestResolver(gen)
	ctx := context.Background()

	want := Fallback(shibuya.Name, alert.PersonaHealing)
	// Forced failure on every attempt: the body is always the fixed
	// fallback template with the station name substituted.
	for i := 0; i < 100; i++ {
		got := r.Resolve(ctx, &shibuya, alert.PersonaHealing)
		if got == "" {
			t.Fatal("Resolve returned empty text")
		}
		if got != want {
			t.Fatalf("fire %d: Resolve() = %q, want fallback %q", i, got, want)
		}
	}
	// Fallback results are not cached; each resolve retried the remote.
	if n := gen.calls.Load(); n != 300 {
		t.Errorf("generator called %d times, want 300 (3 attempts x 100 resolves)", n)
	}
}

func TestResolveRetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int64
	gen := generatorFunc(func(ctx context.Context, station string, persona alert.Persona) (string, error) {
		if calls.Add(1) < 3 {
			return "", errors.New("transient")
		}
		return "third time lucky at " + station, nil
	})
	r := newTestResolver(gen)

	got := r.Resolve(context.Background(), &shibuya, alert.PersonaPlain)
	if !strings.Contains(got, "third time lucky") {
		t.Errorf("Resolve() = %q, want retried remote text", got)
	}
	if calls.Load() != 3 {
		t.Errorf("generator called %d times, want 3", calls.Load())
	}
}

type generatorFunc func(context.Context, string, alert.Persona) (string, error)

func (f generatorFunc) Generate(ctx context.Context, s string, p alert.Persona) (string, error) {
	return f(ctx, s, p)
}

func TestResolveEmptyGeneratorTextUsesFallback(t *testing.T) {
	gen := &fakeGen{text: ""}
	r := newTestResolver(gen)
	ctx := context.Background()

	got := r.Resolve(ctx, &shibuya, alert.PersonaHealing)
	if got != Fallback(shibuya.Name, alert.PersonaHealing) {
		t.Errorf("Resolve() = %q, want fallback", got)
	}
	// The empty result must not be cached either.
	if _, ok := r.cache.Get(shibuya.ID.String(), string(alert.PersonaHealing)); ok {
		t.Error("empty generator text was cached")
	}
}

func TestResolveNilGeneratorUsesFallback(t *testing.T) {
	r := newTestResolver(nil)
	got := r.Resolve(context.Background(), &shibuya, alert.PersonaStrict)
	if got != Fallback("Shibuya", alert.PersonaStrict) {
		t.Errorf("nil generator: Resolve() = %q, want fallback", got)
	}
}

func TestResolveTimeoutFallsBack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second) // exceed the per-attempt timeout
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "key", 600, time.Second)
	r := NewResolver(NewCache(time.Hour), client, 50*time.Millisecond, 2, nil)
	r.sleep = func(context.Context, time.Duration) error { return nil }

	start := time.Now()
	got := r.Resolve(context.Background(), &shibuya, alert.PersonaHealing)
	if got != Fallback("Shibuya", alert.PersonaHealing) {
		t.Errorf("timed-out resolve = %q, want fallback", got)
	}
	if elapsed := time.Since(start); elapsed > 1500*time.Millisecond {
		t.Errorf("resolve took %v, should be bounded by attempt timeouts", elapsed)
	}
}

func TestClientGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/generate" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer key" {
			t.Errorf("auth header = %q", auth)
		}
		var req struct {
			Station string `json:"station"`
			Persona string `json:"persona"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]string{
			"text": "Nearly at " + req.Station + ", in " + req.Persona + " voice.",
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "key", 600, time.Second)
	got, err := c.Generate(context.Background(), "Shibuya", alert.PersonaCheerful)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !strings.Contains(got, "Shibuya") || !strings.Contains(got, "cheerful") {
		t.Errorf("Generate() = %q", got)
	}
}

func TestClientGenerateErrorStatuses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", 600, time.Second)
	if _, err := c.Generate(context.Background(), "Shibuya", alert.PersonaPlain); err == nil {
		t.Error("expected error on 503")
	}
}

func TestCacheExpiry(t *testing.T) {
	c := NewCache(time.Hour)
	base := time.Now()
	c.now = func() time.Time { return base }

	c.Set("st1", "plain", "hello")
	if _, ok := c.Get("st1", "plain"); !ok {
		t.Fatal("expected cache hit")
	}
	// Different persona misses.
	if _, ok := c.Get("st1", "healing"); ok {
		t.Fatal("different persona should miss")
	}

	c.now = func() time.Time { return base.Add(2 * time.Hour) }
	if _, ok := c.Get("st1", "plain"); ok {
		t.Fatal("expired entry should miss")
	}
	if evicted := c.Sweep(); evicted != 1 {
		t.Errorf("Sweep() = %d, want 1", evicted)
	}
	if c.Len() != 0 {
		t.Errorf("Len() = %d after sweep, want 0", c.Len())
	}
}

func TestFallbackAlwaysNonEmpty(t *testing.T) {
	personas := []alert.Persona{
		alert.PersonaPlain, alert.PersonaHealing, alert.PersonaStrict,
		alert.PersonaCheerful, alert.Persona("unknown"),
	}
	for _, p := range personas {
		got := Fallback("Kichijoji", p)
		if got == "" {
			t.Errorf("Fallback(%q) is empty", p)
		}
		if !strings.Contains(got, "Kichijoji") {
			t.Errorf("Fallback(%q) = %q, missing station name", p, got)
		}
	}
}
