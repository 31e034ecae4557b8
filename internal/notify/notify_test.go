package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/oriru-app/oriru-core/internal/alert"
	"github.com/oriru-app/oriru-core/internal/store"
)

type stubSink struct {
	delivered []string
	cancelled []string
	err       error
}

func (s *stubSink) DeliverNow(_ context.Context, title, body, identifier string) error {
	if s.err != nil {
		return s.err
	}
	s.delivered = append(s.delivered, identifier)
	return nil
}

func (s *stubSink) Cancel(_ context.Context, identifier string) error {
	s.cancelled = append(s.cancelled, identifier)
	return nil
}

func fixtures() (*alert.Alert, *alert.Station) {
	st := &alert.Station{ID: uuid.New(), Name: "Nakameguro", Latitude: 35.644, Longitude: 139.699}
	a := &alert.Alert{
		ID:        uuid.New(),
		StationID: st.ID,
		Mode:      alert.TriggerDistance,
		Persona:   alert.PersonaPlain,
		Active:    true,
		CreatedAt: time.Now(),
	}
	return a, st
}

func TestDispatchWritesHistoryOnDelivery(t *testing.T) {
	a, st := fixtures()
	mem := store.NewMemory()
	sink := &stubSink{}
	d := NewDispatcher(sink, mem, nil)

	if got := d.Dispatch(context.Background(), a, st, "almost there"); got != Delivered {
		t.Fatalf("Dispatch() = %v, want Delivered", got)
	}
	if len(sink.delivered) != 1 || sink.delivered[0] != Identifier(a.ID) {
		t.Errorf("sink saw %v, want per-alert identifier", sink.delivered)
	}

	hist, err := mem.ListHistory(context.Background(), a.ID, 10)
	if err != nil {
		t.Fatalf("ListHistory: %v", err)
	}
	if len(hist) != 1 {
		t.Fatalf("history rows = %d, want 1", len(hist))
	}
	if hist[0].Message != "almost there" {
		t.Errorf("history message = %q", hist[0].Message)
	}
}

func TestDispatchFailureWritesNoHistory(t *testing.T) {
	a, st := fixtures()
	mem := store.NewMemory()
	sink := &stubSink{err: errors.New("push gateway down")}
	d := NewDispatcher(sink, mem, nil)

	if got := d.Dispatch(context.Background(), a, st, "almost there"); got != Failed {
		t.Fatalf("Dispatch() = %v, want Failed", got)
	}
	hist, _ := mem.ListHistory(context.Background(), a.ID, 10)
	if len(hist) != 0 {
		t.Errorf("failed dispatch wrote %d history rows, want 0", len(hist))
	}
}

func TestIdentifierStablePerAlert(t *testing.T) {
	a, _ := fixtures()
	if Identifier(a.ID) != Identifier(a.ID) {
		t.Error("identifier should be deterministic per alert")
	}
	b := uuid.New()
	if Identifier(a.ID) == Identifier(b) {
		t.Error("different alerts must not share identifiers")
	}
}

func TestWebhookSink(t *testing.T) {
	var got webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth := r.Header.Get("Authorization"); auth != "Bearer tok" {
			t.Errorf("auth = %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	s := NewWebhookSink(srv.URL, "tok")
	if err := s.DeliverNow(context.Background(), "Next stop: X", "body", "id-1"); err != nil {
		t.Fatalf("DeliverNow: %v", err)
	}
	if got.Action != "deliver" || got.Identifier != "id-1" {
		t.Errorf("payload = %+v", got)
	}

	if err := s.Cancel(context.Background(), "id-1"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if got.Action != "cancel" {
		t.Errorf("cancel payload = %+v", got)
	}
}

func TestWebhookSinkErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	s := NewWebhookSink(srv.URL, "")
	if err := s.DeliverNow(context.Background(), "t", "b", "id"); err == nil {
		t.Error("expected error on 502")
	}
}
