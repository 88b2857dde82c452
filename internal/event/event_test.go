package event

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"
	"time"

	"keyset-lifecycle-service/internal/domain"
)

// recorder は受け取ったイベントを保持するPublisher。
type recorder struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recorder) Publish(_ context.Context, ev domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func waitEvent(t *testing.T, ch <-chan domain.Event) domain.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return domain.Event{}
	}
}

func TestHub_SubscribeByKind(t *testing.T) {
	hub := NewHub()
	rotated := make(chan domain.Event, 4)
	unsub := hub.Subscribe(domain.EventRotated, func(ev domain.Event) { rotated <- ev })
	defer unsub()

	hub.Publish(context.Background(), domain.Event{Kind: domain.EventCreated, KeysetID: "k1", NamespaceID: 1})
	hub.Publish(context.Background(), domain.Event{Kind: domain.EventRotated, KeysetID: "k1", NamespaceID: 1})

	ev := waitEvent(t, rotated)
	if ev.Kind != domain.EventRotated || ev.KeysetID != "k1" {
		t.Errorf("unexpected event: %+v", ev)
	}
	select {
	case extra := <-rotated:
		t.Errorf("subscriber received an event of another kind: %+v", extra)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_SubscribeAll(t *testing.T) {
	hub := NewHub()
	got := make(chan domain.Event, 8)
	unsub := hub.SubscribeAll(func(ev domain.Event) { got <- ev })

	for _, kind := range domain.EventKinds() {
		hub.Publish(context.Background(), domain.Event{Kind: kind, KeysetID: "k1"})
	}
	seen := make(map[domain.EventKind]bool)
	for range domain.EventKinds() {
		seen[waitEvent(t, got).Kind] = true
	}
	if len(seen) != len(domain.EventKinds()) {
		t.Errorf("expected every kind once, got %v", seen)
	}

	unsub()
	hub.Publish(context.Background(), domain.Event{Kind: domain.EventCreated, KeysetID: "k2"})
	select {
	case ev := <-got:
		t.Errorf("received event after unsubscribe: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMulti_FansOut(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	Multi{a, Discard{}, b}.Publish(context.Background(), domain.Event{Kind: domain.EventDestroyed, KeysetID: "k1"})

	if len(a.events) != 1 || len(b.events) != 1 {
		t.Fatalf("expected one event per publisher, got %d and %d", len(a.events), len(b.events))
	}
}

func TestAuditPublisher(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	AuditPublisher{}.Publish(context.Background(), domain.Event{
		Kind:        domain.EventDisabled,
		KeysetID:    "k1",
		NamespaceID: 42,
		OccurredAt:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	})

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("audit line is not JSON: %v", err)
	}
	if entry["operation"] != "keyset.disabled" || entry["timestamp"] != "2026-03-01T12:00:00Z" {
		t.Errorf("unexpected audit entry: %v", entry)
	}
}
