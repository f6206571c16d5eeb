package notifier

import (
	"context"
	"errors"
	"testing"
)

type mockNotifier struct {
	name       string
	sendCalled int
	shouldFail bool
	lastEvent  Event
}

func (m *mockNotifier) Name() string { return m.name }

func (m *mockNotifier) Send(ctx context.Context, ev Event) error {
	m.sendCalled++
	m.lastEvent = ev
	if m.shouldFail {
		return errors.New("send failed")
	}
	return nil
}

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry()

	mock := &mockNotifier{name: "test"}
	err := r.Register(mock)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Duplicate registration should fail
	err = r.Register(mock)
	if err == nil {
		t.Error("expected error for duplicate registration")
	}
}

func TestRegistry_Get(t *testing.T) {
	r := NewRegistry()

	mock := &mockNotifier{name: "test"}
	r.Register(mock)

	n, err := r.Get("test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n.Name() != "test" {
		t.Errorf("expected 'test', got '%s'", n.Name())
	}

	_, err = r.Get("nonexistent")
	if err == nil {
		t.Error("expected error for non-existent notifier")
	}
}

func TestRegistry_Names(t *testing.T) {
	r := NewRegistry()

	r.Register(&mockNotifier{name: "a"})
	r.Register(&mockNotifier{name: "b"})

	names := r.Names()
	if len(names) != 2 {
		t.Errorf("expected 2 names, got %d", len(names))
	}
}

func TestRegistry_NotifyAll(t *testing.T) {
	r := NewRegistry()

	ok := &mockNotifier{name: "ok"}
	bad := &mockNotifier{name: "bad", shouldFail: true}
	r.Register(ok)
	r.Register(bad)

	ev := Event{Kind: "backtest", RunID: "run-1", Strategy: "macross", State: "COMPLETED"}
	errs := r.NotifyAll(context.Background(), ev)

	if len(errs) != 1 {
		t.Fatalf("expected 1 error, got %d", len(errs))
	}
	if _, exists := errs["bad"]; !exists {
		t.Error("expected error keyed by failing notifier")
	}
	if ok.sendCalled != 1 || bad.sendCalled != 1 {
		t.Error("expected every notifier to be tried")
	}
	if ok.lastEvent.RunID != "run-1" {
		t.Errorf("expected event delivered, got %+v", ok.lastEvent)
	}
}

func TestRegistry_NotifyAll_Empty(t *testing.T) {
	r := NewRegistry()

	errs := r.NotifyAll(context.Background(), Event{Kind: "backtest"})
	if len(errs) != 0 {
		t.Errorf("expected no errors from empty registry, got %d", len(errs))
	}
}
