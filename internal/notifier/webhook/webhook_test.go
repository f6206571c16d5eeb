package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/openquant/crucible/internal/notifier"
)

func TestWebhook_ImplementsNotifier(t *testing.T) {
	var _ notifier.Notifier = (*Webhook)(nil)
}

func TestNew_RequiresURL(t *testing.T) {
	_, err := New("hook", "", nil, 0)
	if err == nil {
		t.Error("expected error for missing URL")
	}
}

func TestNew_DefaultName(t *testing.T) {
	w, err := New("", "http://example.com/hook", nil, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if w.Name() != "webhook" {
		t.Errorf("expected default name webhook, got %s", w.Name())
	}
}

func TestWebhook_Send(t *testing.T) {
	var received notifier.Event
	var gotHeader string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("X-Auth")
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("expected JSON content type, got %s", ct)
		}
		json.NewDecoder(r.Body).Decode(&received)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	w, err := New("hook", server.URL, map[string]string{"X-Auth": "secret"}, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ev := notifier.Event{
		Kind:        "walkforward",
		RunID:       "run-42",
		Strategy:    "meanrev",
		Symbols:     []string{"AAPL", "MSFT"},
		State:       "COMPLETED",
		TotalReturn: 0.18,
		CAGR:        0.09,
		FinishedAt:  time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
	}

	if err := w.Send(context.Background(), ev); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if received.RunID != "run-42" {
		t.Errorf("expected run-42, got %s", received.RunID)
	}
	if received.Kind != "walkforward" {
		t.Errorf("expected kind walkforward, got %s", received.Kind)
	}
	if received.TotalReturn != 0.18 {
		t.Errorf("expected total return 0.18, got %f", received.TotalReturn)
	}
	if gotHeader != "secret" {
		t.Errorf("expected custom header delivered, got %q", gotHeader)
	}
}

func TestWebhook_Send_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	w, _ := New("hook", server.URL, nil, 0)
	err := w.Send(context.Background(), notifier.Event{Kind: "backtest", RunID: "run-1"})
	if err == nil {
		t.Error("expected error for 500 response")
	}
}

func TestWebhook_Send_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	w, _ := New("hook", server.URL, nil, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := w.Send(ctx, notifier.Event{Kind: "backtest"})
	if err == nil {
		t.Error("expected error for cancelled context")
	}
}
