package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/openquant/crucible/internal/llm"
)

func TestProvider_ImplementsInterface(t *testing.T) {
	var _ llm.Provider = (*Provider)(nil)
}

func TestNew_Defaults(t *testing.T) {
	p, err := New("", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.endpoint != "http://localhost:11434" {
		t.Errorf("expected default endpoint http://localhost:11434, got %s", p.endpoint)
	}
	if p.model != "qwen2.5:32b" {
		t.Errorf("expected default model qwen2.5:32b, got %s", p.model)
	}
}

func TestNew_CustomValues(t *testing.T) {
	p, err := New("http://custom:8080", "llama3")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.endpoint != "http://custom:8080" {
		t.Errorf("expected custom endpoint, got %s", p.endpoint)
	}
	if p.model != "llama3" {
		t.Errorf("expected custom model, got %s", p.model)
	}
}

func TestComplete_RoundTrip(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		json.NewEncoder(w).Encode(chatResponse{
			Message:         chatMessage{Role: "assistant", Content: "a note"},
			Done:            true,
			PromptEvalCount: 10,
			EvalCount:       5,
		})
	}))
	defer srv.Close()

	p, err := New(srv.URL, "test-model")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	resp, err := p.Complete(context.Background(), llm.Request{
		System:    "be brief",
		Prompt:    "hello",
		MaxTokens: 64,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if resp.Text != "a note" {
		t.Errorf("expected text from server, got %q", resp.Text)
	}
	if resp.InputTokens != 10 || resp.OutputTokens != 5 {
		t.Errorf("unexpected token counts: %+v", resp)
	}

	if got.Stream {
		t.Error("expected stream disabled")
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != "system" || got.Messages[1].Content != "hello" {
		t.Errorf("expected system then user message, got %+v", got.Messages)
	}
	if got.Options.NumPredict != 64 {
		t.Errorf("expected num_predict 64, got %d", got.Options.NumPredict)
	}
}

func TestComplete_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	p, _ := New(srv.URL, "missing")
	_, err := p.Complete(context.Background(), llm.Request{Prompt: "hello"})
	if err == nil {
		t.Error("expected error for non-200 status")
	}
}
