package llm

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/openquant/crucible/internal/core"
)

type mockProvider struct {
	content string
	err     error
	lastReq Request
}

func (m *mockProvider) Name() string { return "mock" }

func (m *mockProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	m.lastReq = req
	if m.err != nil {
		return nil, m.err
	}
	return &Response{
		Text:         m.content,
		InputTokens:  100,
		OutputTokens: 50,
	}, nil
}

func TestAnalyst_Annotate(t *testing.T) {
	mock := &mockProvider{content: "  Degradation looks mild; parameters are stable.  "}
	analyst := NewAnalyst(mock, nil, AnalystConfig{})

	summary := "=== Crucible Walk-Forward ===\nDegradation: 0.12"
	note, err := analyst.Annotate(context.Background(), summary)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if note != "Degradation looks mild; parameters are stable." {
		t.Errorf("expected trimmed note, got %q", note)
	}

	if mock.lastReq.System == "" {
		t.Error("expected a system prompt")
	}
	if !strings.Contains(mock.lastReq.Prompt, summary) {
		t.Error("prompt should embed the run summary")
	}
	if mock.lastReq.MaxTokens != 1024 {
		t.Errorf("expected default max tokens 1024, got %d", mock.lastReq.MaxTokens)
	}
}

func TestAnalyst_AnnotateEmptySummary(t *testing.T) {
	analyst := NewAnalyst(&mockProvider{content: "note"}, nil, AnalystConfig{})

	_, err := analyst.Annotate(context.Background(), "   \n")
	if err == nil {
		t.Fatal("expected error for empty summary")
	}
	if !errors.Is(err, core.ErrLLMFailed) {
		t.Errorf("expected ErrLLMFailed, got %v", err)
	}
}

func TestAnalyst_AnnotateProviderError(t *testing.T) {
	mock := &mockProvider{err: errors.New("connection refused")}
	analyst := NewAnalyst(mock, nil, AnalystConfig{})

	_, err := analyst.Annotate(context.Background(), "summary")
	if err == nil {
		t.Fatal("expected error from provider failure")
	}
	if !errors.Is(err, core.ErrLLMFailed) {
		t.Errorf("expected ErrLLMFailed, got %v", err)
	}
	if !strings.Contains(err.Error(), "connection refused") {
		t.Errorf("expected cause in message, got %v", err)
	}
}

func TestAnalyst_AnnotateEmptyResponse(t *testing.T) {
	mock := &mockProvider{content: "   "}
	analyst := NewAnalyst(mock, nil, AnalystConfig{})

	_, err := analyst.Annotate(context.Background(), "summary")
	if err == nil {
		t.Fatal("expected error for blank response")
	}
	if !errors.Is(err, core.ErrLLMFailed) {
		t.Errorf("expected ErrLLMFailed, got %v", err)
	}
}

func TestAnalyst_ConfigOverrides(t *testing.T) {
	mock := &mockProvider{content: "note"}
	analyst := NewAnalyst(mock, nil, AnalystConfig{MaxTokens: 256, Temperature: 0.7})

	if _, err := analyst.Annotate(context.Background(), "summary"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mock.lastReq.MaxTokens != 256 {
		t.Errorf("expected max tokens 256, got %d", mock.lastReq.MaxTokens)
	}
	if mock.lastReq.Temperature != 0.7 {
		t.Errorf("expected temperature 0.7, got %f", mock.lastReq.Temperature)
	}
}
