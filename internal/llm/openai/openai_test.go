package openai

import (
	"testing"

	"github.com/openquant/crucible/internal/llm"
)

func TestProvider_ImplementsInterface(t *testing.T) {
	var _ llm.Provider = (*Provider)(nil)
}

func TestNew(t *testing.T) {
	tests := []struct {
		name      string
		apiKey    string
		model     string
		wantModel string
		wantErr   bool
	}{
		{name: "missing key", apiKey: "", model: "gpt-4", wantErr: true},
		{name: "default model", apiKey: "test-key", model: "", wantModel: "gpt-4o"},
		{name: "explicit model", apiKey: "test-key", model: "gpt-4-turbo", wantModel: "gpt-4-turbo"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New(tt.apiKey, tt.model)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if p.model != tt.wantModel {
				t.Errorf("model = %s, want %s", p.model, tt.wantModel)
			}
		})
	}
}
