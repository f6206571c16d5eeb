// Package llm defines the provider interface used to turn finished run
// reports into short research notes. Providers are optional: nothing in the
// engine depends on one, and a run is complete before any provider is asked
// for an opinion.
package llm

import "context"

// Provider is a language model backend capable of one-shot completion.
// The analyst never holds a conversation, so the contract is a single
// system-framed prompt in, one note out.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req Request) (*Response, error)
}

// Request holds one completion request.
type Request struct {
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// Response holds the model's reply. Token counts are for logging; zero
// when a backend does not report them.
type Response struct {
	Text         string
	InputTokens  int
	OutputTokens int
}
