package llm

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/openquant/crucible/internal/core"
)

// Analyst asks a provider to comment on a finished run. The note it produces
// is advisory text for the run archive; the run's results are sealed before
// Annotate is ever called, so a provider failure can cost the note but never
// the run.
type Analyst struct {
	provider    Provider
	logger      *zap.Logger
	maxTokens   int
	temperature float64
}

// AnalystConfig holds analyst tuning knobs.
type AnalystConfig struct {
	MaxTokens   int
	Temperature float64
}

// NewAnalyst creates an analyst backed by the given provider.
func NewAnalyst(provider Provider, logger *zap.Logger, cfg AnalystConfig) *Analyst {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = 0.3
	}
	return &Analyst{
		provider:    provider,
		logger:      logger,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
	}
}

// Annotate sends the rendered run summary to the provider and returns its
// research note. Failures come back wrapped in core.ErrLLMFailed; callers
// log them and move on.
func (a *Analyst) Annotate(ctx context.Context, summary string) (string, error) {
	if strings.TrimSpace(summary) == "" {
		return "", core.WrapError(core.ErrLLMFailed, errors.New("empty summary"))
	}

	req := Request{
		System:      analystSystemPrompt,
		Prompt:      buildNotePrompt(summary),
		MaxTokens:   a.maxTokens,
		Temperature: a.temperature,
	}

	resp, err := a.provider.Complete(ctx, req)
	if err != nil {
		return "", core.WrapError(core.ErrLLMFailed, err)
	}

	note := strings.TrimSpace(resp.Text)
	if note == "" {
		return "", core.WrapError(core.ErrLLMFailed, errors.New("provider returned no content"))
	}

	a.logger.Debug("research note generated",
		zap.String("provider", a.provider.Name()),
		zap.Int("input_tokens", resp.InputTokens),
		zap.Int("output_tokens", resp.OutputTokens))

	return note, nil
}

func buildNotePrompt(summary string) string {
	var sb strings.Builder

	sb.WriteString("## Run Summary:\n\n")
	sb.WriteString(summary)
	sb.WriteString("\n\n## Task:\n")
	sb.WriteString("Write a short research note on this run.\n")
	sb.WriteString("Assess overfitting risk from the in-sample/out-of-sample degradation and parameter stability.\n")
	sb.WriteString("Call out any window or flag that deserves attention.\n")
	sb.WriteString("Finish with one or two concrete follow-up experiments.\n")

	return sb.String()
}

const analystSystemPrompt = `You are a quantitative research assistant reviewing backtest and walk-forward validation results.

Consider:
1. Out-of-sample degradation - large gaps between in-sample and out-of-sample performance suggest overfitting
2. Parameter stability - winning parameters that drift across windows are fragile
3. Trade counts - conclusions drawn from a handful of trades are weak
4. Flags - every overfit flag in the summary was raised for a reason

Write plain prose, at most three short paragraphs. Do not restate the numbers; interpret them.`
