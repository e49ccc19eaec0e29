package supplement

import (
	"context"
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/nagata-labs/shortlist-batch/internal/config"
	"github.com/nagata-labs/shortlist-batch/internal/model"
)

// ClaudeEnricher implements LLMEnricher against the Anthropic API. It is
// wired only when cfg.Enabled is true; every call path has a mandatory,
// synchronous fallback so a disabled key, a timeout, or an API error never
// blocks the Supplementer — enrichment is cosmetic copy only.
type ClaudeEnricher struct {
	client  anthropic.Client
	model   anthropic.Model
	timeout time.Duration
}

// NewClaudeEnricher builds an enricher from LLM config, or returns nil if
// enrichment is disabled.
func NewClaudeEnricher(cfg config.LLMConfig) *ClaudeEnricher {
	if !cfg.Enabled || cfg.APIKey == "" {
		return nil
	}
	return &ClaudeEnricher{
		client:  anthropic.NewClient(option.WithAPIKey(cfg.APIKey)),
		model:   anthropic.Model(cfg.Model),
		timeout: time.Duration(cfg.TimeoutMS) * time.Millisecond,
	}
}

// EnrichFallbackCopy asks the model for one short, policy-safe line of
// fallback-slate copy for the user's preferred categories. Any error or
// timeout returns ok=false so the caller uses its templated default.
func (e *ClaudeEnricher) EnrichFallbackCopy(ctx context.Context, user model.User) (string, bool) {
	if e == nil {
		return "", false
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	prompt := fmt.Sprintf(
		"Write one short, friendly job-board section title (max 8 words) for a user in prefecture %s with experience level %d. No emoji, no exclamation marks.",
		user.PrefectureCode, user.ExperienceLevel,
	)

	msg, err := e.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     e.model,
		MaxTokens: 32,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil || len(msg.Content) == 0 {
		return "", false
	}

	text := msg.Content[0].Text
	if text == "" {
		return "", false
	}
	return text, true
}
