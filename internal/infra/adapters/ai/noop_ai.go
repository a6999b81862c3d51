package ai

import (
	"context"
	"strings"
	"time"

	"socratic-ai-service/internal/domain/ports/adapter"
)

var _ adapter.ProviderGateway = (*NoopAdapter)(nil)

// NoopAdapter is the dev-mode gateway: no network, canned replies, token
// counts from a crude word count.
type NoopAdapter struct {
	Delay time.Duration
}

func NewNoopAdapter() *NoopAdapter {
	return &NoopAdapter{Delay: 100 * time.Millisecond}
}

func (a *NoopAdapter) ListModels(ctx context.Context) ([]string, error) {
	return []string{"noop-model"}, nil
}

func (a *NoopAdapter) CountTokens(ctx context.Context, model string, messages []adapter.Message) (int, error) {
	n := 0
	for _, m := range messages {
		n += len(strings.Fields(m.Content))
	}
	return n, nil
}

func (a *NoopAdapter) Send(ctx context.Context, messages []adapter.Message, model string, cred adapter.Credential) (*adapter.Completion, error) {
	select {
	case <-time.After(a.Delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	prompt, _ := a.CountTokens(ctx, model, messages)
	content := "This is a canned development response."
	return &adapter.Completion{
		Content:          content,
		PromptTokens:     prompt,
		CompletionTokens: len(strings.Fields(content)),
		TotalTokens:      prompt + len(strings.Fields(content)),
	}, nil
}
