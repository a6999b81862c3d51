// File: internal/infra/adapters/ai/multi_adapter.go
package ai

import (
	"context"
	"strings"

	"socratic-ai-service/internal/domain"
	"socratic-ai-service/internal/domain/ports/adapter"
)

var _ adapter.ProviderGateway = (*MultiAdapter)(nil)

// MultiAdapter routes each call to a provider gateway by model name: an
// explicit config mapping wins, then the naming heuristic, then the default
// provider.
type MultiAdapter struct {
	defaultProvider string
	byProvider      map[string]adapter.ProviderGateway
	modelToProvider map[string]string
}

func NewMultiAdapter(
	defaultProvider string,
	byProvider map[string]adapter.ProviderGateway,
	modelToProvider map[string]string,
) *MultiAdapter {
	return &MultiAdapter{
		defaultProvider: strings.ToLower(defaultProvider),
		byProvider:      byProvider,
		modelToProvider: modelToProvider,
	}
}

func (m *MultiAdapter) resolveProvider(model string) string {
	if p := m.modelToProvider[model]; p != "" {
		return strings.ToLower(p)
	}
	l := strings.ToLower(model)
	switch {
	case strings.HasPrefix(l, "gemini"):
		return "gemini"
	case strings.HasPrefix(l, "gpt"):
		return "openai"
	default:
		return m.defaultProvider
	}
}

func (m *MultiAdapter) pick(model string) adapter.ProviderGateway {
	if a := m.byProvider[m.resolveProvider(model)]; a != nil {
		return a
	}
	// last resort: first available
	for _, a := range m.byProvider {
		if a != nil {
			return a
		}
	}
	return nil
}

func (m *MultiAdapter) ListModels(ctx context.Context) ([]string, error) {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(m.modelToProvider)+4)

	for model := range m.modelToProvider {
		if _, ok := seen[model]; !ok {
			seen[model] = struct{}{}
			out = append(out, model)
		}
	}
	for _, a := range m.byProvider {
		list, _ := a.ListModels(ctx)
		for _, name := range list {
			if name == "" {
				continue
			}
			if _, ok := seen[name]; !ok {
				seen[name] = struct{}{}
				out = append(out, name)
			}
		}
	}
	return out, nil
}

func (m *MultiAdapter) CountTokens(ctx context.Context, model string, messages []adapter.Message) (int, error) {
	a := m.pick(model)
	if a == nil {
		return 0, nil
	}
	return a.CountTokens(ctx, model, messages)
}

func (m *MultiAdapter) Send(ctx context.Context, messages []adapter.Message, model string, cred adapter.Credential) (*adapter.Completion, error) {
	a := m.pick(model)
	if a == nil {
		return nil, domain.NewProviderError(0, "no provider gateway configured")
	}
	return a.Send(ctx, messages, model, cred)
}
