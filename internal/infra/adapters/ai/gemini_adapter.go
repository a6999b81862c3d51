// File: internal/infra/adapters/ai/gemini_adapter.go
package ai

import (
	"context"
	"errors"
	"strings"

	"google.golang.org/genai"

	"socratic-ai-service/internal/domain"
	"socratic-ai-service/internal/domain/ports/adapter"
)

var _ adapter.ProviderGateway = (*GeminiAdapter)(nil)

// GeminiAdapter implements adapter.ProviderGateway on the official Gemini
// SDK. Clients are built per call so BYOK jobs run on the user's key.
type GeminiAdapter struct {
	serverKey    string
	baseURL      string
	defaultModel string
	maxOut       int
	pricer       *Pricer
}

func NewGeminiAdapter(serverKey, baseURL, defaultModel string, maxOut int, pricer *Pricer) *GeminiAdapter {
	if defaultModel == "" {
		defaultModel = "gemini-2.0-flash"
	}
	return &GeminiAdapter{
		serverKey:    serverKey,
		baseURL:      baseURL,
		defaultModel: defaultModel,
		maxOut:       maxOut,
		pricer:       pricer,
	}
}

func (g *GeminiAdapter) client(ctx context.Context, apiKey string) (*genai.Client, error) {
	if apiKey == "" {
		apiKey = g.serverKey
	}
	if apiKey == "" {
		return nil, domain.ErrCredentialMissing
	}
	return genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{
			BaseURL: g.baseURL,
		},
	})
}

func (g *GeminiAdapter) ListModels(ctx context.Context) ([]string, error) {
	cli, err := g.client(ctx, "")
	if err != nil {
		return nil, err
	}
	var out []string
	for m := range cli.Models.All(ctx) {
		if m.Name != "" {
			out = append(out, m.Name)
		}
	}
	if len(out) == 0 {
		out = []string{g.defaultModel}
	}
	return out, nil
}

func (g *GeminiAdapter) CountTokens(ctx context.Context, model string, messages []adapter.Message) (int, error) {
	cli, err := g.client(ctx, "")
	if err != nil {
		return 0, err
	}
	contents := toGenAIHistory(messages)
	resp, err := cli.Models.CountTokens(ctx, modelOrDefault(model, g.defaultModel), contents, nil)
	if err != nil {
		return 0, classifyGemini(err)
	}
	return int(resp.TotalTokens), nil
}

func (g *GeminiAdapter) Send(ctx context.Context, messages []adapter.Message, model string, cred adapter.Credential) (*adapter.Completion, error) {
	if len(messages) == 0 {
		return nil, errors.New("gemini: no messages")
	}
	last := messages[len(messages)-1]
	if strings.ToLower(last.Role) != "user" {
		return nil, errors.New("gemini: last message must be from user")
	}

	cli, err := g.client(ctx, cred.APIKey)
	if err != nil {
		return nil, err
	}

	model = modelOrDefault(model, g.defaultModel)
	cfg := &genai.GenerateContentConfig{}
	if g.maxOut > 0 {
		cfg.MaxOutputTokens = int32(g.maxOut)
	}
	// Gemini has no "system" role in history; the system prompt goes in as
	// a dedicated instruction instead.
	body := messages[:len(messages)-1]
	if len(body) > 0 && strings.ToLower(body[0].Role) == "system" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: body[0].Content}}}
		body = body[1:]
	}

	chat, err := cli.Chats.Create(ctx, model, cfg, toGenAIHistory(body))
	if err != nil {
		return nil, classifyGemini(err)
	}
	resp, err := chat.SendMessage(ctx, genai.Part{Text: last.Content})
	if err != nil {
		return nil, classifyGemini(err)
	}

	comp := &adapter.Completion{}
	if resp != nil && len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil && len(resp.Candidates[0].Content.Parts) > 0 {
		comp.Content = resp.Candidates[0].Content.Parts[0].Text
	}
	if resp != nil && resp.UsageMetadata != nil {
		comp.PromptTokens = int(resp.UsageMetadata.PromptTokenCount)
		comp.CompletionTokens = int(resp.UsageMetadata.CandidatesTokenCount)
		comp.TotalTokens = int(resp.UsageMetadata.TotalTokenCount)
	}
	if !cred.BYOK {
		comp.CostMicro = g.pricer.Cost(model, comp.PromptTokens, comp.CompletionTokens)
	}
	return comp, nil
}

func classifyGemini(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var apierr genai.APIError
	if errors.As(err, &apierr) {
		return domain.NewProviderError(apierr.Code, apierr.Message)
	}
	return domain.NewProviderError(0, err.Error())
}

func toGenAIHistory(msgs []adapter.Message) []*genai.Content {
	out := make([]*genai.Content, 0, len(msgs))
	for _, m := range msgs {
		role := genai.RoleUser
		switch strings.ToLower(m.Role) {
		case "assistant", "model":
			role = genai.RoleModel
		}
		out = append(out, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: m.Content}},
		})
	}
	return out
}
