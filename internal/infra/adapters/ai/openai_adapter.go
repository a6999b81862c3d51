// File: internal/infra/adapters/ai/openai_adapter.go
package ai

import (
	"context"
	"errors"
	"strings"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/pkoukk/tiktoken-go"

	"socratic-ai-service/internal/domain"
	"socratic-ai-service/internal/domain/ports/adapter"
)

// Compile-time assurance this adapter satisfies the port
var _ adapter.ProviderGateway = (*OpenAIAdapter)(nil)

// OpenAIAdapter implements adapter.ProviderGateway on the official SDK's
// Chat Completions API. The client is rebuilt per call because the
// credential may differ per job (BYOK).
type OpenAIAdapter struct {
	defaultModel string
	serverKey    string
	pricer       *Pricer
	baseURL      string
}

func NewOpenAIAdapter(serverKey, defaultModel string, pricer *Pricer) *OpenAIAdapter {
	if defaultModel == "" {
		defaultModel = "gpt-4o-mini"
	}
	return &OpenAIAdapter{defaultModel: defaultModel, serverKey: serverKey, pricer: pricer}
}

func (o *OpenAIAdapter) client(apiKey string) openai.Client {
	if apiKey == "" {
		apiKey = o.serverKey
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if o.baseURL != "" {
		opts = append(opts, option.WithBaseURL(o.baseURL))
	}
	return openai.NewClient(opts...)
}

func (o *OpenAIAdapter) ListModels(ctx context.Context) ([]string, error) {
	cli := o.client("")
	page, err := cli.Models.List(ctx)
	if err != nil {
		return nil, classifyOpenAI(err)
	}
	var out []string
	for _, m := range page.Data {
		out = append(out, m.ID)
	}
	if len(out) == 0 {
		out = []string{o.defaultModel}
	}
	return out, nil
}

// CountTokens estimates prompt tokens with tiktoken. The estimate ignores
// per-message framing overhead; billing uses the usage the API reports.
func (o *OpenAIAdapter) CountTokens(ctx context.Context, model string, messages []adapter.Message) (int, error) {
	enc, err := tiktoken.EncodingForModel(modelOrDefault(model, o.defaultModel))
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return 0, err
		}
	}
	total := 0
	for _, m := range messages {
		total += len(enc.Encode(m.Content, nil, nil))
	}
	return total, nil
}

func (o *OpenAIAdapter) Send(ctx context.Context, messages []adapter.Message, model string, cred adapter.Credential) (*adapter.Completion, error) {
	if len(messages) == 0 {
		return nil, errors.New("openai: no messages")
	}
	model = modelOrDefault(model, o.defaultModel)

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: make([]openai.ChatCompletionMessageParamUnion, 0, len(messages)),
	}
	for _, m := range messages {
		switch strings.ToLower(m.Role) {
		case "system":
			params.Messages = append(params.Messages, openai.SystemMessage(m.Content))
		case "assistant":
			params.Messages = append(params.Messages, openai.AssistantMessage(m.Content))
		default:
			params.Messages = append(params.Messages, openai.UserMessage(m.Content))
		}
	}

	cli := o.client(cred.APIKey)
	resp, err := cli.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, classifyOpenAI(err)
	}
	if len(resp.Choices) == 0 {
		return nil, domain.NewProviderError(0, "openai: empty choice list")
	}

	comp := &adapter.Completion{
		Content:          resp.Choices[0].Message.Content,
		PromptTokens:     int(resp.Usage.PromptTokens),
		CompletionTokens: int(resp.Usage.CompletionTokens),
		TotalTokens:      int(resp.Usage.TotalTokens),
	}
	// BYOK traffic runs on the user's own account; no internal cost.
	if !cred.BYOK {
		comp.CostMicro = o.pricer.Cost(model, comp.PromptTokens, comp.CompletionTokens)
	}
	return comp, nil
}

// classifyOpenAI maps SDK errors onto the domain taxonomy by HTTP status.
func classifyOpenAI(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var apierr *openai.Error
	if errors.As(err, &apierr) {
		return domain.NewProviderError(apierr.StatusCode, apierr.Message)
	}
	return domain.NewProviderError(0, err.Error())
}

func modelOrDefault(model, def string) string {
	if strings.TrimSpace(model) != "" {
		return model
	}
	return def
}
