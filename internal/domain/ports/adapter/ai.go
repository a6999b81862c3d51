package adapter

import (
	"context"
	"strings"
)

// Message represents one provider-agnostic chat message.
type Message struct {
	Role    string `json:"role"` // "user", "assistant", "system"
	Content string `json:"content"`
}

// Credential carries the API key used for one provider call. BYOK marks a
// user-supplied key as opposed to the server-owned one.
type Credential struct {
	APIKey string
	BYOK   bool
}

// Completion is the result of a single provider call, cost already priced
// in micro-credits by the adapter.
type Completion struct {
	Content          string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	CostMicro        int64
}

// ProviderGateway is the port for LLM chat completions.
type ProviderGateway interface {
	ListModels(ctx context.Context) ([]string, error)

	// CountTokens returns prompt tokens for the provided messages
	// (provider-specific counting; best-effort when exact isn't available).
	CountTokens(ctx context.Context, model string, messages []Message) (int, error)

	// Send performs one chat completion with the given credential.
	Send(ctx context.Context, messages []Message, model string, cred Credential) (*Completion, error)
}

// ProviderForModel maps a model name to its provider by naming convention.
func ProviderForModel(model string) string {
	l := strings.ToLower(model)
	switch {
	case strings.HasPrefix(l, "gemini"):
		return "gemini"
	default:
		return "openai"
	}
}
