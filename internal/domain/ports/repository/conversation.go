package repository

import (
	"context"

	"socratic-ai-service/internal/domain/model"
)

type ConversationRepository interface {
	Save(ctx context.Context, qx any, c *model.Conversation) error
	FindByID(ctx context.Context, qx any, id string) (*model.Conversation, error)
	FindAllByUser(ctx context.Context, qx any, userID string) ([]*model.Conversation, error)
	Delete(ctx context.Context, qx any, id string) error
}

// ContextStore hands the processor everything it needs to build a prompt.
// Returns domain.ErrNotFound when the conversation or the technique is
// unknown.
type ContextStore interface {
	LoadContext(ctx context.Context, conversationID, technique string) (*model.ConversationContext, error)
}

// AppendMeta is the call metadata persisted alongside an exchange.
type AppendMeta struct {
	JobID  string
	Model  string
	Tokens int
}

// AppendResult carries the sequence numbers assigned to the stored pair.
type AppendResult struct {
	UserSequence       int64
	AssistantSequence  int64
	AssistantMessageID string
}

// MessageStore persists a completed user/assistant exchange atomically and
// runs its own archival threshold check afterwards.
type MessageStore interface {
	AppendMessage(ctx context.Context, conversationID string, userMsg, assistantMsg *model.ChatMessage, meta AppendMeta) (*AppendResult, error)
}
