// File: internal/usecase/conversation_uc.go
package usecase

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"socratic-ai-service/internal/domain"
	"socratic-ai-service/internal/domain/model"
	"socratic-ai-service/internal/domain/ports/repository"
)

// StreamCleaner severs live event subscriptions when their conversation
// goes away.
type StreamCleaner interface {
	CleanupConversation(conversationID string)
}

// Compile-time check
var _ ConversationUseCase = (*conversationUC)(nil)

type ConversationUseCase interface {
	Create(ctx context.Context, userID, title, modelName, technique string) (*model.Conversation, error)
	List(ctx context.Context, userID string) ([]*model.Conversation, error)
	Get(ctx context.Context, userID, id string) (*model.Conversation, error)
	Delete(ctx context.Context, userID, id string) error
}

type conversationUC struct {
	conversations repository.ConversationRepository
	streams       StreamCleaner
	defaultModel  string
}

func NewConversationUseCase(conversations repository.ConversationRepository, streams StreamCleaner, defaultModel string) *conversationUC {
	return &conversationUC{conversations: conversations, streams: streams, defaultModel: defaultModel}
}

func (c *conversationUC) Create(ctx context.Context, userID, title, modelName, technique string) (*model.Conversation, error) {
	if userID == "" {
		return nil, domain.ErrInvalidArgument
	}
	if modelName == "" {
		modelName = c.defaultModel
	}
	title = strings.TrimSpace(title)
	if title == "" {
		title = "New conversation"
	}
	conv := model.NewConversation(uuid.NewString(), userID, title, modelName, technique)
	if err := c.conversations.Save(ctx, nil, conv); err != nil {
		return nil, err
	}
	return conv, nil
}

func (c *conversationUC) List(ctx context.Context, userID string) ([]*model.Conversation, error) {
	return c.conversations.FindAllByUser(ctx, nil, userID)
}

func (c *conversationUC) Get(ctx context.Context, userID, id string) (*model.Conversation, error) {
	conv, err := c.conversations.FindByID(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	if conv.UserID != userID {
		return nil, domain.ErrNotFound
	}
	return conv, nil
}

// Delete removes the conversation and drops every live event subscription
// on it.
func (c *conversationUC) Delete(ctx context.Context, userID, id string) error {
	conv, err := c.conversations.FindByID(ctx, nil, id)
	if err != nil {
		return err
	}
	if conv.UserID != userID {
		return domain.ErrNotFound
	}
	if err := c.conversations.Delete(ctx, nil, id); err != nil {
		return err
	}
	if c.streams != nil {
		c.streams.CleanupConversation(id)
	}
	return nil
}
