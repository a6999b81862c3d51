package model

import (
	"time"
)

type ConversationStatus string

const (
	ConversationActive   ConversationStatus = "active"
	ConversationArchived ConversationStatus = "archived"
)

// ChatMessage represents one stored message within a conversation.
// Sequence is assigned by the message store and is strictly increasing
// within a conversation.
type ChatMessage struct {
	ID             string
	ConversationID string
	Role           string // "user" | "assistant" | "system"
	Content        string
	Tokens         int
	Sequence       int64
	Timestamp      time.Time
}

// Conversation is the aggregate root for a dialogue with a model.
type Conversation struct {
	ID        string
	UserID    string
	Title     string
	Model     string
	Technique string
	Status    ConversationStatus
	Messages  []ChatMessage
	CreatedAt time.Time
	UpdatedAt time.Time
}

func NewConversation(id, userID, title, model, technique string) *Conversation {
	now := time.Now()
	return &Conversation{
		ID:        id,
		UserID:    userID,
		Title:     title,
		Model:     model,
		Technique: technique,
		Status:    ConversationActive,
		Messages:  make([]ChatMessage, 0, 8),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (c *Conversation) RecentMessages(n int) []ChatMessage {
	if n <= 0 || len(c.Messages) <= n {
		return c.Messages
	}
	return c.Messages[len(c.Messages)-n:]
}

// ConversationContext is what the processor needs to build a prompt:
// the technique's system prompt plus the recent history.
type ConversationContext struct {
	SystemPrompt string
	History      []ChatMessage
}

// UsageRecord captures one completed provider call for accounting.
type UsageRecord struct {
	UserID           string
	ConversationID   string
	JobID            string
	Model            string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	CostMicro        int64
	LatencyMS        int64
	UsedBYOK         bool
	CreatedAt        time.Time
}
