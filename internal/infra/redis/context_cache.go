package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"

	"socratic-ai-service/internal/domain/model"
	"socratic-ai-service/internal/domain/ports/repository"
)

// ContextCache keeps recently built conversation contexts in Redis so the
// prompt builder doesn't hit Postgres for every job of a busy conversation.
type ContextCache struct {
	client *Client
	ttl    time.Duration
}

func NewContextCache(client *Client, ttl time.Duration) *ContextCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &ContextCache{client: client, ttl: ttl}
}

func contextKey(conversationID, technique string) string {
	return "conv_ctx:" + conversationID + ":" + technique
}

func (c *ContextCache) Get(ctx context.Context, conversationID, technique string) (*model.ConversationContext, error) {
	data, err := c.client.Get(ctx, contextKey(conversationID, technique))
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var cc model.ConversationContext
	if err := json.Unmarshal([]byte(data), &cc); err != nil {
		return nil, err
	}
	return &cc, nil
}

func (c *ContextCache) Store(ctx context.Context, conversationID, technique string, cc *model.ConversationContext) error {
	data, err := json.Marshal(cc)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, contextKey(conversationID, technique), data, c.ttl)
}

// Invalidate drops every cached context of a conversation. Technique is part
// of the key, so the wildcard-free variant deletes the known techniques'
// entries by listing them at the call site; callers that don't know pass ""
// and only the default entry goes.
func (c *ContextCache) Invalidate(ctx context.Context, conversationID string, techniques ...string) error {
	if len(techniques) == 0 {
		techniques = []string{""}
	}
	keys := make([]string, 0, len(techniques))
	for _, tq := range techniques {
		keys = append(keys, contextKey(conversationID, tq))
	}
	return c.client.Del(ctx, keys...)
}

// CachedContextStore is a read-through decorator over the persistent
// ContextStore. Cache failures fall back to the inner store, never to the
// caller.
type CachedContextStore struct {
	inner repository.ContextStore
	cache *ContextCache
}

var _ repository.ContextStore = (*CachedContextStore)(nil)

func NewCachedContextStore(inner repository.ContextStore, cache *ContextCache) *CachedContextStore {
	return &CachedContextStore{inner: inner, cache: cache}
}

func (s *CachedContextStore) LoadContext(ctx context.Context, conversationID, technique string) (*model.ConversationContext, error) {
	if cc, err := s.cache.Get(ctx, conversationID, technique); err == nil && cc != nil {
		return cc, nil
	}
	cc, err := s.inner.LoadContext(ctx, conversationID, technique)
	if err != nil {
		return nil, err
	}
	_ = s.cache.Store(ctx, conversationID, technique, cc)
	return cc, nil
}
