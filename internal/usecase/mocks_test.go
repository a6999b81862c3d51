// File: internal/usecase/mocks_test.go
package usecase

import (
	"context"
	"sync"
	"time"

	"socratic-ai-service/internal/domain"
	"socratic-ai-service/internal/domain/model"
	"socratic-ai-service/internal/domain/ports/adapter"
	"socratic-ai-service/internal/domain/ports/repository"
	"socratic-ai-service/internal/infra/queue"
)

// memConversationRepo is a small in-memory implementation used by unit tests.
type memConversationRepo struct {
	mu      sync.RWMutex
	store   map[string]*model.Conversation
	saveErr error // used by tests to simulate save failures
}

func newMemConversationRepo() *memConversationRepo {
	return &memConversationRepo{store: make(map[string]*model.Conversation)}
}

func (m *memConversationRepo) Save(ctx context.Context, qx any, c *model.Conversation) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.store[c.ID] = &cp
	return nil
}

func (m *memConversationRepo) FindByID(ctx context.Context, qx any, id string) (*model.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.store[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memConversationRepo) FindAllByUser(ctx context.Context, qx any, userID string) ([]*model.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Conversation
	for _, c := range m.store {
		if c.UserID == userID {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memConversationRepo) Delete(ctx context.Context, qx any, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.store[id]; !ok {
		return domain.ErrNotFound
	}
	delete(m.store, id)
	return nil
}

// memKeyRepo backs both the chat BYOK probe and the key use case tests.
type memKeyRepo struct {
	mu    sync.RWMutex
	store map[string]*repository.ProviderKey // userID/provider
}

func newMemKeyRepo() *memKeyRepo {
	return &memKeyRepo{store: make(map[string]*repository.ProviderKey)}
}

func keyID(userID, provider string) string { return userID + "/" + provider }

func keyFor(userID, provider string) *repository.ProviderKey {
	return &repository.ProviderKey{UserID: userID, Provider: provider, Ciphertext: "ct", CreatedAt: time.Now()}
}

func (m *memKeyRepo) Save(ctx context.Context, qx any, key *repository.ProviderKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *key
	m.store[keyID(key.UserID, key.Provider)] = &cp
	return nil
}

func (m *memKeyRepo) Find(ctx context.Context, qx any, userID, provider string) (*repository.ProviderKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	k, ok := m.store[keyID(userID, provider)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *k
	return &cp, nil
}

func (m *memKeyRepo) ListByUser(ctx context.Context, qx any, userID string) ([]*repository.ProviderKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*repository.ProviderKey
	for _, k := range m.store {
		if k.UserID == userID {
			cp := *k
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memKeyRepo) Delete(ctx context.Context, qx any, userID, provider string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := keyID(userID, provider)
	if _, ok := m.store[id]; !ok {
		return domain.ErrNotFound
	}
	delete(m.store, id)
	return nil
}

// fakeJobQueue records enqueues without running anything.
type fakeJobQueue struct {
	mu       sync.Mutex
	enqueued []queue.EnqueueParams
	err      error
}

func (f *fakeJobQueue) Enqueue(ctx context.Context, p queue.EnqueueParams) (*queue.EnqueueResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enqueued = append(f.enqueued, p)
	return &queue.EnqueueResult{JobID: "job-1", Position: int64(len(f.enqueued))}, nil
}

func (f *fakeJobQueue) GetStatus(ctx context.Context, jobID string) (*queue.JobStatus, error) {
	return &queue.JobStatus{State: model.JobStateWaiting}, nil
}

func (f *fakeJobQueue) GetMetrics(ctx context.Context) (*queue.Metrics, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &queue.Metrics{Waiting: int64(len(f.enqueued))}, nil
}

// fakeLimiter flips between allowing and denying.
type fakeLimiter struct {
	allow bool
	err   error
	calls int
}

func (f *fakeLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	f.calls++
	return f.allow, f.err
}

// fakeCleaner records stream cleanup calls.
type fakeCleaner struct {
	cleaned []string
}

func (f *fakeCleaner) CleanupConversation(conversationID string) {
	f.cleaned = append(f.cleaned, conversationID)
}

// stubModels is the minimal gateway for ListModels.
type stubModels struct{ models []string }

func (s *stubModels) ListModels(ctx context.Context) ([]string, error) { return s.models, nil }

func (s *stubModels) CountTokens(ctx context.Context, model string, messages []adapter.Message) (int, error) {
	return 0, nil
}

func (s *stubModels) Send(ctx context.Context, messages []adapter.Message, model string, cred adapter.Credential) (*adapter.Completion, error) {
	return &adapter.Completion{Content: "ok"}, nil
}
