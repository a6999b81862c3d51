//go:build integration

package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"socratic-ai-service/internal/domain"
	"socratic-ai-service/internal/domain/model"
	"socratic-ai-service/internal/domain/ports/repository"
)

func newConvRepo() *ConversationRepo {
	return NewPostgresConversationRepo(testPool, NewTxManager(testPool))
}

func seedConversation(t *testing.T, repo *ConversationRepo) *model.Conversation {
	t.Helper()
	c := model.NewConversation(uuid.NewString(), "user-1", "Recursion help", "gpt-4o-mini", "socratic")
	if err := repo.Save(context.Background(), nil, c); err != nil {
		t.Fatalf("Save: %v", err)
	}
	return c
}

func TestConversationRepo_SaveAndFind(t *testing.T) {
	cleanup(t)
	repo := newConvRepo()
	c := seedConversation(t, repo)

	got, err := repo.FindByID(context.Background(), nil, c.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if got.UserID != "user-1" || got.Technique != "socratic" || got.Status != model.ConversationActive {
		t.Fatalf("round trip mismatch: %+v", got)
	}

	if _, err := repo.FindByID(context.Background(), nil, uuid.NewString()); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("unknown id: err = %v, want ErrNotFound", err)
	}
}

func TestConversationRepo_AppendAssignsSequences(t *testing.T) {
	cleanup(t)
	repo := newConvRepo()
	c := seedConversation(t, repo)

	appendPair := func(q, a string) *repository.AppendResult {
		t.Helper()
		res, err := repo.AppendMessage(context.Background(), c.ID,
			&model.ChatMessage{Role: "user", Content: q, Timestamp: time.Now()},
			&model.ChatMessage{Role: "assistant", Content: a, Tokens: 5, Timestamp: time.Now()},
			repository.AppendMeta{JobID: "job-1", Model: "gpt-4o-mini", Tokens: 10},
		)
		if err != nil {
			t.Fatalf("AppendMessage: %v", err)
		}
		return res
	}

	first := appendPair("q1", "a1")
	second := appendPair("q2", "a2")

	if first.UserSequence != 1 || first.AssistantSequence != 2 {
		t.Fatalf("first pair sequences = %d/%d", first.UserSequence, first.AssistantSequence)
	}
	if second.UserSequence != 3 || second.AssistantSequence != 4 {
		t.Fatalf("second pair sequences = %d/%d", second.UserSequence, second.AssistantSequence)
	}
	if first.AssistantMessageID == "" {
		t.Fatal("missing assistant message id")
	}

	got, err := repo.FindByID(context.Background(), nil, c.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if len(got.Messages) != 4 {
		t.Fatalf("stored %d messages, want 4", len(got.Messages))
	}
	for i, m := range got.Messages {
		if m.Sequence != int64(i+1) {
			t.Fatalf("message %d has sequence %d", i, m.Sequence)
		}
	}
}

func TestConversationRepo_AppendUnknownConversation(t *testing.T) {
	cleanup(t)
	repo := newConvRepo()
	_, err := repo.AppendMessage(context.Background(), uuid.NewString(),
		&model.ChatMessage{Role: "user", Content: "q"},
		&model.ChatMessage{Role: "assistant", Content: "a"},
		repository.AppendMeta{},
	)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestConversationRepo_LoadContext(t *testing.T) {
	cleanup(t)
	repo := newConvRepo()
	c := seedConversation(t, repo)

	if _, err := repo.AppendMessage(context.Background(), c.ID,
		&model.ChatMessage{Role: "user", Content: "q1"},
		&model.ChatMessage{Role: "assistant", Content: "a1"},
		repository.AppendMeta{},
	); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}

	cc, err := repo.LoadContext(context.Background(), c.ID, "socratic")
	if err != nil {
		t.Fatalf("LoadContext: %v", err)
	}
	if cc.SystemPrompt == "" {
		t.Fatal("technique system prompt missing")
	}
	if len(cc.History) != 2 {
		t.Fatalf("history has %d messages, want 2", len(cc.History))
	}

	if _, err := repo.LoadContext(context.Background(), uuid.NewString(), "socratic"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("unknown conversation: err = %v, want ErrNotFound", err)
	}
	if _, err := repo.LoadContext(context.Background(), c.ID, "no-such-technique"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("unknown technique: err = %v, want ErrNotFound", err)
	}
}

func TestConversationRepo_DeleteCascades(t *testing.T) {
	cleanup(t)
	repo := newConvRepo()
	c := seedConversation(t, repo)

	if _, err := repo.AppendMessage(context.Background(), c.ID,
		&model.ChatMessage{Role: "user", Content: "q"},
		&model.ChatMessage{Role: "assistant", Content: "a"},
		repository.AppendMeta{},
	); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}

	if err := repo.Delete(context.Background(), nil, c.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := repo.FindByID(context.Background(), nil, c.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound after delete", err)
	}

	var count int
	if err := testPool.QueryRow(context.Background(),
		`SELECT COUNT(*) FROM conversation_messages WHERE conversation_id=$1`, c.ID).Scan(&count); err != nil {
		t.Fatalf("count messages: %v", err)
	}
	if count != 0 {
		t.Fatalf("%d messages survived the cascade", count)
	}
}

func TestConversationRepo_ArchiveIdle(t *testing.T) {
	cleanup(t)
	repo := newConvRepo()
	idle := seedConversation(t, repo)
	fresh := seedConversation(t, repo)

	if _, err := testPool.Exec(context.Background(),
		`UPDATE conversations SET updated_at = NOW() - INTERVAL '60 days' WHERE id=$1`, idle.ID); err != nil {
		t.Fatalf("age conversation: %v", err)
	}

	n, err := repo.ArchiveIdle(context.Background(), time.Now().Add(-30*24*time.Hour))
	if err != nil {
		t.Fatalf("ArchiveIdle: %v", err)
	}
	if n != 1 {
		t.Fatalf("archived %d conversations, want 1", n)
	}

	got, err := repo.FindByID(context.Background(), nil, idle.ID)
	if err != nil {
		t.Fatalf("FindByID idle: %v", err)
	}
	if got.Status != model.ConversationArchived {
		t.Fatalf("idle status = %q, want archived", got.Status)
	}
	got, err = repo.FindByID(context.Background(), nil, fresh.ID)
	if err != nil {
		t.Fatalf("FindByID fresh: %v", err)
	}
	if got.Status != model.ConversationActive {
		t.Fatalf("fresh status = %q, want active", got.Status)
	}
}

func TestProviderKeyRepo_CRUD(t *testing.T) {
	cleanup(t)
	repo := NewPostgresProviderKeyRepo(testPool)

	key := &repository.ProviderKey{UserID: "user-1", Provider: "openai", Ciphertext: "enc-1"}
	if err := repo.Save(context.Background(), nil, key); err != nil {
		t.Fatalf("Save: %v", err)
	}

	// Upsert replaces the ciphertext.
	key.Ciphertext = "enc-2"
	if err := repo.Save(context.Background(), nil, key); err != nil {
		t.Fatalf("Save upsert: %v", err)
	}

	got, err := repo.Find(context.Background(), nil, "user-1", "openai")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if got.Ciphertext != "enc-2" {
		t.Fatalf("ciphertext = %q, want enc-2", got.Ciphertext)
	}

	if err := repo.Delete(context.Background(), nil, "user-1", "openai"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := repo.Find(context.Background(), nil, "user-1", "openai"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound after delete", err)
	}
	if err := repo.Delete(context.Background(), nil, "user-1", "openai"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("double delete: err = %v, want ErrNotFound", err)
	}
}

func TestUsageLogRepo_Record(t *testing.T) {
	cleanup(t)
	repo := NewPostgresUsageLogRepo(testPool)

	if err := repo.Record(context.Background(), &model.UsageRecord{
		UserID: "user-1", ConversationID: "conv-1", JobID: "job-1",
		Model: "gpt-4o-mini", PromptTokens: 40, CompletionTokens: 10, TotalTokens: 50,
		CostMicro: 1200, LatencyMS: 840, CreatedAt: time.Now(),
	}); err != nil {
		t.Fatalf("Record: %v", err)
	}

	var total int
	if err := testPool.QueryRow(context.Background(),
		`SELECT total_tokens FROM usage_log WHERE job_id='job-1'`).Scan(&total); err != nil {
		t.Fatalf("read back: %v", err)
	}
	if total != 50 {
		t.Fatalf("total_tokens = %d, want 50", total)
	}
}
