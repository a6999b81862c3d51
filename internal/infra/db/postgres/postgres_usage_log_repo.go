// File: internal/infra/db/postgres/postgres_usage_log_repo.go
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"

	"socratic-ai-service/internal/domain/model"
	"socratic-ai-service/internal/domain/ports/repository"
)

var _ repository.UsageLog = (*UsageLogRepo)(nil)

type UsageLogRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresUsageLogRepo(pool *pgxpool.Pool) *UsageLogRepo {
	return &UsageLogRepo{pool: pool}
}

func (r *UsageLogRepo) Record(ctx context.Context, rec *model.UsageRecord) error {
	const q = `
INSERT INTO usage_log
  (user_id, conversation_id, job_id, model, prompt_tokens, completion_tokens, total_tokens,
   cost_micro, latency_ms, used_byok, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,COALESCE($11,NOW()));`
	if _, err := r.pool.Exec(ctx, q,
		rec.UserID, rec.ConversationID, rec.JobID, rec.Model,
		rec.PromptTokens, rec.CompletionTokens, rec.TotalTokens,
		rec.CostMicro, rec.LatencyMS, rec.UsedBYOK, rec.CreatedAt,
	); err != nil {
		return fmt.Errorf("record usage: %w", err)
	}
	return nil
}
