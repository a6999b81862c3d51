// File: internal/infra/db/postgres/postgres_conversation_repo.go
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"socratic-ai-service/internal/domain"
	"socratic-ai-service/internal/domain/model"
	"socratic-ai-service/internal/domain/ports/repository"
)

// archiveThreshold is the message count past which a conversation is flipped
// to archived after an append. Archived conversations still accept reads;
// new jobs for them are a product decision made upstream.
const archiveThreshold = 500

// ConversationRepo persists conversations and their messages, and doubles as
// the processor's ContextStore and MessageStore.
var (
	_ repository.ConversationRepository = (*ConversationRepo)(nil)
	_ repository.ContextStore           = (*ConversationRepo)(nil)
	_ repository.MessageStore           = (*ConversationRepo)(nil)
)

type ConversationRepo struct {
	pool *pgxpool.Pool
	tm   repository.TransactionManager
}

func NewPostgresConversationRepo(pool *pgxpool.Pool, tm repository.TransactionManager) *ConversationRepo {
	return &ConversationRepo{pool: pool, tm: tm}
}

func (r *ConversationRepo) Save(ctx context.Context, qx any, c *model.Conversation) error {
	const q = `
INSERT INTO conversations (id, user_id, title, model, technique, status, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,COALESCE($7,NOW()),COALESCE($8,NOW()))
ON CONFLICT (id) DO UPDATE SET
  title = EXCLUDED.title,
  model = EXCLUDED.model,
  technique = EXCLUDED.technique,
  status = EXCLUDED.status,
  updated_at = NOW();`
	ex, err := getExecutor(r.pool, qx)
	if err != nil {
		return err
	}
	_, err = ex.Exec(ctx, q, c.ID, c.UserID, c.Title, c.Model, c.Technique, string(c.Status), c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save conversation: %w", err)
	}
	return nil
}

func (r *ConversationRepo) FindByID(ctx context.Context, qx any, id string) (*model.Conversation, error) {
	const q = `SELECT id, user_id, title, model, technique, status, created_at, updated_at
FROM conversations WHERE id=$1;`
	row, err := pickRow(ctx, r.pool, qx, q, id)
	if err != nil {
		return nil, err
	}
	var c model.Conversation
	var status string
	if err := row.Scan(&c.ID, &c.UserID, &c.Title, &c.Model, &c.Technique, &status, &c.CreatedAt, &c.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	c.Status = model.ConversationStatus(status)

	msgs, err := r.loadMessages(ctx, qx, id, 0)
	if err != nil {
		return nil, err
	}
	c.Messages = msgs
	return &c, nil
}

func (r *ConversationRepo) FindAllByUser(ctx context.Context, qx any, userID string) ([]*model.Conversation, error) {
	const q = `SELECT id, user_id, title, model, technique, status, created_at, updated_at
FROM conversations WHERE user_id=$1 ORDER BY updated_at DESC;`
	ex, err := getExecutor(r.pool, qx)
	if err != nil {
		return nil, err
	}
	rows, err := ex.Query(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Conversation
	for rows.Next() {
		var c model.Conversation
		var status string
		if err := rows.Scan(&c.ID, &c.UserID, &c.Title, &c.Model, &c.Technique, &status, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		c.Status = model.ConversationStatus(status)
		out = append(out, &c)
	}
	return out, rows.Err()
}

func (r *ConversationRepo) Delete(ctx context.Context, qx any, id string) error {
	ex, err := getExecutor(r.pool, qx)
	if err != nil {
		return err
	}
	tag, err := ex.Exec(ctx, `DELETE FROM conversations WHERE id=$1;`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// LoadContext builds the prompt context: the technique's system prompt and
// the conversation's recent messages in sequence order.
func (r *ConversationRepo) LoadContext(ctx context.Context, conversationID, technique string) (*model.ConversationContext, error) {
	// Verify the conversation exists; a deleted conversation's queued jobs
	// must fail with a not-found, not an empty context.
	row, err := pickRow(ctx, r.pool, nil, `SELECT technique FROM conversations WHERE id=$1;`, conversationID)
	if err != nil {
		return nil, err
	}
	var storedTechnique string
	if err := row.Scan(&storedTechnique); err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	if technique == "" {
		technique = storedTechnique
	}

	var systemPrompt string
	if technique != "" {
		row, err := pickRow(ctx, r.pool, nil, `SELECT system_prompt FROM techniques WHERE name=$1;`, technique)
		if err != nil {
			return nil, err
		}
		if err := row.Scan(&systemPrompt); err != nil {
			if err == pgx.ErrNoRows {
				return nil, fmt.Errorf("technique %q: %w", technique, domain.ErrNotFound)
			}
			return nil, domain.ErrReadDatabaseRow
		}
	}

	history, err := r.loadMessages(ctx, nil, conversationID, 50)
	if err != nil {
		return nil, err
	}
	return &model.ConversationContext{SystemPrompt: systemPrompt, History: history}, nil
}

// AppendMessage stores the user/assistant pair atomically, assigns the next
// two sequence numbers, and archives the conversation once it crosses the
// threshold.
func (r *ConversationRepo) AppendMessage(ctx context.Context, conversationID string, userMsg, assistantMsg *model.ChatMessage, meta repository.AppendMeta) (*repository.AppendResult, error) {
	var res repository.AppendResult
	err := r.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		ex, err := getExecutor(r.pool, tx)
		if err != nil {
			return err
		}

		// Lock the conversation row so concurrent appends can't race the
		// sequence counter.
		var lastSeq int64
		err = ex.QueryRow(ctx, `
SELECT last_sequence FROM conversations WHERE id=$1 FOR UPDATE;`, conversationID).Scan(&lastSeq)
		if err != nil {
			if err == pgx.ErrNoRows {
				return domain.ErrNotFound
			}
			return fmt.Errorf("lock conversation: %w", err)
		}

		const ins = `
INSERT INTO conversation_messages (id, conversation_id, role, content, tokens, sequence, job_id, model, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,COALESCE($9,NOW()));`

		res.UserSequence = lastSeq + 1
		userID := uuid.NewString()
		if _, err := ex.Exec(ctx, ins, userID, conversationID, userMsg.Role, userMsg.Content,
			userMsg.Tokens, res.UserSequence, meta.JobID, meta.Model, userMsg.Timestamp); err != nil {
			return fmt.Errorf("insert user message: %w", err)
		}

		res.AssistantSequence = lastSeq + 2
		res.AssistantMessageID = uuid.NewString()
		if _, err := ex.Exec(ctx, ins, res.AssistantMessageID, conversationID, assistantMsg.Role, assistantMsg.Content,
			assistantMsg.Tokens, res.AssistantSequence, meta.JobID, meta.Model, assistantMsg.Timestamp); err != nil {
			return fmt.Errorf("insert assistant message: %w", err)
		}

		if _, err := ex.Exec(ctx, `
UPDATE conversations SET last_sequence=$2, updated_at=NOW() WHERE id=$1;`, conversationID, res.AssistantSequence); err != nil {
			return fmt.Errorf("advance sequence: %w", err)
		}

		if res.AssistantSequence >= archiveThreshold {
			if _, err := ex.Exec(ctx, `
UPDATE conversations SET status=$2 WHERE id=$1 AND status=$3;`,
				conversationID, string(model.ConversationArchived), string(model.ConversationActive)); err != nil {
				return fmt.Errorf("archive check: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	userMsg.Sequence = res.UserSequence
	assistantMsg.Sequence = res.AssistantSequence
	assistantMsg.ID = res.AssistantMessageID
	return &res, nil
}

// ArchiveIdle flips active conversations with no activity since the cutoff
// to archived. Used by the maintenance sweep.
func (r *ConversationRepo) ArchiveIdle(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := r.pool.Exec(ctx, `
UPDATE conversations SET status=$1 WHERE status=$2 AND updated_at < $3;`,
		string(model.ConversationArchived), string(model.ConversationActive), cutoff)
	if err != nil {
		return 0, fmt.Errorf("archive idle conversations: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// loadMessages returns a conversation's messages in sequence order. A
// non-zero limit keeps only the most recent entries.
func (r *ConversationRepo) loadMessages(ctx context.Context, qx any, conversationID string, limit int) ([]model.ChatMessage, error) {
	q := `SELECT id, role, content, tokens, sequence, created_at
FROM conversation_messages WHERE conversation_id=$1 ORDER BY sequence ASC;`
	args := []any{conversationID}
	if limit > 0 {
		q = `SELECT id, role, content, tokens, sequence, created_at FROM (
  SELECT id, role, content, tokens, sequence, created_at
  FROM conversation_messages WHERE conversation_id=$1 ORDER BY sequence DESC LIMIT $2
) recent ORDER BY sequence ASC;`
		args = append(args, limit)
	}

	ex, err := getExecutor(r.pool, qx)
	if err != nil {
		return nil, err
	}
	rows, err := ex.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var out []model.ChatMessage
	for rows.Next() {
		m := model.ChatMessage{ConversationID: conversationID}
		if err := rows.Scan(&m.ID, &m.Role, &m.Content, &m.Tokens, &m.Sequence, &m.Timestamp); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
