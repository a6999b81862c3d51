// File: internal/usecase/chat_uc.go
package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"socratic-ai-service/internal/domain"
	"socratic-ai-service/internal/domain/model"
	"socratic-ai-service/internal/domain/ports/adapter"
	"socratic-ai-service/internal/domain/ports/repository"
	"socratic-ai-service/internal/infra/queue"
)

// maxMessageLen guards against pathological payloads before they reach the
// queue.
const maxMessageLen = 32 * 1024

// JobQueue is what the chat use case needs from the queue.
type JobQueue interface {
	Enqueue(ctx context.Context, p queue.EnqueueParams) (*queue.EnqueueResult, error)
	GetStatus(ctx context.Context, jobID string) (*queue.JobStatus, error)
	GetMetrics(ctx context.Context) (*queue.Metrics, error)
}

// RateLimiter throttles message submission per user.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

var ErrRateLimited = fmt.Errorf("message rate limit exceeded: %w", domain.ErrInvalidArgument)

// Compile-time check
var _ ChatUseCase = (*chatUC)(nil)

type ChatUseCase interface {
	// SendMessage validates and enqueues one chat message for asynchronous
	// processing; the reply arrives on the conversation's event stream.
	SendMessage(ctx context.Context, in SendMessageInput) (*queue.EnqueueResult, error)
	JobStatus(ctx context.Context, jobID string) (*queue.JobStatus, error)
	QueueMetrics(ctx context.Context) (*queue.Metrics, error)
	ListModels(ctx context.Context) ([]string, error)
}

type SendMessageInput struct {
	ConversationID string
	UserID         string
	Tier           string
	Message        string
	Model          string
	UsedBYOK       bool
}

type chatUC struct {
	conversations repository.ConversationRepository
	keys          repository.ProviderKeyRepository
	gateway       adapter.ProviderGateway
	jobs          JobQueue
	limiter       RateLimiter
	perMinute     int
}

func NewChatUseCase(
	conversations repository.ConversationRepository,
	keys repository.ProviderKeyRepository,
	gateway adapter.ProviderGateway,
	jobs JobQueue,
	limiter RateLimiter,
	perMinute int,
) *chatUC {
	return &chatUC{
		conversations: conversations,
		keys:          keys,
		gateway:       gateway,
		jobs:          jobs,
		limiter:       limiter,
		perMinute:     perMinute,
	}
}

func (c *chatUC) SendMessage(ctx context.Context, in SendMessageInput) (*queue.EnqueueResult, error) {
	in.Message = strings.TrimSpace(in.Message)
	if in.Message == "" || len(in.Message) > maxMessageLen {
		return nil, domain.ErrInvalidArgument
	}

	conv, err := c.conversations.FindByID(ctx, nil, in.ConversationID)
	if err != nil {
		return nil, err
	}
	if conv.UserID != in.UserID {
		// Existence is not leaked across users.
		return nil, domain.ErrNotFound
	}
	if conv.Status != model.ConversationActive {
		return nil, fmt.Errorf("conversation is %s: %w", conv.Status, domain.ErrInvalidArgument)
	}

	if c.limiter != nil && c.perMinute > 0 {
		ok, err := c.limiter.Allow(ctx, "rate_limit:"+in.UserID+":messages", c.perMinute, time.Minute)
		if err == nil && !ok {
			return nil, ErrRateLimited
		}
		// A limiter outage must not take message submission down with it.
	}

	jobModel := in.Model
	if jobModel == "" {
		jobModel = conv.Model
	}

	// A job runs on the user's own key when they have one stored for the
	// model's provider, unless the request says otherwise.
	usedByok := in.UsedBYOK
	if !usedByok {
		if _, err := c.keys.Find(ctx, nil, in.UserID, adapter.ProviderForModel(jobModel)); err == nil {
			usedByok = true
		}
	}

	return c.jobs.Enqueue(ctx, queue.EnqueueParams{
		ConversationID: in.ConversationID,
		UserID:         in.UserID,
		Message:        in.Message,
		Model:          jobModel,
		Tier:           in.Tier,
		Technique:      conv.Technique,
		UsedBYOK:       usedByok,
	})
}

func (c *chatUC) JobStatus(ctx context.Context, jobID string) (*queue.JobStatus, error) {
	return c.jobs.GetStatus(ctx, jobID)
}

func (c *chatUC) QueueMetrics(ctx context.Context) (*queue.Metrics, error) {
	return c.jobs.GetMetrics(ctx)
}

func (c *chatUC) ListModels(ctx context.Context) ([]string, error) {
	return c.gateway.ListModels(ctx)
}
