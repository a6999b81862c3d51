package queue

import (
	"context"
	"crypto/rand"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"socratic-ai-service/internal/domain"
	"socratic-ai-service/internal/domain/model"
	"socratic-ai-service/internal/infra/metrics"
)

// Config tunes the retry machinery. Zero values fall back to the defaults
// (3 total attempts, 1s exponential backoff base, 250ms pushback).
type Config struct {
	Attempts    int
	BackoffBase time.Duration
	// FailFastNonRetriable short-circuits retries for error kinds the
	// taxonomy marks non-retriable. Off by default: the stock behavior
	// retries every failure uniformly up to the attempt cap.
	FailFastNonRetriable bool
	// Pushback is how long a requeued job stays out of the ready set.
	// Keeps a job whose conversation is busy from re-occupying the queue
	// head while the in-flight call runs.
	Pushback time.Duration
}

func (c Config) withDefaults() Config {
	if c.Attempts <= 0 {
		c.Attempts = 3
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = time.Second
	}
	if c.Pushback <= 0 {
		c.Pushback = 250 * time.Millisecond
	}
	return c
}

// EnqueueParams is the job payload accepted from producers.
type EnqueueParams struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	Message        string `json:"message"`
	Model          string `json:"model"`
	Tier           string `json:"subscriptionTier"`
	Technique      string `json:"technique"`
	UsedBYOK       bool   `json:"usedByok"`
}

// EnqueueResult reports the assigned job id and the job's 1-based rank
// within the ordered ready set at enqueue time. The position is
// informational only: later enqueues of higher priority overtake it.
type EnqueueResult struct {
	JobID    string `json:"jobId"`
	Position int64  `json:"position"`
}

type JobStatus struct {
	State     model.JobState   `json:"state"`
	Result    *model.JobResult `json:"result,omitempty"`
	LastError string           `json:"lastError,omitempty"`
}

type Metrics struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// Queue orders chat jobs by priority (descending) then enqueue sequence
// (ascending) and drives the retry/backoff state machine. All storage goes
// through the Store port so the same logic runs against Redis in production
// and the in-memory store in tests.
type Queue struct {
	store Store
	cfg   Config
	log   *zerolog.Logger
}

func New(store Store, cfg Config, log *zerolog.Logger) *Queue {
	return &Queue{store: store, cfg: cfg.withDefaults(), log: log}
}

func (q *Queue) Enqueue(ctx context.Context, p EnqueueParams) (*EnqueueResult, error) {
	if p.ConversationID == "" || p.UserID == "" || strings.TrimSpace(p.Message) == "" || p.Model == "" {
		return nil, domain.ErrInvalidArgument
	}

	seq, err := q.store.NextSeq(ctx)
	if err != nil {
		return nil, err
	}

	job := &model.ChatJob{
		ID:             ulid.MustNew(ulid.Now(), rand.Reader).String(),
		ConversationID: p.ConversationID,
		UserID:         p.UserID,
		Message:        p.Message,
		Model:          p.Model,
		Tier:           normalizeTier(p.Tier),
		Technique:      p.Technique,
		UsedBYOK:       p.UsedBYOK,
		State:          model.JobStateWaiting,
		Priority:       model.PriorityForTier(normalizeTier(p.Tier)),
		Seq:            seq,
		EnqueuedAt:     time.Now(),
	}

	if err := q.store.PushReady(ctx, job); err != nil {
		return nil, err
	}

	// Position is the job's rank after the push, so a paid job ahead of a
	// backlog of free jobs reports 1, not the backlog size.
	pos := int64(1)
	if rank, err := q.store.Rank(ctx, job.ID); err == nil {
		pos = rank + 1
	}

	metrics.IncJobEnqueued(job.Tier)
	q.log.Info().
		Str("job_id", job.ID).
		Str("conversation_id", job.ConversationID).
		Int("priority", job.Priority).
		Int64("position", pos).
		Msg("job enqueued")

	return &EnqueueResult{JobID: job.ID, Position: pos}, nil
}

// Dequeue promotes due delayed jobs, then pops the best waiting job and
// marks it active. Every activation counts as one attempt.
// Returns domain.ErrNotFound when nothing is ready.
func (q *Queue) Dequeue(ctx context.Context) (*model.ChatJob, error) {
	if _, err := q.store.PromoteDue(ctx, time.Now()); err != nil {
		q.log.Error().Err(err).Msg("promote delayed jobs")
	}

	job, err := q.store.PopReady(ctx)
	if err != nil {
		return nil, err
	}
	job.State = model.JobStateActive
	job.Attempts++
	if err := q.store.SaveJob(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// Requeue gives an active job back without consuming an attempt. Used when
// dispatch cannot take the job right now (e.g. its conversation is busy).
// The job is parked for the pushback delay rather than returned to the
// ready set, so it cannot wedge itself at the queue head and stall every
// other conversation behind it.
func (q *Queue) Requeue(ctx context.Context, job *model.ChatJob) error {
	job.State = model.JobStateDelayed
	job.Attempts--
	return q.store.PushDelayed(ctx, job, time.Now().Add(q.cfg.Pushback))
}

// Complete moves a job to its terminal completed state.
func (q *Queue) Complete(ctx context.Context, job *model.ChatJob, res *model.JobResult) error {
	job.State = model.JobStateCompleted
	job.Result = res
	job.LastError = ""
	metrics.IncJobProcessed(string(model.JobStateCompleted))
	return q.store.MarkCompleted(ctx, job)
}

// Fail records a failed attempt. If attempts remain the job is re-scheduled
// with exponential backoff (base, 2*base, 4*base, ...); otherwise it moves
// to the terminal failed state. Returns true when the failure was final.
//
// Retry is uniform by default: the error kind is consulted only in
// FailFastNonRetriable mode.
func (q *Queue) Fail(ctx context.Context, job *model.ChatJob, cause error) (bool, error) {
	job.LastError = cause.Error()

	final := job.Attempts >= q.cfg.Attempts
	if q.cfg.FailFastNonRetriable && !domain.Classify(cause).Retriable() {
		final = true
	}

	if final {
		job.State = model.JobStateFailed
		metrics.IncJobProcessed(string(model.JobStateFailed))
		q.log.Error().Err(cause).Str("job_id", job.ID).Int("attempts", job.Attempts).Msg("job failed permanently")
		return true, q.store.MarkFailed(ctx, job)
	}

	delay := q.cfg.BackoffBase << (job.Attempts - 1)
	job.State = model.JobStateDelayed
	metrics.IncJobRetried()
	q.log.Warn().Err(cause).Str("job_id", job.ID).Int("attempt", job.Attempts).Dur("retry_in", delay).Msg("job scheduled for retry")
	return false, q.store.PushDelayed(ctx, job, time.Now().Add(delay))
}

// GetStatus returns the current state of a job, with result or last error
// when present. Fails with domain.ErrJobNotFound for unknown ids.
func (q *Queue) GetStatus(ctx context.Context, jobID string) (*JobStatus, error) {
	job, err := q.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return &JobStatus{State: job.State, Result: job.Result, LastError: job.LastError}, nil
}

// GetMetrics computes live queue counts.
func (q *Queue) GetMetrics(ctx context.Context) (*Metrics, error) {
	return q.store.Counts(ctx)
}

func normalizeTier(tier string) string {
	if strings.ToLower(strings.TrimSpace(tier)) == model.TierPaid {
		return model.TierPaid
	}
	return model.TierFree
}
