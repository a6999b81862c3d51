package worker

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"socratic-ai-service/internal/domain"
	"socratic-ai-service/internal/infra/metrics"
	"socratic-ai-service/internal/infra/queue"
)

// convLockTTL bounds how long a crashed worker can keep a conversation
// locked before another instance may take it over.
const convLockTTL = 5 * time.Minute

// Dispatcher drains the queue and hands jobs to the pool. Jobs of the same
// conversation are serialized through the Locker: a job whose conversation
// is busy is parked for a short pushback delay without consuming an
// attempt, so its events can never interleave with the in-flight job's and
// jobs of other conversations keep flowing around it.
type Dispatcher struct {
	queue *queue.Queue
	pool  *Pool
	proc  *Processor
	locks Locker
	poll  time.Duration
	log   *zerolog.Logger
}

func NewDispatcher(q *queue.Queue, pool *Pool, proc *Processor, locks Locker, poll time.Duration, log *zerolog.Logger) *Dispatcher {
	if poll <= 0 {
		poll = 250 * time.Millisecond
	}
	return &Dispatcher{queue: q, pool: pool, proc: proc, locks: locks, poll: poll, log: log}
}

// Start runs the dispatch loop until ctx is cancelled.
// This should be run in a goroutine.
func (d *Dispatcher) Start(ctx context.Context) {
	d.log.Info().Dur("poll", d.poll).Msg("job dispatcher started")
	ticker := time.NewTicker(d.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.log.Info().Msg("job dispatcher stopping")
			return
		case <-ticker.C:
			for d.dispatchOne(ctx) {
			}
		}
	}
}

// dispatchOne moves at most one job from the queue into the pool and
// reports whether it makes sense to try again immediately.
func (d *Dispatcher) dispatchOne(ctx context.Context) bool {
	job, err := d.queue.Dequeue(ctx)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			d.log.Error().Err(err).Msg("dequeue failed")
		}
		return false
	}

	lockKey := "conv_flight:" + job.ConversationID
	token, err := d.locks.TryLock(ctx, lockKey, convLockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrConversationBusy) {
			// Park the job and keep draining: one busy conversation must
			// not hold up everyone else's jobs behind it.
			if rqErr := d.queue.Requeue(ctx, job); rqErr != nil {
				d.log.Error().Err(rqErr).Str("job_id", job.ID).Msg("requeue after busy conversation failed")
			}
			return true
		}
		d.log.Error().Err(err).Str("job_id", job.ID).Msg("conversation lock failed")
		_ = d.queue.Requeue(ctx, job)
		return false
	}

	submitErr := d.pool.Submit(func(taskCtx context.Context) error {
		defer func() {
			if uerr := d.locks.Unlock(taskCtx, lockKey, token); uerr != nil {
				d.log.Error().Err(uerr).Str("job_id", job.ID).Msg("conversation unlock failed")
			}
		}()

		res, perr := d.proc.Process(taskCtx, job)
		if perr != nil {
			if _, ferr := d.queue.Fail(taskCtx, job, perr); ferr != nil {
				d.log.Error().Err(ferr).Str("job_id", job.ID).Msg("recording job failure failed")
			}
		} else if cerr := d.queue.Complete(taskCtx, job, res); cerr != nil {
			d.log.Error().Err(cerr).Str("job_id", job.ID).Msg("recording job completion failed")
		}

		if m, merr := d.queue.GetMetrics(taskCtx); merr == nil {
			metrics.SetQueueDepth(m.Waiting, m.Active)
		}
		return nil
	})
	if submitErr != nil {
		_ = d.locks.Unlock(ctx, lockKey, token)
		_ = d.queue.Requeue(ctx, job)
		return false
	}
	return true
}
