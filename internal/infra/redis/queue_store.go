package redis

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"socratic-ai-service/internal/domain"
	"socratic-ai-service/internal/domain/model"
	"socratic-ai-service/internal/infra/queue"
)

// Key layout, all under one prefix so FLUSHing a namespace in dev is easy:
//
//	chatq:seq            INCR counter for the enqueue sequence
//	chatq:job:{id}       JSON job record
//	chatq:ready          ZSET, score = (PriorityHigh-priority)*seqBand + seq
//	chatq:delayed        ZSET, score = readyAt in unix milliseconds
//	chatq:active         ZSET of in-flight job ids, score = lease deadline ms
//	chatq:completed      counter
//	chatq:failed         counter
//
// Popping the minimum score off chatq:ready yields the highest-priority,
// oldest job: the priority term dominates and seq breaks ties FIFO.
const (
	keySeq       = "chatq:seq"
	keyJobPrefix = "chatq:job:"
	keyReady     = "chatq:ready"
	keyDelayed   = "chatq:delayed"
	keyActive    = "chatq:active"
	keyCompleted = "chatq:completed"
	keyFailed    = "chatq:failed"

	// seqBand must stay above any realistic lifetime sequence count so
	// priorities never collide across bands.
	seqBand = float64(1e12)

	// activeLease bounds how long a popped job may stay in the active set.
	// A worker crash between pop and terminal mark leaves the job there;
	// PromoteDue returns it to the ready set once the lease expires, the
	// same takeover window the conversation lock TTL gives.
	activeLease = 5 * time.Minute
)

// QueueStore is the durable queue.Store. Jobs survive restarts; terminal
// records expire after the configured retention so status queries keep
// working for a while after completion.
type QueueStore struct {
	cli       *redis.Client
	retention time.Duration
}

var _ queue.Store = (*QueueStore)(nil)

func NewQueueStore(c *Client, retention time.Duration) *QueueStore {
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &QueueStore{cli: c.cli, retention: retention}
}

func readyScore(job *model.ChatJob) float64 {
	return float64(model.PriorityHigh-job.Priority)*seqBand + float64(job.Seq)
}

func (s *QueueStore) NextSeq(ctx context.Context) (int64, error) {
	return s.cli.Incr(ctx, keySeq).Result()
}

func (s *QueueStore) SaveJob(ctx context.Context, job *model.ChatJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return s.cli.Set(ctx, keyJobPrefix+job.ID, data, 0).Err()
}

func (s *QueueStore) GetJob(ctx context.Context, id string) (*model.ChatJob, error) {
	data, err := s.cli.Get(ctx, keyJobPrefix+id).Result()
	if err == redis.Nil {
		return nil, domain.ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	var job model.ChatJob
	if err := json.Unmarshal([]byte(data), &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (s *QueueStore) PushReady(ctx context.Context, job *model.ChatJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	pipe := s.cli.TxPipeline()
	pipe.Set(ctx, keyJobPrefix+job.ID, data, 0)
	pipe.ZRem(ctx, keyActive, job.ID)
	pipe.ZAdd(ctx, keyReady, &redis.Z{Score: readyScore(job), Member: job.ID})
	_, err = pipe.Exec(ctx)
	return err
}

func (s *QueueStore) PopReady(ctx context.Context) (*model.ChatJob, error) {
	zs, err := s.cli.ZPopMin(ctx, keyReady, 1).Result()
	if err != nil {
		return nil, err
	}
	if len(zs) == 0 {
		return nil, domain.ErrNotFound
	}
	id, _ := zs[0].Member.(string)
	deadline := float64(time.Now().Add(activeLease).UnixMilli())
	if err := s.cli.ZAdd(ctx, keyActive, &redis.Z{Score: deadline, Member: id}).Err(); err != nil {
		return nil, err
	}
	return s.GetJob(ctx, id)
}

func (s *QueueStore) PushDelayed(ctx context.Context, job *model.ChatJob, readyAt time.Time) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	pipe := s.cli.TxPipeline()
	pipe.Set(ctx, keyJobPrefix+job.ID, data, 0)
	pipe.ZRem(ctx, keyActive, job.ID)
	pipe.ZAdd(ctx, keyDelayed, &redis.Z{Score: float64(readyAt.UnixMilli()), Member: job.ID})
	_, err = pipe.Exec(ctx)
	return err
}

// luaPromote atomically moves one member from a source set into the ready
// set so two workers never promote or reclaim the same job twice.
var luaPromote = redis.NewScript(`
if redis.call("ZREM", KEYS[1], ARGV[1]) == 1 then
	return redis.call("ZADD", KEYS[2], ARGV[2], ARGV[1])
end
return 0`)

func (s *QueueStore) PromoteDue(ctx context.Context, now time.Time) (int, error) {
	promoted, err := s.moveExpired(ctx, keyDelayed, now)
	if err != nil {
		return promoted, err
	}
	reclaimed, err := s.moveExpired(ctx, keyActive, now)
	return promoted + reclaimed, err
}

// moveExpired returns members of src whose score has passed to the ready
// set: due retries from the delayed set, orphans of dead workers from the
// active set.
func (s *QueueStore) moveExpired(ctx context.Context, src string, now time.Time) (int, error) {
	due, err := s.cli.ZRangeByScore(ctx, src, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, err
	}

	moved := 0
	for _, id := range due {
		job, err := s.GetJob(ctx, id)
		if err != nil {
			// Orphaned member, drop it.
			s.cli.ZRem(ctx, src, id)
			continue
		}
		job.State = model.JobStateWaiting
		if err := s.SaveJob(ctx, job); err != nil {
			return moved, err
		}
		ok, err := luaPromote.Run(ctx, s.cli,
			[]string{src, keyReady},
			id, readyScore(job),
		).Int()
		if err != nil {
			return moved, err
		}
		if ok == 1 {
			moved++
		}
	}
	return moved, nil
}

func (s *QueueStore) Rank(ctx context.Context, jobID string) (int64, error) {
	rank, err := s.cli.ZRank(ctx, keyReady, jobID).Result()
	if err == redis.Nil {
		return 0, domain.ErrJobNotFound
	}
	return rank, err
}

func (s *QueueStore) Counts(ctx context.Context) (*queue.Metrics, error) {
	pipe := s.cli.Pipeline()
	ready := pipe.ZCard(ctx, keyReady)
	delayed := pipe.ZCard(ctx, keyDelayed)
	active := pipe.ZCard(ctx, keyActive)
	completed := pipe.Get(ctx, keyCompleted)
	failed := pipe.Get(ctx, keyFailed)
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}
	c, _ := strconv.ParseInt(completed.Val(), 10, 64)
	f, _ := strconv.ParseInt(failed.Val(), 10, 64)
	return &queue.Metrics{
		Waiting:   ready.Val() + delayed.Val(),
		Active:    active.Val(),
		Completed: c,
		Failed:    f,
	}, nil
}

func (s *QueueStore) MarkCompleted(ctx context.Context, job *model.ChatJob) error {
	return s.finish(ctx, job, keyCompleted)
}

func (s *QueueStore) MarkFailed(ctx context.Context, job *model.ChatJob) error {
	return s.finish(ctx, job, keyFailed)
}

func (s *QueueStore) finish(ctx context.Context, job *model.ChatJob, counter string) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	pipe := s.cli.TxPipeline()
	pipe.Set(ctx, keyJobPrefix+job.ID, data, s.retention)
	pipe.ZRem(ctx, keyActive, job.ID)
	pipe.Incr(ctx, counter)
	_, err = pipe.Exec(ctx)
	return err
}
