package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"socratic-ai-service/internal/domain"
	"socratic-ai-service/internal/domain/model"
	"socratic-ai-service/internal/infra/logging"
)

func newTestQueue(cfg Config) (*Queue, *MemoryStore) {
	store := NewMemoryStore()
	log := logging.Nop()
	return New(store, cfg, log), store
}

func enqueue(t *testing.T, q *Queue, conv, tier string) *EnqueueResult {
	t.Helper()
	res, err := q.Enqueue(context.Background(), EnqueueParams{
		ConversationID: conv,
		UserID:         "u1",
		Message:        "Why?",
		Model:          "gpt-4o-mini",
		Tier:           tier,
		Technique:      "elenchus",
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	return res
}

func TestEnqueueValidatesPayload(t *testing.T) {
	q, _ := newTestQueue(Config{})
	_, err := q.Enqueue(context.Background(), EnqueueParams{ConversationID: "c1"})
	if !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestPriorityMappingAndOrdering(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(Config{})

	free := enqueue(t, q, "c1", "free")
	paid := enqueue(t, q, "c2", "paid")

	if free.Position < 1 {
		t.Fatalf("position must be 1-based, got %d", free.Position)
	}

	// Paid overtakes free despite enqueueing later.
	first, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if first.ID != paid.JobID {
		t.Fatalf("expected paid job first, got %s", first.ID)
	}
	if first.Priority != model.PriorityHigh {
		t.Fatalf("paid priority = %d, want %d", first.Priority, model.PriorityHigh)
	}

	second, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if second.ID != free.JobID {
		t.Fatalf("expected free job second, got %s", second.ID)
	}
	if second.Priority != model.PriorityLow {
		t.Fatalf("free priority = %d, want %d", second.Priority, model.PriorityLow)
	}
}

func TestEnqueuePositionIsReadyRank(t *testing.T) {
	q, _ := newTestQueue(Config{})

	first := enqueue(t, q, "c1", "free")
	second := enqueue(t, q, "c2", "free")
	paid := enqueue(t, q, "c3", "paid")

	if first.Position != 1 || second.Position != 2 {
		t.Fatalf("free positions = %d,%d, want 1,2", first.Position, second.Position)
	}
	// A paid job overtakes the free backlog and reports the rank it will
	// actually be served at.
	if paid.Position != 1 {
		t.Fatalf("paid position = %d, want 1", paid.Position)
	}
}

func TestOrphanedActiveJobReclaimedAfterLease(t *testing.T) {
	ctx := context.Background()
	q, store := newTestQueue(Config{Attempts: 3, BackoffBase: time.Millisecond})
	store.lease = 5 * time.Millisecond

	res := enqueue(t, q, "c1", "free")
	job, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}

	// While the lease holds, the in-flight job stays invisible.
	if _, err := q.Dequeue(ctx); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("leased job resurfaced early: %v", err)
	}

	// The worker dies without completing or failing the job. Once the
	// lease runs out the next dequeue gets it back.
	time.Sleep(10 * time.Millisecond)
	again, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("dequeue after lease expiry: %v", err)
	}
	if again.ID != res.JobID {
		t.Fatalf("reclaimed job = %s, want %s", again.ID, res.JobID)
	}
	if again.Attempts != job.Attempts+1 {
		t.Fatalf("attempts = %d, want %d", again.Attempts, job.Attempts+1)
	}

	m, err := q.GetMetrics(ctx)
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	if m.Active != 1 || m.Waiting != 0 {
		t.Fatalf("got active=%d waiting=%d, want 1/0", m.Active, m.Waiting)
	}
}

func TestUnknownTierTreatedAsFree(t *testing.T) {
	q, store := newTestQueue(Config{})
	res := enqueue(t, q, "c1", "enterprise")
	job, err := store.GetJob(context.Background(), res.JobID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.Priority != model.PriorityLow || job.Tier != model.TierFree {
		t.Fatalf("unknown tier must map to free/low, got tier=%q priority=%d", job.Tier, job.Priority)
	}
}

func TestFIFOWithinPriorityBand(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(Config{})

	a := enqueue(t, q, "c1", "free")
	b := enqueue(t, q, "c2", "free")

	first, _ := q.Dequeue(ctx)
	second, _ := q.Dequeue(ctx)
	if first.ID != a.JobID || second.ID != b.JobID {
		t.Fatalf("expected FIFO order %s,%s got %s,%s", a.JobID, b.JobID, first.ID, second.ID)
	}
}

func TestGetStatusUnknownJob(t *testing.T) {
	q, _ := newTestQueue(Config{})
	_, err := q.GetStatus(context.Background(), "nope")
	if !errors.Is(err, domain.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestRetryBudgetExponentialBackoff(t *testing.T) {
	ctx := context.Background()
	base := 10 * time.Millisecond
	q, store := newTestQueue(Config{Attempts: 3, BackoffBase: base})

	res := enqueue(t, q, "c1", "free")
	cause := errors.New("provider exploded")

	var delays []time.Duration
	attempts := 0
	for {
		// Force promotion of any delayed job regardless of wall clock.
		if _, err := store.PromoteDue(ctx, time.Now().Add(time.Hour)); err != nil {
			t.Fatalf("promote: %v", err)
		}
		job, err := q.Dequeue(ctx)
		if errors.Is(err, domain.ErrNotFound) {
			break
		}
		if err != nil {
			t.Fatalf("dequeue: %v", err)
		}
		attempts++
		before := time.Now()
		final, err := q.Fail(ctx, job, cause)
		if err != nil {
			t.Fatalf("fail: %v", err)
		}
		if !final {
			store.mu.Lock()
			readyAt := store.delayed[job.ID]
			store.mu.Unlock()
			delays = append(delays, readyAt.Sub(before).Round(time.Millisecond))
		} else {
			break
		}
	}

	if attempts != 3 {
		t.Fatalf("job attempted %d times, want 3", attempts)
	}
	want := []time.Duration{base, 2 * base}
	if len(delays) != len(want) {
		t.Fatalf("got %d retry delays, want %d", len(delays), len(want))
	}
	for i, d := range delays {
		if d != want[i] {
			t.Fatalf("delay %d = %v, want %v", i, d, want[i])
		}
	}

	st, err := q.GetStatus(ctx, res.JobID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.State != model.JobStateFailed {
		t.Fatalf("state = %s, want failed", st.State)
	}
	if st.LastError == "" {
		t.Fatal("expected last error to be recorded")
	}
}

func TestUniformRetryIgnoresErrorKind(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(Config{Attempts: 3, BackoffBase: time.Millisecond})

	enqueue(t, q, "c1", "free")
	job, _ := q.Dequeue(ctx)

	// ModelNotAllowed is non-retriable in intent, but the stock retry
	// policy is attempt-count based only.
	final, err := q.Fail(ctx, job, domain.ErrModelNotAllowed)
	if err != nil {
		t.Fatalf("fail: %v", err)
	}
	if final {
		t.Fatal("uniform mode must still retry non-retriable kinds")
	}
}

func TestFailFastShortCircuitsNonRetriable(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(Config{Attempts: 3, BackoffBase: time.Millisecond, FailFastNonRetriable: true})

	res := enqueue(t, q, "c1", "free")
	job, _ := q.Dequeue(ctx)

	final, err := q.Fail(ctx, job, domain.ErrModelNotAllowed)
	if err != nil {
		t.Fatalf("fail: %v", err)
	}
	if !final {
		t.Fatal("fail-fast mode must not retry non-retriable kinds")
	}
	st, _ := q.GetStatus(ctx, res.JobID)
	if st.State != model.JobStateFailed {
		t.Fatalf("state = %s, want failed", st.State)
	}
}

func TestMetricsCounts(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(Config{Attempts: 1})

	enqueue(t, q, "c1", "free")
	enqueue(t, q, "c2", "free")
	enqueue(t, q, "c3", "paid")

	m, err := q.GetMetrics(ctx)
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	if m.Waiting != 3 || m.Active != 0 {
		t.Fatalf("got waiting=%d active=%d, want 3/0", m.Waiting, m.Active)
	}

	job, _ := q.Dequeue(ctx)
	m, _ = q.GetMetrics(ctx)
	if m.Waiting != 2 || m.Active != 1 {
		t.Fatalf("got waiting=%d active=%d, want 2/1", m.Waiting, m.Active)
	}

	if err := q.Complete(ctx, job, &model.JobResult{MessageID: "m1"}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	job, _ = q.Dequeue(ctx)
	if _, err := q.Fail(ctx, job, errors.New("boom")); err != nil {
		t.Fatalf("fail: %v", err)
	}

	m, _ = q.GetMetrics(ctx)
	if m.Completed != 1 || m.Failed != 1 || m.Active != 0 || m.Waiting != 1 {
		t.Fatalf("unexpected metrics %+v", m)
	}
}

func TestCompletedJobKeepsResult(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(Config{})

	res := enqueue(t, q, "c1", "free")
	job, _ := q.Dequeue(ctx)
	want := &model.JobResult{MessageID: "msg-9", Tokens: 42, CostMicro: 1500, LatencyMS: 120}
	if err := q.Complete(ctx, job, want); err != nil {
		t.Fatalf("complete: %v", err)
	}

	st, err := q.GetStatus(ctx, res.JobID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.State != model.JobStateCompleted || st.Result == nil || st.Result.MessageID != "msg-9" {
		t.Fatalf("unexpected status %+v", st)
	}
}
