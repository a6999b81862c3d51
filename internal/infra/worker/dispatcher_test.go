package worker

import (
	"context"
	"testing"
	"time"

	"socratic-ai-service/internal/domain"
	"socratic-ai-service/internal/domain/model"
	"socratic-ai-service/internal/infra/logging"
	"socratic-ai-service/internal/infra/queue"
)

type dispFixture struct {
	queue  *queue.Queue
	pool   *Pool
	locks  *LocalLocker
	disp   *Dispatcher
	fix    *procFixture
	cancel context.CancelFunc
}

func newDispFixture(t *testing.T) *dispFixture {
	t.Helper()
	log := logging.Nop()
	fix := newProcFixture(t, []string{"gpt-4o-mini"})
	q := queue.New(queue.NewMemoryStore(), queue.Config{Attempts: 3, BackoffBase: 10 * time.Millisecond, Pushback: 2 * time.Millisecond}, log)
	pool := NewPool(2, log)
	locks := NewLocalLocker()
	d := &dispFixture{
		queue: q,
		pool:  pool,
		locks: locks,
		disp:  NewDispatcher(q, pool, fix.proc, locks, 5*time.Millisecond, log),
		fix:   fix,
	}
	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	pool.Start(ctx)
	t.Cleanup(func() {
		cancel()
		pool.Stop()
	})
	return d
}

func enqueueTestJob(t *testing.T, q *queue.Queue) string {
	return enqueueJobTo(t, q, "conv-1", model.TierPaid)
}

func enqueueJobTo(t *testing.T, q *queue.Queue, convID, tier string) string {
	t.Helper()
	res, err := q.Enqueue(context.Background(), queue.EnqueueParams{
		ConversationID: convID,
		UserID:         "user-1",
		Message:        "Explain recursion",
		Model:          "gpt-4o-mini",
		Tier:           tier,
		Technique:      "socratic",
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	return res.JobID
}

// dispatchUntilState keeps driving full dispatch drains, the way Start does
// each tick, until the job reaches the wanted state. Riding out requeue
// pushback delays needs the full drain: a parked head job must not eat the
// whole tick.
func dispatchUntilState(t *testing.T, d *dispFixture, jobID string, want model.JobState) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for d.disp.dispatchOne(context.Background()) {
		}
		st, err := d.queue.GetStatus(context.Background(), jobID)
		if err != nil {
			t.Fatalf("GetStatus: %v", err)
		}
		if st.State == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("job %s never reached %q", jobID, want)
}

func waitForState(t *testing.T, q *queue.Queue, jobID string, want model.JobState) *queue.JobStatus {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	var last *queue.JobStatus
	for time.Now().Before(deadline) {
		st, err := q.GetStatus(context.Background(), jobID)
		if err != nil {
			t.Fatalf("GetStatus: %v", err)
		}
		if st.State == want {
			return st
		}
		last = st
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("job never reached %q, last state %+v", want, last)
	return nil
}

func TestDispatcher_RunsJobToCompletion(t *testing.T) {
	d := newDispFixture(t)
	jobID := enqueueTestJob(t, d.queue)

	if !d.disp.dispatchOne(context.Background()) {
		t.Fatal("dispatchOne reported no work with a job waiting")
	}

	st := waitForState(t, d.queue, jobID, model.JobStateCompleted)
	if st.Result == nil || st.Result.Tokens != 50 {
		t.Fatalf("completed without a result: %+v", st)
	}

	// The conversation lock must be released once the job finishes.
	token, err := d.locks.TryLock(context.Background(), "conv_flight:conv-1", time.Minute)
	if err != nil {
		t.Fatalf("conversation still locked after completion: %v", err)
	}
	_ = d.locks.Unlock(context.Background(), "conv_flight:conv-1", token)
}

func TestDispatcher_EmptyQueue(t *testing.T) {
	d := newDispFixture(t)
	if d.disp.dispatchOne(context.Background()) {
		t.Fatal("dispatchOne reported work on an empty queue")
	}
}

func TestDispatcher_BusyConversationRequeuesWithoutAttempt(t *testing.T) {
	d := newDispFixture(t)
	jobID := enqueueTestJob(t, d.queue)

	token, err := d.locks.TryLock(context.Background(), "conv_flight:conv-1", time.Minute)
	if err != nil {
		t.Fatalf("TryLock: %v", err)
	}

	if !d.disp.dispatchOne(context.Background()) {
		t.Fatal("dispatchOne must keep draining past a busy conversation")
	}

	st, err := d.queue.GetStatus(context.Background(), jobID)
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if st.State != model.JobStateDelayed {
		t.Fatalf("job state = %q, want delayed pushback", st.State)
	}

	// Release and redispatch: the pushback must not have cost an attempt,
	// so the full retry budget is still available.
	_ = d.locks.Unlock(context.Background(), "conv_flight:conv-1", token)
	dispatchUntilState(t, d, jobID, model.JobStateCompleted)
}

func TestDispatcher_BusyConversationDoesNotStarveOthers(t *testing.T) {
	d := newDispFixture(t)
	ctx := context.Background()

	token, err := d.locks.TryLock(ctx, "conv_flight:conv-1", time.Minute)
	if err != nil {
		t.Fatalf("TryLock: %v", err)
	}

	// The busy conversation's paid job sits at the queue head, ranked above
	// the other conversation's free job.
	blocked := enqueueJobTo(t, d.queue, "conv-1", model.TierPaid)
	other := enqueueJobTo(t, d.queue, "conv-2", model.TierFree)

	dispatchUntilState(t, d, other, model.JobStateCompleted)

	st, err := d.queue.GetStatus(ctx, blocked)
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if st.State == model.JobStateCompleted || st.State == model.JobStateActive {
		t.Fatalf("locked conversation's job ran anyway: state %q", st.State)
	}

	_ = d.locks.Unlock(ctx, "conv_flight:conv-1", token)
	dispatchUntilState(t, d, blocked, model.JobStateCompleted)
}

func TestDispatcher_FailedAttemptSchedulesRetry(t *testing.T) {
	d := newDispFixture(t)
	d.fix.gateway.err = domain.NewProviderError(503, "upstream down")
	jobID := enqueueTestJob(t, d.queue)

	if !d.disp.dispatchOne(context.Background()) {
		t.Fatal("dispatchOne reported no work")
	}

	st := waitForState(t, d.queue, jobID, model.JobStateDelayed)
	if st.LastError == "" {
		t.Fatal("delayed job lost its last error")
	}
}

func TestDispatcher_EndToEndFanOut(t *testing.T) {
	d := newDispFixture(t)
	second := &eventRecorder{}
	d.fix.events.AddConnection("conv-1", "user-2", "c2", second.sink)

	jobID := enqueueTestJob(t, d.queue)
	if !d.disp.dispatchOne(context.Background()) {
		t.Fatal("dispatchOne reported no work")
	}
	waitForState(t, d.queue, jobID, model.JobStateCompleted)

	// Every subscriber of the conversation sees the full pipeline in order.
	want := []string{"processing", "progress", "progress", "message", "message", "complete"}
	for name, rec := range map[string]*eventRecorder{"first": d.fix.rec, "second": second} {
		waitForEvents(t, rec, len(want))
		got := rec.types()
		if len(got) != len(want) {
			t.Fatalf("%s connection events = %v, want %v", name, got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("%s connection event[%d] = %q, want %q", name, i, got[i], want[i])
			}
		}
	}
}

func TestDispatcher_SaturatedPoolRequeues(t *testing.T) {
	log := logging.Nop()
	fix := newProcFixture(t, []string{"gpt-4o-mini"})
	q := queue.New(queue.NewMemoryStore(), queue.Config{}, log)
	// Pool is never started, so its buffer (workers*4) is all the capacity
	// there is.
	pool := NewPool(1, log)
	for i := 0; i < 4; i++ {
		if err := pool.Submit(func(context.Context) error { return nil }); err != nil {
			t.Fatalf("priming submit %d: %v", i, err)
		}
	}
	locks := NewLocalLocker()
	disp := NewDispatcher(q, pool, fix.proc, locks, time.Millisecond, log)

	jobID := enqueueTestJob(t, q)
	if disp.dispatchOne(context.Background()) {
		t.Fatal("dispatchOne should back off when the pool is full")
	}

	st, err := q.GetStatus(context.Background(), jobID)
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if st.State != model.JobStateDelayed {
		t.Fatalf("job state = %q, want delayed pushback", st.State)
	}
	// The lock taken before the failed submit must have been released.
	if _, err := locks.TryLock(context.Background(), "conv_flight:conv-1", time.Minute); err != nil {
		t.Fatalf("conversation lock leaked: %v", err)
	}
}
