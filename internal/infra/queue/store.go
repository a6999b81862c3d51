package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"socratic-ai-service/internal/domain"
	"socratic-ai-service/internal/domain/model"
)

// Store is the pluggable storage backend behind the queue: ordered ready
// set, delayed set, job records and terminal counters. The Redis
// implementation lives in internal/infra/redis; the in-memory one below
// backs unit tests and dev mode.
type Store interface {
	// NextSeq returns a monotonically increasing enqueue sequence.
	NextSeq(ctx context.Context) (int64, error)
	// SaveJob upserts the job record.
	SaveJob(ctx context.Context, job *model.ChatJob) error
	// GetJob fails with domain.ErrJobNotFound for unknown ids.
	GetJob(ctx context.Context, id string) (*model.ChatJob, error)
	// PushReady stores the job and adds it to the ready set.
	PushReady(ctx context.Context, job *model.ChatJob) error
	// PopReady removes and returns the highest-priority, oldest ready job,
	// or domain.ErrNotFound when the ready set is empty. The popped job is
	// held active under a lease; a job whose worker dies before reaching a
	// terminal state is reclaimed by PromoteDue once the lease runs out.
	PopReady(ctx context.Context) (*model.ChatJob, error)
	// PushDelayed stores the job and schedules it to become ready at readyAt.
	PushDelayed(ctx context.Context, job *model.ChatJob, readyAt time.Time) error
	// PromoteDue moves delayed jobs whose time has come into the ready set
	// and returns expired active jobs to it.
	PromoteDue(ctx context.Context, now time.Time) (int, error)
	// Rank is the job's 0-based index in the ordered ready set, or
	// domain.ErrJobNotFound when the job is not waiting.
	Rank(ctx context.Context, jobID string) (int64, error)
	// Counts computes live metrics.
	Counts(ctx context.Context) (*Metrics, error)
	MarkCompleted(ctx context.Context, job *model.ChatJob) error
	MarkFailed(ctx context.Context, job *model.ChatJob) error
}

// defaultActiveLease bounds how long a popped job may sit in the active set
// before it is treated as orphaned by a dead worker.
const defaultActiveLease = 5 * time.Minute

// MemoryStore is the non-durable Store used by unit tests and -dev runs.
// active maps job id to its lease deadline.
type MemoryStore struct {
	mu        sync.Mutex
	seq       int64
	lease     time.Duration
	jobs      map[string]*model.ChatJob
	ready     []string
	delayed   map[string]time.Time
	active    map[string]time.Time
	completed int64
	failed    int64
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		lease:   defaultActiveLease,
		jobs:    make(map[string]*model.ChatJob),
		delayed: make(map[string]time.Time),
		active:  make(map[string]time.Time),
	}
}

func (s *MemoryStore) NextSeq(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return s.seq, nil
}

func (s *MemoryStore) SaveJob(ctx context.Context, job *model.ChatJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *job
	s.jobs[job.ID] = &cp
	return nil
}

func (s *MemoryStore) GetJob(ctx context.Context, id string) (*model.ChatJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	cp := *j
	return &cp, nil
}

func (s *MemoryStore) PushReady(ctx context.Context, job *model.ChatJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *job
	s.jobs[job.ID] = &cp
	delete(s.active, job.ID)
	s.ready = append(s.ready, job.ID)
	s.sortReady()
	return nil
}

func (s *MemoryStore) PopReady(ctx context.Context) (*model.ChatJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.ready) == 0 {
		return nil, domain.ErrNotFound
	}
	id := s.ready[0]
	s.ready = s.ready[1:]
	s.active[id] = time.Now().Add(s.lease)
	j := s.jobs[id]
	cp := *j
	return &cp, nil
}

func (s *MemoryStore) PushDelayed(ctx context.Context, job *model.ChatJob, readyAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *job
	s.jobs[job.ID] = &cp
	delete(s.active, job.ID)
	s.delayed[job.ID] = readyAt
	return nil
}

func (s *MemoryStore) PromoteDue(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, at := range s.delayed {
		if at.After(now) {
			continue
		}
		delete(s.delayed, id)
		if j := s.jobs[id]; j != nil {
			j.State = model.JobStateWaiting
		}
		s.ready = append(s.ready, id)
		n++
	}
	// Reclaim jobs whose worker died mid-flight. The attempt consumed at
	// pop stays consumed.
	for id, deadline := range s.active {
		if deadline.After(now) {
			continue
		}
		delete(s.active, id)
		j := s.jobs[id]
		if j == nil {
			continue
		}
		j.State = model.JobStateWaiting
		s.ready = append(s.ready, id)
		n++
	}
	if n > 0 {
		s.sortReady()
	}
	return n, nil
}

func (s *MemoryStore) Rank(ctx context.Context, jobID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, id := range s.ready {
		if id == jobID {
			return int64(i), nil
		}
	}
	return 0, domain.ErrJobNotFound
}

func (s *MemoryStore) Counts(ctx context.Context) (*Metrics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &Metrics{
		Waiting:   int64(len(s.ready) + len(s.delayed)),
		Active:    int64(len(s.active)),
		Completed: s.completed,
		Failed:    s.failed,
	}, nil
}

func (s *MemoryStore) MarkCompleted(ctx context.Context, job *model.ChatJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *job
	s.jobs[job.ID] = &cp
	delete(s.active, job.ID)
	s.completed++
	return nil
}

func (s *MemoryStore) MarkFailed(ctx context.Context, job *model.ChatJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *job
	s.jobs[job.ID] = &cp
	delete(s.active, job.ID)
	s.failed++
	return nil
}

// sortReady keeps the ready slice ordered by priority descending, then
// enqueue sequence ascending. Callers hold s.mu.
func (s *MemoryStore) sortReady() {
	sort.SliceStable(s.ready, func(i, j int) bool {
		a, b := s.jobs[s.ready[i]], s.jobs[s.ready[j]]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		return a.Seq < b.Seq
	})
}
