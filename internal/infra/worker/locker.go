package worker

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"socratic-ai-service/internal/domain"
)

// Locker is the single-flight guard the dispatcher takes per conversation so
// two jobs of the same conversation never run concurrently and their event
// streams cannot interleave. The Redis implementation covers multi-instance
// deployments; LocalLocker covers tests and single-node dev runs.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, err error)
	Unlock(ctx context.Context, key, token string) error
}

type LocalLocker struct {
	mu    sync.Mutex
	held  map[string]string
	timer map[string]*time.Timer
}

var _ Locker = (*LocalLocker)(nil)

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]string), timer: make(map[string]*time.Timer)}
}

func (l *LocalLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.held[key]; busy {
		return "", domain.ErrConversationBusy
	}
	token := uuid.NewString()
	l.held[key] = token
	if ttl > 0 {
		l.timer[key] = time.AfterFunc(ttl, func() { _ = l.Unlock(context.Background(), key, token) })
	}
	return token, nil
}

func (l *LocalLocker) Unlock(ctx context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cur, ok := l.held[key]; !ok || cur != token {
		return nil
	}
	delete(l.held, key)
	if t := l.timer[key]; t != nil {
		t.Stop()
		delete(l.timer, key)
	}
	return nil
}
