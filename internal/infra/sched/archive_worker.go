package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"socratic-ai-service/internal/infra/metrics"
)

// IdleArchiver archives active conversations whose last activity predates the
// cutoff. Returns how many were archived.
type IdleArchiver interface {
	ArchiveIdle(ctx context.Context, cutoff time.Time) (int, error)
}

// ArchiveWorker periodically moves long-idle conversations to archived so
// they stop accepting messages and drop out of hot query paths.
type ArchiveWorker struct {
	interval time.Duration
	idleFor  time.Duration
	repo     IdleArchiver
	log      *zerolog.Logger
}

func NewArchiveWorker(interval, idleFor time.Duration, repo IdleArchiver, logger *zerolog.Logger) *ArchiveWorker {
	if interval <= 0 {
		interval = time.Hour
	}
	if idleFor <= 0 {
		idleFor = 30 * 24 * time.Hour
	}
	archLog := logger.With().Str("component", "ArchiveWorker").Logger()
	return &ArchiveWorker{
		interval: interval,
		idleFor:  idleFor,
		repo:     repo,
		log:      &archLog,
	}
}

func (w *ArchiveWorker) Run(ctx context.Context) error {
	w.log.Info().Dur("interval", w.interval).Dur("idle_for", w.idleFor).Msg("Starting archive worker")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping archive worker")
			return ctx.Err()
		case <-ticker.C:
			n, err := w.repo.ArchiveIdle(ctx, time.Now().Add(-w.idleFor))
			if err != nil {
				w.log.Error().Err(err).Msg("archive sweep error")
			}
			if n > 0 {
				metrics.IncConversationsArchived(n)
				w.log.Info().Int("count", n).Msg("idle conversations archived")
			}
		}
	}
}
