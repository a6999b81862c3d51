package repository

import (
	"context"

	"socratic-ai-service/internal/domain/model"
)

// UsageLog records completed provider calls for accounting. Failures to
// record must not fail the job.
type UsageLog interface {
	Record(ctx context.Context, rec *model.UsageRecord) error
}
