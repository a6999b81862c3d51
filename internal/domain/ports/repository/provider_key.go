package repository

import (
	"context"
	"time"
)

// ProviderKey is a user-owned provider credential, stored encrypted.
type ProviderKey struct {
	UserID     string
	Provider   string
	Ciphertext string
	CreatedAt  time.Time
}

type ProviderKeyRepository interface {
	Save(ctx context.Context, qx any, key *ProviderKey) error
	Find(ctx context.Context, qx any, userID, provider string) (*ProviderKey, error)
	ListByUser(ctx context.Context, qx any, userID string) ([]*ProviderKey, error)
	Delete(ctx context.Context, qx any, userID, provider string) error
}
