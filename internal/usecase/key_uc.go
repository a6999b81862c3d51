// File: internal/usecase/key_uc.go
package usecase

import (
	"context"
	"strings"
	"time"

	"socratic-ai-service/internal/domain"
	"socratic-ai-service/internal/domain/ports/repository"
	"socratic-ai-service/internal/infra/security"
)

// RedactedKey is what key listings expose: enough to manage keys, never the
// key material itself.
type RedactedKey struct {
	Provider  string    `json:"provider"`
	Suffix    string    `json:"suffix"`
	CreatedAt time.Time `json:"createdAt"`
}

// Compile-time check
var _ KeyUseCase = (*keyUC)(nil)

type KeyUseCase interface {
	Upsert(ctx context.Context, userID, provider, apiKey string) error
	List(ctx context.Context, userID string) ([]RedactedKey, error)
	Delete(ctx context.Context, userID, provider string) error
}

type keyUC struct {
	keys repository.ProviderKeyRepository
	enc  *security.KeyCipher
}

func NewKeyUseCase(keys repository.ProviderKeyRepository, enc *security.KeyCipher) *keyUC {
	return &keyUC{keys: keys, enc: enc}
}

func (k *keyUC) Upsert(ctx context.Context, userID, provider, apiKey string) error {
	provider = strings.ToLower(strings.TrimSpace(provider))
	apiKey = strings.TrimSpace(apiKey)
	if userID == "" || provider == "" || apiKey == "" {
		return domain.ErrInvalidArgument
	}
	ct, err := k.enc.Encrypt(apiKey)
	if err != nil {
		return err
	}
	return k.keys.Save(ctx, nil, &repository.ProviderKey{
		UserID:     userID,
		Provider:   provider,
		Ciphertext: ct,
		CreatedAt:  time.Now(),
	})
}

func (k *keyUC) List(ctx context.Context, userID string) ([]RedactedKey, error) {
	stored, err := k.keys.ListByUser(ctx, nil, userID)
	if err != nil {
		return nil, err
	}
	out := make([]RedactedKey, 0, len(stored))
	for _, pk := range stored {
		suffix := ""
		if plain, err := k.enc.Decrypt(pk.Ciphertext); err == nil && len(plain) >= 4 {
			suffix = plain[len(plain)-4:]
		}
		out = append(out, RedactedKey{Provider: pk.Provider, Suffix: suffix, CreatedAt: pk.CreatedAt})
	}
	return out, nil
}

func (k *keyUC) Delete(ctx context.Context, userID, provider string) error {
	return k.keys.Delete(ctx, nil, userID, strings.ToLower(strings.TrimSpace(provider)))
}
