package security

import (
	"context"
	"errors"
	"fmt"

	"socratic-ai-service/internal/domain"
	"socratic-ai-service/internal/domain/ports/repository"
)

// SecretsResolver picks the API key for one provider call: the user's own
// stored key (decrypted) when the job was enqueued with BYOK, the
// server-side key for the provider otherwise.
type SecretsResolver struct {
	keys       repository.ProviderKeyRepository
	enc        *KeyCipher
	serverKeys map[string]string // provider -> key
}

var _ repository.SecretsResolver = (*SecretsResolver)(nil)

func NewSecretsResolver(keys repository.ProviderKeyRepository, enc *KeyCipher, serverKeys map[string]string) *SecretsResolver {
	return &SecretsResolver{keys: keys, enc: enc, serverKeys: serverKeys}
}

func (r *SecretsResolver) ResolveCredential(ctx context.Context, userID, provider string, usedByok bool) (string, error) {
	if usedByok {
		pk, err := r.keys.Find(ctx, nil, userID, provider)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return "", fmt.Errorf("no stored %s key for user: %w", provider, domain.ErrCredentialMissing)
			}
			return "", err
		}
		plain, err := r.enc.Decrypt(pk.Ciphertext)
		if err != nil {
			return "", fmt.Errorf("decrypt stored key: %w", err)
		}
		return plain, nil
	}

	key, ok := r.serverKeys[provider]
	if !ok || key == "" {
		return "", fmt.Errorf("no server key configured for %s: %w", provider, domain.ErrCredentialMissing)
	}
	return key, nil
}
