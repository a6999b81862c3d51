package repository

import "context"

// SecretsResolver resolves the API key for one provider call: the user's own
// decrypted key when usedByok is set, the configured server-side key
// otherwise. Returns domain.ErrCredentialMissing when neither is available.
type SecretsResolver interface {
	ResolveCredential(ctx context.Context, userID, provider string, usedByok bool) (string, error)
}
