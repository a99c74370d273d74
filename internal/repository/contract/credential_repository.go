package contract

import (
	"context"

	"ai-qa-sync/internal/entity"
)

// Fixed keys the credential pair lives under in every key-value backend.
const (
	KeyAccessToken  = "qa.access_token"
	KeyRefreshToken = "qa.refresh_token"
	KeyExpiresHint  = "qa.expires_hint"
)

type ICredentialRepository interface {
	// Load returns nil, nil when nothing is stored.
	Load(ctx context.Context) (*entity.Credential, error)
	Save(ctx context.Context, cred entity.Credential) error
	Clear(ctx context.Context) error
}
