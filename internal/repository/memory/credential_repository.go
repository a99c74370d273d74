package memory

import (
	"context"
	"time"

	"ai-qa-sync/internal/entity"
	"ai-qa-sync/internal/repository/contract"

	"github.com/patrickmn/go-cache"
)

// CredentialRepository keeps the credential pair in process memory only.
type CredentialRepository struct {
	cache *cache.Cache
}

var _ contract.ICredentialRepository = (*CredentialRepository)(nil)

func NewCredentialRepository() *CredentialRepository {
	return &CredentialRepository{
		cache: cache.New(cache.NoExpiration, 0),
	}
}

func (r *CredentialRepository) Load(ctx context.Context) (*entity.Credential, error) {
	access, found := r.cache.Get(contract.KeyAccessToken)
	if !found {
		return nil, nil
	}
	cred := &entity.Credential{AccessToken: access.(string)}
	if refresh, ok := r.cache.Get(contract.KeyRefreshToken); ok {
		cred.RefreshToken = refresh.(string)
	}
	if hint, ok := r.cache.Get(contract.KeyExpiresHint); ok {
		cred.ExpiresHint = hint.(time.Time)
	}
	return cred, nil
}

func (r *CredentialRepository) Save(ctx context.Context, cred entity.Credential) error {
	r.cache.Set(contract.KeyAccessToken, cred.AccessToken, cache.NoExpiration)
	r.cache.Set(contract.KeyRefreshToken, cred.RefreshToken, cache.NoExpiration)
	r.cache.Set(contract.KeyExpiresHint, cred.ExpiresHint, cache.NoExpiration)
	return nil
}

func (r *CredentialRepository) Clear(ctx context.Context) error {
	r.cache.Delete(contract.KeyAccessToken)
	r.cache.Delete(contract.KeyRefreshToken)
	r.cache.Delete(contract.KeyExpiresHint)
	return nil
}
