package implementation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ai-qa-sync/internal/entity"
	"ai-qa-sync/internal/repository/contract"

	"github.com/redis/go-redis/v9"
)

// RedisCredentialRepository stores the credential pair for clients that share
// a session across processes (kiosk and lab machines).
type RedisCredentialRepository struct {
	rdb    *redis.Client
	prefix string
}

var _ contract.ICredentialRepository = (*RedisCredentialRepository)(nil)

func NewRedisCredentialRepository(rdb *redis.Client, prefix string) *RedisCredentialRepository {
	return &RedisCredentialRepository{rdb: rdb, prefix: prefix}
}

func (r *RedisCredentialRepository) key(k string) string {
	return r.prefix + k
}

func (r *RedisCredentialRepository) Load(ctx context.Context) (*entity.Credential, error) {
	vals, err := r.rdb.MGet(ctx,
		r.key(contract.KeyAccessToken),
		r.key(contract.KeyRefreshToken),
		r.key(contract.KeyExpiresHint),
	).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read credential: %w", err)
	}

	access, ok := vals[0].(string)
	if !ok || access == "" {
		return nil, nil
	}

	cred := &entity.Credential{AccessToken: access}
	if refresh, ok := vals[1].(string); ok {
		cred.RefreshToken = refresh
	}
	if hint, ok := vals[2].(string); ok && hint != "" {
		if t, err := time.Parse(time.RFC3339Nano, hint); err == nil {
			cred.ExpiresHint = t
		}
	}
	return cred, nil
}

func (r *RedisCredentialRepository) Save(ctx context.Context, cred entity.Credential) error {
	hint := ""
	if !cred.ExpiresHint.IsZero() {
		hint = cred.ExpiresHint.Format(time.RFC3339Nano)
	}

	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.key(contract.KeyAccessToken), cred.AccessToken, 0)
		pipe.Set(ctx, r.key(contract.KeyRefreshToken), cred.RefreshToken, 0)
		pipe.Set(ctx, r.key(contract.KeyExpiresHint), hint, 0)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write credential: %w", err)
	}
	return nil
}

func (r *RedisCredentialRepository) Clear(ctx context.Context) error {
	err := r.rdb.Del(ctx,
		r.key(contract.KeyAccessToken),
		r.key(contract.KeyRefreshToken),
		r.key(contract.KeyExpiresHint),
	).Err()
	if err != nil {
		return fmt.Errorf("failed to clear credential: %w", err)
	}
	return nil
}
