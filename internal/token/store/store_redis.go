package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	id "parcelproof/pkg/domain"
	"parcelproof/pkg/platform/sentinel"
)

const tokenKeyPrefix = "pkgtoken:"

// RedisRegistry keeps the latest token per package in Redis so every
// instance validates against the same token.
type RedisRegistry struct {
	client redis.Cmdable
}

// NewRedis constructs a Redis-backed token registry.
func NewRedis(client redis.Cmdable) *RedisRegistry {
	return &RedisRegistry{client: client}
}

func tokenKey(packageID id.PackageID) string {
	return tokenKeyPrefix + string(packageID)
}

func (r *RedisRegistry) Publish(ctx context.Context, packageID id.PackageID, encoded []byte, expiresAt time.Time) error {
	ttl := time.Until(expiresAt) + retention
	if ttl <= 0 {
		return fmt.Errorf("package token already past retention")
	}
	if err := r.client.Set(ctx, tokenKey(packageID), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("publish package token: %w", err)
	}
	return nil
}

func (r *RedisRegistry) Latest(ctx context.Context, packageID id.PackageID) ([]byte, error) {
	raw, err := r.client.Get(ctx, tokenKey(packageID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("package token not found: %w", sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("read package token: %w", err)
	}
	return raw, nil
}
