package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/FilipeAphrody/arcade-gateway/internal/domain"
)

// RedisTokenRepo implements domain.TokenRepository using Redis. Refresh
// tokens are JWTs verified by signature; Redis only tracks which token
// hashes are still honoured, so logout and rotation can revoke them before
// their natural expiry.
type RedisTokenRepo struct {
	client *redis.Client
}

// NewRedisTokenRepo creates a new repository instance.
func NewRedisTokenRepo(client *redis.Client) *RedisTokenRepo {
	return &RedisTokenRepo{client: client}
}

func refreshKey(tokenHash string) string {
	return fmt.Sprintf("auth:refresh:%s", tokenHash)
}

func userIndexKey(userID string) string {
	return fmt.Sprintf("auth:user-tokens:%s", userID)
}

// StoreRefreshToken records a refresh-token hash with the token's TTL and
// indexes it under the owning user for bulk revocation.
func (r *RedisTokenRepo) StoreRefreshToken(ctx context.Context, userID, tokenHash string, ttl time.Duration) error {
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, refreshKey(tokenHash), userID, ttl)
	pipe.SAdd(ctx, userIndexKey(userID), tokenHash)
	pipe.Expire(ctx, userIndexKey(userID), ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store token in redis: %w", err)
	}
	return nil
}

// UserIDByRefreshToken checks that a refresh-token hash is still honoured
// and returns the associated user ID.
func (r *RedisTokenRepo) UserIDByRefreshToken(ctx context.Context, tokenHash string) (string, error) {
	userID, err := r.client.Get(ctx, refreshKey(tokenHash)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", domain.ErrTokenRevoked
		}
		return "", fmt.Errorf("redis error: %w", err)
	}
	return userID, nil
}

// DeleteRefreshToken revokes a single token hash. Used for logout and
// for rotation when a refresh is exchanged.
func (r *RedisTokenRepo) DeleteRefreshToken(ctx context.Context, tokenHash string) error {
	userID, err := r.client.Get(ctx, refreshKey(tokenHash)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis error: %w", err)
	}
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, refreshKey(tokenHash))
	if userID != "" {
		pipe.SRem(ctx, userIndexKey(userID), tokenHash)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// RevokeAllForUser drops every outstanding refresh token of a user.
// Used on logout and password change.
func (r *RedisTokenRepo) RevokeAllForUser(ctx context.Context, userID string) error {
	hashes, err := r.client.SMembers(ctx, userIndexKey(userID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis error: %w", err)
	}
	pipe := r.client.TxPipeline()
	for _, h := range hashes {
		pipe.Del(ctx, refreshKey(h))
	}
	pipe.Del(ctx, userIndexKey(userID))
	_, err = pipe.Exec(ctx)
	return err
}
