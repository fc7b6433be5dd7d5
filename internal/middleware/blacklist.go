package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/redis/go-redis/v9"
)

const blacklistPrefix = "pool:blacklist:"

// RedisTokenBlacklist records revoked bearer tokens in Redis until they
// would have expired anyway. Keys hold the token's SHA-256, not the token.
type RedisTokenBlacklist struct {
	client *redis.Client
	now    func() time.Time
}

func NewRedisTokenBlacklist(client *redis.Client) *RedisTokenBlacklist {
	return &RedisTokenBlacklist{client: client, now: time.Now}
}

// Revoke blacklists token until expiresAt. A token that has already expired
// is left alone; Authenticate rejects it on its own.
func (b *RedisTokenBlacklist) Revoke(ctx context.Context, token string, expiresAt time.Time) error {
	ttl := expiresAt.Sub(b.now())
	if ttl <= 0 {
		return nil
	}
	return b.client.Set(ctx, blacklistKey(token), expiresAt.UTC().Format(time.RFC3339), ttl).Err()
}

func (b *RedisTokenBlacklist) IsBlacklisted(ctx context.Context, token string) (bool, error) {
	n, err := b.client.Exists(ctx, blacklistKey(token)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func blacklistKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return blacklistPrefix + hex.EncodeToString(sum[:])
}
