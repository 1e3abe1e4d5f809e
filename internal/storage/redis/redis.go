// Package redis stores revoked token ids as expiring keys so records vanish
// on their own once the token can no longer be presented.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "admissions:revoked:"

type Revocations struct {
	client    *redis.Client
	retention time.Duration
}

// New connects to addr and verifies the connection. Keys outlive the token
// expiry by retention.
func New(ctx context.Context, addr, password string, db int, retention time.Duration) (*Revocations, error) {
	const op = "storage.redis.New"

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%s: ping: %w", op, err)
	}

	return &Revocations{client: client, retention: retention}, nil
}

func (r *Revocations) Revoke(ctx context.Context, tokenID string, expiresAt time.Time) (bool, error) {
	const op = "storage.redis.Revoke"

	ok, err := r.client.SetNX(ctx, key(tokenID), expiresAt.Unix(), keyTTL(expiresAt, r.retention, time.Now())).Result()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	return ok, nil
}

func (r *Revocations) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	const op = "storage.redis.IsRevoked"

	n, err := r.client.Exists(ctx, key(tokenID)).Result()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	return n > 0, nil
}

func (r *Revocations) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Revocations) Close() error {
	return r.client.Close()
}

func key(tokenID string) string {
	return keyPrefix + tokenID
}

// keyTTL never returns a non-positive duration: redis treats those as "no expiry".
func keyTTL(expiresAt time.Time, retention time.Duration, now time.Time) time.Duration {
	ttl := expiresAt.Sub(now) + retention
	if ttl < time.Second {
		ttl = time.Second
	}
	return ttl
}
