package submit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const claimKeyPrefix = "relay:verification:claim:"

// ClaimStore is the subset of the go-redis client RedisClaims needs.
type ClaimStore interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisClaims is a Claimer shared by every relay pointed at the same Redis.
type RedisClaims struct {
	rdb   ClaimStore
	ttl   time.Duration
	owner string
}

// NewRedisClaims returns a Claimer that stores owner under a per-claim key with ttl.
func NewRedisClaims(rdb ClaimStore, ttl time.Duration, owner string) *RedisClaims {
	return &RedisClaims{rdb: rdb, ttl: ttl, owner: owner}
}

// Claim sets the key if absent.
func (c *RedisClaims) Claim(ctx context.Context, key string) (bool, error) {
	ok, err := c.rdb.SetNX(ctx, claimKeyPrefix+key, c.owner, c.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("submit: claim %s: %w", key, err)
	}
	return ok, nil
}

// Release deletes the key.
func (c *RedisClaims) Release(ctx context.Context, key string) error {
	if err := c.rdb.Del(ctx, claimKeyPrefix+key).Err(); err != nil {
		return fmt.Errorf("submit: release %s: %w", key, err)
	}
	return nil
}
