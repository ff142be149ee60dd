// Package cache keeps rendered ride-listing pages in Redis for a short TTL.
// Cache keys embed a version counter that every ride mutation bumps, so
// invalidation is one INCR instead of scanning for keys; stale entries age
// out by TTL.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const versionKey = "bilshare:rides:version"

type RideList struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRideList returns a nil-safe cache; a nil *RideList misses on every Get
// and ignores Set/Invalidate.
func NewRideList(addr, password string, ttl time.Duration) *RideList {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RideList{client: c, ttl: ttl}
}

// Key derives the cache key for a listing query from its parameters and the
// current version counter.
func (c *RideList) Key(ctx context.Context, params any) (string, bool) {
	if c == nil {
		return "", false
	}
	ver, err := c.client.Get(ctx, versionKey).Int64()
	if err != nil && err != redis.Nil {
		return "", false
	}
	b, err := json.Marshal(params)
	if err != nil {
		return "", false
	}
	sum := sha256.Sum256(b)
	return fmt.Sprintf("bilshare:rides:v%d:%s", ver, hex.EncodeToString(sum[:8])), true
}

func (c *RideList) Get(ctx context.Context, key string, out any) bool {
	if c == nil || key == "" {
		return false
	}
	b, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(b, out) == nil
}

func (c *RideList) Set(ctx context.Context, key string, val any) {
	if c == nil || key == "" {
		return
	}
	b, err := json.Marshal(val)
	if err != nil {
		return
	}
	_ = c.client.Set(ctx, key, b, c.ttl).Err()
}

// Invalidate bumps the version counter so all existing keys stop matching.
func (c *RideList) Invalidate(ctx context.Context) {
	if c == nil {
		return
	}
	_ = c.client.Incr(ctx, versionKey).Err()
}

func (c *RideList) Close() error {
	if c == nil {
		return nil
	}
	return c.client.Close()
}
