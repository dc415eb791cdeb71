package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisClaimer uses SETNX so a claim holds across processes.
type RedisClaimer struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisClaimer creates a claimer whose claims expire after ttl.
func NewRedisClaimer(rdb *redis.Client, prefix string, ttl time.Duration) *RedisClaimer {
	return &RedisClaimer{rdb: rdb, prefix: prefix, ttl: ttl}
}

func (c *RedisClaimer) Claim(ctx context.Context, id string) (bool, error) {
	ok, err := c.rdb.SetNX(ctx, c.prefix+id, time.Now().Unix(), c.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", id, err)
	}
	return ok, nil
}
