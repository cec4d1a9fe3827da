// Package redis stores fingerprints in a Redis set so several crawler
// processes can share one already-seen filter.
package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const defaultKey = "frontier:seen"

// Config configures the Redis-backed set.
type Config struct {
	Addr     string
	Password string
	DB       int
	Key      string
}

// commander is the subset of the go-redis client used by Set.
type commander interface {
	SAdd(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	SRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	SIsMember(ctx context.Context, key string, member interface{}) *redis.BoolCmd
	SCard(ctx context.Context, key string) *redis.IntCmd
	Close() error
}

// Set is a fingerprint set stored under one Redis key.
type Set struct {
	client commander
	key    string
}

// New connects a Set to the configured Redis server.
func New(cfg Config) (*Set, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return newWithClient(client, cfg.Key), nil
}

func newWithClient(client commander, key string) *Set {
	if key == "" {
		key = defaultKey
	}
	return &Set{client: client, key: key}
}

// Add inserts fp with SADD.
func (s *Set) Add(ctx context.Context, fp uint64) (bool, error) {
	n, err := s.client.SAdd(ctx, s.key, fp).Result()
	if err != nil {
		return false, fmt.Errorf("sadd fingerprint: %w", err)
	}
	return n == 1, nil
}

// Remove deletes fp with SREM.
func (s *Set) Remove(ctx context.Context, fp uint64) (bool, error) {
	n, err := s.client.SRem(ctx, s.key, fp).Result()
	if err != nil {
		return false, fmt.Errorf("srem fingerprint: %w", err)
	}
	return n == 1, nil
}

// Contains checks membership with SISMEMBER.
func (s *Set) Contains(ctx context.Context, fp uint64) (bool, error) {
	ok, err := s.client.SIsMember(ctx, s.key, fp).Result()
	if err != nil {
		return false, fmt.Errorf("sismember fingerprint: %w", err)
	}
	return ok, nil
}

// Len returns SCARD.
func (s *Set) Len(ctx context.Context) (int64, error) {
	n, err := s.client.SCard(ctx, s.key).Result()
	if err != nil {
		return 0, fmt.Errorf("scard fingerprints: %w", err)
	}
	return n, nil
}

// Close closes the client.
func (s *Set) Close() error {
	return s.client.Close()
}
