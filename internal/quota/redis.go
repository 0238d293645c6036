package quota

import (
	"context"
	"errors"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
)

const keyDailyUsage = "usage:daily:%s"

// RedisStore implements Store with Redis INCR, which is atomic across every
// service instance sharing the server. Keys never expire.
type RedisStore struct {
	client redis.UniversalClient
}

// RedisOptions configures NewRedisStore
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisStore connects to the Redis server at opts.Addr
func NewRedisStore(opts RedisOptions) (*RedisStore, error) {
	addr := strings.TrimSpace(opts.Addr)
	if addr == "" {
		return nil, errors.New("redis addr is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(opts.Password),
		DB:       opts.DB,
	})
	return NewRedisStoreWithClient(client), nil
}

// NewRedisStoreWithClient wraps an existing client
func NewRedisStoreWithClient(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

// IncrementAndGet increments the counter for date
func (r *RedisStore) IncrementAndGet(ctx context.Context, date string) (int, error) {
	count, err := r.client.Incr(ctx, fmt.Sprintf(keyDailyUsage, date)).Result()
	if err != nil {
		return 0, storeError("incrementing usage", err)
	}
	return int(count), nil
}

// Usage returns the record for date, with a zero count if the key is absent
func (r *RedisStore) Usage(ctx context.Context, date string) (UsageRecord, error) {
	count, err := r.client.Get(ctx, fmt.Sprintf(keyDailyUsage, date)).Int()
	if errors.Is(err, redis.Nil) {
		return UsageRecord{Date: date}, nil
	}
	if err != nil {
		return UsageRecord{}, storeError("reading usage", err)
	}
	return UsageRecord{Date: date, Count: count}, nil
}

// Close closes the underlying client
func (r *RedisStore) Close() error {
	return r.client.Close()
}
