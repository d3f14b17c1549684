package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"pricefeed/internal/pricing"
)

// RedisStore is a durable tier backed by a shared redis instance, for
// deployments where the cache should survive the host, not just the process.
// Each entry is stored with a TTL equal to the retention horizon, so redis
// expires entries natively and DeleteOlderThan has nothing to do.
type RedisStore struct {
	client    *redis.Client
	retention time.Duration
}

func NewRedisStore(client *redis.Client, retention time.Duration) (*RedisStore, error) {
	if client == nil {
		return nil, errors.New("redisstore: nil client")
	}
	if retention <= 0 {
		retention = 2 * time.Hour
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redisstore: ping: %w", err)
	}
	return &RedisStore{client: client, retention: retention}, nil
}

func redisKey(class pricing.AssetClass, key string) string {
	return fmt.Sprintf("pricefeed:%s:%s", class, key)
}

func (s *RedisStore) Put(ctx context.Context, e Entry) error {
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("redisstore put: %w", err)
	}
	if err := s.client.Set(ctx, redisKey(e.Class, e.Key), b, s.retention).Err(); err != nil {
		return fmt.Errorf("redisstore put: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, class pricing.AssetClass, key string) (*Entry, error) {
	b, err := s.client.Get(ctx, redisKey(class, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redisstore get: %w", err)
	}
	var e Entry
	if err := json.Unmarshal(b, &e); err != nil {
		return nil, nil
	}
	return &e, nil
}

func (s *RedisStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) error {
	// Redis TTLs handle retention.
	return nil
}
