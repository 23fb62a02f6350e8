package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// MemoryBackend keeps results in process memory.
type MemoryBackend struct {
	mu      sync.RWMutex
	results map[string]Result
}

// NewMemoryBackend returns an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{results: make(map[string]Result)}
}

func (b *MemoryBackend) Put(_ context.Context, r Result) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.results[r.ID] = r
	return nil
}

func (b *MemoryBackend) Get(_ context.Context, id string) (Result, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	r, ok := b.results[id]
	return r, ok, nil
}

// DefaultResultTTL is how long RedisBackend keeps a result.
const DefaultResultTTL = 24 * time.Hour

const redisKeyPrefix = "hearth:task:"

// RedisBackend stores results as JSON strings in Redis so they outlive the
// process that ran the task.
type RedisBackend struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewRedisBackend returns a backend on client. A zero ttl means
// DefaultResultTTL.
func NewRedisBackend(client redis.Cmdable, ttl time.Duration) *RedisBackend {
	if ttl <= 0 {
		ttl = DefaultResultTTL
	}
	return &RedisBackend{client: client, ttl: ttl}
}

// DialRedis parses url and verifies the server answers.
func DialRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to reach redis: %w", err)
	}
	return client, nil
}

func (b *RedisBackend) Put(ctx context.Context, r Result) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to encode task result: %w", err)
	}
	if err := b.client.Set(ctx, redisKeyPrefix+r.ID, data, b.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store task result %s: %w", r.ID, err)
	}
	return nil
}

func (b *RedisBackend) Get(ctx context.Context, id string) (Result, bool, error) {
	data, err := b.client.Get(ctx, redisKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return Result{}, false, nil
	}
	if err != nil {
		return Result{}, false, fmt.Errorf("failed to load task result %s: %w", id, err)
	}
	var r Result
	if err := json.Unmarshal(data, &r); err != nil {
		return Result{}, false, fmt.Errorf("failed to decode task result %s: %w", id, err)
	}
	return r, true, nil
}
