package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/HatiCode/iris-mlops/pkg/artifact"
)

const redisKeyPrefix = "iris-mlops:artifact:"

// RedisStore implements Store on top of Redis so that serving replicas
// without a shared volume can load the artifact written by the trainer.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	mu     sync.RWMutex
}

// NewRedisStore creates a Redis-backed store and pings the server.
//
// Parameters:
//   - addr: Redis server address (e.g., "localhost:6379")
//   - password: Redis password (empty string for no auth)
//   - db: Redis database number (typically 0)
//   - ttl: artifact expiration (0 keeps artifacts until overwritten)
func NewRedisStore(addr, password string, db int, ttl time.Duration) (*RedisStore, error) {
	if addr == "" {
		return nil, errors.New("redis address cannot be empty")
	}
	if db < 0 {
		return nil, errors.New("redis database number must be >= 0")
	}
	if ttl < 0 {
		return nil, errors.New("redis ttl must be >= 0")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}

	return &RedisStore{
		client: client,
		ttl:    ttl,
	}, nil
}

func redisKey(name string) string {
	return redisKeyPrefix + name
}

// Put stores the encoded artifact under "iris-mlops:artifact:{name}".
func (r *RedisStore) Put(ctx context.Context, name string, a artifact.Artifact) error {
	if err := validateName(name); err != nil {
		return err
	}

	data, err := artifact.Encode(a)
	if err != nil {
		return fmt.Errorf("failed to encode artifact: %w", err)
	}

	if err := r.client.Set(ctx, redisKey(name), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store artifact in redis: %w", err)
	}

	return nil
}

// Get loads and decodes the artifact stored under name.
//
// Returns:
//   - artifact: the decoded artifact (zero value if not found)
//   - found: true if the key exists
//   - error: non-nil on redis or decode failures (excluding "not found")
func (r *RedisStore) Get(ctx context.Context, name string) (artifact.Artifact, bool, error) {
	if err := validateName(name); err != nil {
		return artifact.Artifact{}, false, err
	}

	data, err := r.client.Get(ctx, redisKey(name)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return artifact.Artifact{}, false, nil
		}
		return artifact.Artifact{}, false, fmt.Errorf("failed to get artifact from redis: %w", err)
	}

	a, err := artifact.Decode(data)
	if err != nil {
		return artifact.Artifact{}, false, fmt.Errorf("failed to decode artifact %q: %w", name, err)
	}
	a.Metadata.Source = artifact.SourceRedis

	return a, true, nil
}

// Close closes the Redis client connection. It is idempotent.
func (r *RedisStore) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.client == nil {
		return nil
	}

	err := r.client.Close()
	r.client = nil
	if err != nil && err.Error() == "redis: client is closed" {
		return nil
	}

	return err
}

// Ping checks the Redis connection health.
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
