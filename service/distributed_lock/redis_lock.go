/*
 * @module service/distributed_lock/redis_lock
 * @description Redis-backed distributed lock, serializes validation run scheduling across instances
 * @architecture Utility layer - distributed locking
 * @documentReference dev_docs/distributed_lock_design.md
 * @stateFlow Acquire lock -> run task -> release lock / TTL expiry
 * @rules SET NX based; only the holding instance can release or refresh
 * @dependencies github.com/go-redis/redis/v8
 * @refs service/init.go, service/reconciliation/orchestrator.go
 */

package distributed_lock

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
)

// DistributedLock is the locking capability the orchestrator and scheduler use.
type DistributedLock interface {
	// TryLock attempts to acquire the lock, without blocking.
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Unlock releases the lock if this instance holds it.
	Unlock(ctx context.Context, key string) error
	// Refresh extends the lock TTL for long-running work.
	Refresh(ctx context.Context, key string, ttl time.Duration) error
	// IsLocked reports whether anyone holds the lock.
	IsLocked(ctx context.Context, key string) (bool, error)
}

// RedisLock implements DistributedLock on a single Redis instance.
type RedisLock struct {
	client     *redis.Client
	instanceID string // identifies the lock holder
}

// NewRedisLock connects to Redis using REDIS_HOST/REDIS_PORT/REDIS_PASSWORD/REDIS_DB.
func NewRedisLock() (*RedisLock, error) {
	host := getEnvWithDefault("REDIS_HOST", "localhost")
	port := getEnvWithDefault("REDIS_PORT", "6379")
	password := os.Getenv("REDIS_PASSWORD")
	db := 0
	if dbStr := os.Getenv("REDIS_DB"); dbStr != "" {
		fmt.Sscanf(dbStr, "%d", &db)
	}

	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%s", host, port),
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 5,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	hostname, _ := os.Hostname()
	instanceID := fmt.Sprintf("%s:%d", hostname, os.Getpid())

	slog.Info("redis distributed lock initialized",
		"instance_id", instanceID,
		"redis_host", host,
		"redis_port", port)

	return &RedisLock{
		client:     client,
		instanceID: instanceID,
	}, nil
}

// TryLock acquires the lock with SET NX; it only succeeds when the key is free.
func (r *RedisLock) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	lockKey := fmt.Sprintf("nhlrecon:lock:%s", key)

	result, err := r.client.SetNX(ctx, lockKey, r.instanceID, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquiring lock failed: %w", err)
	}

	if result {
		slog.Debug("distributed lock acquired",
			"key", key,
			"ttl", ttl,
			"instance", r.instanceID)
	}

	return result, nil
}

// Unlock releases the lock via a Lua script so only the holder can delete it.
func (r *RedisLock) Unlock(ctx context.Context, key string) error {
	lockKey := fmt.Sprintf("nhlrecon:lock:%s", key)

	script := `
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		else
			return 0
		end
	`

	result, err := r.client.Eval(ctx, script, []string{lockKey}, r.instanceID).Result()
	if err != nil {
		return fmt.Errorf("releasing lock failed: %w", err)
	}

	if result.(int64) == 1 {
		slog.Debug("distributed lock released",
			"key", key,
			"instance", r.instanceID)
	} else {
		slog.Warn("distributed lock missing or held by another instance",
			"key", key,
			"instance", r.instanceID)
	}

	return nil
}

// Refresh extends the TTL while a long run is still making progress.
func (r *RedisLock) Refresh(ctx context.Context, key string, ttl time.Duration) error {
	lockKey := fmt.Sprintf("nhlrecon:lock:%s", key)

	script := `
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("expire", KEYS[1], ARGV[2])
		else
			return 0
		end
	`

	result, err := r.client.Eval(ctx, script, []string{lockKey}, r.instanceID, int(ttl.Seconds())).Result()
	if err != nil {
		return fmt.Errorf("refreshing lock failed: %w", err)
	}

	if result.(int64) == 1 {
		slog.Debug("distributed lock refreshed",
			"key", key,
			"ttl", ttl,
			"instance", r.instanceID)
		return nil
	}

	return fmt.Errorf("lock missing or held by another instance")
}

// IsLocked reports whether the key is currently held by any instance.
func (r *RedisLock) IsLocked(ctx context.Context, key string) (bool, error) {
	lockKey := fmt.Sprintf("nhlrecon:lock:%s", key)

	exists, err := r.client.Exists(ctx, lockKey).Result()
	if err != nil {
		return false, fmt.Errorf("checking lock state failed: %w", err)
	}

	return exists > 0, nil
}

// Close shuts down the Redis client.
func (r *RedisLock) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// LockExecutor wraps a function call in lock acquisition and release.
type LockExecutor struct {
	lock DistributedLock
}

// NewLockExecutor creates a lock executor.
func NewLockExecutor(lock DistributedLock) *LockExecutor {
	return &LockExecutor{lock: lock}
}

// ExecuteWithLock runs fn only when this instance wins the lock. Another
// instance holding the lock is not an error; the call is simply skipped.
func (e *LockExecutor) ExecuteWithLock(ctx context.Context, key string, ttl time.Duration, fn func() error) error {
	locked, err := e.lock.TryLock(ctx, key, ttl)
	if err != nil {
		return fmt.Errorf("acquiring lock failed: %w", err)
	}

	if !locked {
		slog.Debug("lock held by another instance, skipping", "key", key)
		return nil
	}

	defer func() {
		if err := e.lock.Unlock(ctx, key); err != nil {
			slog.Warn("releasing lock failed", "key", key, "error", err)
		}
	}()

	return fn()
}
