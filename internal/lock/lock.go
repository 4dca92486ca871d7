// Package lock provides partition locks so that one processing date is
// never run twice at the same time.
package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/dvloznov/bank-batch-pipeline/internal/logger"
	"github.com/dvloznov/bank-batch-pipeline/internal/pipeline"
)

// unlockScript deletes the key only if the caller still holds it.
const unlockScript = `
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`

// RedisLock is a SET NX lock with a TTL. The TTL bounds how long a crashed
// holder blocks the partition.
type RedisLock struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisLock wraps client. ttl should exceed the longest expected run.
func NewRedisLock(client *redis.Client, ttl time.Duration) *RedisLock {
	return &RedisLock{client: client, ttl: ttl}
}

// Dial connects to addr and checks the connection.
func Dial(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return client, nil
}

// Acquire takes the lock for key or returns pipeline.ErrPartitionLocked.
func (l *RedisLock) Acquire(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w", key, pipeline.ErrPartitionLocked)
	}

	log := logger.FromContext(ctx)
	log.Debug().Str("key", key).Dur("ttl", l.ttl).Msg("Lock acquired")

	return func() {
		// Release must work after the run context is cancelled.
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()

		n, err := l.client.Eval(rctx, unlockScript, []string{key}, token).Int64()
		switch {
		case err != nil:
			log.Warn().Err(err).Str("key", key).Msg("Failed to release lock")
		case n == 0:
			log.Warn().Str("key", key).Msg("Lock expired or held by another owner")
		default:
			log.Debug().Str("key", key).Msg("Lock released")
		}
	}, nil
}

// LocalLock serializes partitions within one process.
type LocalLock struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewLocalLock creates an in-process lock.
func NewLocalLock() *LocalLock {
	return &LocalLock{held: make(map[string]struct{})}
}

// Acquire takes the lock for key or returns pipeline.ErrPartitionLocked.
func (l *LocalLock) Acquire(_ context.Context, key string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, busy := l.held[key]; busy {
		return nil, fmt.Errorf("%s: %w", key, pipeline.ErrPartitionLocked)
	}
	l.held[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
	}, nil
}

var (
	_ pipeline.PartitionLocker = (*RedisLock)(nil)
	_ pipeline.PartitionLocker = (*LocalLock)(nil)
)
