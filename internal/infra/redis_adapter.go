// Package infra provides the Redis adapters behind the consumer interfaces
// the pipeline declares: shared mapping sequences, the distributed
// duplicate-suppression guard, and the webhook delivery status store.
// Single-node deployments use the in-memory implementations instead; the
// caller decides which to wire at startup.
package infra

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/kranthikarthan/PE-sub004/internal/core"
	"github.com/kranthikarthan/PE-sub004/internal/flow"
	"github.com/kranthikarthan/PE-sub004/internal/mapping"
)

// DefaultGuardTTL caps how long an unreleased in-flight claim survives.
// It must outlast the longest tenant flow deadline so a live flow never
// loses its claim mid-run.
const DefaultGuardTTL = 5 * time.Minute

// GoRedisAdapter wraps go-redis v9 behind the command surface the mapping
// package expects, and hands out the guard and delivery-store companions
// that share its connection pool.
type GoRedisAdapter struct {
	rdb *redis.Client
}

// NewGoRedisAdapter connects to Redis and verifies the connection.
func NewGoRedisAdapter(addr, password string, db int) (*GoRedisAdapter, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     20,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed (%s): %w", addr, err)
	}

	slog.Info("Redis connected", "addr", addr, "db", db)
	return &GoRedisAdapter{rdb: rdb}, nil
}

// NewGoRedisAdapterFromClient wraps an existing client; tests use it with
// miniredis.
func NewGoRedisAdapterFromClient(rdb *redis.Client) *GoRedisAdapter {
	return &GoRedisAdapter{rdb: rdb}
}

// Close shuts down the underlying client.
func (a *GoRedisAdapter) Close() error {
	return a.rdb.Close()
}

// HealthCheck pings the server; it satisfies the resilience monitor's
// probe contract.
func (a *GoRedisAdapter) HealthCheck(ctx context.Context) error {
	if err := a.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Set stores value under key with the given expiry (0 means no expiry).
func (a *GoRedisAdapter) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return a.rdb.Set(ctx, key, value, ttl).Err()
}

// IncrBy atomically advances the integer at key and returns the result.
func (a *GoRedisAdapter) IncrBy(ctx context.Context, key string, delta int64) (int64, error) {
	return a.rdb.IncrBy(ctx, key, delta).Result()
}

var _ mapping.SequenceRedis = (*GoRedisAdapter)(nil)

// Sequences returns the shared-counter store for SEQUENTIAL generation.
func (a *GoRedisAdapter) Sequences() *mapping.RedisSequences {
	return mapping.NewRedisSequences(a)
}

// Guard returns the distributed duplicate-suppression guard. ttl <= 0
// selects DefaultGuardTTL.
func (a *GoRedisAdapter) Guard(ttl time.Duration) *RedisGuard {
	if ttl <= 0 {
		ttl = DefaultGuardTTL
	}
	return &RedisGuard{rdb: a.rdb, ttl: ttl, newID: uuid.NewString}
}

// releaseScript deletes the claim only when the caller still owns it, so a
// release arriving after TTL expiry cannot free another flow's claim.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisGuard enforces at-most-one-in-flight per key across replicas via
// SETNX with a TTL backstop for crashed holders.
type RedisGuard struct {
	rdb   *redis.Client
	ttl   time.Duration
	newID func() string
}

func guardKey(key string) string {
	return "flow:guard:" + key
}

// Acquire claims the key until the returned release runs or the TTL fires.
// A Redis failure rejects the flow rather than bypassing duplicate
// suppression.
func (g *RedisGuard) Acquire(ctx context.Context, key string) (func(), error) {
	token := g.newID()
	rkey := guardKey(key)

	ok, err := g.rdb.SetNX(ctx, rkey, token, g.ttl).Result()
	if err != nil {
		return nil, core.Errorf(core.KindInternal, "flow.guard", "guard unavailable: %v", err)
	}
	if !ok {
		return nil, core.Errorf(core.KindDuplicate, "flow.guard", "message already in flight: %s", key)
	}

	return func() {
		// The flow context may already be done; the release gets its own.
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(ctx, g.rdb, []string{rkey}, token).Err(); err != nil && err != redis.Nil {
			slog.Warn("Guard release failed; claim expires by TTL",
				"key", key,
				"error", err)
		}
	}, nil
}

var _ flow.Guard = (*RedisGuard)(nil)
