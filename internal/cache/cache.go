// Package cache provides the key/value + sorted-set substrate shared by
// the rate limiter, deduplicator, guardrails, and threat-intel response
// cache. Two backends exist: Local (in-process) and Redis (distributed),
// plus a Resilient wrapper that degrades from Redis to Local behind a
// circuit breaker.
//
// Keys are namespaced and versioned by callers (e.g. "dedup:hash:v1:<h>").
// Every entry carries an absolute TTL; expiry is the only cleanup mechanism
// in the distributed backend.
package cache

import (
	"context"
	"time"
)

// Result is the outcome of one pipelined operation, in submission order.
type Result struct {
	// Value depends on the op: string for Get, bool for SetNX/Exists,
	// int64 for Incr/ZCount, nil otherwise.
	Value any
	Err   error
}

// Pipe batches operations into one round trip. Ops are queued by the
// builder methods and executed in order by Exec, which returns per-op
// results. Callers must tolerate partial failure.
type Pipe interface {
	Get(key string)
	Set(key, value string, ttl time.Duration)
	SetNX(key, value string, ttl time.Duration)
	Exists(key string)
	Delete(key string)
	Incr(key string, ttl time.Duration)
	Expire(key string, ttl time.Duration)
	ZAdd(key string, score float64, member string)
	ZCount(key string, min, max float64)
	ZRemRangeByScore(key string, min, max float64)
	Exec(ctx context.Context) ([]Result, error)
}

// Store is the uniform cache interface. Implementations never panic on
// backend trouble; errors are returned (and the Resilient wrapper converts
// them into degraded local results).
type Store interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error

	ZAdd(ctx context.Context, key string, score float64, member string) error
	ZCount(ctx context.Context, key string, min, max float64) (int64, error)
	ZRemRangeByScore(ctx context.Context, key string, min, max float64) error

	Pipeline() Pipe
	Ping(ctx context.Context) error
	Close() error
}
