package cache

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is the distributed Store. It relies on native TTLs and sorted
// sets, and maps the Pipe contract onto a go-redis pipeline so checks like
// trim-then-count happen in a single round trip.
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis connects to the given redis URL and verifies the connection.
// All keys are namespaced under prefix.
func NewRedis(ctx context.Context, url, prefix string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return NewRedisWithClient(client, prefix), nil
}

// NewRedisWithClient wraps an existing client (used by tests with miniredis).
func NewRedisWithClient(client *redis.Client, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) key(k string) string {
	if r.prefix == "" {
		return k
	}
	return r.prefix + ":" + k
}

// score renders a float for ZCOUNT/ZREMRANGEBYSCORE, mapping infinities to
// the redis sentinels.
func score(f float64) string {
	switch {
	case math.IsInf(f, -1):
		return "-inf"
	case math.IsInf(f, 1):
		return "+inf"
	default:
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
}

func (r *Redis) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.client.Get(ctx, r.key(key)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (r *Redis) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.client.Set(ctx, r.key(key), value, ttl).Err()
}

func (r *Redis) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return r.client.SetNX(ctx, r.key(key), value, ttl).Result()
}

func (r *Redis) Exists(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, r.key(key)).Result()
	return n > 0, err
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.key(key)).Err()
}

func (r *Redis) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	pipe := r.client.Pipeline()
	incr := pipe.Incr(ctx, r.key(key))
	pipe.Expire(ctx, r.key(key), ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

func (r *Redis) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return r.client.Expire(ctx, r.key(key), ttl).Err()
}

func (r *Redis) ZAdd(ctx context.Context, key string, zscore float64, member string) error {
	return r.client.ZAdd(ctx, r.key(key), redis.Z{Score: zscore, Member: member}).Err()
}

func (r *Redis) ZCount(ctx context.Context, key string, min, max float64) (int64, error) {
	return r.client.ZCount(ctx, r.key(key), score(min), score(max)).Result()
}

func (r *Redis) ZRemRangeByScore(ctx context.Context, key string, min, max float64) error {
	return r.client.ZRemRangeByScore(ctx, r.key(key), score(min), score(max)).Err()
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}

// Pipeline returns a Pipe backed by a native redis pipeline.
func (r *Redis) Pipeline() Pipe {
	return &redisPipe{store: r, pipe: r.client.Pipeline()}
}

type redisPipe struct {
	store *Redis
	pipe  redis.Pipeliner
	reads []func() Result
}

// queue registers how to read one command's result after Exec.
func (p *redisPipe) queue(read func() Result) {
	p.reads = append(p.reads, read)
}

func (p *redisPipe) Get(key string) {
	ctx := context.Background()
	cmd := p.pipe.Get(ctx, p.store.key(key))
	p.queue(func() Result {
		v, err := cmd.Result()
		if err == redis.Nil {
			return Result{Value: ""}
		}
		return Result{Value: v, Err: err}
	})
}

func (p *redisPipe) Set(key, value string, ttl time.Duration) {
	cmd := p.pipe.Set(context.Background(), p.store.key(key), value, ttl)
	p.queue(func() Result { return Result{Err: cmd.Err()} })
}

func (p *redisPipe) SetNX(key, value string, ttl time.Duration) {
	cmd := p.pipe.SetNX(context.Background(), p.store.key(key), value, ttl)
	p.queue(func() Result {
		ok, err := cmd.Result()
		return Result{Value: ok, Err: err}
	})
}

func (p *redisPipe) Exists(key string) {
	cmd := p.pipe.Exists(context.Background(), p.store.key(key))
	p.queue(func() Result {
		n, err := cmd.Result()
		return Result{Value: n > 0, Err: err}
	})
}

func (p *redisPipe) Delete(key string) {
	cmd := p.pipe.Del(context.Background(), p.store.key(key))
	p.queue(func() Result { return Result{Err: cmd.Err()} })
}

func (p *redisPipe) Incr(key string, ttl time.Duration) {
	ctx := context.Background()
	cmd := p.pipe.Incr(ctx, p.store.key(key))
	p.pipe.Expire(ctx, p.store.key(key), ttl)
	p.queue(func() Result {
		n, err := cmd.Result()
		return Result{Value: n, Err: err}
	})
}

func (p *redisPipe) Expire(key string, ttl time.Duration) {
	cmd := p.pipe.Expire(context.Background(), p.store.key(key), ttl)
	p.queue(func() Result { return Result{Err: cmd.Err()} })
}

func (p *redisPipe) ZAdd(key string, zscore float64, member string) {
	cmd := p.pipe.ZAdd(context.Background(), p.store.key(key), redis.Z{Score: zscore, Member: member})
	p.queue(func() Result { return Result{Err: cmd.Err()} })
}

func (p *redisPipe) ZCount(key string, min, max float64) {
	cmd := p.pipe.ZCount(context.Background(), p.store.key(key), score(min), score(max))
	p.queue(func() Result {
		n, err := cmd.Result()
		return Result{Value: n, Err: err}
	})
}

func (p *redisPipe) ZRemRangeByScore(key string, min, max float64) {
	cmd := p.pipe.ZRemRangeByScore(context.Background(), p.store.key(key), score(min), score(max))
	p.queue(func() Result { return Result{Err: cmd.Err()} })
}

func (p *redisPipe) Exec(ctx context.Context) ([]Result, error) {
	// go-redis returns the first command error from Exec; per-op errors
	// are surfaced through the queued readers instead.
	if _, err := p.pipe.Exec(ctx); err != nil && err != redis.Nil {
		results := make([]Result, len(p.reads))
		for i, read := range p.reads {
			results[i] = read()
			if results[i].Err == nil {
				results[i].Err = err
			}
		}
		return results, err
	}
	results := make([]Result, len(p.reads))
	for i, read := range p.reads {
		results[i] = read()
		if results[i].Err == redis.Nil {
			results[i].Err = nil
		}
	}
	return results, nil
}
