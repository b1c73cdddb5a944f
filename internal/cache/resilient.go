package cache

import (
	"context"
	"strconv"
	"time"

	"github.com/ignite/phishtriage/internal/pkg/breaker"
	"github.com/ignite/phishtriage/internal/pkg/logger"
)

// Resilient composes a distributed Store with a Local fallback behind a
// circuit breaker. Reads fall back to Local when the distributed backend
// fails or the breaker is open; writes always write through to Local so
// reads stay consistent during degradation. No method returns a backend
// error to callers — unavailability degrades, it does not fail.
type Resilient struct {
	primary Store
	local   *Local
	brk     *breaker.Breaker
	timeout time.Duration
}

// ResilientConfig tunes the wrapper.
type ResilientConfig struct {
	// OpTimeout bounds every distributed call. Default 2s.
	OpTimeout time.Duration
	// ErrorThresholdPct / VolumeThreshold / ResetTimeout configure the
	// breaker. Zero values get sensible defaults.
	ErrorThresholdPct float64
	VolumeThreshold   int
	ResetTimeout      time.Duration
}

// NewResilient wraps primary with local fallback.
func NewResilient(primary Store, local *Local, cfg ResilientConfig) *Resilient {
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = 2 * time.Second
	}
	if cfg.ErrorThresholdPct <= 0 {
		cfg.ErrorThresholdPct = 50
	}
	if cfg.VolumeThreshold <= 0 {
		cfg.VolumeThreshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	r := &Resilient{
		primary: primary,
		local:   local,
		timeout: cfg.OpTimeout,
	}
	r.brk = breaker.New(breaker.Config{
		ErrorThresholdPct: cfg.ErrorThresholdPct,
		VolumeThreshold:   cfg.VolumeThreshold,
		ResetTimeout:      cfg.ResetTimeout,
		OnOpen: func() {
			logger.Warn("cache backend degraded, serving from local fallback")
		},
		OnClose: func() {
			logger.Info("cache backend recovered")
		},
	})
	return r
}

// Degraded reports whether the distributed backend is currently bypassed.
func (r *Resilient) Degraded() bool {
	return r.brk.State() != breaker.Closed
}

// call runs fn against the primary under the breaker and a timeout.
// Returns false when the caller should use the local fallback instead.
func (r *Resilient) call(ctx context.Context, fn func(ctx context.Context) error) bool {
	if r.brk.Allow() != nil {
		return false
	}
	opCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if err := fn(opCtx); err != nil {
		r.brk.RecordFailure()
		logger.Warn("cache operation failed, falling back", "error", err.Error())
		return false
	}
	r.brk.RecordSuccess()
	return true
}

func (r *Resilient) Get(ctx context.Context, key string) (string, bool, error) {
	var v string
	var ok bool
	if r.call(ctx, func(c context.Context) error {
		var err error
		v, ok, err = r.primary.Get(c, key)
		return err
	}) {
		return v, ok, nil
	}
	return r.local.Get(ctx, key)
}

func (r *Resilient) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	r.call(ctx, func(c context.Context) error {
		return r.primary.Set(c, key, value, ttl)
	})
	return r.local.Set(ctx, key, value, ttl)
}

func (r *Resilient) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	var won bool
	if r.call(ctx, func(c context.Context) error {
		var err error
		won, err = r.primary.SetNX(c, key, value, ttl)
		return err
	}) {
		// Mirror the winner's value locally so a later degradation
		// still sees the claim.
		if won {
			r.local.Set(ctx, key, value, ttl)
		}
		return won, nil
	}
	return r.local.SetNX(ctx, key, value, ttl)
}

func (r *Resilient) Exists(ctx context.Context, key string) (bool, error) {
	var ok bool
	if r.call(ctx, func(c context.Context) error {
		var err error
		ok, err = r.primary.Exists(c, key)
		return err
	}) {
		return ok, nil
	}
	return r.local.Exists(ctx, key)
}

func (r *Resilient) Delete(ctx context.Context, key string) error {
	r.call(ctx, func(c context.Context) error {
		return r.primary.Delete(c, key)
	})
	return r.local.Delete(ctx, key)
}

func (r *Resilient) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	var n int64
	if r.call(ctx, func(c context.Context) error {
		var err error
		n, err = r.primary.Incr(c, key, ttl)
		return err
	}) {
		r.local.Set(ctx, key, strconv.FormatInt(n, 10), ttl)
		return n, nil
	}
	return r.local.Incr(ctx, key, ttl)
}

func (r *Resilient) Expire(ctx context.Context, key string, ttl time.Duration) error {
	r.call(ctx, func(c context.Context) error {
		return r.primary.Expire(c, key, ttl)
	})
	return r.local.Expire(ctx, key, ttl)
}

func (r *Resilient) ZAdd(ctx context.Context, key string, score float64, member string) error {
	r.call(ctx, func(c context.Context) error {
		return r.primary.ZAdd(c, key, score, member)
	})
	return r.local.ZAdd(ctx, key, score, member)
}

func (r *Resilient) ZCount(ctx context.Context, key string, min, max float64) (int64, error) {
	var n int64
	if r.call(ctx, func(c context.Context) error {
		var err error
		n, err = r.primary.ZCount(c, key, min, max)
		return err
	}) {
		return n, nil
	}
	return r.local.ZCount(ctx, key, min, max)
}

func (r *Resilient) ZRemRangeByScore(ctx context.Context, key string, min, max float64) error {
	r.call(ctx, func(c context.Context) error {
		return r.primary.ZRemRangeByScore(c, key, min, max)
	})
	return r.local.ZRemRangeByScore(ctx, key, min, max)
}

func (r *Resilient) Ping(ctx context.Context) error {
	return r.primary.Ping(ctx)
}

func (r *Resilient) Close() error {
	r.local.Close()
	return r.primary.Close()
}

// Pipeline returns a Pipe that mirrors every op into both backends. Exec
// runs the distributed pipeline first; on success the local mirror is
// applied for write-through and the distributed results are returned. On
// failure the local results are returned so callers keep working.
func (r *Resilient) Pipeline() Pipe {
	return &resilientPipe{
		r:       r,
		primary: r.primary.Pipeline(),
		local:   r.local.Pipeline(),
	}
}

type resilientPipe struct {
	r       *Resilient
	primary Pipe
	local   Pipe
	n       int
}

func (p *resilientPipe) Get(key string) { p.primary.Get(key); p.local.Get(key); p.n++ }
func (p *resilientPipe) Set(key, value string, ttl time.Duration) {
	p.primary.Set(key, value, ttl)
	p.local.Set(key, value, ttl)
	p.n++
}
func (p *resilientPipe) SetNX(key, value string, ttl time.Duration) {
	p.primary.SetNX(key, value, ttl)
	p.local.SetNX(key, value, ttl)
	p.n++
}
func (p *resilientPipe) Exists(key string) { p.primary.Exists(key); p.local.Exists(key); p.n++ }
func (p *resilientPipe) Delete(key string) { p.primary.Delete(key); p.local.Delete(key); p.n++ }
func (p *resilientPipe) Incr(key string, ttl time.Duration) {
	p.primary.Incr(key, ttl)
	p.local.Incr(key, ttl)
	p.n++
}
func (p *resilientPipe) Expire(key string, ttl time.Duration) {
	p.primary.Expire(key, ttl)
	p.local.Expire(key, ttl)
	p.n++
}
func (p *resilientPipe) ZAdd(key string, score float64, member string) {
	p.primary.ZAdd(key, score, member)
	p.local.ZAdd(key, score, member)
	p.n++
}
func (p *resilientPipe) ZCount(key string, min, max float64) {
	p.primary.ZCount(key, min, max)
	p.local.ZCount(key, min, max)
	p.n++
}
func (p *resilientPipe) ZRemRangeByScore(key string, min, max float64) {
	p.primary.ZRemRangeByScore(key, min, max)
	p.local.ZRemRangeByScore(key, min, max)
	p.n++
}

func (p *resilientPipe) Exec(ctx context.Context) ([]Result, error) {
	var primaryResults []Result
	ok := p.r.call(ctx, func(c context.Context) error {
		var err error
		primaryResults, err = p.primary.Exec(c)
		return err
	})

	localResults, _ := p.local.Exec(ctx)
	if ok {
		return primaryResults, nil
	}
	return localResults, nil
}
