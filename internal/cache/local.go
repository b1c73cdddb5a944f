package cache

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// Local is an in-process Store. It backs single-replica deployments and
// serves as the fallback target while the distributed backend is degraded.
// Expired entries are dropped lazily on access and by a periodic sweep.
type Local struct {
	mu      sync.Mutex
	values  map[string]string
	zsets   map[string]map[string]float64
	expiry  map[string]time.Time
	stop    chan struct{}
	stopped bool

	now func() time.Time // test hook
}

// NewLocal creates a Local store and starts its expiry sweep.
func NewLocal() *Local {
	l := &Local{
		values: make(map[string]string),
		zsets:  make(map[string]map[string]float64),
		expiry: make(map[string]time.Time),
		stop:   make(chan struct{}),
		now:    time.Now,
	}
	go l.sweep()
	return l
}

func (l *Local) sweep() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.mu.Lock()
			now := l.now()
			for key, at := range l.expiry {
				if now.After(at) {
					l.dropLocked(key)
				}
			}
			l.mu.Unlock()
		}
	}
}

func (l *Local) dropLocked(key string) {
	delete(l.values, key)
	delete(l.zsets, key)
	delete(l.expiry, key)
}

// expiredLocked drops the key if its TTL elapsed and reports whether it did.
func (l *Local) expiredLocked(key string) bool {
	at, ok := l.expiry[key]
	if ok && l.now().After(at) {
		l.dropLocked(key)
		return true
	}
	return false
}

func (l *Local) setExpiryLocked(key string, ttl time.Duration) {
	if ttl > 0 {
		l.expiry[key] = l.now().Add(ttl)
	} else {
		delete(l.expiry, key)
	}
}

// Get returns the value for key, reporting presence.
func (l *Local) Get(_ context.Context, key string) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.expiredLocked(key) {
		return "", false, nil
	}
	v, ok := l.values[key]
	return v, ok, nil
}

// Set stores value under key with an absolute TTL.
func (l *Local) Set(_ context.Context, key, value string, ttl time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.values[key] = value
	l.setExpiryLocked(key, ttl)
	return nil
}

// SetNX stores value only if key is absent. Returns true when it won.
func (l *Local) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.expiredLocked(key)
	if _, exists := l.values[key]; exists {
		return false, nil
	}
	l.values[key] = value
	l.setExpiryLocked(key, ttl)
	return true, nil
}

// Exists reports whether key is present and unexpired.
func (l *Local) Exists(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.expiredLocked(key) {
		return false, nil
	}
	_, inValues := l.values[key]
	_, inZSets := l.zsets[key]
	return inValues || inZSets, nil
}

// Delete removes key.
func (l *Local) Delete(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.dropLocked(key)
	return nil
}

// Incr increments the integer at key, setting the TTL on first increment.
func (l *Local) Incr(_ context.Context, key string, ttl time.Duration) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.expiredLocked(key)
	n, _ := strconv.ParseInt(l.values[key], 10, 64)
	n++
	if _, existed := l.values[key]; !existed {
		l.setExpiryLocked(key, ttl)
	}
	l.values[key] = strconv.FormatInt(n, 10)
	return n, nil
}

// Expire resets the TTL for key.
func (l *Local) Expire(_ context.Context, key string, ttl time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.expiredLocked(key) {
		return nil
	}
	_, inValues := l.values[key]
	_, inZSets := l.zsets[key]
	if inValues || inZSets {
		l.setExpiryLocked(key, ttl)
	}
	return nil
}

// ZAdd adds member with score to the sorted set at key.
func (l *Local) ZAdd(_ context.Context, key string, score float64, member string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.expiredLocked(key)
	zs, ok := l.zsets[key]
	if !ok {
		zs = make(map[string]float64)
		l.zsets[key] = zs
	}
	zs[member] = score
	return nil
}

// ZCount counts members with min <= score <= max.
func (l *Local) ZCount(_ context.Context, key string, min, max float64) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.expiredLocked(key) {
		return 0, nil
	}
	var n int64
	for _, score := range l.zsets[key] {
		if score >= min && score <= max {
			n++
		}
	}
	return n, nil
}

// ZRemRangeByScore removes members with min <= score <= max.
func (l *Local) ZRemRangeByScore(_ context.Context, key string, min, max float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.expiredLocked(key) {
		return nil
	}
	for member, score := range l.zsets[key] {
		if score >= min && score <= max {
			delete(l.zsets[key], member)
		}
	}
	return nil
}

// Ping always succeeds for the in-process store.
func (l *Local) Ping(context.Context) error { return nil }

// Close stops the expiry sweep.
func (l *Local) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.stopped {
		l.stopped = true
		close(l.stop)
	}
	return nil
}

// Pipeline returns a Pipe that simulates batching by sequential calls.
// The API contract is identical to the distributed pipeline.
func (l *Local) Pipeline() Pipe {
	return &localPipe{store: l}
}

type localPipe struct {
	store *Local
	ops   []func(ctx context.Context) Result
}

func (p *localPipe) add(fn func(ctx context.Context) Result) {
	p.ops = append(p.ops, fn)
}

func (p *localPipe) Get(key string) {
	p.add(func(ctx context.Context) Result {
		v, ok, err := p.store.Get(ctx, key)
		if !ok && err == nil {
			return Result{Value: "", Err: nil}
		}
		return Result{Value: v, Err: err}
	})
}

func (p *localPipe) Set(key, value string, ttl time.Duration) {
	p.add(func(ctx context.Context) Result {
		return Result{Err: p.store.Set(ctx, key, value, ttl)}
	})
}

func (p *localPipe) SetNX(key, value string, ttl time.Duration) {
	p.add(func(ctx context.Context) Result {
		ok, err := p.store.SetNX(ctx, key, value, ttl)
		return Result{Value: ok, Err: err}
	})
}

func (p *localPipe) Exists(key string) {
	p.add(func(ctx context.Context) Result {
		ok, err := p.store.Exists(ctx, key)
		return Result{Value: ok, Err: err}
	})
}

func (p *localPipe) Delete(key string) {
	p.add(func(ctx context.Context) Result {
		return Result{Err: p.store.Delete(ctx, key)}
	})
}

func (p *localPipe) Incr(key string, ttl time.Duration) {
	p.add(func(ctx context.Context) Result {
		n, err := p.store.Incr(ctx, key, ttl)
		return Result{Value: n, Err: err}
	})
}

func (p *localPipe) Expire(key string, ttl time.Duration) {
	p.add(func(ctx context.Context) Result {
		return Result{Err: p.store.Expire(ctx, key, ttl)}
	})
}

func (p *localPipe) ZAdd(key string, score float64, member string) {
	p.add(func(ctx context.Context) Result {
		return Result{Err: p.store.ZAdd(ctx, key, score, member)}
	})
}

func (p *localPipe) ZCount(key string, min, max float64) {
	p.add(func(ctx context.Context) Result {
		n, err := p.store.ZCount(ctx, key, min, max)
		return Result{Value: n, Err: err}
	})
}

func (p *localPipe) ZRemRangeByScore(key string, min, max float64) {
	p.add(func(ctx context.Context) Result {
		return Result{Err: p.store.ZRemRangeByScore(ctx, key, min, max)}
	})
}

func (p *localPipe) Exec(ctx context.Context) ([]Result, error) {
	results := make([]Result, 0, len(p.ops))
	for _, op := range p.ops {
		results = append(results, op(ctx))
	}
	p.ops = nil
	return results, nil
}
