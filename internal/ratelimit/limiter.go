// Package ratelimit enforces outbound-reply caps per mailbox using
// sliding windows over a sorted set of send timestamps. One set per
// mailbox serves the hourly, daily, and burst windows; each check trims
// expired entries and counts the remainder in a single pipelined round
// trip. Degraded cache backends weaken the limit to per-process
// accuracy but never disable it.
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/phishtriage/internal/cache"
	"github.com/ignite/phishtriage/internal/config"
	"github.com/ignite/phishtriage/internal/pkg/logger"
)

const dayWindow = 24 * time.Hour

// Decision is the outcome of a CanSend check.
type Decision struct {
	Allowed bool
	Reason  string
}

// Stats is a point-in-time view of one mailbox's send windows.
type Stats struct {
	LastHour       int64 `json:"last_hour"`
	LastDay        int64 `json:"last_day"`
	LastBurst      int64 `json:"last_10_min"`
	BreakerTripped bool  `json:"breaker_tripped"`
}

// Limiter gates reply sending for mailboxes.
type Limiter struct {
	store cache.Store
	cfg   config.RateConfig

	now func() time.Time
}

// New creates a limiter over the given cache backend.
func New(store cache.Store, cfg config.RateConfig) *Limiter {
	return &Limiter{store: store, cfg: cfg, now: time.Now}
}

func windowKey(mailbox string) string {
	return "rate:window:v1:" + strings.ToLower(mailbox)
}

func breakerKey(mailbox string) string {
	return "rate:breaker:v1:" + strings.ToLower(mailbox)
}

// CanSend reports whether a reply from the mailbox is currently
// permitted. Crossing the burst threshold trips a breaker that denies
// all sends until the reset interval elapses.
func (l *Limiter) CanSend(ctx context.Context, mailbox string) (Decision, error) {
	now := l.now()

	pipe := l.store.Pipeline()
	pipe.Exists(breakerKey(mailbox))
	pipe.ZRemRangeByScore(windowKey(mailbox), math.Inf(-1), msScore(now.Add(-dayWindow)))
	pipe.ZCount(windowKey(mailbox), msScore(now.Add(-time.Hour)), math.Inf(1))
	pipe.ZCount(windowKey(mailbox), msScore(now.Add(-dayWindow)), math.Inf(1))
	pipe.ZCount(windowKey(mailbox), msScore(now.Add(-l.cfg.BurstWindow())), math.Inf(1))
	results, err := pipe.Exec(ctx)
	if err != nil || len(results) < 5 {
		// The limiter must not block all sending on cache trouble; the
		// resilient backend already degraded to local counters.
		logger.Warn("rate limit check failed, allowing send", "mailbox", mailbox, "error", err)
		return Decision{Allowed: true}, nil
	}

	if tripped, _ := results[0].Value.(bool); tripped {
		return Decision{Reason: "burst breaker is open"}, nil
	}

	hour := asCount(results[2])
	day := asCount(results[3])
	burst := asCount(results[4])

	switch {
	case hour >= int64(l.cfg.MaxPerHour):
		return Decision{Reason: fmt.Sprintf("hourly reply cap reached (%d/%d)", hour, l.cfg.MaxPerHour)}, nil
	case day >= int64(l.cfg.MaxPerDay):
		return Decision{Reason: fmt.Sprintf("daily reply cap reached (%d/%d)", day, l.cfg.MaxPerDay)}, nil
	case burst >= int64(l.cfg.BurstThreshold):
		if err := l.store.Set(ctx, breakerKey(mailbox), "1", l.cfg.BreakerReset()); err != nil {
			logger.Warn("failed to persist burst breaker", "mailbox", mailbox, "error", err)
		}
		logger.Warn("burst threshold crossed, tripping breaker",
			"mailbox", mailbox, "count", burst, "threshold", l.cfg.BurstThreshold)
		return Decision{Reason: fmt.Sprintf("burst threshold crossed (%d in %s)", burst, l.cfg.BurstWindow())}, nil
	}
	return Decision{Allowed: true}, nil
}

// RecordSent appends the current timestamp to the mailbox's send
// window. Member nonces keep same-millisecond sends distinct.
func (l *Limiter) RecordSent(ctx context.Context, mailbox string) error {
	now := l.now()
	member := fmt.Sprintf("%d-%s", now.UnixMilli(), uuid.NewString()[:8])

	pipe := l.store.Pipeline()
	pipe.ZAdd(windowKey(mailbox), msScore(now), member)
	pipe.Expire(windowKey(mailbox), dayWindow+time.Hour)
	_, err := pipe.Exec(ctx)
	return err
}

// Stats returns the current window counts for a mailbox.
func (l *Limiter) Stats(ctx context.Context, mailbox string) (Stats, error) {
	now := l.now()

	pipe := l.store.Pipeline()
	pipe.Exists(breakerKey(mailbox))
	pipe.ZCount(windowKey(mailbox), msScore(now.Add(-time.Hour)), math.Inf(1))
	pipe.ZCount(windowKey(mailbox), msScore(now.Add(-dayWindow)), math.Inf(1))
	pipe.ZCount(windowKey(mailbox), msScore(now.Add(-l.cfg.BurstWindow())), math.Inf(1))
	results, err := pipe.Exec(ctx)
	if err != nil || len(results) < 4 {
		return Stats{}, err
	}

	tripped, _ := results[0].Value.(bool)
	return Stats{
		LastHour:       asCount(results[1]),
		LastDay:        asCount(results[2]),
		LastBurst:      asCount(results[3]),
		BreakerTripped: tripped,
	}, nil
}

func msScore(t time.Time) float64 {
	return float64(t.UnixMilli())
}

func asCount(r cache.Result) int64 {
	n, _ := r.Value.(int64)
	return n
}
