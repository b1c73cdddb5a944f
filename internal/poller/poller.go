// Package poller is the timer-driven safety net behind push
// notifications. Every interval it lists recently received messages
// and feeds them through the pipeline, which relies on guardrails and
// deduplication for exactly-once behavior. Poll errors are counted and
// the next tick tries again; only Stop ends the loop.
package poller

import (
	"context"
	"sync"
	"time"

	"github.com/ignite/phishtriage/internal/config"
	"github.com/ignite/phishtriage/internal/domain"
	"github.com/ignite/phishtriage/internal/pkg/logger"
)

// MessageLister is the slice of the mail client the poller needs.
type MessageLister interface {
	ListMessagesSince(ctx context.Context, since time.Time, maxPages int) ([]domain.Email, error)
}

// ProcessFunc runs one message through the pipeline. It reports
// whether the message was newly processed (true) or filtered out by
// guardrails/dedup (false).
type ProcessFunc func(ctx context.Context, email domain.Email) (bool, error)

// Stats is a snapshot of poll activity.
type Stats struct {
	PollCount        int64         `json:"poll_count"`
	MessagesSeen     int64         `json:"messages_seen"`
	NewMessages      int64         `json:"new_messages"`
	FilteredMessages int64         `json:"filtered_messages"`
	ErrorCount       int64         `json:"error_count"`
	LastPollAt       time.Time     `json:"last_poll_at"`
	LastPollDuration time.Duration `json:"last_poll_duration"`
}

// Poller periodically sweeps the mailbox lookback window.
type Poller struct {
	lister  MessageLister
	process ProcessFunc
	cfg     config.MailboxConfig

	mu    sync.Mutex
	stats Stats

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
	now      func() time.Time
}

// New creates a stopped poller; call Start to begin the loop.
func New(lister MessageLister, process ProcessFunc, cfg config.MailboxConfig) *Poller {
	return &Poller{
		lister:  lister,
		process: process,
		cfg:     cfg,
		stopCh:  make(chan struct{}),
		now:     time.Now,
	}
}

// Start launches the poll loop.
func (p *Poller) Start(ctx context.Context) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.cfg.CheckInterval())
		defer ticker.Stop()
		logger.Info("poll fallback started",
			"interval", p.cfg.CheckInterval().String(), "lookback", p.cfg.Lookback().String())
		for {
			select {
			case <-ctx.Done():
				return
			case <-p.stopCh:
				return
			case <-ticker.C:
				p.PollOnce(ctx)
			}
		}
	}()
}

// Stop ends the loop; an in-progress poll completes.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()
}

// PollOnce sweeps the lookback window immediately. The subscription
// manager also invokes this as the catch-up callback for missed
// notifications.
func (p *Poller) PollOnce(ctx context.Context) {
	started := p.now()
	since := started.Add(-p.cfg.Lookback())

	emails, err := p.lister.ListMessagesSince(ctx, since, p.cfg.MaxPages)

	var seen, fresh, filtered, errs int64
	if err != nil {
		logger.Error("poll listing failed", "error", err)
		errs++
	}
	for _, email := range emails {
		seen++
		processed, perr := p.process(ctx, email)
		switch {
		case perr != nil:
			errs++
		case processed:
			fresh++
		default:
			filtered++
		}
	}

	p.mu.Lock()
	p.stats.PollCount++
	p.stats.MessagesSeen += seen
	p.stats.NewMessages += fresh
	p.stats.FilteredMessages += filtered
	p.stats.ErrorCount += errs
	p.stats.LastPollAt = started
	p.stats.LastPollDuration = p.now().Sub(started)
	p.mu.Unlock()

	if seen > 0 {
		logger.Debug("poll complete", "seen", seen, "new", fresh, "filtered", filtered)
	}
}

// Stats returns a copy of the current counters.
func (p *Poller) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}
