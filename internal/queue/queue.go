// Package queue buffers message-ids arriving from webhook
// notifications until a worker runs them through the pipeline. The
// queue is a bounded in-memory FIFO keyed by message-id: enqueueing an
// id that is already pending or in flight is a no-op. A drain loop
// ticks at a fixed interval and launches up to the configured number
// of concurrent workers; failed items retry with exponential backoff
// until they are dead-lettered.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/ignite/phishtriage/internal/config"
	"github.com/ignite/phishtriage/internal/pkg/corrctx"
	"github.com/ignite/phishtriage/internal/pkg/logger"
)

const (
	defaultCapacity = 1000
	defaultTick     = 2 * time.Second
)

// Handler processes one message-id end to end. A non-nil error
// schedules a retry.
type Handler func(ctx context.Context, messageID string) error

// Item is one queued message-id with its retry bookkeeping.
type Item struct {
	MessageID     string    `json:"message_id"`
	EnqueuedAt    time.Time `json:"enqueued_at"`
	Attempts      int       `json:"attempts"`
	LastAttemptAt time.Time `json:"last_attempt_at,omitempty"`
	LastError     string    `json:"last_error,omitempty"`

	notBefore time.Time
	inflight  bool
}

// Stats is a snapshot of queue counters.
type Stats struct {
	Pending         int   `json:"pending"`
	DeadLetterCount int   `json:"dead_letter_count"`
	TotalEnqueued   int64 `json:"total_enqueued"`
	TotalProcessed  int64 `json:"total_processed"`
	TotalFailed     int64 `json:"total_failed"`
}

// Queue drives pipeline runs for pushed notifications.
type Queue struct {
	handler  Handler
	cfg      config.PipelineConfig
	capacity int
	tick     time.Duration

	mu         sync.Mutex
	items      map[string]*Item
	order      []string
	deadLetter []Item
	inflight   int
	stopped    bool

	totalEnqueued  int64
	totalProcessed int64
	totalFailed    int64

	stopCh chan struct{}
	wg     sync.WaitGroup
	now    func() time.Time
}

// New creates a stopped queue; call Start to begin draining.
func New(handler Handler, cfg config.PipelineConfig) *Queue {
	return &Queue{
		handler:  handler,
		cfg:      cfg,
		capacity: defaultCapacity,
		tick:     defaultTick,
		items:    make(map[string]*Item),
		stopCh:   make(chan struct{}),
		now:      time.Now,
	}
}

// Enqueue adds a message-id. It reports false when the id is already
// pending, the queue is full, or the queue was stopped.
func (q *Queue) Enqueue(messageID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.stopped {
		return false
	}
	if _, exists := q.items[messageID]; exists {
		return false
	}
	if len(q.items) >= q.capacity {
		logger.Warn("notification queue full, dropping message", "pending", len(q.items))
		return false
	}

	q.items[messageID] = &Item{MessageID: messageID, EnqueuedAt: q.now()}
	q.order = append(q.order, messageID)
	q.totalEnqueued++
	return true
}

// Start launches the drain loop. The loop stops when ctx is done or
// Stop is called.
func (q *Queue) Start(ctx context.Context) {
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		ticker := time.NewTicker(q.tick)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-q.stopCh:
				return
			case <-ticker.C:
				q.drain(ctx)
			}
		}
	}()
}

// Stop halts draining and waits for in-flight workers to finish. No
// new items are accepted afterwards.
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	close(q.stopCh)
	q.mu.Unlock()
	q.wg.Wait()
}

// drain launches workers for ready items up to the concurrency bound.
func (q *Queue) drain(ctx context.Context) {
	for {
		item := q.claimNext()
		if item == nil {
			return
		}
		q.wg.Add(1)
		go func(it *Item) {
			defer q.wg.Done()
			q.process(ctx, it)
		}(item)
	}
}

// claimNext pops the oldest ready item, honoring backoff gates and the
// concurrency bound.
func (q *Queue) claimNext() *Item {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.stopped || q.inflight >= q.cfg.Concurrency {
		return nil
	}
	now := q.now()
	for _, id := range q.order {
		item, ok := q.items[id]
		if !ok || item.inflight || now.Before(item.notBefore) {
			continue
		}
		item.inflight = true
		q.inflight++
		return item
	}
	return nil
}

func (q *Queue) process(ctx context.Context, item *Item) {
	q.mu.Lock()
	item.Attempts++
	item.LastAttemptAt = q.now()
	attempts := item.Attempts
	q.mu.Unlock()

	hctx := corrctx.WithArrival(corrctx.New(ctx), item.EnqueuedAt)
	err := q.handler(hctx, item.MessageID)

	q.mu.Lock()
	defer q.mu.Unlock()
	q.inflight--
	item.inflight = false

	if err == nil {
		q.remove(item.MessageID)
		q.totalProcessed++
		return
	}

	item.LastError = err.Error()
	q.totalFailed++

	if attempts > q.cfg.MaxRetries {
		q.remove(item.MessageID)
		q.deadLetter = append(q.deadLetter, *item)
		logger.Error("message dead-lettered", "attempts", attempts, "error", err)
		return
	}

	item.notBefore = q.now().Add(q.backoff(attempts))
	logger.Warn("message processing failed, will retry",
		"attempt", attempts, "max", q.cfg.MaxRetries, "error", err)
}

// remove deletes an id from the pending set and the FIFO order.
func (q *Queue) remove(messageID string) {
	delete(q.items, messageID)
	for i, id := range q.order {
		if id == messageID {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
}

// backoff is base * 2^(attempts-1), capped at the configured maximum.
func (q *Queue) backoff(attempts int) time.Duration {
	d := q.cfg.Backoff()
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= q.cfg.MaxBackoff() {
			return q.cfg.MaxBackoff()
		}
	}
	if d > q.cfg.MaxBackoff() {
		d = q.cfg.MaxBackoff()
	}
	return d
}

// Stats returns current counters.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Pending:         len(q.items),
		DeadLetterCount: len(q.deadLetter),
		TotalEnqueued:   q.totalEnqueued,
		TotalProcessed:  q.totalProcessed,
		TotalFailed:     q.totalFailed,
	}
}

// DeadLetters returns a copy of the dead-letter list.
func (q *Queue) DeadLetters() []Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Item, len(q.deadLetter))
	copy(out, q.deadLetter)
	return out
}
