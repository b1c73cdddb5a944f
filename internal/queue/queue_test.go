package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/phishtriage/internal/config"
)

func fastConfig() config.PipelineConfig {
	return config.PipelineConfig{
		Concurrency:  2,
		MaxRetries:   1,
		BackoffMs:    1,
		MaxBackoffMs: 10,
	}
}

func startQueue(t *testing.T, handler Handler, cfg config.PipelineConfig) *Queue {
	t.Helper()
	q := New(handler, cfg)
	q.tick = 5 * time.Millisecond
	q.Start(context.Background())
	t.Cleanup(q.Stop)
	return q
}

func TestEnqueueDedupe(t *testing.T) {
	q := New(func(context.Context, string) error { return nil }, fastConfig())

	assert.True(t, q.Enqueue("<m1@x>"))
	assert.False(t, q.Enqueue("<m1@x>"), "same id pending is a no-op")
	assert.True(t, q.Enqueue("<m2@x>"))

	stats := q.Stats()
	assert.Equal(t, int64(2), stats.TotalEnqueued)
	assert.Equal(t, 2, stats.Pending)
}

func TestEnqueueCapacity(t *testing.T) {
	q := New(func(context.Context, string) error { return nil }, fastConfig())
	q.capacity = 1

	assert.True(t, q.Enqueue("<m1@x>"))
	assert.False(t, q.Enqueue("<m2@x>"))
}

func TestProcessSuccess(t *testing.T) {
	var mu sync.Mutex
	var handled []string
	handler := func(_ context.Context, id string) error {
		mu.Lock()
		handled = append(handled, id)
		mu.Unlock()
		return nil
	}
	q := startQueue(t, handler, fastConfig())

	q.Enqueue("<m1@x>")
	q.Enqueue("<m2@x>")

	require.Eventually(t, func() bool {
		return q.Stats().TotalProcessed == 2
	}, time.Second, 5*time.Millisecond)

	stats := q.Stats()
	assert.Equal(t, 0, stats.Pending)
	assert.Zero(t, stats.TotalFailed)
	mu.Lock()
	assert.ElementsMatch(t, []string{"<m1@x>", "<m2@x>"}, handled)
	mu.Unlock()
}

func TestRetryThenDeadLetter(t *testing.T) {
	var attempts atomic.Int64
	handler := func(context.Context, string) error {
		attempts.Add(1)
		return errors.New("provider unavailable")
	}
	q := startQueue(t, handler, fastConfig())

	q.Enqueue("<doomed@x>")

	require.Eventually(t, func() bool {
		return q.Stats().DeadLetterCount == 1
	}, time.Second, 5*time.Millisecond)

	// MaxRetries=1 means one initial attempt plus one retry.
	assert.Equal(t, int64(2), attempts.Load())

	dead := q.DeadLetters()
	require.Len(t, dead, 1)
	assert.Equal(t, "<doomed@x>", dead[0].MessageID)
	assert.Equal(t, 2, dead[0].Attempts)
	assert.Contains(t, dead[0].LastError, "provider unavailable")
	assert.Equal(t, 0, q.Stats().Pending)
}

func TestRetrySucceedsSecondTime(t *testing.T) {
	var attempts atomic.Int64
	handler := func(context.Context, string) error {
		if attempts.Add(1) == 1 {
			return errors.New("transient")
		}
		return nil
	}
	q := startQueue(t, handler, fastConfig())

	q.Enqueue("<flaky@x>")

	require.Eventually(t, func() bool {
		return q.Stats().TotalProcessed == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, q.Stats().DeadLetterCount)
	assert.Equal(t, int64(1), q.Stats().TotalFailed)
}

func TestConcurrencyBound(t *testing.T) {
	var running, peak atomic.Int64
	gate := make(chan struct{})
	handler := func(context.Context, string) error {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		<-gate
		running.Add(-1)
		return nil
	}
	q := startQueue(t, handler, fastConfig())

	q.Enqueue("<m1@x>")
	q.Enqueue("<m2@x>")
	q.Enqueue("<m3@x>")

	require.Eventually(t, func() bool {
		return running.Load() == 2
	}, time.Second, 5*time.Millisecond)
	close(gate)

	require.Eventually(t, func() bool {
		return q.Stats().TotalProcessed == 3
	}, time.Second, 5*time.Millisecond)
	assert.LessOrEqual(t, peak.Load(), int64(2))
}

func TestStopDrainsInFlight(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var done atomic.Bool
	handler := func(context.Context, string) error {
		close(started)
		<-release
		done.Store(true)
		return nil
	}
	q := New(handler, fastConfig())
	q.tick = 5 * time.Millisecond
	q.Start(context.Background())

	q.Enqueue("<m1@x>")
	<-started

	go func() {
		time.Sleep(20 * time.Millisecond)
		close(release)
	}()
	q.Stop()

	assert.True(t, done.Load(), "in-flight item completed before Stop returned")
	assert.False(t, q.Enqueue("<m2@x>"), "stopped queue accepts nothing")
}
