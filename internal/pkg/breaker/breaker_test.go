package breaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreaker_ConsecutiveTrip(t *testing.T) {
	b := New(Config{ConsecutiveThreshold: 3, ResetTimeout: time.Minute})

	b.RecordFailure()
	b.RecordFailure()
	assert.Equal(t, Closed, b.State())

	b.RecordFailure()
	assert.Equal(t, Open, b.State())
	assert.ErrorIs(t, b.Allow(), ErrOpen)
}

func TestBreaker_SuccessResetsConsecutive(t *testing.T) {
	b := New(Config{ConsecutiveThreshold: 2, ResetTimeout: time.Minute})

	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	assert.Equal(t, Closed, b.State())
}

func TestBreaker_RatioTrip(t *testing.T) {
	b := New(Config{ErrorThresholdPct: 50, VolumeThreshold: 4, ResetTimeout: time.Minute})

	// Below volume threshold: never trips even at 100% failures.
	b.RecordFailure()
	b.RecordFailure()
	assert.Equal(t, Closed, b.State())

	b.RecordSuccess()
	b.RecordFailure() // 3 failures / 4 requests = 75%
	assert.Equal(t, Open, b.State())
}

func TestBreaker_HalfOpenToClosed(t *testing.T) {
	now := time.Now()
	b := New(Config{ConsecutiveThreshold: 1, ResetTimeout: 10 * time.Second})
	b.now = func() time.Time { return now }

	b.RecordFailure()
	require.Equal(t, Open, b.State())

	now = now.Add(11 * time.Second)
	assert.Equal(t, HalfOpen, b.State())
	require.NoError(t, b.Allow())

	b.RecordSuccess()
	assert.Equal(t, Closed, b.State())
}

func TestBreaker_HalfOpenBackToOpen(t *testing.T) {
	now := time.Now()
	b := New(Config{ConsecutiveThreshold: 1, ResetTimeout: 10 * time.Second})
	b.now = func() time.Time { return now }

	b.RecordFailure()
	now = now.Add(11 * time.Second)
	require.Equal(t, HalfOpen, b.State())

	b.RecordFailure()
	assert.Equal(t, Open, b.State())
	assert.ErrorIs(t, b.Allow(), ErrOpen)
}

func TestBreaker_Hooks(t *testing.T) {
	var opened, closed int
	now := time.Now()
	b := New(Config{
		ConsecutiveThreshold: 1,
		ResetTimeout:         time.Second,
		OnOpen:               func() { opened++ },
		OnClose:              func() { closed++ },
	})
	b.now = func() time.Time { return now }

	b.RecordFailure()
	assert.Equal(t, 1, opened)

	now = now.Add(2 * time.Second)
	b.RecordSuccess()
	assert.Equal(t, 1, closed)
}

func TestBreaker_Do(t *testing.T) {
	b := New(Config{ConsecutiveThreshold: 1, ResetTimeout: time.Minute})

	errBoom := errors.New("boom")
	assert.ErrorIs(t, b.Do(func() error { return errBoom }), errBoom)
	assert.ErrorIs(t, b.Do(func() error { return nil }), ErrOpen)
}

func TestBreaker_Trip(t *testing.T) {
	b := New(Config{ResetTimeout: time.Minute})
	b.Trip()
	assert.Equal(t, Open, b.State())
}
