// Package breaker implements a three-state circuit breaker shared by the
// resilient cache, the LLM explainer, and the outbound-reply burst guard.
package breaker

import (
	"errors"
	"sync"
	"time"
)

// State is the current position of the breaker.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// ErrOpen is returned by Allow when the breaker is rejecting calls.
var ErrOpen = errors.New("breaker: circuit open")

// Config tunes the breaker. Two trip policies are supported and may be
// combined: a failure-ratio policy over a minimum request volume, and a
// consecutive-failure policy. Either tripping condition opens the circuit.
type Config struct {
	// ErrorThresholdPct opens the circuit when failures/requests exceeds
	// this percentage and at least VolumeThreshold requests were seen.
	// Zero disables the ratio policy.
	ErrorThresholdPct float64
	VolumeThreshold   int

	// ConsecutiveThreshold opens the circuit after this many failures in a
	// row. Zero disables the consecutive policy.
	ConsecutiveThreshold int

	// ResetTimeout is how long the circuit stays open before probing.
	ResetTimeout time.Duration

	// OnOpen and OnClose are invoked on state transitions, outside any
	// lock. Intended for logging.
	OnOpen  func()
	OnClose func()
}

// Breaker is a three-state circuit breaker: closed → open when a trip
// policy fires, open → half-open after ResetTimeout, half-open → closed on
// a single success or back to open on failure.
type Breaker struct {
	cfg Config

	mu          sync.Mutex
	state       State
	requests    int
	failures    int
	consecutive int
	openedAt    time.Time

	now func() time.Time // test hook
}

// New creates a breaker. A zero ResetTimeout defaults to 30s.
func New(cfg Config) *Breaker {
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	return &Breaker{cfg: cfg, now: time.Now}
}

// State returns the current state, accounting for reset-timeout expiry.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentLocked()
}

func (b *Breaker) currentLocked() State {
	if b.state == Open && b.now().Sub(b.openedAt) >= b.cfg.ResetTimeout {
		b.state = HalfOpen
	}
	return b.state
}

// Allow reports whether a call may proceed. In half-open state exactly the
// callers that get through decide the next transition via Record*.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.currentLocked() == Open {
		return ErrOpen
	}
	return nil
}

// RecordSuccess notes a successful call.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	b.requests++
	b.consecutive = 0
	var closed bool
	if b.currentLocked() == HalfOpen {
		b.state = Closed
		b.requests = 0
		b.failures = 0
		closed = true
	}
	b.mu.Unlock()

	if closed && b.cfg.OnClose != nil {
		b.cfg.OnClose()
	}
}

// RecordFailure notes a failed call and trips the circuit if a policy fires.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	b.requests++
	b.failures++
	b.consecutive++

	var opened bool
	switch b.currentLocked() {
	case HalfOpen:
		opened = b.openLocked()
	case Closed:
		if b.tripLocked() {
			opened = b.openLocked()
		}
	}
	b.mu.Unlock()

	if opened && b.cfg.OnOpen != nil {
		b.cfg.OnOpen()
	}
}

// Trip forces the circuit open (used by the rate limiter's burst guard).
func (b *Breaker) Trip() {
	b.mu.Lock()
	opened := b.openLocked()
	b.mu.Unlock()
	if opened && b.cfg.OnOpen != nil {
		b.cfg.OnOpen()
	}
}

func (b *Breaker) tripLocked() bool {
	if b.cfg.ConsecutiveThreshold > 0 && b.consecutive >= b.cfg.ConsecutiveThreshold {
		return true
	}
	if b.cfg.ErrorThresholdPct > 0 && b.requests >= b.cfg.VolumeThreshold && b.cfg.VolumeThreshold > 0 {
		pct := float64(b.failures) / float64(b.requests) * 100
		if pct >= b.cfg.ErrorThresholdPct {
			return true
		}
	}
	return false
}

func (b *Breaker) openLocked() bool {
	if b.state == Open {
		return false
	}
	b.state = Open
	b.openedAt = b.now()
	b.requests = 0
	b.failures = 0
	b.consecutive = 0
	return true
}

// Do runs fn under the breaker, recording its outcome.
func (b *Breaker) Do(fn func() error) error {
	if err := b.Allow(); err != nil {
		return err
	}
	if err := fn(); err != nil {
		b.RecordFailure()
		return err
	}
	b.RecordSuccess()
	return nil
}
