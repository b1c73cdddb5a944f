// Package metrics implements the service's counters and latency samples.
// Percentiles come from bounded reservoirs (capped at 1000 samples each)
// with p50/p95/p99 computed on demand at scrape time.
package metrics

import (
	"math/rand"
	"sort"
	"sync"
	"time"
)

const reservoirCap = 1000

// Registry holds named counters and timing reservoirs. Safe for
// concurrent use.
type Registry struct {
	mu         sync.RWMutex
	counters   map[string]int64
	reservoirs map[string]*reservoir
	started    time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		counters:   make(map[string]int64),
		reservoirs: make(map[string]*reservoir),
		started:    time.Now(),
	}
}

// Inc increments a counter by one.
func (r *Registry) Inc(name string) { r.Add(name, 1) }

// Add increments a counter by delta.
func (r *Registry) Add(name string, delta int64) {
	r.mu.Lock()
	r.counters[name] += delta
	r.mu.Unlock()
}

// IncLabeled increments a counter with a single label value, e.g.
// IncLabeled("guard_denied", "self-sender-detected").
func (r *Registry) IncLabeled(name, label string) {
	r.Inc(name + "{" + label + "}")
}

// Observe records a duration sample into the named reservoir.
func (r *Registry) Observe(name string, d time.Duration) {
	r.mu.Lock()
	res, ok := r.reservoirs[name]
	if !ok {
		res = &reservoir{}
		r.reservoirs[name] = res
	}
	res.add(float64(d.Milliseconds()))
	r.mu.Unlock()
}

// Counter returns the current value of a counter.
func (r *Registry) Counter(name string) int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.counters[name]
}

// Percentiles summarizes one reservoir.
type Percentiles struct {
	Count int     `json:"count"`
	P50   float64 `json:"p50_ms"`
	P95   float64 `json:"p95_ms"`
	P99   float64 `json:"p99_ms"`
}

// Snapshot is the scrape-time view of the registry.
type Snapshot struct {
	UptimeSeconds int64                  `json:"uptime_seconds"`
	Counters      map[string]int64       `json:"counters"`
	Timings       map[string]Percentiles `json:"timings"`
}

// Snapshot copies all counters and computes reservoir percentiles.
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snap := Snapshot{
		UptimeSeconds: int64(time.Since(r.started).Seconds()),
		Counters:      make(map[string]int64, len(r.counters)),
		Timings:       make(map[string]Percentiles, len(r.reservoirs)),
	}
	for name, v := range r.counters {
		snap.Counters[name] = v
	}
	for name, res := range r.reservoirs {
		snap.Timings[name] = res.percentiles()
	}
	return snap
}

// reservoir keeps a bounded uniform sample of observations
// (Vitter's algorithm R).
type reservoir struct {
	samples []float64
	seen    int
}

func (res *reservoir) add(v float64) {
	res.seen++
	if len(res.samples) < reservoirCap {
		res.samples = append(res.samples, v)
		return
	}
	if idx := rand.Intn(res.seen); idx < reservoirCap {
		res.samples[idx] = v
	}
}

func (res *reservoir) percentiles() Percentiles {
	if len(res.samples) == 0 {
		return Percentiles{}
	}
	sorted := make([]float64, len(res.samples))
	copy(sorted, res.samples)
	sort.Float64s(sorted)
	return Percentiles{
		Count: res.seen,
		P50:   quantile(sorted, 0.50),
		P95:   quantile(sorted, 0.95),
		P99:   quantile(sorted, 0.99),
	}
}

func quantile(sorted []float64, q float64) float64 {
	idx := int(q * float64(len(sorted)-1))
	return sorted[idx]
}
