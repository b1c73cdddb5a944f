package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCounters(t *testing.T) {
	r := NewRegistry()
	r.Inc("emails_processed")
	r.Inc("emails_processed")
	r.Add("emails_processed", 3)
	r.IncLabeled("guard_denied", "self-sender-detected")

	assert.Equal(t, int64(5), r.Counter("emails_processed"))
	assert.Equal(t, int64(1), r.Counter("guard_denied{self-sender-detected}"))
	assert.Equal(t, int64(0), r.Counter("unknown"))
}

func TestPercentiles(t *testing.T) {
	r := NewRegistry()
	for i := 1; i <= 100; i++ {
		r.Observe("analysis", time.Duration(i)*time.Millisecond)
	}

	snap := r.Snapshot()
	p := snap.Timings["analysis"]
	assert.Equal(t, 100, p.Count)
	assert.InDelta(t, 50, p.P50, 2)
	assert.InDelta(t, 95, p.P95, 2)
	assert.InDelta(t, 99, p.P99, 2)
}

func TestReservoirBounded(t *testing.T) {
	res := &reservoir{}
	for i := 0; i < 5000; i++ {
		res.add(float64(i))
	}
	assert.Equal(t, reservoirCap, len(res.samples))
	assert.Equal(t, 5000, res.seen)

	p := res.percentiles()
	assert.Equal(t, 5000, p.Count)
	assert.Greater(t, p.P99, p.P50)
}

func TestSnapshotEmpty(t *testing.T) {
	r := NewRegistry()
	snap := r.Snapshot()
	assert.Empty(t, snap.Counters)
	assert.Empty(t, snap.Timings)
}
