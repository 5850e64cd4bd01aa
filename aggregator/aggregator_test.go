package aggregator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calston/tensor-go/event"
)

func TestCounter32Wraparound(t *testing.T) {
	// a = 2^32 - 11, b = 5, delta = 4s -> ((max-prev)+cur)/delta = (10+5)/4 = 3.75/s.
	prev := maxUint32 - 10
	cur := 5.0
	rate, ok := Counter32(prev, cur, 4)
	require.True(t, ok)
	assert.InDelta(t, 3.75, rate, 0.0001)
}

func TestCounter64Wraparound(t *testing.T) {
	// float64's 53-bit mantissa can't represent values this close to 2^64
	// exactly: both maxUint64 and prev round to the same bit pattern
	// (2^64), so (max-prev) collapses to 0 and the formula returns
	// cur/delta = 5/4 = 1.25 rather than the mathematically "true" 4.0 a
	// caller might expect. This is the documented limitation Counter64's
	// doc comment calls out; counter64Exact (exercised via RawCounter in
	// TestCacheApplyCounter64ExactPathUsesRawCounter below) is the fix for
	// callers that can supply raw integer samples.
	prev := maxUint64 - 10
	cur := 5.0
	rate, ok := Counter64(prev, cur, 4)
	require.True(t, ok)
	assert.InDelta(t, 1.25, rate, 0.0001)
}

func TestCacheApplyCounter64ExactPathUsesRawCounter(t *testing.T) {
	c := NewCache()
	id := event.Identity{Host: "h1", Service: "svc"}
	prevRaw := ^uint64(0) - 10 // 2^64 - 11
	var curRaw uint64 = 5

	first := &event.Event{
		Host: id.Host, Service: id.Service,
		RawCounter: prevRaw, HasRawCounter: true, Metric: float64(prevRaw),
		Time: 1000, Aggregation: Counter64,
	}
	_, ok := c.Apply(first)
	require.False(t, ok, "first observation is always dropped")

	second := &event.Event{
		Host: id.Host, Service: id.Service,
		RawCounter: curRaw, HasRawCounter: true, Metric: float64(curRaw),
		Time: 1004, Aggregation: Counter64,
	}
	out, ok := c.Apply(second)
	require.True(t, ok)
	// cur-prev wraps modulo 2^64 in exact integer math: 5-(2^64-11) = 16,
	// so the rate is 16/4 = 4.0 — the value float64 precision loses above.
	assert.InDelta(t, 4.0, out.Metric, 0.0001)
}

func TestCounterNonWrappingDecreaseDropped(t *testing.T) {
	_, ok := Counter(100, 50, 1)
	assert.False(t, ok, "a plain decrease with no wraparound semantics must be dropped, not re-emitted as zero")
}

func TestCounterZeroOrNegativeDeltaDropped(t *testing.T) {
	_, ok := Counter(10, 20, 0)
	assert.False(t, ok)
	_, ok = Counter(10, 20, -1)
	assert.False(t, ok)
}

func TestLookupUnknownName(t *testing.T) {
	_, err := Lookup("NotARealAggregator")
	assert.Error(t, err)
}

func TestLookupKnownNames(t *testing.T) {
	for _, name := range []string{"Counter", "Counter32", "Counter64"} {
		fn, err := Lookup(name)
		require.NoError(t, err)
		assert.NotNil(t, fn)
	}
}

func TestCacheApplyDropsFirstObservation(t *testing.T) {
	c := NewCache()
	ev := &event.Event{
		Host: "h1", Service: "svc", Metric: 10, Time: 1000,
		Aggregation: Counter,
	}
	out, ok := c.Apply(ev)
	assert.False(t, ok)
	assert.Nil(t, out)
	assert.Equal(t, 1, c.Len())
}

func TestCacheApplyEmitsOnSecondObservation(t *testing.T) {
	c := NewCache()
	id := event.Identity{Host: "h1", Service: "svc"}
	first := &event.Event{Host: id.Host, Service: id.Service, Metric: 10, Time: 1000, Aggregation: Counter}
	_, ok := c.Apply(first)
	require.False(t, ok)

	second := &event.Event{Host: id.Host, Service: id.Service, Metric: 30, Time: 1010, Aggregation: Counter}
	out, ok := c.Apply(second)
	require.True(t, ok)
	assert.InDelta(t, 2.0, out.Metric, 0.0001)
	assert.Nil(t, out.Aggregation, "aggregation must be cleared before routing")
}

func TestCacheApplyPassthroughWhenNoAggregator(t *testing.T) {
	c := NewCache()
	ev := &event.Event{Host: "h1", Service: "svc", Metric: 10, Time: 1000}
	out, ok := c.Apply(ev)
	require.True(t, ok)
	assert.Same(t, ev, out)
}

func TestCacheApplyIgnoresStaleSample(t *testing.T) {
	c := NewCache()
	id := event.Identity{Host: "h1", Service: "svc"}
	first := &event.Event{Host: id.Host, Service: id.Service, Metric: 10, Time: 1000, Aggregation: Counter}
	c.Apply(first)

	second := &event.Event{Host: id.Host, Service: id.Service, Metric: 30, Time: 1010, Aggregation: Counter}
	c.Apply(second)

	// A stale (older-time) sample must not regress the cache, and its
	// negative derived delta means the aggregator itself declines to emit.
	stale := &event.Event{Host: id.Host, Service: id.Service, Metric: 1000, Time: 500, Aggregation: Counter}
	_, ok := c.Apply(stale)
	require.False(t, ok)

	next := &event.Event{Host: id.Host, Service: id.Service, Metric: 40, Time: 1020, Aggregation: Counter}
	out, ok := c.Apply(next)
	require.True(t, ok)
	assert.InDelta(t, 1.0, out.Metric, 0.0001)
}
