// Package aggregator provides the closed set of counter-derivative
// aggregator functions (Counter, Counter32, Counter64) and the per-identity
// sample cache that the supervisor's aggregation step consumes.
//
// Grounded on original_source/tensor/aggregators.py; the registry-by-name
// pattern and logging idiom are carried from the teacher's
// GetProcessorConstructor.
package aggregator

import (
	"fmt"
	"reflect"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/calston/tensor-go/event"
)

const (
	maxUint32 = float64(4294967295)
	maxUint64 = float64(18446744073709551615)
)

// Counter computes a simple non-wrapping rate of change. It suppresses the
// emission entirely on a decrease — spec.md §9: callers wanting gauge
// semantics should not use Counter.
func Counter(prev, cur, delta float64) (float64, bool) {
	if delta <= 0 {
		return 0, false
	}
	if cur < prev {
		return 0, false
	}
	return (cur - prev) / delta, true
}

// Counter32 is Counter with wraparound at 2^32-1.
func Counter32(prev, cur, delta float64) (float64, bool) {
	return counterWithWrap(prev, cur, delta, maxUint32)
}

// Counter64 is Counter with wraparound at 2^64-1. float64's 53-bit
// mantissa cannot represent values this large exactly, so this formula
// is only exact for inputs well below 2^53; Cache.Apply prefers
// counter64Exact (integer math on the event's RawCounter) whenever both
// samples carried one, which is the common case for real 64-bit
// counters. This float64 path remains for sources (e.g. a synthetic
// generator) that mark an event Counter64 without a raw sample.
func Counter64(prev, cur, delta float64) (float64, bool) {
	return counterWithWrap(prev, cur, delta, maxUint64)
}

func counterWithWrap(prev, cur, delta, max float64) (float64, bool) {
	if delta <= 0 {
		return 0, false
	}
	if cur < prev {
		return ((max - prev) + cur) / delta, true
	}
	return (cur - prev) / delta, true
}

// counter64Exact computes the same wraparound rate as Counter64 but in
// exact uint64 arithmetic: Go's unsigned subtraction already wraps
// modulo 2^64, so cur-prev gives "(max-prev)+cur" for a wrapped decrease
// and the plain delta otherwise, with no float64 precision loss.
func counter64Exact(prev, cur uint64, delta float64) (float64, bool) {
	if delta <= 0 {
		return 0, false
	}
	return float64(cur-prev) / delta, true
}

// isCounter64 reports whether fn is the Counter64 top-level function,
// used to decide whether a cached sample pair is eligible for the exact
// integer path. Comparing function values isn't possible in Go, so this
// compares the underlying code pointers of two named (non-closure)
// functions, which is stable for this use.
func isCounter64(fn event.Aggregator) bool {
	if fn == nil {
		return false
	}
	return reflect.ValueOf(fn).Pointer() == reflect.ValueOf(Counter64).Pointer()
}

// registry is the fixed, extend-only set of named aggregators a source
// descriptor may reference from config. Unlike the original's dynamic
// dotted-path plugin loading, names are resolved against this build-time
// map (REDESIGN FLAGS, spec.md §9).
var registry = map[string]event.Aggregator{
	"Counter":   Counter,
	"Counter32": Counter32,
	"Counter64": Counter64,
}

// Lookup resolves a config-supplied aggregator name. Returns an error
// suitable for a fatal config-load failure on unknown names.
func Lookup(name string) (event.Aggregator, error) {
	fn, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("aggregator: unknown aggregator %q", name)
	}
	return fn, nil
}

// entry is one cached observation for a (host, service) identity.
type entry struct {
	metric float64
	time   float64
	raw    uint64
	hasRaw bool
}

// Cache is the supervisor-owned memory of the last raw sample per
// (host, service) identity, consumed by the aggregation step. It is
// written only during aggregation and never read by sources or outputs
// (spec.md §5); the mutex exists because the Go implementation uses
// goroutines rather than the original's single-threaded reactor.
type Cache struct {
	mu      sync.Mutex
	entries map[event.Identity]entry
}

func NewCache() *Cache {
	return &Cache{entries: make(map[event.Identity]entry)}
}

// Apply runs the aggregation step (spec.md §4.3) over a single event.
// It returns (nil, false) when the event must be dropped: first
// observation of this identity, or the aggregator declined to emit.
// Otherwise it returns the (possibly mutated) event with Aggregation
// cleared.
func (c *Cache) Apply(ev *event.Event) (*event.Event, bool) {
	if ev.Aggregation == nil {
		return ev, true
	}

	id := ev.ID()
	fn := ev.Aggregation

	c.mu.Lock()
	prev, had := c.entries[id]
	// Monotonic-time invariant: never regress the cache from a stale
	// sample (spec.md §8 invariant 5).
	if !had || ev.Time >= prev.time {
		c.entries[id] = entry{
			metric: ev.Metric, time: ev.Time,
			raw: ev.RawCounter, hasRaw: ev.HasRawCounter,
		}
	}
	c.mu.Unlock()

	ev.Aggregation = nil

	if !had {
		log.WithFields(log.Fields{
			"host":    id.Host,
			"service": id.Service,
		}).Debug("aggregator: first sample for identity, dropping")
		return nil, false
	}

	delta := ev.Time - prev.time

	var derived float64
	var ok bool
	if isCounter64(fn) && prev.hasRaw && ev.HasRawCounter {
		derived, ok = counter64Exact(prev.raw, ev.RawCounter, delta)
	} else {
		derived, ok = fn(prev.metric, ev.Metric, delta)
	}
	if !ok {
		log.WithFields(log.Fields{
			"host":    id.Host,
			"service": id.Service,
		}).Debug("aggregator: aggregator declined to emit, dropping")
		return nil, false
	}

	ev.Metric = derived
	ev.HasMetric = true
	return ev, true
}

// Len reports the number of distinct (host, service) identities currently
// cached; bounded by the number of distinct series, never garbage
// collected (spec.md §3).
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// CacheEntry is a read-only snapshot of one identity's last cached
// sample, for the admin surface's /debug/cache endpoint.
type CacheEntry struct {
	Host    string
	Service string
	Metric  float64
	Time    float64
}

// Entries returns a snapshot of every cached identity's last sample.
// Never called from the pipeline's hot path (spec.md §5) — only by the
// admin surface.
func (c *Cache) Entries() []CacheEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]CacheEntry, 0, len(c.entries))
	for id, e := range c.entries {
		out = append(out, CacheEntry{Host: id.Host, Service: id.Service, Metric: e.metric, Time: e.time})
	}
	return out
}
