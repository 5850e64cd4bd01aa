// Package event defines the immutable value type that flows through the
// pipeline: sources produce events, the supervisor aggregates and
// thresholds them, the router fans them out to output queues.
package event

import (
	"fmt"
	"math"
)

// Kind distinguishes a numeric metric sample from a structured log record.
type Kind int

const (
	KindMetric Kind = iota
	KindLog
)

// Aggregator derives a rate-like metric from two consecutive samples of the
// same (host, service) identity. It returns (value, true) when an event
// should be forwarded with the derived metric, or (0, false) when this tick
// should be silently dropped (a non-positive time delta, or a non-wrapping
// counter decrease). A first observation never reaches the aggregator: the
// event cache drops it before any call.
type Aggregator func(prev, cur float64, deltaSeconds float64) (float64, bool)

// Event is one observation. Once past the aggregation step
// (Aggregation == nil) an Event must not be mutated further.
type Event struct {
	State       string
	Service     string
	Host        string
	Description string
	Metric      float64
	HasMetric   bool
	// RawCounter/HasRawCounter carry an exact pre-wrap 64-bit counter
	// sample alongside Metric. Metric alone can't round-trip values near
	// 2^64 through float64's 53-bit mantissa; Counter64 uses these when
	// present to do the wraparound subtraction in exact integer math.
	RawCounter    uint64
	HasRawCounter bool
	TTL         float64
	Tags        []string
	Attributes  map[string]string
	Time        float64 // unix seconds, may be fractional
	Kind        Kind
	LogFields   map[string]string // populated when Kind == KindLog

	// Aggregation is set by a source when this sample still needs a
	// derivative step before it's fit to route. Cleared by the aggregation
	// step; must be nil on anything handed to a router.
	Aggregation Aggregator
}

// Identity returns the (host, service) key used by the event cache and by
// aggregation bookkeeping.
type Identity struct {
	Host    string
	Service string
}

func (e *Event) ID() Identity {
	return Identity{Host: e.Host, Service: e.Service}
}

// Valid reports whether e satisfies the invariants required of any event
// handed downstream of the aggregation step (spec invariant: finite time,
// non-empty service, positive ttl, no pending aggregation).
func (e *Event) Valid() error {
	if e.Service == "" {
		return fmt.Errorf("event: empty service")
	}
	if math.IsNaN(e.Time) || math.IsInf(e.Time, 0) {
		return fmt.Errorf("event: non-finite time %v", e.Time)
	}
	if e.Time <= 0 {
		return fmt.Errorf("event: non-positive time %v", e.Time)
	}
	if e.TTL <= 0 {
		return fmt.Errorf("event: non-positive ttl %v", e.TTL)
	}
	if e.Aggregation != nil {
		return fmt.Errorf("event: aggregation not cleared")
	}
	return nil
}

// Clone returns a shallow copy safe to mutate (state promotion), since
// outputs must treat enqueued events as read-only and multiple routes may
// reference the same batch.
func (e *Event) Clone() *Event {
	cp := *e
	if e.Tags != nil {
		cp.Tags = append([]string(nil), e.Tags...)
	}
	if e.Attributes != nil {
		cp.Attributes = make(map[string]string, len(e.Attributes))
		for k, v := range e.Attributes {
			cp.Attributes[k] = v
		}
	}
	return &cp
}
