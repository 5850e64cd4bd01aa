// Package selfmetrics implements the built-in self-metrics source: each
// tick it reports the total number of events routed, the number routed
// since the previous tick, the event cache size, and every output's queue
// length and overflow-drop count. Events expired from an output queue are
// not counted. It is registered like any other source so operators can
// route agent health through the same pipeline as everything else.
package selfmetrics

import (
	"context"
	"time"

	metrics "github.com/Dieterbe/go-metrics"

	"github.com/calston/tensor-go/event"
	"github.com/calston/tensor-go/output"
)

// RegistryName is the config `source:` value that selects this plug-in.
const RegistryName = "tensor.sources.internal.Self"

// Stats is the subset of supervisor state this source reports on.
// Defined as an interface so this package doesn't import supervisor
// (which would create a cycle: supervisor builds sources from registry).
type Stats interface {
	EventCounter() uint64
	CacheSize() int
	Outputs() []*output.Output
}

// Source periodically samples Stats and emits them as ordinary metric
// events under the "tensor.*" prefix.
type Source struct {
	stats Stats
	rate  metrics.Counter
	last  uint64
}

func New(stats Stats) *Source {
	return &Source{stats: stats, rate: metrics.NewCounter()}
}

func (s *Source) Tick(ctx context.Context) ([]*event.Event, error) {
	now := float64(time.Now().UnixNano()) / 1e9
	cur := s.stats.EventCounter()
	delta := cur - s.last
	s.last = cur
	s.rate.Inc(int64(delta))
	// The counter is cleared after each read so tensor.events.rate reports
	// the events routed since the previous tick, not the running total.
	rate := s.rate.Count()
	s.rate.Clear()

	events := []*event.Event{
		{
			State: "ok", Service: "tensor.events.total", Time: now, TTL: 60,
			Metric: float64(cur), HasMetric: true,
		},
		{
			State: "ok", Service: "tensor.events.rate", Time: now, TTL: 60,
			Metric: float64(rate), HasMetric: true,
		},
		{
			State: "ok", Service: "tensor.cache.size", Time: now, TTL: 60,
			Metric: float64(s.stats.CacheSize()), HasMetric: true,
		},
	}

	for _, out := range s.stats.Outputs() {
		events = append(events,
			&event.Event{
				State: "ok", Service: "tensor.output.queue_len", Time: now, TTL: 60,
				Metric: float64(out.QueueLen()), HasMetric: true,
			},
			&event.Event{
				State: "ok", Service: "tensor.output.dropped", Time: now, TTL: 60,
				Metric: float64(out.Dropped()), HasMetric: true,
			},
		)
	}

	return events, nil
}

func (s *Source) Close() error { return nil }
