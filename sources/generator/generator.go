// Package generator implements a synthetic periodic metric source used to
// exercise the scheduler and as a grounding point for tests (spec.md §1:
// concrete source plug-ins are out of scope in detail, but the contract
// needs at least one real implementation to drive end to end).
//
// Grounded on original_source/tensor/sources/generator.py.
package generator

import (
	"context"
	"math"
	"time"

	"github.com/calston/tensor-go/aggregator"
	"github.com/calston/tensor-go/config"
	"github.com/calston/tensor-go/event"
	"github.com/calston/tensor-go/registry"
	"github.com/calston/tensor-go/source"
)

const RegistryName = "tensor.sources.generator.Generator"

// Source emits a sine-wave metric, optionally wrapped in a Counter64
// aggregation so it exercises the derivative path too.
type Source struct {
	amplitude  float64
	period     float64
	aggregated bool
	start      time.Time
}

func New(cfg config.SourceConfig) (*Source, error) {
	amplitude := 100.0
	if v, ok := cfg.Extra["amplitude"].(float64); ok {
		amplitude = v
	}
	period := 60.0
	if v, ok := cfg.Extra["period"].(float64); ok {
		period = v
	}
	aggregated := false
	if v, ok := cfg.Extra["aggregated"].(bool); ok {
		aggregated = v
	}
	return &Source{amplitude: amplitude, period: period, aggregated: aggregated, start: time.Now()}, nil
}

func (s *Source) Tick(ctx context.Context) ([]*event.Event, error) {
	elapsed := time.Since(s.start).Seconds()
	value := s.amplitude * (1 + math.Sin(2*math.Pi*elapsed/s.period))

	ev := &event.Event{
		State:     "ok",
		Metric:    value,
		HasMetric: true,
		Time:      float64(time.Now().UnixNano()) / 1e9,
		Kind:      event.KindMetric,
	}
	if s.aggregated {
		ev.Aggregation = aggregator.Counter64
	}
	return []*event.Event{ev}, nil
}

func (s *Source) Close() error { return nil }

func init() {
	registry.RegisterSource(RegistryName, func(cfg config.SourceConfig) (source.Source, error) {
		return New(cfg)
	})
}
