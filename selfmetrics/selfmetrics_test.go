package selfmetrics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calston/tensor-go/event"
	"github.com/calston/tensor-go/output"
)

type fakeStats struct {
	counter uint64
	cache   int
	outs    []*output.Output
}

func (f *fakeStats) EventCounter() uint64      { return f.counter }
func (f *fakeStats) CacheSize() int            { return f.cache }
func (f *fakeStats) Outputs() []*output.Output { return f.outs }

func TestTickEmitsCoreSeries(t *testing.T) {
	stats := &fakeStats{counter: 42, cache: 3}
	src := New(stats)

	events, err := src.Tick(context.Background())
	require.NoError(t, err)

	byService := map[string]float64{}
	for _, ev := range events {
		byService[ev.Service] = ev.Metric
	}

	assert.Equal(t, 42.0, byService["tensor.events.total"])
	assert.Equal(t, 3.0, byService["tensor.cache.size"])
	assert.Contains(t, byService, "tensor.events.rate")
}

func TestTickAccumulatesRateAcrossCalls(t *testing.T) {
	stats := &fakeStats{counter: 10}
	src := New(stats)

	_, err := src.Tick(context.Background())
	require.NoError(t, err)

	stats.counter = 25
	events, err := src.Tick(context.Background())
	require.NoError(t, err)

	var rate float64
	for _, ev := range events {
		if ev.Service == "tensor.events.rate" {
			rate = ev.Metric
		}
	}
	assert.Equal(t, 15.0, rate, "the second tick's rate reflects the delta since the first")
}

func TestTickEmitsPerOutputSeries(t *testing.T) {
	o := output.New(output.Config{}, noopTransport{})
	stats := &fakeStats{outs: []*output.Output{o}}
	src := New(stats)

	events, err := src.Tick(context.Background())
	require.NoError(t, err)

	var sawQueueLen, sawDropped bool
	for _, ev := range events {
		switch ev.Service {
		case "tensor.output.queue_len":
			sawQueueLen = true
		case "tensor.output.dropped":
			sawDropped = true
		}
	}
	assert.True(t, sawQueueLen)
	assert.True(t, sawDropped)
}

type noopTransport struct{}

func (noopTransport) Connect()                             {}
func (noopTransport) Ready() bool                          { return false }
func (noopTransport) Pressure() int                        { return 0 }
func (noopTransport) Send(events []*event.Event) error     { return nil }
func (noopTransport) Stop()                                {}
