package generator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calston/tensor-go/config"
)

func TestTickEmitsOneMetricEvent(t *testing.T) {
	src, err := New(config.SourceConfig{})
	require.NoError(t, err)

	events, err := src.Tick(context.Background())
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.True(t, events[0].HasMetric)
	assert.Equal(t, "ok", events[0].State)
}

func TestAggregatedFlagSetsCounter(t *testing.T) {
	src, err := New(config.SourceConfig{Extra: map[string]interface{}{"aggregated": true}})
	require.NoError(t, err)

	events, err := src.Tick(context.Background())
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.NotNil(t, events[0].Aggregation)
}

func TestCustomAmplitudeAndPeriod(t *testing.T) {
	src, err := New(config.SourceConfig{Extra: map[string]interface{}{
		"amplitude": 10.0,
		"period":    30.0,
	}})
	require.NoError(t, err)
	assert.Equal(t, 10.0, src.amplitude)
	assert.Equal(t, 30.0, src.period)
}
