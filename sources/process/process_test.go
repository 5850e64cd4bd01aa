package process

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calston/tensor-go/config"
)

func TestNewRequiresCommand(t *testing.T) {
	_, err := New(config.SourceConfig{})
	assert.Error(t, err)
}

func TestTickSuccessfulCommandIsOK(t *testing.T) {
	src, err := New(config.SourceConfig{Extra: map[string]interface{}{
		"command": "true",
	}})
	require.NoError(t, err)

	events, err := src.Tick(context.Background())
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "ok", events[0].State)
	assert.Equal(t, 0.0, events[0].Metric)
}

func TestTickFailingCommandIsCritical(t *testing.T) {
	src, err := New(config.SourceConfig{Extra: map[string]interface{}{
		"command": "false",
	}})
	require.NoError(t, err)

	events, err := src.Tick(context.Background())
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "critical", events[0].State)
	assert.NotEqual(t, 0.0, events[0].Metric)
}

func TestTickPassesArgsThrough(t *testing.T) {
	src, err := New(config.SourceConfig{Extra: map[string]interface{}{
		"command": "echo",
		"args":    []interface{}{"hello"},
	}})
	require.NoError(t, err)

	events, err := src.Tick(context.Background())
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Contains(t, events[0].Description, "hello")
}

func TestUnknownCommandReportsNonzeroExit(t *testing.T) {
	src, err := New(config.SourceConfig{Extra: map[string]interface{}{
		"command": "/no/such/binary-tensor-test",
	}})
	require.NoError(t, err)

	events, err := src.Tick(context.Background())
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "critical", events[0].State)
}
