package logfollow

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calston/tensor-go/config"
	"github.com/calston/tensor-go/event"
)

func TestTickEmitsOneEventPerNewLine(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "app.log")
	require.NoError(t, os.WriteFile(logPath, []byte("line one\n"), 0644))

	src, err := New(config.SourceConfig{Extra: map[string]interface{}{
		"path":       logPath,
		"cursor_dir": dir,
	}})
	require.NoError(t, err)

	// Default (non-history) mode starts at EOF; nothing emitted for pre-existing content.
	events, err := src.Tick(context.Background())
	require.NoError(t, err)
	assert.Len(t, events, 0)

	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString("line two\nline three\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	events, err = src.Tick(context.Background())
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "line two", events[0].LogFields["message"])
	assert.Equal(t, "line three", events[1].LogFields["message"])
	assert.Equal(t, event.KindLog, events[0].Kind)
	assert.Equal(t, logPath, events[0].LogFields["path"])
}

func TestHistoryModeReplaysExistingContent(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "app.log")
	require.NoError(t, os.WriteFile(logPath, []byte("old line\n"), 0644))

	src, err := New(config.SourceConfig{Extra: map[string]interface{}{
		"path":       logPath,
		"cursor_dir": dir,
		"history":    true,
	}})
	require.NoError(t, err)

	events, err := src.Tick(context.Background())
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "old line", events[0].LogFields["message"])
}

func TestDefaultPathFallsBackToSyslog(t *testing.T) {
	dir := t.TempDir()
	src, err := New(config.SourceConfig{Extra: map[string]interface{}{"cursor_dir": dir}})
	// /var/log/syslog may not exist in the test environment; logcursor.Open
	// should tolerate a missing target file rather than error.
	if err == nil {
		assert.Equal(t, "/var/log/syslog", src.path)
	}
}
