// Package logfollow implements a log-tailing source: each Tick reads any
// lines appended to a configured file since the last call and emits one
// KindLog event per line.
//
// Grounded on original_source/tensor/sources/logfollow.py and logs/follower.py
// (wrapped here by the logcursor package).
package logfollow

import (
	"context"
	"time"

	"github.com/calston/tensor-go/config"
	"github.com/calston/tensor-go/event"
	"github.com/calston/tensor-go/logcursor"
	"github.com/calston/tensor-go/registry"
	"github.com/calston/tensor-go/source"
)

const RegistryName = "tensor.sources.logfollow.LogFollow"

const defaultCursorDir = "/var/lib/tensor"

// Source tails a single log file, yielding one event per new line.
type Source struct {
	cursor *logcursor.Cursor
	path   string
}

func New(cfg config.SourceConfig) (*Source, error) {
	path, _ := cfg.Extra["path"].(string)
	if path == "" {
		path = "/var/log/syslog"
	}
	cursorDir := defaultCursorDir
	if v, ok := cfg.Extra["cursor_dir"].(string); ok && v != "" {
		cursorDir = v
	}
	history, _ := cfg.Extra["history"].(bool)

	cur, err := logcursor.Open(path, cursorDir, history)
	if err != nil {
		return nil, err
	}
	return &Source{cursor: cur, path: path}, nil
}

func (s *Source) Tick(ctx context.Context) ([]*event.Event, error) {
	lines, err := s.cursor.ReadNewLines()
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, nil
	}

	now := float64(time.Now().UnixNano()) / 1e9
	events := make([]*event.Event, 0, len(lines))
	for _, line := range lines {
		events = append(events, &event.Event{
			State: "ok",
			Kind:  event.KindLog,
			Time:  now,
			LogFields: map[string]string{
				"message": line,
				"path":    s.path,
			},
		})
	}
	return events, nil
}

func (s *Source) Close() error { return nil }

func init() {
	registry.RegisterSource(RegistryName, func(cfg config.SourceConfig) (source.Source, error) {
		return New(cfg)
	})
}
