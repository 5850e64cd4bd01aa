// Package registry replaces the original's dynamic plug-in loading by
// dotted string (spec.md §9 REDESIGN FLAGS) with a build-time name→
// constructor map that every source/output plug-in package populates via
// init().
//
// Grounded on the teacher's GetProcessorConstructor name→function map
// (aggregator.go) and the pattern in other_examples' telegraf agent.go
// (outputs.Outputs / plugins.Plugins registries).
package registry

import (
	"fmt"
	"sync"

	"github.com/calston/tensor-go/config"
	"github.com/calston/tensor-go/event"
	"github.com/calston/tensor-go/output"
	"github.com/calston/tensor-go/source"
)

// SourceConstructor builds a Source from its config entry.
type SourceConstructor func(cfg config.SourceConfig) (source.Source, error)

// OutputConstructor builds a Transport from its config entry. requeue
// lets a transport push events back onto its own output queue on
// transient failure (used by httpbulk).
type OutputConstructor func(cfg config.OutputConfig, requeue func([]*event.Event)) (output.Transport, error)

var (
	mu      sync.Mutex
	sources = map[string]SourceConstructor{}
	outputs = map[string]OutputConstructor{}
)

// RegisterSource adds a named source constructor. Intended to be called
// from an implementation package's init().
func RegisterSource(name string, ctor SourceConstructor) {
	mu.Lock()
	defer mu.Unlock()
	sources[name] = ctor
}

// RegisterOutput adds a named output constructor.
func RegisterOutput(name string, ctor OutputConstructor) {
	mu.Lock()
	defer mu.Unlock()
	outputs[name] = ctor
}

// NewSource resolves a config-supplied `source:` name. An unknown name is
// a fatal configuration error (spec.md §7).
func NewSource(cfg config.SourceConfig) (source.Source, error) {
	mu.Lock()
	ctor, ok := sources[cfg.Source]
	mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("registry: unknown source implementation %q", cfg.Source)
	}
	return ctor(cfg)
}

// NewOutputTransport resolves a config-supplied `output:` name.
func NewOutputTransport(cfg config.OutputConfig, requeue func([]*event.Event)) (output.Transport, error) {
	mu.Lock()
	ctor, ok := outputs[cfg.Output]
	mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("registry: unknown output implementation %q", cfg.Output)
	}
	return ctor(cfg, requeue)
}
