// Package supervisor implements the service state machine from
// spec.md §4.7: Init → Configured → Starting → Running → Stopping →
// Stopped, owning source/output lifecycles, staggered startup, the
// source watchdog, and the aggregation/threshold/routing pipeline between
// a source's tick and the router.
//
// Grounded on original_source/tensor/service.py (TensorService).
package supervisor

import (
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/calston/tensor-go/aggregator"
	"github.com/calston/tensor-go/config"
	"github.com/calston/tensor-go/event"
	"github.com/calston/tensor-go/output"
	"github.com/calston/tensor-go/registry"
	"github.com/calston/tensor-go/router"
	"github.com/calston/tensor-go/selfmetrics"
	"github.com/calston/tensor-go/source"
	"github.com/calston/tensor-go/threshold"
)

// State is one of the supervisor's lifecycle states.
type State int

const (
	Init State = iota
	Configured
	Starting
	Running
	Stopping
	Stopped
)

func (s State) String() string {
	switch s {
	case Init:
		return "Init"
	case Configured:
		return "Configured"
	case Starting:
		return "Starting"
	case Running:
		return "Running"
	case Stopping:
		return "Stopping"
	case Stopped:
		return "Stopped"
	}
	return "Unknown"
}

const watchdogCadence = 10 * time.Second

// sourceEntry tracks a single source's current runtime plus the frozen
// config needed to reconstruct it from scratch (spec.md §4.7's watchdog
// contract: "discards its runtime, reconstructs a fresh instance from its
// frozen config").
type sourceEntry struct {
	mu      sync.Mutex
	cfg     config.SourceConfig
	impl    source.Source
	runtime *source.Runtime
	routes  []string
	eval    *threshold.Evaluator
}

// Supervisor owns all sources and outputs for one running agent.
type Supervisor struct {
	mu    sync.Mutex
	state State

	cfg     *config.Config
	cache   *aggregator.Cache
	router  *router.Router
	entries []*sourceEntry
	outputs []*output.Output

	eventCounter   uint64
	watchdogStopCh chan struct{}
	watchdogWG     sync.WaitGroup
}

// New constructs a Supervisor in state Init from a loaded Config. Building
// sources/outputs (state Configured) happens in Configure.
func New(cfg *config.Config) *Supervisor {
	return &Supervisor{
		state:  Init,
		cfg:    cfg,
		cache:  aggregator.NewCache(),
		router: router.New(),
	}
}

func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Configure instantiates every source and output from config, inert
// until Start is called (spec.md §4.7: "Configured: all sources and
// outputs instantiated but inert").
func (s *Supervisor) Configure() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Init {
		return fmt.Errorf("supervisor: Configure called in state %s", s.state)
	}

	for _, oc := range s.cfg.Outputs {
		out, err := s.buildOutput(oc)
		if err != nil {
			return err
		}
		s.outputs = append(s.outputs, out)
		s.router.Register(oc.Name, out)
	}

	for _, sc := range s.cfg.Sources {
		entry, err := s.buildSource(sc)
		if err != nil {
			return err
		}
		s.entries = append(s.entries, entry)
	}

	s.state = Configured
	return nil
}

func (s *Supervisor) buildOutput(oc config.OutputConfig) (*output.Output, error) {
	var out *output.Output
	requeue := func(events []*event.Event) {
		if out != nil {
			out.Enqueue(events)
		}
	}
	transport, err := registry.NewOutputTransport(oc, requeue)
	if err != nil {
		return nil, err
	}

	interval := time.Duration(oc.Interval * float64(time.Second))
	out = output.New(output.Config{
		Name:           oc.Name,
		Interval:       interval,
		MaxRate:        oc.MaxRate,
		MaxSize:        oc.MaxSize,
		PressureThresh: oc.Pressure,
		Expire:         oc.Expire,
		AllowNaN:       oc.AllowNaN,
	}, transport)
	return out, nil
}

func (s *Supervisor) buildSource(sc config.SourceConfig) (*sourceEntry, error) {
	impl, err := s.newSourceImpl(sc)
	if err != nil {
		return nil, err
	}

	eval, err := buildEvaluator(sc)
	if err != nil {
		return nil, err
	}

	entry := &sourceEntry{cfg: sc, impl: impl, routes: sc.RouteNames(), eval: eval}
	entry.runtime = s.newRuntime(entry, impl, 0)
	return entry, nil
}

// newSourceImpl resolves a source implementation. The self-metrics
// source is special-cased because it needs a back-reference to this
// Supervisor's own counters, which the build-time registry (by design)
// has no way to inject (spec.md §9: components hold back-references only
// as weak, supervisor-owned handles).
func (s *Supervisor) newSourceImpl(sc config.SourceConfig) (source.Source, error) {
	if sc.Source == selfmetrics.RegistryName {
		return selfmetrics.New(s), nil
	}
	return registry.NewSource(sc)
}

func buildEvaluator(sc config.SourceConfig) (*threshold.Evaluator, error) {
	if len(sc.Warning) == 0 && len(sc.Critical) == 0 {
		return nil, nil
	}
	warnTable, err := threshold.CompileTable(toRuleSources(sc.Warning))
	if err != nil {
		return nil, err
	}
	critTable, err := threshold.CompileTable(toRuleSources(sc.Critical))
	if err != nil {
		return nil, err
	}
	return &threshold.Evaluator{Warning: warnTable, Critical: critTable}, nil
}

// toRuleSources converts a config map into a deterministic-order rule
// list. Go map iteration order is random, so we sort by regex string to
// give callers a reproducible (if arbitrary) "insertion order" — spec.md
// §4.4 requires determinism, not any particular order, when the source
// config format itself (a YAML mapping) doesn't preserve one.
func toRuleSources(m map[string]string) []threshold.RuleSource {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sortStrings(keys)
	rules := make([]threshold.RuleSource, 0, len(keys))
	for _, k := range keys {
		rules = append(rules, threshold.RuleSource{Regex: k, Predicate: m[k]})
	}
	return rules
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

func (s *Supervisor) newRuntime(entry *sourceEntry, impl source.Source, startDelay time.Duration) *source.Runtime {
	desc := &source.Descriptor{
		Service:    entry.cfg.Service,
		Interval:   durationOf(entry.cfg.Interval),
		TTL:        durationOf(entry.cfg.TTL),
		Tags:       entry.cfg.TagList(),
		Hostname:   entry.cfg.Hostname,
		StartDelay: startDelay,
		Sync:       entry.cfg.Sync,
		Watchdog:   entry.cfg.Watchdog,
	}
	return source.NewRuntime(desc, impl, s.makeEmitFunc(entry))
}

func durationOf(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}

func (s *Supervisor) makeEmitFunc(entry *sourceEntry) source.EmitFunc {
	return func(desc *source.Descriptor, events []*event.Event) {
		s.handleEvents(entry, events)
	}
}

// handleEvents runs the aggregation step, threshold step, and routing
// step over one tick's batch, in that order and preserving the batch's
// relative order throughout (spec.md §4.3–§4.5, §5).
func (s *Supervisor) handleEvents(entry *sourceEntry, events []*event.Event) {
	if len(events) == 0 {
		return
	}

	var queue []*event.Event
	for _, ev := range events {
		out, ok := s.cache.Apply(ev)
		if !ok {
			continue
		}
		queue = append(queue, out)
	}
	if len(queue) == 0 {
		return
	}

	for _, ev := range queue {
		entry.eval.Apply(ev)
	}

	s.addEventCount(uint64(len(queue)))
	s.router.Route(entry.cfg.Service, entry.routes, queue)
}

func (s *Supervisor) addEventCount(n uint64) {
	s.mu.Lock()
	s.eventCounter += n
	s.mu.Unlock()
}

// EventCounter reports the cumulative number of events routed, for the
// self-metrics source and admin surface.
func (s *Supervisor) EventCounter() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.eventCounter
}

// CacheSize reports the event cache's current identity count.
func (s *Supervisor) CacheSize() int { return s.cache.Len() }

// CacheEntries exposes a snapshot of the event cache's contents for the
// admin surface's /debug/cache endpoint (SPEC_FULL.md §4.12).
func (s *Supervisor) CacheEntries() []aggregator.CacheEntry { return s.cache.Entries() }

// Outputs exposes the configured outputs for the admin surface.
func (s *Supervisor) Outputs() []*output.Output { return s.outputs }

// Start moves Configured → Starting → Running: connects outputs
// concurrently, then starts sources with staggered delays, then starts
// the watchdog (spec.md §4.7).
func (s *Supervisor) Start() error {
	s.mu.Lock()
	if s.state != Configured {
		s.mu.Unlock()
		return fmt.Errorf("supervisor: Start called in state %s", s.state)
	}
	s.state = Starting
	outs := append([]*output.Output(nil), s.outputs...)
	entries := append([]*sourceEntry(nil), s.entries...)
	stagger := durationOf(s.cfg.Stagger)
	s.mu.Unlock()

	for _, out := range outs {
		go out.Connect()
	}

	delay := time.Duration(0)
	for _, entry := range entries {
		entry.mu.Lock()
		if entry.cfg.StartDelay > 0 {
			entry.runtime.Desc.StartDelay = durationOf(entry.cfg.StartDelay)
		} else {
			entry.runtime.Desc.StartDelay = delay
		}
		entry.runtime.Start()
		entry.mu.Unlock()
		delay += stagger
	}

	s.mu.Lock()
	s.state = Running
	s.watchdogStopCh = make(chan struct{})
	s.mu.Unlock()

	s.startWatchdog()
	return nil
}

// startWatchdog runs the fixed 10s-cadence source health check
// (spec.md §4.7).
func (s *Supervisor) startWatchdog() {
	s.watchdogWG.Add(1)
	go func() {
		defer s.watchdogWG.Done()
		ticker := time.NewTicker(watchdogCadence)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.runWatchdogPass()
			case <-s.watchdogStopCh:
				return
			}
		}
	}()
}

func (s *Supervisor) runWatchdogPass() {
	s.mu.Lock()
	entries := append([]*sourceEntry(nil), s.entries...)
	s.mu.Unlock()

	now := time.Now()
	for _, entry := range entries {
		entry.mu.Lock()
		cfg := entry.cfg
		rt := entry.runtime
		entry.mu.Unlock()

		if !cfg.Watchdog {
			continue
		}
		// last is seeded at Runtime.Start() (never zero for a started
		// entry), so a source that has produced no event at all is
		// still eligible here once it's been silent long enough.
		last := rt.LastEventTime()
		staleAfter := time.Duration(cfg.Interval*10) * time.Second
		if now.Sub(last) < staleAfter {
			continue
		}

		log.WithFields(log.Fields{
			"service": cfg.Service,
			"silent":  now.Sub(last),
		}).Warn("supervisor: watchdog restarting stale source")

		s.restartSource(entry)
	}
}

// restartSource discards a source's runtime and reconstructs a fresh
// instance from its frozen config (spec.md §4.7, §8 invariant 8: "its
// runtime identity changes").
func (s *Supervisor) restartSource(entry *sourceEntry) {
	entry.mu.Lock()
	defer entry.mu.Unlock()

	entry.runtime.Stop()
	if err := entry.impl.Close(); err != nil {
		log.WithFields(log.Fields{
			"service": entry.cfg.Service,
			"error":   err,
		}).Warn("supervisor: error closing stale source")
	}

	impl, err := s.newSourceImpl(entry.cfg)
	if err != nil {
		log.WithFields(log.Fields{
			"service": entry.cfg.Service,
			"error":   err,
		}).Error("supervisor: watchdog could not reconstruct source")
		return
	}

	entry.impl = impl
	entry.runtime = s.newRuntime(entry, impl, 0)
	entry.runtime.Start()
}

// Stop moves Running → Stopping → Stopped: halts the watchdog, stops all
// source timers, then stops each output (spec.md §4.7: "Stopping: halt
// watchdog, halt all source timers, then call each output's stop()").
func (s *Supervisor) Stop() {
	s.mu.Lock()
	if s.state != Running {
		s.mu.Unlock()
		return
	}
	s.state = Stopping
	entries := append([]*sourceEntry(nil), s.entries...)
	outs := append([]*output.Output(nil), s.outputs...)
	stopCh := s.watchdogStopCh
	s.mu.Unlock()

	if stopCh != nil {
		close(stopCh)
	}
	s.watchdogWG.Wait()

	for _, entry := range entries {
		entry.mu.Lock()
		entry.runtime.Stop()
		entry.mu.Unlock()
	}

	var wg sync.WaitGroup
	for _, out := range outs {
		wg.Add(1)
		go func(o *output.Output) {
			defer wg.Done()
			o.Stop()
		}(out)
	}
	wg.Wait()

	s.mu.Lock()
	s.state = Stopped
	s.mu.Unlock()
}
