// Package source defines the source contract (spec.md §4.2) and a
// Runtime that schedules a Source's periodic Tick, staggering the first
// call and enforcing the at-most-one-in-flight invariant for sync sources.
//
// Grounded on original_source/tensor/objects.py (Source.tick/startTimer)
// and service.py's per-source watchdog bookkeeping.
package source

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/calston/tensor-go/event"
)

// Source is the plug-in contract. Tick is called on the configured
// schedule and returns zero or more events; it must itself apply any
// timeout it needs (spec.md §5) and must never panic — Runtime recovers
// but a plug-in should prefer returning an error.
type Source interface {
	// Tick runs one collection cycle. ctx carries the per-check timeout.
	Tick(ctx context.Context) ([]*event.Event, error)
	// Close releases any resources (connections, file handles) held by
	// the source. Called once, when the runtime is torn down.
	Close() error
}

// Descriptor carries the frozen, defaulted configuration a Runtime needs;
// it mirrors spec.md §3's source descriptor fields relevant to scheduling.
type Descriptor struct {
	Service    string
	Interval   time.Duration
	TTL        time.Duration
	Tags       []string
	Hostname   string
	StartDelay time.Duration
	Sync       bool
	Watchdog   bool
	Timeout    time.Duration
}

// EmitFunc is how a Runtime hands a tick's events to the supervisor for
// aggregation/thresholding/routing.
type EmitFunc func(desc *Descriptor, events []*event.Event)

// Runtime owns a single source's timer and last-event bookkeeping. It is
// reconstructed wholesale by the watchdog (spec.md §4.7) rather than
// mutated in place, so it holds no back-reference to the supervisor beyond
// the EmitFunc closure it was given.
type Runtime struct {
	Desc   *Descriptor
	src    Source
	emit   EmitFunc
	timer  *time.Timer
	stopCh chan struct{}
	wg     sync.WaitGroup

	inFlight  int32 // guards Sync: at most one tick in flight at a time
	lastEvent atomic.Value // stores time.Time
}

// NewRuntime constructs a Runtime. Call Start to begin ticking.
func NewRuntime(desc *Descriptor, src Source, emit EmitFunc) *Runtime {
	r := &Runtime{
		Desc:   desc,
		src:    src,
		emit:   emit,
		stopCh: make(chan struct{}),
	}
	r.lastEvent.Store(time.Time{})
	return r
}

// LastEventTime reports when this runtime last had a tick that produced at
// least one event, or when it was started if no tick has produced one
// since; zero before Start. Used by the supervisor's watchdog (spec.md §4.7).
func (r *Runtime) LastEventTime() time.Time {
	return r.lastEvent.Load().(time.Time)
}

// Start schedules the first tick after Desc.StartDelay, then reschedules
// itself every Desc.Interval. Safe to call once per Runtime.
//
// lastEvent is seeded to now rather than left zero, so the watchdog's
// "last_event_time < now - 10*interval" check (spec.md §4.7) starts
// counting from the moment this source came alive — a source that never
// emits a single event is still restartable once it goes stale, per
// spec.md's "sources that never emit still qualify" note.
func (r *Runtime) Start() {
	r.lastEvent.Store(time.Now())
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		select {
		case <-time.After(r.Desc.StartDelay):
		case <-r.stopCh:
			return
		}
		r.runOnce()

		ticker := time.NewTicker(r.Desc.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.runOnce()
			case <-r.stopCh:
				return
			}
		}
	}()
}

// Stop halts the timer and waits for a tick that is already running to
// return before it returns itself.
func (r *Runtime) Stop() {
	close(r.stopCh)
	r.wg.Wait()
}

func (r *Runtime) runOnce() {
	if r.Desc.Sync {
		if !atomic.CompareAndSwapInt32(&r.inFlight, 0, 1) {
			log.WithField("service", r.Desc.Service).
				Debug("source: skipping tick, previous tick still in flight")
			return
		}
		defer atomic.StoreInt32(&r.inFlight, 0)
	}

	timeout := r.Desc.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	events, err := r.safeTick(ctx)
	if err != nil {
		log.WithFields(log.Fields{
			"service": r.Desc.Service,
			"error":   err,
		}).Error("source: tick failed, timer continues")
		if ctx.Err() == context.DeadlineExceeded {
			events = []*event.Event{timeoutEvent(r.Desc, err)}
		}
	}

	for _, ev := range events {
		applyDefaults(ev, r.Desc)
	}

	// Only a tick that actually produced events counts as "alive" for the
	// watchdog (spec.md §4.7): a watchdog=true source that runs fine but
	// never emits must still be restartable, per spec.md's "watchdog is
	// advisory; sources that never emit still qualify" note.
	if len(events) > 0 {
		r.lastEvent.Store(time.Now())
	}
	if r.emit != nil {
		r.emit(r.Desc, events)
	}
}

// safeTick recovers a panicking plug-in so the scheduler timer is never
// cancelled by a misbehaving source (spec.md §4.2, §7).
func (r *Runtime) safeTick(ctx context.Context) (events []*event.Event, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = &panicError{rec}
		}
	}()
	return r.src.Tick(ctx)
}

type panicError struct{ v interface{} }

func (p *panicError) Error() string { return "source panicked: " + toString(p.v) }

func toString(v interface{}) string {
	if e, ok := v.(error); ok {
		return e.Error()
	}
	if s, ok := v.(string); ok {
		return s
	}
	return "unknown panic"
}

func timeoutEvent(desc *Descriptor, err error) *event.Event {
	return &event.Event{
		State:       "critical",
		Service:     desc.Service,
		Description: "check timed out: " + err.Error(),
		Time:        float64(time.Now().UnixNano()) / 1e9,
		TTL:         desc.TTL.Seconds(),
	}
}

func applyDefaults(ev *event.Event, desc *Descriptor) {
	if ev.Service == "" {
		ev.Service = desc.Service
	}
	if ev.TTL <= 0 {
		ev.TTL = desc.TTL.Seconds()
	}
	if ev.Host == "" {
		ev.Host = desc.Hostname
	}
	if ev.Tags == nil && len(desc.Tags) > 0 {
		ev.Tags = desc.Tags
	}
	if ev.Time <= 0 {
		ev.Time = float64(time.Now().UnixNano()) / 1e9
	}
	if ev.State == "" {
		ev.State = "ok"
	}
}
