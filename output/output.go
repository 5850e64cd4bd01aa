// Package output implements the bounded per-output queue, dequeue timer,
// rate limiter and backpressure gate described in spec.md §4.6.
//
// Grounded on original_source/tensor/outputs/riemann.py (RiemannTCP.tick,
// emptyQueue, queueDepth).
package output

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/calston/tensor-go/event"
)

// Transport is the minimum contract an output needs from its underlying
// wire client (spec.md §4.6): idempotent async connect, a pressure signal
// the backpressure gate reads, and a batch send.
type Transport interface {
	// Connect brings up the transport asynchronously; must not block.
	Connect()
	// Ready reports whether the transport currently has somewhere to send.
	Ready() bool
	// Pressure is the number of in-flight send units awaiting
	// acknowledgement; transports without acknowledgements (datagram,
	// HTTP bulk) always report 0.
	Pressure() int
	// Send hands a batch to the transport. Called from the dequeue loop
	// only; must not block for long (spec.md §5 CPU-bound rule).
	Send(events []*event.Event) error
	// Stop closes the transport, best-effort draining in-flight work.
	Stop()
}

// Config is an output descriptor's queue-control fields (spec.md §3).
type Config struct {
	Name             string
	Interval         time.Duration
	MaxRate          float64 // events/s, 0 = no limit
	MaxSize          int     // default 250000
	PressureThresh   int     // -1 = no limit
	Expire           bool    // age-expire queued events while transport down
	AllowNaN         bool
}

func (c *Config) normalize() {
	if c.MaxSize <= 0 {
		c.MaxSize = 250000
	}
	if c.Interval <= 0 {
		c.Interval = time.Second
	}
	if c.PressureThresh == 0 {
		c.PressureThresh = -1
	}
}

// Output is the bounded-queue runtime wrapping a Transport.
type Output struct {
	cfg       Config
	transport Transport

	mu      sync.Mutex
	queue   []*event.Event
	dropped uint64

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New constructs an Output. Call Connect to bring up the transport and
// start the dequeue timer.
func New(cfg Config, transport Transport) *Output {
	cfg.normalize()
	return &Output{
		cfg:       cfg,
		transport: transport,
		stopCh:    make(chan struct{}),
	}
}

// Connect brings the transport up asynchronously and starts the dequeue
// loop; must not block the supervisor's startup sequence (spec.md §4.6).
func (o *Output) Connect() {
	o.transport.Connect()
	o.wg.Add(1)
	go o.dequeueLoop()
}

// Enqueue appends events to the queue, dropping the newly arriving ones
// (never the ones already queued) if the queue would exceed MaxSize
// (spec.md §4.6, invariant 3).
func (o *Output) Enqueue(events []*event.Event) {
	if len(events) == 0 {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()

	room := o.cfg.MaxSize - len(o.queue)
	if room <= 0 {
		o.dropped += uint64(len(events))
		log.WithFields(log.Fields{
			"output":  o.cfg.Name,
			"dropped": len(events),
		}).Warn("output: queue full, dropping new events")
		return
	}
	if len(events) > room {
		o.dropped += uint64(len(events) - room)
		log.WithFields(log.Fields{
			"output":  o.cfg.Name,
			"dropped": len(events) - room,
		}).Warn("output: queue at capacity, dropping tail of batch")
		events = events[:room]
	}
	o.queue = append(o.queue, events...)
}

// QueueLen reports the current queue length (for the admin surface and
// tests).
func (o *Output) QueueLen() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.queue)
}

// Dropped reports the cumulative drop counter.
func (o *Output) Dropped() uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.dropped
}

func (o *Output) dequeueLoop() {
	defer o.wg.Done()
	ticker := time.NewTicker(o.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			o.tick()
		case <-o.stopCh:
			return
		}
	}
}

// tick implements spec.md §4.6's three-step dequeue contract.
func (o *Output) tick() {
	if !o.transport.Ready() {
		if o.cfg.Expire {
			o.expireStale()
		}
		return
	}

	pressure := o.transport.Pressure()
	if o.cfg.PressureThresh >= 0 && pressure > o.cfg.PressureThresh {
		log.WithFields(log.Fields{
			"output":   o.cfg.Name,
			"pressure": pressure,
		}).Debug("output: backpressure gate closed, skipping tick")
		return
	}

	batch := o.popBatch()
	if len(batch) == 0 {
		return
	}
	if err := o.transport.Send(batch); err != nil {
		log.WithFields(log.Fields{
			"output": o.cfg.Name,
			"error":  err,
		}).Error("output: send failed")
	}
}

func (o *Output) popBatch() []*event.Event {
	o.mu.Lock()
	defer o.mu.Unlock()

	if len(o.queue) == 0 {
		return nil
	}
	max := len(o.queue)
	if o.cfg.MaxRate > 0 {
		capN := int(o.cfg.MaxRate * o.cfg.Interval.Seconds())
		if capN <= 0 {
			capN = 1
		}
		if capN < max {
			max = capN
		}
	}
	batch := o.queue[:max]
	o.queue = o.queue[max:]
	return batch
}

func (o *Output) expireStale() {
	o.mu.Lock()
	defer o.mu.Unlock()

	now := float64(time.Now().UnixNano()) / 1e9
	kept := o.queue[:0]
	expired := 0
	for _, ev := range o.queue {
		if now-ev.Time > ev.TTL {
			expired++
			continue
		}
		kept = append(kept, ev)
	}
	o.queue = kept
	if expired > 0 {
		log.WithFields(log.Fields{
			"output":  o.cfg.Name,
			"expired": expired,
		}).Debug("output: expired stale queued events")
	}
}

// Stop halts the dequeue timer, then stops the transport. Events still in
// this output's queue are not sent.
func (o *Output) Stop() {
	close(o.stopCh)
	o.wg.Wait()
	o.transport.Stop()
}
