package symbolication

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/grafana/dskit/services"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/atomic"
)

// Applier receives the batches flushed by a Coalescer, one at a time.
type Applier interface {
	ApplyBatch(*Batch)
}

var errCoalescerStopped = errors.New("coalescer is not running")

// Coalescer accumulates symbolication updates and hands them over to the
// applier in batches: a flush happens once no update arrived for
// IdleDelay, or MaxDelay after the first pending update, whichever comes
// first. The pending batch is owned by the service goroutine.
type Coalescer struct {
	*services.BasicService

	logger  log.Logger
	cfg     CoalescerConfig
	applier Applier
	metrics *metrics

	generation atomic.Uint64

	updates  chan Update
	flushReq chan chan struct{}
	done     chan struct{}

	mu      sync.Mutex
	flushed chan struct{}

	pending      *Batch
	firstPending time.Time
	lastPending  time.Time
}

func NewCoalescer(logger log.Logger, cfg CoalescerConfig, applier Applier, reg prometheus.Registerer) *Coalescer {
	c := &Coalescer{
		logger:   logger,
		cfg:      cfg,
		applier:  applier,
		metrics:  newMetrics(reg),
		updates:  make(chan Update, 64),
		flushReq: make(chan chan struct{}),
		done:     make(chan struct{}),
		flushed:  make(chan struct{}),
	}
	c.BasicService = services.NewBasicService(nil, c.running, c.stopping)
	return c
}

// Generation returns the active profile generation.
func (c *Coalescer) Generation() uint64 { return c.generation.Load() }

// SetGeneration makes g the active profile generation. Pending and
// future updates of other generations are dropped.
func (c *Coalescer) SetGeneration(g uint64) { c.generation.Store(g) }

// Submit queues an update for the next flush. Updates of a stale
// generation are dropped.
func (c *Coalescer) Submit(u Update) {
	if u.Generation != c.Generation() {
		c.metrics.updatesDropped.Inc()
		return
	}
	select {
	case c.updates <- u:
		c.metrics.updatesSubmitted.Inc()
	case <-c.done:
		c.metrics.updatesDropped.Inc()
	}
}

// OnFlushed returns a channel closed once the next flush has completed.
func (c *Coalescer) OnFlushed() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flushed
}

// Flush forces a flush of the pending updates, including the ones still
// queued, and waits for it to complete.
func (c *Coalescer) Flush(ctx context.Context) error {
	req := make(chan struct{})
	select {
	case c.flushReq <- req:
	case <-c.done:
		return errCoalescerStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-req:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coalescer) running(ctx context.Context) error {
	defer close(c.done)
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()
	for {
		select {
		case u := <-c.updates:
			c.add(u)
			timer.Reset(time.Until(c.deadline()))
		case <-timer.C:
			c.flush("timer")
		case req := <-c.flushReq:
			timer.Stop()
			c.drain()
			c.flush("forced")
			close(req)
		case <-ctx.Done():
			return nil
		}
	}
}

func (c *Coalescer) stopping(_ error) error {
	if !c.pending.Empty() {
		level.Warn(c.logger).Log("msg", "dropping pending symbolication updates", "updates", c.pending.Updates)
		c.metrics.updatesDropped.Add(float64(c.pending.Updates))
		c.metrics.updatesPending.Set(0)
		c.pending = nil
	}
	return nil
}

func (c *Coalescer) add(u Update) {
	g := c.Generation()
	if u.Generation != g {
		c.metrics.updatesDropped.Inc()
		return
	}
	if c.pending != nil && c.pending.Generation != g {
		c.dropPending()
	}
	if c.pending == nil {
		c.pending = newBatch(g)
		c.firstPending = time.Now()
	}
	c.lastPending = time.Now()
	c.pending.add(u)
	c.metrics.updatesPending.Set(float64(c.pending.Updates))
}

// drain moves the queued updates into the pending batch.
func (c *Coalescer) drain() {
	for {
		select {
		case u := <-c.updates:
			c.add(u)
		default:
			return
		}
	}
}

func (c *Coalescer) deadline() time.Time {
	idle := c.lastPending.Add(c.cfg.IdleDelay)
	if limit := c.firstPending.Add(c.cfg.MaxDelay); limit.Before(idle) {
		return limit
	}
	return idle
}

func (c *Coalescer) dropPending() {
	level.Debug(c.logger).Log("msg", "dropping stale symbolication updates", "generation", c.pending.Generation, "updates", c.pending.Updates)
	c.metrics.updatesDropped.Add(float64(c.pending.Updates))
	c.metrics.updatesPending.Set(0)
	c.pending = nil
}

func (c *Coalescer) flush(trigger string) {
	if c.pending != nil && c.pending.Generation != c.Generation() {
		c.dropPending()
	}
	if b := c.pending; !b.Empty() {
		c.pending = nil
		c.metrics.updatesPending.Set(0)
		c.applier.ApplyBatch(b)
		level.Debug(c.logger).Log("msg", "flushed symbolication updates", "trigger", trigger, "updates", b.Updates, "threads", len(b.Threads))
	}
	c.metrics.flushes.WithLabelValues(trigger).Inc()

	c.mu.Lock()
	close(c.flushed)
	c.flushed = make(chan struct{})
	c.mu.Unlock()
}
