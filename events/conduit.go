// Package events turns engine event notifications into a blocking
// Wait/Flush interface.
//
// Event names are registered in blocks of at most native.MaxEventNames.
// Each engine callback hands the block's updated counts to a single consumer
// goroutine over a bounded channel; the consumer adds them to a shared count
// table, wakes waiters and registers the block again. The first callback of
// every block only primes its counts and is not reported.
package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/tomyedwab/fbdriver/dberr"
	"github.com/tomyedwab/fbdriver/metrics"
	"github.com/tomyedwab/fbdriver/native"
)

// DefaultQueueSize is the capacity of the notification channel.
const DefaultQueueSize = 64

// Options configure a conduit.
type Options struct {
	QueueSize int                // Optional, defaults to DefaultQueueSize
	Logger    *slog.Logger       // Optional, defaults to slog.Default()
	Metrics   *metrics.Collector // Optional
}

type block struct {
	names    []string
	eventBuf []byte
	id       native.EventID
	queued   bool
	primed   bool
}

type message struct {
	block   *block
	updated []byte
	die     bool
}

// Conduit waits for a fixed set of events on one attachment.
type Conduit struct {
	api     native.API
	db      native.DBHandle
	names   []string
	blocks  []*block
	queue   chan message
	done    chan struct{}
	stopped chan struct{}
	logger  *slog.Logger
	metrics *metrics.Collector

	mu      sync.Mutex
	cond    *sync.Cond
	counts  map[string]int
	ready   bool
	started bool
	closed  bool
	err     error
}

// New prepares a conduit for names on attachment db. Nothing is
// registered until Begin.
func New(api native.API, db native.DBHandle, names []string, opts Options) (*Conduit, error) {
	if len(names) == 0 {
		return nil, dberr.NewInterfaceError("an event conduit needs at least one event name")
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	c := &Conduit{
		api:     api,
		db:      db,
		names:   append([]string(nil), names...),
		queue:   make(chan message, opts.QueueSize),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
		logger:  opts.Logger.With("component", "events"),
		metrics: opts.Metrics,
		counts:  make(map[string]int, len(names)),
	}
	c.cond = sync.NewCond(&c.mu)
	for _, n := range names {
		if _, dup := c.counts[n]; dup {
			return nil, dberr.NewInterfaceError("event %q is listed twice", n)
		}
		c.counts[n] = 0
	}
	for start := 0; start < len(names); start += native.MaxEventNames {
		end := min(start+native.MaxEventNames, len(names))
		batch := c.names[start:end]
		eventBuf, _, err := native.EventBlock(batch)
		if err != nil {
			return nil, err
		}
		c.blocks = append(c.blocks, &block{names: batch, eventBuf: eventBuf})
	}
	return c, nil
}

// Names returns the registered event names.
func (c *Conduit) Names() []string {
	return append([]string(nil), c.names...)
}

// Blocks returns the number of event blocks the names were split into.
func (c *Conduit) Blocks() int {
	return len(c.blocks)
}

// Begin starts the consumer goroutine and registers every block.
func (c *Conduit) Begin() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return dberr.NewInterfaceError("event conduit is closed")
	}
	if c.started {
		c.mu.Unlock()
		return dberr.NewInterfaceError("event conduit has already begun")
	}
	c.started = true
	c.mu.Unlock()

	go c.run()
	for _, b := range c.blocks {
		if err := c.register(b); err != nil {
			return multierr.Append(err, c.Close())
		}
	}
	c.logger.Debug("Listening for events", "names", c.names, "blocks", len(c.blocks))
	return nil
}

// register queues b with the engine. c.mu is held across the call so a
// notification cannot be delivered before its registration is recorded.
func (c *Conduit) register(b *block) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, sv := c.api.QueueEvents(c.db, b.eventBuf, c.callback(b))
	if sv.Failed() {
		return native.StatusError(c.api, sv, "Error while registering event block:")
	}
	b.id = id
	b.queued = true
	return nil
}

// callback runs on a goroutine the engine controls. It never blocks past
// Close.
func (c *Conduit) callback(b *block) native.EventCallback {
	return func(updated []byte) {
		msg := message{block: b, updated: append([]byte(nil), updated...)}
		select {
		case c.queue <- msg:
		case <-c.done:
		}
	}
}

func (c *Conduit) run() {
	defer close(c.stopped)
	for msg := range c.queue {
		if msg.die {
			return
		}
		c.deliver(msg)
	}
}

func (c *Conduit) deliver(msg message) {
	b := msg.block
	c.mu.Lock()
	b.queued = false
	deltas, err := native.EventCounts(b.eventBuf, msg.updated)
	if err != nil {
		c.fail(err)
		c.mu.Unlock()
		return
	}
	if !b.primed {
		b.primed = true
	} else {
		total := 0
		for i, d := range deltas {
			if d > 0 {
				c.counts[b.names[i]] += int(d)
				total += int(d)
			}
		}
		if total > 0 {
			c.ready = true
			c.cond.Broadcast()
			c.metrics.EventsDelivered(total)
			c.logger.Debug("Events delivered", "count", total)
		}
	}
	closing := c.closed
	c.mu.Unlock()

	if closing {
		return
	}
	if err := c.register(b); err != nil {
		c.mu.Lock()
		c.fail(err)
		c.mu.Unlock()
	}
}

// fail records the first consumer error and wakes waiters. c.mu is held.
func (c *Conduit) fail(err error) {
	c.logger.Error("Event delivery failed", "error", err)
	if c.err == nil {
		c.err = err
	}
	c.cond.Broadcast()
}

func (c *Conduit) snapshot() map[string]int {
	out := make(map[string]int, len(c.counts))
	for k, v := range c.counts {
		out[k] = v
	}
	return out
}

// Wait blocks until at least one registered event has been posted since the
// last Flush, or until timeout elapses. A zero timeout polls without
// blocking and a negative one waits indefinitely. On timeout the current
// counts are returned together with context.DeadlineExceeded.
func (c *Conduit) Wait(timeout time.Duration) (map[string]int, error) {
	ctx := context.Background()
	if timeout >= 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return c.WaitContext(ctx)
}

// WaitContext is Wait bounded by ctx.
func (c *Conduit) WaitContext(ctx context.Context) (map[string]int, error) {
	stop := context.AfterFunc(ctx, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.cond.Broadcast()
	})
	defer stop()

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return nil, dberr.NewInterfaceError("event conduit has not begun")
	}
	for !c.ready && !c.closed && c.err == nil && ctx.Err() == nil {
		c.cond.Wait()
	}
	switch {
	case c.err != nil:
		return c.snapshot(), c.err
	case c.ready:
		return c.snapshot(), nil
	case c.closed:
		return nil, dberr.NewInterfaceError("event conduit is closed")
	}
	return c.snapshot(), ctx.Err()
}

// Flush resets every count to zero without touching the registrations.
func (c *Conduit) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.counts {
		c.counts[k] = 0
	}
	c.ready = false
}

// Closed reports whether Close has been called.
func (c *Conduit) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Close stops the consumer goroutine and cancels every registered block.
// It is idempotent.
func (c *Conduit) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	started := c.started
	c.cond.Broadcast()
	c.mu.Unlock()

	close(c.done)
	if started {
		c.queue <- message{die: true}
		<-c.stopped
	}

	var err error
	for _, b := range c.blocks {
		if !b.queued {
			continue
		}
		if sv := c.api.CancelEvents(c.db, b.id); sv.Failed() {
			err = multierr.Append(err, native.StatusError(c.api, sv, "Error while canceling event block:"))
		}
		b.queued = false
	}
	c.logger.Debug("Stopped listening for events")
	return err
}
