package capture

import (
	"context"
	"sync"
	"time"

	"guardiand/internal/logging"
	"guardiand/internal/segment"
)

// Config holds correlator settings.
type Config struct {
	// Timeout bounds one capture attempt (default 500ms).
	Timeout time.Duration

	// QueueDepth bounds segments waiting behind an in-flight capture
	// (default 5). Excess segments are dropped with a warning.
	QueueDepth int

	// FailureWarnAfter marks capture degraded after this many
	// consecutive failures (default 3).
	FailureWarnAfter int
}

// Correlator serializes capture requests: one in-flight capture at a
// time, a bounded FIFO behind it. Capture failure never fails the
// pipeline; the segment continues text-only.
type Correlator struct {
	capturer Capturer
	cfg      Config
	log      *logging.Logger

	queue chan *segment.Segment
	out   chan *Context

	mu           sync.Mutex
	consecFails  int
	totalFails   int
	totalDropped int

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New creates a Correlator. A nil capturer disables screenshots; every
// context is produced text-only.
func New(capturer Capturer, cfg Config, log *logging.Logger) *Correlator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 500 * time.Millisecond
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 5
	}
	if cfg.FailureWarnAfter <= 0 {
		cfg.FailureWarnAfter = 3
	}
	return &Correlator{
		capturer: capturer,
		cfg:      cfg,
		log:      log,
		queue:    make(chan *segment.Segment, cfg.QueueDepth),
		out:      make(chan *Context, cfg.QueueDepth),
	}
}

// Start launches the capture worker.
func (c *Correlator) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	go c.run(ctx)
}

// Stop stops the worker and closes the output channel. Queued segments
// are discarded.
func (c *Correlator) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	close(c.out)
}

// OnSegmentReady enqueues a finalized segment for capture correlation.
// It never blocks: when the queue is full the segment is dropped and
// false is returned, bounding backlog under burst typing.
func (c *Correlator) OnSegmentReady(seg *segment.Segment) bool {
	select {
	case c.queue <- seg:
		return true
	default:
		c.mu.Lock()
		c.totalDropped++
		c.mu.Unlock()
		c.log.Warn("capture queue full, dropping segment", "segment_id", seg.ID)
		return false
	}
}

// Contexts returns the channel of completed capture contexts, in
// segment order.
func (c *Correlator) Contexts() <-chan *Context {
	return c.out
}

// Degraded reports repeated consecutive capture failures worth
// surfacing as a hardware or permission problem.
func (c *Correlator) Degraded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.consecFails >= c.cfg.FailureWarnAfter
}

// Dropped returns how many segments were dropped on queue overflow.
func (c *Correlator) Dropped() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totalDropped
}

func (c *Correlator) run(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case seg := <-c.queue:
			cc := c.correlate(ctx, seg)
			select {
			case c.out <- cc:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (c *Correlator) correlate(ctx context.Context, seg *segment.Segment) *Context {
	if c.capturer == nil {
		return &Context{Segment: seg}
	}

	cctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	start := time.Now()
	img, err := c.capturer.Capture(cctx)
	latency := time.Since(start)

	c.mu.Lock()
	if err != nil {
		c.consecFails++
		c.totalFails++
		warn := c.consecFails == c.cfg.FailureWarnAfter
		c.mu.Unlock()
		c.log.Debug("screen capture failed, continuing text-only",
			"segment_id", seg.ID, "error", err)
		if warn {
			c.log.Warn("repeated screen capture failures; check permissions",
				"consecutive", c.cfg.FailureWarnAfter)
		}
		return &Context{Segment: seg}
	}
	c.consecFails = 0
	c.mu.Unlock()

	return &Context{Segment: seg, Image: img, Latency: latency}
}
