package lock

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"guardiand/internal/logging"
)

// Overlay is the visible lock screen. Implementations must be safe for
// concurrent use; failures are reported so the coordinator can retry.
type Overlay interface {
	Show(reason, status string) error
	Update(status string) error
	Hide() error
}

// Sink receives the non-overlay commands produced by transitions
// (dashboard announcements, ledger records, parent notifications).
type Sink interface {
	Execute(cmd Command)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(cmd Command)

// Execute calls f.
func (f SinkFunc) Execute(cmd Command) { f(cmd) }

// Store persists the live lock across daemon restarts.
type Store interface {
	SaveLock(req ApprovalRequest, openedAt, timeoutAt time.Time) error
	ResolveLock(id string, resolution Resolution, approver string, at time.Time) error
	PendingLock() (*ApprovalRequest, time.Time, time.Time, error)
}

// Config carries the coordinator's policy knobs.
type Config struct {
	// Timeout is the approval window for a new or denied lock.
	Timeout time.Duration
	// AutoAllow unlocks when the window lapses. Off by default.
	AutoAllow bool
}

// Coordinator owns the authoritative lock state. All transitions are
// serialized under its mutex; command execution happens outside the
// transition but still under the mutex so observers see effects in
// transition order.
type Coordinator struct {
	mu      sync.Mutex
	state   State
	timer   *time.Timer
	cfg     Config
	overlay Overlay
	sink    Sink
	store   Store
	log     *logging.Logger
	now     func() time.Time
}

// Option customizes a Coordinator.
type Option func(*Coordinator)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithStore enables lock persistence.
func WithStore(s Store) Option {
	return func(c *Coordinator) { c.store = s }
}

// NewCoordinator builds a coordinator. overlay and sink must be
// non-nil; use NopOverlay for headless operation.
func NewCoordinator(cfg Config, overlay Overlay, sink Sink, opts ...Option) *Coordinator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 300 * time.Second
	}
	c := &Coordinator{
		cfg:     cfg,
		overlay: overlay,
		sink:    sink,
		log:     logging.Default().WithComponent("lock"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Snapshot returns a copy of the current state.
func (c *Coordinator) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.state
	if s.Request != nil {
		s.Request = cloneRequest(s.Request)
	}
	return s
}

// Locked reports whether the machine is currently locked.
func (c *Coordinator) Locked() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Locked()
}

// EngageParams describes a lock trigger.
type EngageParams struct {
	Reason        string
	Confidence    float64
	Keywords      []string
	ScreenshotRef string
}

// Engage locks the machine (or coalesces into the live lock) and
// returns the approval request id.
func (c *Coordinator) Engage(p EngageParams) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	req := ApprovalRequest{
		ID:            uuid.NewString(),
		Reasons:       []string{p.Reason},
		Confidence:    p.Confidence,
		Keywords:      p.Keywords,
		ScreenshotRef: p.ScreenshotRef,
		CreatedAt:     now,
	}
	wasLocked := c.state.Locked()
	if err := c.transition(Engage{Request: req, Timeout: c.cfg.Timeout, At: now}); err != nil {
		return "", err
	}
	if !wasLocked {
		c.armTimer()
		if c.store != nil {
			if err := c.store.SaveLock(*c.state.Request, c.state.OpenedAt, c.state.TimeoutAt); err != nil {
				c.log.Error("persisting lock failed", "error", err)
			}
		}
	}
	return c.state.Request.ID, nil
}

// Approve resolves the named request and unlocks.
func (c *Coordinator) Approve(requestID, approver string) error {
	return c.resolve(func(now time.Time) Input {
		return Approve{RequestID: requestID, Approver: approver, At: now}
	}, requestID, ResolutionApproval, approver)
}

// Deny keeps the lock and restarts the approval window.
func (c *Coordinator) Deny(requestID, approver string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if err := c.transition(Deny{RequestID: requestID, Approver: approver, Timeout: c.cfg.Timeout, At: now}); err != nil {
		return err
	}
	c.armTimer()
	if c.store != nil {
		if err := c.store.SaveLock(*c.state.Request, c.state.OpenedAt, c.state.TimeoutAt); err != nil {
			c.log.Error("persisting lock failed", "error", err)
		}
	}
	return nil
}

// Override unlocks via the authenticated manual path.
func (c *Coordinator) Override(source string) error {
	c.mu.Lock()
	id := ""
	if c.state.Request != nil {
		id = c.state.Request.ID
	}
	c.mu.Unlock()
	return c.resolve(func(now time.Time) Input {
		return Override{Source: source, At: now}
	}, id, ResolutionOverride, source)
}

func (c *Coordinator) resolve(mk func(time.Time) Input, requestID string, res Resolution, approver string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if err := c.transition(mk(now)); err != nil {
		return err
	}
	c.disarmTimer()
	if c.store != nil && requestID != "" {
		if err := c.store.ResolveLock(requestID, res, approver, now); err != nil {
			c.log.Error("recording lock resolution failed", "error", err)
		}
	}
	return nil
}

// Resume restores a persisted lock after a daemon restart. A lock whose
// window already lapsed follows the configured timeout policy.
func (c *Coordinator) Resume() error {
	if c.store == nil {
		return nil
	}
	req, openedAt, timeoutAt, err := c.store.PendingLock()
	if err != nil {
		return fmt.Errorf("loading pending lock: %w", err)
	}
	if req == nil {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = State{Request: cloneRequest(req), OpenedAt: openedAt, TimeoutAt: timeoutAt}
	c.log.Warn("resuming lock from previous run",
		"request_id", req.ID, "opened_at", openedAt, "timeout_at", timeoutAt)

	if err := c.overlay.Show(req.Reason(), "waiting for parent approval"); err != nil {
		c.log.Error("overlay display failed", "error", err)
	}
	c.sink.Execute(AnnounceLocked{Request: *req, TimeoutAt: timeoutAt})

	if !c.now().Before(timeoutAt) {
		return c.transitionExpire()
	}
	c.armTimer()
	return nil
}

// expire runs on the timer goroutine when the approval window lapses.
func (c *Coordinator) expire() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.state.Locked() || c.now().Before(c.state.TimeoutAt) {
		return
	}
	if err := c.transitionExpire(); err != nil {
		c.log.Error("timeout transition failed", "error", err)
	}
}

func (c *Coordinator) transitionExpire() error {
	now := c.now()
	id := c.state.Request.ID
	if err := c.transition(Expire{AutoAllow: c.cfg.AutoAllow, At: now}); err != nil {
		return err
	}
	if c.cfg.AutoAllow {
		c.log.Warn("lock auto-released after approval timeout", "request_id", id)
		if c.store != nil {
			if err := c.store.ResolveLock(id, ResolutionAutoAllow, "", now); err != nil {
				c.log.Error("recording lock resolution failed", "error", err)
			}
		}
	}
	return nil
}

// transition applies one input and executes the resulting commands.
// Caller holds c.mu.
func (c *Coordinator) transition(in Input) error {
	next, cmds, err := Apply(c.state, in)
	if err != nil {
		return err
	}
	if err := next.Check(); err != nil {
		// A broken invariant here is a bug, not an operational fault.
		c.log.Error("lock invariant violated", "error", err)
		return err
	}
	c.state = next
	for _, cmd := range cmds {
		c.execute(cmd)
	}
	return nil
}

func (c *Coordinator) execute(cmd Command) {
	switch cmd := cmd.(type) {
	case ShowOverlay:
		if err := c.overlay.Show(cmd.Reason, cmd.Status); err != nil {
			// The lock stands even when the overlay cannot render;
			// state stays truthful and the retry happens on update.
			c.log.Error("overlay display failed", "error", err)
		}
	case UpdateOverlay:
		if err := c.overlay.Update(cmd.Status); err != nil {
			c.log.Error("overlay update failed", "error", err)
		}
	case HideOverlay:
		if err := c.overlay.Hide(); err != nil {
			c.log.Error("overlay dismiss failed", "error", err)
		}
	default:
		c.sink.Execute(cmd)
	}
}

func (c *Coordinator) armTimer() {
	c.disarmTimer()
	d := c.state.TimeoutAt.Sub(c.now())
	if d < 0 {
		d = 0
	}
	c.timer = time.AfterFunc(d, c.expire)
}

func (c *Coordinator) disarmTimer() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// Close stops the timeout timer. The lock state itself is preserved
// (and persisted, when a store is configured).
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disarmTimer()
}

// NopOverlay ignores all overlay operations.
type NopOverlay struct{}

// Show implements Overlay.
func (NopOverlay) Show(string, string) error { return nil }

// Update implements Overlay.
func (NopOverlay) Update(string) error { return nil }

// Hide implements Overlay.
func (NopOverlay) Hide() error { return nil }
