package segment

import (
	"strings"
	"time"

	"guardiand/internal/keyevent"
)

// Config holds aggregation thresholds.
type Config struct {
	// IdleTimeout finalizes an open segment after this much silence.
	IdleTimeout time.Duration

	// IdleShort is the reduced silence window applied once the buffer
	// holds at least LengthThreshold characters.
	IdleShort time.Duration

	// LengthThreshold is the buffered length at which IdleShort applies.
	LengthThreshold int

	// HardCap force-finalizes an unterminated segment to bound memory
	// and keep analysis payloads small.
	HardCap int
}

// DefaultConfig returns the default aggregation thresholds.
func DefaultConfig() Config {
	return Config{
		IdleTimeout:     2 * time.Second,
		IdleShort:       1 * time.Second,
		LengthThreshold: 10,
		HardCap:         500,
	}
}

// Aggregator buffers key events into segments. At most one segment is
// open at a time. It is not safe for concurrent use; the monitoring
// loop serializes key events and idle checks on a single goroutine.
type Aggregator struct {
	cfg Config

	open    bool
	id      string
	started time.Time
	lastKey time.Time
	buf     []rune
}

// New creates an Aggregator with the given thresholds. Zero values in
// cfg fall back to defaults.
func New(cfg Config) *Aggregator {
	def := DefaultConfig()
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = def.IdleTimeout
	}
	if cfg.IdleShort <= 0 {
		cfg.IdleShort = def.IdleShort
	}
	if cfg.LengthThreshold <= 0 {
		cfg.LengthThreshold = def.LengthThreshold
	}
	if cfg.HardCap <= 0 {
		cfg.HardCap = def.HardCap
	}
	return &Aggregator{cfg: cfg}
}

// Open reports whether a segment is currently buffering.
func (a *Aggregator) Open() bool {
	return a.open
}

// OnKeyEvent feeds one key event into the aggregator. It returns a
// finalized segment when a completion condition fires, nil while still
// buffering. Modifier-only and unrecognized events are ignored.
func (a *Aggregator) OnKeyEvent(ev keyevent.Event) *Segment {
	switch ev.Kind {
	case keyevent.KindRune:
		if ev.Modifier {
			return nil
		}
		// A long pause before this keystroke closes the previous
		// utterance; the finalized segment is returned and the new
		// character starts the next one.
		var done *Segment
		if a.open && ev.Timestamp.Sub(a.lastKey) >= a.idleWindow() {
			done = a.finalize(a.idleReason(), a.lastKey)
		}
		if !a.open {
			a.begin(ev.Timestamp)
		}
		a.buf = append(a.buf, ev.Rune)
		a.lastKey = ev.Timestamp
		if len(a.buf) >= a.cfg.HardCap {
			capped := a.finalize(ReasonLengthThreshold, ev.Timestamp)
			if done == nil {
				return capped
			}
			// Both cannot fire from one keystroke unless the cap is 1;
			// prefer the earlier segment and drop the single rune.
			return done
		}
		return done

	case keyevent.KindCommit:
		if !a.open {
			return nil
		}
		return a.finalize(ReasonEnterKey, ev.Timestamp)

	case keyevent.KindCancel:
		a.reset()
		return nil

	case keyevent.KindBackspace:
		if a.open && len(a.buf) > 0 {
			a.buf = a.buf[:len(a.buf)-1]
			a.lastKey = ev.Timestamp
		}
		return nil

	default:
		return nil
	}
}

// CheckIdle finalizes the open segment if the idle window has elapsed
// at time now. The monitoring loop calls this on a ticker so trailing
// input is flushed without further typing.
func (a *Aggregator) CheckIdle(now time.Time) *Segment {
	if !a.open {
		return nil
	}
	if now.Sub(a.lastKey) < a.idleWindow() {
		return nil
	}
	return a.finalize(a.idleReason(), a.lastKey)
}

func (a *Aggregator) idleWindow() time.Duration {
	if len(a.buf) >= a.cfg.LengthThreshold {
		return a.cfg.IdleShort
	}
	return a.cfg.IdleTimeout
}

func (a *Aggregator) idleReason() CompletionReason {
	if len(a.buf) >= a.cfg.LengthThreshold {
		return ReasonLengthThreshold
	}
	return ReasonIdleTimeout
}

func (a *Aggregator) begin(at time.Time) {
	a.open = true
	a.id = newSegmentID()
	a.started = at
	a.lastKey = at
	a.buf = a.buf[:0]
}

// finalize closes the open segment. Whitespace-only segments are
// discarded, not emitted.
func (a *Aggregator) finalize(reason CompletionReason, endedAt time.Time) *Segment {
	text := string(a.buf)
	seg := &Segment{
		ID:        a.id,
		StartedAt: a.started,
		EndedAt:   endedAt,
		Text:      text,
		Reason:    reason,
	}
	a.reset()
	if strings.TrimSpace(text) == "" {
		return nil
	}
	return seg
}

func (a *Aggregator) reset() {
	a.open = false
	a.id = ""
	a.buf = a.buf[:0]
}
