// Package capture pairs finalized input segments with screen
// snapshots. The actual screen grab is an external collaborator behind
// the Capturer contract; this package owns timeouts, queueing, and
// graceful degradation to text-only analysis.
package capture

import (
	"context"
	"errors"
	"time"

	"guardiand/internal/segment"
)

// Capturer is the external screen-capture collaborator.
type Capturer interface {
	// Capture returns encoded image bytes for the current screen.
	Capture(ctx context.Context) ([]byte, error)
}

// CapturerFunc adapts a function to the Capturer interface.
type CapturerFunc func(ctx context.Context) ([]byte, error)

// Capture implements Capturer.
func (f CapturerFunc) Capture(ctx context.Context) ([]byte, error) {
	return f(ctx)
}

// ErrUnavailable is returned by capturers that cannot grab the screen
// (missing permission, headless session).
var ErrUnavailable = errors.New("screen capture unavailable")

// Context is a finalized segment plus zero-or-one screen image taken
// shortly after completion. Immutable once constructed, except that the
// image is released after analysis to reclaim memory.
type Context struct {
	Segment *segment.Segment

	// Image is nil when capture failed or was disabled; analysis
	// degrades to text-only.
	Image []byte

	// Latency is how long the capture took (zero when no image).
	Latency time.Duration
}

// ReleaseImage drops the image bytes. The text is retained for the
// ledger; the screenshot is not.
func (c *Context) ReleaseImage() {
	c.Image = nil
}
