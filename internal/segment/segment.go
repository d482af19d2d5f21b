// Package segment turns a raw key event stream into discrete input
// segments: one logical utterance per segment, bounded by a commit key,
// an idle gap, or a length threshold.
package segment

import (
	"time"

	"github.com/google/uuid"
)

// CompletionReason records why a segment was finalized.
type CompletionReason string

const (
	// ReasonEnterKey means the commit key finalized the segment.
	ReasonEnterKey CompletionReason = "enter-key"
	// ReasonIdleTimeout means the idle gap finalized the segment.
	ReasonIdleTimeout CompletionReason = "idle-timeout"
	// ReasonLengthThreshold means the segment hit the length threshold
	// while idle, or the hard cap.
	ReasonLengthThreshold CompletionReason = "length-threshold"
)

// Segment is one complete unit of typed input. Immutable once
// finalized by the Aggregator.
type Segment struct {
	ID        string
	StartedAt time.Time
	EndedAt   time.Time
	Text      string
	Reason    CompletionReason
}

func newSegmentID() string {
	return uuid.NewString()
}
