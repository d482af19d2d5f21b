// Package ledger keeps the session's append-only record of judged
// input and lock activity. Ordering is by completion: entries are
// appended as judgments finish, and each retains its segment id so the
// typing order can be reconstructed.
package ledger

import (
	"sync"
	"time"

	"guardiand/internal/judge"
)

// EventKind classifies a ledger entry.
type EventKind string

const (
	EventJudgment EventKind = "judgment"
	EventLock     EventKind = "lock"
	EventUnlock   EventKind = "unlock"
	EventDenial   EventKind = "denial"
	EventTimeout  EventKind = "timeout"
	EventSession  EventKind = "session"
)

// Entry is one ledger record. Seq is assigned on append and is strictly
// increasing within a session.
type Entry struct {
	Seq        uint64         `json:"seq"`
	Kind       EventKind      `json:"kind"`
	At         time.Time      `json:"at"`
	SegmentID  string         `json:"segment_id,omitempty"`
	Category   judge.Category `json:"category,omitempty"`
	Confidence float64        `json:"confidence,omitempty"`
	Action     judge.Action   `json:"action,omitempty"`
	RuleID     string         `json:"rule_id,omitempty"`
	Emergency  bool           `json:"emergency,omitempty"`
	Fallback   bool           `json:"fallback,omitempty"`
	RequestID  string         `json:"request_id,omitempty"`
	Resolution string         `json:"resolution,omitempty"`
	Approver   string         `json:"approver,omitempty"`
	Detail     string         `json:"detail,omitempty"`
}

// Summary aggregates a session for the dashboard's activity updates.
type Summary struct {
	SessionID   string                 `json:"session_id"`
	StartedAt   time.Time              `json:"started_at"`
	Entries     int                    `json:"entries"`
	Judgments   int                    `json:"judgments"`
	ByCategory  map[judge.Category]int `json:"by_category"`
	ByAction    map[judge.Action]int   `json:"by_action"`
	Locks       int                    `json:"locks"`
	Approvals   int                    `json:"approvals"`
	Denials     int                    `json:"denials"`
	Timeouts    int                    `json:"timeouts"`
	Emergencies int                    `json:"emergencies"`
	LastEntry   time.Time              `json:"last_entry,omitempty"`
}

// Sink receives each appended entry, typically for sqlite persistence.
// Append does not block on sink errors; implementations log their own.
type Sink interface {
	AppendEntry(sessionID string, e Entry)
}

// Ledger is safe for concurrent use.
type Ledger struct {
	mu        sync.RWMutex
	sessionID string
	startedAt time.Time
	seq       uint64
	entries   []Entry
	sink      Sink
}

// New opens a ledger for the given session. sink may be nil.
func New(sessionID string, startedAt time.Time, sink Sink) *Ledger {
	return &Ledger{
		sessionID: sessionID,
		startedAt: startedAt,
		sink:      sink,
	}
}

// SessionID returns the owning session id.
func (l *Ledger) SessionID() string { return l.sessionID }

// Append records one entry, assigning its sequence number in completion
// order. The assigned entry is returned.
func (l *Ledger) Append(e Entry) Entry {
	l.mu.Lock()
	l.seq++
	e.Seq = l.seq
	if e.At.IsZero() {
		e.At = time.Now()
	}
	l.entries = append(l.entries, e)
	l.mu.Unlock()

	if l.sink != nil {
		l.sink.AppendEntry(l.sessionID, e)
	}
	return e
}

// RecordJudgment appends the outcome of one judged segment.
func (l *Ledger) RecordJudgment(segmentID string, v judge.Verdict, res judge.Result) Entry {
	return l.Append(Entry{
		Kind:       EventJudgment,
		At:         res.DecidedAt,
		SegmentID:  segmentID,
		Category:   v.Category,
		Confidence: v.Confidence,
		Action:     res.Action,
		RuleID:     res.RuleID,
		Emergency:  res.Emergency,
		Fallback:   v.Fallback,
		Detail:     res.Reason,
	})
}

// Snapshot returns a copy of all entries in append order.
func (l *Ledger) Snapshot() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Recent returns up to n most recent entries, oldest first.
func (l *Ledger) Recent(n int) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if n <= 0 || n > len(l.entries) {
		n = len(l.entries)
	}
	out := make([]Entry, n)
	copy(out, l.entries[len(l.entries)-n:])
	return out
}

// Len reports the number of entries.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Summarize computes the session summary.
func (l *Ledger) Summarize() Summary {
	l.mu.RLock()
	defer l.mu.RUnlock()

	s := Summary{
		SessionID:  l.sessionID,
		StartedAt:  l.startedAt,
		Entries:    len(l.entries),
		ByCategory: make(map[judge.Category]int),
		ByAction:   make(map[judge.Action]int),
	}
	for _, e := range l.entries {
		switch e.Kind {
		case EventJudgment:
			s.Judgments++
			s.ByCategory[e.Category]++
			s.ByAction[e.Action]++
			if e.Emergency {
				s.Emergencies++
			}
		case EventLock:
			s.Locks++
		case EventUnlock:
			if e.Resolution == "approval" {
				s.Approvals++
			}
		case EventDenial:
			s.Denials++
		case EventTimeout:
			s.Timeouts++
		}
		if e.At.After(s.LastEntry) {
			s.LastEntry = e.At
		}
	}
	return s
}
