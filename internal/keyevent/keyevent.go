// Package keyevent defines the contract between the platform keyboard
// hook and the monitoring pipeline.
//
// IMPORTANT: guardiand consumes a stream of key events supplied by an
// external capture collaborator. This package does not install OS-level
// hooks itself; it defines the event shape, the source contract, and a
// simulated source for tests.
package keyevent

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Kind classifies a key event.
type Kind int

const (
	// KindRune is a printable character.
	KindRune Kind = iota
	// KindCommit is the designated commit key (Enter).
	KindCommit
	// KindCancel is the designated cancel key (Escape).
	KindCancel
	// KindBackspace removes the last buffered character.
	KindBackspace
	// KindOther is any non-printable or modifier-only event.
	KindOther
)

// Event is a single keyboard event delivered by the capture source.
// Events arrive serialized in time order from a single source.
type Event struct {
	Kind      Kind
	Rune      rune
	Modifier  bool
	Timestamp time.Time
}

// Source delivers keyboard events in real time. Ordering and
// no-duplication are required; timing exactness is not.
type Source interface {
	// Start begins delivering events until ctx is cancelled.
	Start(ctx context.Context) error

	// Stop stops event delivery and closes the event channel.
	Stop() error

	// Events returns the channel events are delivered on.
	Events() <-chan Event

	// Available reports whether capture is possible on this platform
	// with current permissions, with a human-readable detail.
	Available() (bool, string)
}

// ErrAlreadyRunning is returned when Start is called twice.
var ErrAlreadyRunning = errors.New("key event source already running")

// SimulatedSource is a Source for testing that delivers injected events.
type SimulatedSource struct {
	mu      sync.Mutex
	ch      chan Event
	running bool
}

// NewSimulated creates a simulated source for testing.
func NewSimulated() *SimulatedSource {
	return &SimulatedSource{ch: make(chan Event, 64)}
}

// Start begins the simulated source.
func (s *SimulatedSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrAlreadyRunning
	}
	s.running = true
	return nil
}

// Stop stops the simulated source and closes its channel.
func (s *SimulatedSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	s.running = false
	close(s.ch)
	return nil
}

// Events returns the event channel.
func (s *SimulatedSource) Events() <-chan Event {
	return s.ch
}

// Available returns true (simulated is always available).
func (s *SimulatedSource) Available() (bool, string) {
	return true, "simulated source (for testing)"
}

// Type injects a sequence of printable characters.
func (s *SimulatedSource) Type(text string, at time.Time) {
	for _, r := range text {
		s.ch <- Event{Kind: KindRune, Rune: r, Timestamp: at}
	}
}

// Press injects a single non-printable event.
func (s *SimulatedSource) Press(kind Kind, at time.Time) {
	s.ch <- Event{Kind: kind, Timestamp: at}
}
