package keyevent

import (
	"bufio"
	"context"
	"io"
	"os"
	"sync"
	"time"
)

// StdinSource reads lines from a reader (normally os.Stdin) and replays
// each line as a run of rune events followed by a commit. It exists for
// piped and interactive demo sessions where no platform keyboard hook
// is installed.
type StdinSource struct {
	r io.Reader

	mu      sync.Mutex
	ch      chan Event
	cancel  context.CancelFunc
	running bool
}

// NewStdin creates a source reading from os.Stdin.
func NewStdin() *StdinSource {
	return NewStdinFrom(os.Stdin)
}

// NewStdinFrom creates a source reading from r.
func NewStdinFrom(r io.Reader) *StdinSource {
	return &StdinSource{r: r, ch: make(chan Event, 256)}
}

// Start implements Source.
func (s *StdinSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrAlreadyRunning
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.running = true
	go s.read(ctx)
	return nil
}

// Stop implements Source. The event channel closes once the reader
// goroutine observes cancellation or reaches EOF.
func (s *StdinSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	s.running = false
	s.cancel()
	return nil
}

// Events implements Source.
func (s *StdinSource) Events() <-chan Event {
	return s.ch
}

// Available implements Source.
func (s *StdinSource) Available() (bool, string) {
	return true, "line-buffered stdin source"
}

func (s *StdinSource) read(ctx context.Context) {
	defer close(s.ch)
	scanner := bufio.NewScanner(s.r)
	for scanner.Scan() {
		now := time.Now()
		for _, r := range scanner.Text() {
			if !s.emit(ctx, Event{Kind: KindRune, Rune: r, Timestamp: now}) {
				return
			}
		}
		if !s.emit(ctx, Event{Kind: KindCommit, Timestamp: now}) {
			return
		}
	}
}

func (s *StdinSource) emit(ctx context.Context, ev Event) bool {
	select {
	case s.ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
