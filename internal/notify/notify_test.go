package notify

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"guardiand/internal/judge"
)

func TestUrgencyFor(t *testing.T) {
	assert.Equal(t, UrgencyCritical, UrgencyFor(judge.ActionBlock))
	assert.Equal(t, UrgencyNormal, UrgencyFor(judge.ActionRestrict))
	assert.Equal(t, UrgencyLow, UrgencyFor(judge.ActionMonitor))
	assert.Equal(t, UrgencyLow, UrgencyFor(judge.ActionAllow))
}

type stubNotifier struct {
	sent []Notification
	err  error
}

func (s *stubNotifier) Send(n Notification) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, n)
	return nil
}

func (s *stubNotifier) Close() error { return nil }

func TestFallbackUsesPrimaryWhenHealthy(t *testing.T) {
	primary := &stubNotifier{}
	secondary := &stubNotifier{}
	f := NewFallback(primary, secondary)

	require.NoError(t, f.Send(Notification{Title: "hi"}))
	assert.Len(t, primary.sent, 1)
	assert.Empty(t, secondary.sent)
}

func TestFallbackRoutesAroundFailure(t *testing.T) {
	primary := &stubNotifier{err: errors.New("no bus")}
	secondary := &stubNotifier{}
	f := NewFallback(primary, secondary)

	require.NoError(t, f.Send(Notification{Title: "a"}))
	require.NoError(t, f.Send(Notification{Title: "b"}))
	assert.Len(t, secondary.sent, 2)

	// Primary recovery is picked up on the next send.
	primary.err = nil
	require.NoError(t, f.Send(Notification{Title: "c"}))
	assert.Len(t, primary.sent, 1)
}
