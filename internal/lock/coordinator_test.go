package lock

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeOverlay struct {
	mu      sync.Mutex
	shown   bool
	status  string
	showErr error
}

func (f *fakeOverlay) Show(reason, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.showErr != nil {
		return f.showErr
	}
	f.shown = true
	f.status = status
	return nil
}

func (f *fakeOverlay) Update(status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = status
	return nil
}

func (f *fakeOverlay) Hide() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shown = false
	return nil
}

type recordingSink struct {
	mu   sync.Mutex
	cmds []Command
}

func (r *recordingSink) Execute(cmd Command) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cmds = append(r.cmds, cmd)
}

func (r *recordingSink) transitions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, cmd := range r.cmds {
		if t, ok := cmd.(RecordTransition); ok {
			out = append(out, t.Transition)
		}
	}
	return out
}

type memoryLockStore struct {
	mu      sync.Mutex
	pending *ApprovalRequest
	opened  time.Time
	timeout time.Time
}

func (m *memoryLockStore) SaveLock(req ApprovalRequest, openedAt, timeoutAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := req
	m.pending = &cp
	m.opened = openedAt
	m.timeout = timeoutAt
	return nil
}

func (m *memoryLockStore) ResolveLock(string, Resolution, string, time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = nil
	return nil
}

func (m *memoryLockStore) PendingLock() (*ApprovalRequest, time.Time, time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending, m.opened, m.timeout, nil
}

func TestCoordinatorEngageApprove(t *testing.T) {
	ov := &fakeOverlay{}
	sink := &recordingSink{}
	c := NewCoordinator(Config{Timeout: time.Hour}, ov, sink)
	defer c.Close()

	id, err := c.Engage(EngageParams{Reason: "blocked content", Confidence: 0.95})
	require.NoError(t, err)
	require.NotEmpty(t, id)
	assert.True(t, c.Locked())
	assert.True(t, ov.shown)

	require.NoError(t, c.Approve(id, "parent"))
	assert.False(t, c.Locked())
	assert.False(t, ov.shown)
	assert.Equal(t, []string{"locked", "unlocked"}, sink.transitions())
}

func TestCoordinatorCoalescesRepeatEngage(t *testing.T) {
	c := NewCoordinator(Config{Timeout: time.Hour}, &fakeOverlay{}, &recordingSink{})
	defer c.Close()

	id1, err := c.Engage(EngageParams{Reason: "first"})
	require.NoError(t, err)
	id2, err := c.Engage(EngageParams{Reason: "second"})
	require.NoError(t, err)

	assert.Equal(t, id1, id2, "repeat triggers must not open a second request")
	snap := c.Snapshot()
	assert.Equal(t, []string{"first", "second"}, snap.Request.Reasons)
}

func TestCoordinatorStaleApprovalRejected(t *testing.T) {
	c := NewCoordinator(Config{Timeout: time.Hour}, &fakeOverlay{}, &recordingSink{})
	defer c.Close()

	id, err := c.Engage(EngageParams{Reason: "x"})
	require.NoError(t, err)
	assert.ErrorIs(t, c.Approve("bogus", "parent"), ErrRequestMismatch)
	require.NoError(t, c.Approve(id, "parent"))
	assert.ErrorIs(t, c.Approve(id, "parent"), ErrNotLocked)
	assert.ErrorIs(t, c.Deny(id, "parent"), ErrNotLocked)
}

func TestCoordinatorTimeoutRemainsLocked(t *testing.T) {
	sink := &recordingSink{}
	c := NewCoordinator(Config{Timeout: 10 * time.Millisecond}, &fakeOverlay{}, sink)
	defer c.Close()

	_, err := c.Engage(EngageParams{Reason: "x"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		for _, tr := range sink.transitions() {
			if tr == "timeout" {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)
	assert.True(t, c.Locked(), "default policy keeps the lock after timeout")
}

func TestCoordinatorTimeoutAutoAllow(t *testing.T) {
	store := &memoryLockStore{}
	c := NewCoordinator(Config{Timeout: 10 * time.Millisecond, AutoAllow: true},
		&fakeOverlay{}, &recordingSink{}, WithStore(store))
	defer c.Close()

	_, err := c.Engage(EngageParams{Reason: "x"})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return !c.Locked() }, 2*time.Second, 5*time.Millisecond)
	pending, _, _, _ := store.PendingLock()
	assert.Nil(t, pending, "auto-allow must clear the persisted lock")
}

func TestCoordinatorResume(t *testing.T) {
	store := &memoryLockStore{}
	ov := &fakeOverlay{}
	c := NewCoordinator(Config{Timeout: time.Hour}, ov, &recordingSink{}, WithStore(store))
	id, err := c.Engage(EngageParams{Reason: "persisted"})
	require.NoError(t, err)
	c.Close()

	// Fresh coordinator, same store: the lock must come back.
	ov2 := &fakeOverlay{}
	c2 := NewCoordinator(Config{Timeout: time.Hour}, ov2, &recordingSink{}, WithStore(store))
	defer c2.Close()
	require.NoError(t, c2.Resume())
	assert.True(t, c2.Locked())
	assert.True(t, ov2.shown)
	assert.Equal(t, id, c2.Snapshot().Request.ID)
}

func TestCoordinatorLockStandsWhenOverlayFails(t *testing.T) {
	ov := &fakeOverlay{showErr: assert.AnError}
	c := NewCoordinator(Config{Timeout: time.Hour}, ov, &recordingSink{})
	defer c.Close()

	_, err := c.Engage(EngageParams{Reason: "x"})
	require.NoError(t, err)
	assert.True(t, c.Locked(), "overlay failure must not release the lock")
	assert.False(t, ov.shown)
}
