package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"guardiand/internal/judge"
	"guardiand/internal/ledger"
	"guardiand/internal/lock"
)

var t0 = time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "guardian.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSessionRoundTrip(t *testing.T) {
	s := openTestStore(t)

	profile := judge.Profile{AgeGroup: judge.AgeElementary, Strictness: judge.StrictnessModerate}
	require.NoError(t, s.BeginSession("s1", t0, profile))
	require.NoError(t, s.EndSession("s1", t0.Add(time.Hour), ledger.Summary{SessionID: "s1", Entries: 3}))

	sessions, err := s.Sessions(10)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "s1", sessions[0].ID)
	assert.Equal(t, judge.AgeElementary, sessions[0].AgeGroup)
	assert.Equal(t, t0.UnixNano(), sessions[0].StartedAt.UnixNano())
	assert.Equal(t, t0.Add(time.Hour).UnixNano(), sessions[0].EndedAt.UnixNano())
}

func TestEntriesRoundTrip(t *testing.T) {
	s := openTestStore(t)
	profile := judge.Profile{AgeGroup: judge.AgeMiddleSchool, Strictness: judge.StrictnessStrict}
	require.NoError(t, s.BeginSession("s1", t0, profile))

	in := ledger.Entry{
		Seq:        1,
		Kind:       ledger.EventJudgment,
		At:         t0.Add(time.Second),
		SegmentID:  "seg-1",
		Category:   judge.CategoryDangerous,
		Confidence: 0.97,
		Action:     judge.ActionBlock,
		RuleID:     "EMERGENCY",
		Emergency:  true,
		Detail:     "emergency keyword",
	}
	require.NoError(t, s.InsertEntry("s1", in))
	s.AppendEntry("s1", ledger.Entry{Seq: 2, Kind: ledger.EventLock, At: t0.Add(2 * time.Second), RequestID: "r1"})

	got, err := s.Entries("s1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, in.SegmentID, got[0].SegmentID)
	assert.Equal(t, in.Category, got[0].Category)
	assert.Equal(t, in.Action, got[0].Action)
	assert.True(t, got[0].Emergency)
	assert.Equal(t, in.At.UnixNano(), got[0].At.UnixNano())
	assert.Equal(t, ledger.EventLock, got[1].Kind)
}

func TestLockPersistence(t *testing.T) {
	s := openTestStore(t)

	req := lock.ApprovalRequest{
		ID:         "r1",
		Reasons:    []string{"blocked content"},
		Confidence: 0.9,
		Keywords:   []string{"weapon"},
		CreatedAt:  t0,
	}
	require.NoError(t, s.SaveLock(req, t0, t0.Add(5*time.Minute)))

	pending, openedAt, timeoutAt, err := s.PendingLock()
	require.NoError(t, err)
	require.NotNil(t, pending)
	assert.Equal(t, "r1", pending.ID)
	assert.Equal(t, []string{"blocked content"}, pending.Reasons)
	assert.Equal(t, []string{"weapon"}, pending.Keywords)
	assert.Equal(t, t0.UnixNano(), openedAt.UnixNano())
	assert.Equal(t, t0.Add(5*time.Minute).UnixNano(), timeoutAt.UnixNano())

	// A denial extends the deadline through a second save.
	req.Reasons = append(req.Reasons, "second incident")
	require.NoError(t, s.SaveLock(req, t0, t0.Add(10*time.Minute)))
	pending, _, timeoutAt, err = s.PendingLock()
	require.NoError(t, err)
	assert.Len(t, pending.Reasons, 2)
	assert.Equal(t, t0.Add(10*time.Minute).UnixNano(), timeoutAt.UnixNano())

	require.NoError(t, s.ResolveLock("r1", lock.ResolutionApproval, "parent", t0.Add(time.Minute)))
	pending, _, _, err = s.PendingLock()
	require.NoError(t, err)
	assert.Nil(t, pending)
}

func TestPendingLockEmpty(t *testing.T) {
	s := openTestStore(t)
	pending, _, _, err := s.PendingLock()
	require.NoError(t, err)
	assert.Nil(t, pending)
}

func TestPruneBefore(t *testing.T) {
	s := openTestStore(t)
	profile := judge.Profile{AgeGroup: judge.AgeHighSchool, Strictness: judge.StrictnessPermissive}

	require.NoError(t, s.BeginSession("old", t0.Add(-48*time.Hour), profile))
	require.NoError(t, s.InsertEntry("old", ledger.Entry{Seq: 1, Kind: ledger.EventJudgment, At: t0.Add(-48 * time.Hour)}))
	require.NoError(t, s.EndSession("old", t0.Add(-47*time.Hour), ledger.Summary{}))

	require.NoError(t, s.BeginSession("new", t0, profile))
	require.NoError(t, s.InsertEntry("new", ledger.Entry{Seq: 1, Kind: ledger.EventJudgment, At: t0}))

	removed, err := s.PruneBefore(t0.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed, "old entry and old session")

	entries, err := s.Entries("new")
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	sessions, err := s.Sessions(10)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "new", sessions[0].ID)
}
