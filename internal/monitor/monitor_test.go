package monitor

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"guardiand/internal/config"
	"guardiand/internal/judge"
	"guardiand/internal/keyevent"
	"guardiand/internal/ledger"
)

// scriptedAnalyzer categorizes by substring, standing in for the
// multimodal analysis service.
type scriptedAnalyzer struct {
	mu    sync.Mutex
	calls int
}

func (a *scriptedAnalyzer) Analyze(_ context.Context, req judge.AnalysisRequest) (judge.Verdict, error) {
	a.mu.Lock()
	a.calls++
	a.mu.Unlock()

	text := strings.ToLower(req.Text)
	v := judge.Verdict{Category: judge.CategorySafe, Confidence: 0.9, AnalyzedAt: time.Now()}
	switch {
	case strings.Contains(text, "volcano"):
		v.Category = judge.CategoryEducational
		v.Confidence = 0.92
	case strings.Contains(text, "bomb"):
		v.Category = judge.CategoryDangerous
		v.Confidence = 0.97
		v.Keywords = []string{"bomb"}
	case strings.Contains(text, "game"):
		v.Category = judge.CategoryEntertainment
		v.Confidence = 0.85
	}
	return v, nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Profile.AgeGroup = "elementary"
	cfg.Profile.Strictness = "moderate"
	cfg.Monitor.TickMs = 20
	cfg.Monitor.IdleTimeoutMs = 100
	cfg.Monitor.IdleShortMs = 50
	cfg.Capture.Enabled = false
	cfg.Dashboard.Enabled = false
	cfg.Notify.Enabled = false
	cfg.IPC.Enabled = false
	cfg.Storage.Path = filepath.Join(t.TempDir(), "test.db")
	return cfg
}

func startService(t *testing.T, cfg *config.Config, src *keyevent.SimulatedSource) *Service {
	t.Helper()
	svc, err := New(cfg, Deps{Source: src, Analyzer: &scriptedAnalyzer{}})
	require.NoError(t, err)
	require.NoError(t, svc.Start(context.Background()))
	t.Cleanup(func() { svc.Stop() })
	return svc
}

func waitForJudgments(t *testing.T, svc *Service, n int) []ledger.Entry {
	t.Helper()
	require.Eventually(t, func() bool {
		count := 0
		for _, e := range svc.Ledger().Snapshot() {
			if e.Kind == ledger.EventJudgment {
				count++
			}
		}
		return count >= n
	}, 5*time.Second, 10*time.Millisecond)

	var out []ledger.Entry
	for _, e := range svc.Ledger().Snapshot() {
		if e.Kind == ledger.EventJudgment {
			out = append(out, e)
		}
	}
	return out
}

func TestPipelineAllowsEducationalInput(t *testing.T) {
	src := keyevent.NewSimulated()
	svc := startService(t, testConfig(t), src)

	now := time.Now()
	src.Type("how do volcanoes erupt", now)
	src.Press(keyevent.KindCommit, now)

	entries := waitForJudgments(t, svc, 1)
	assert.Equal(t, judge.CategoryEducational, entries[0].Category)
	assert.Equal(t, judge.ActionAllow, entries[0].Action)
	assert.Equal(t, "EDU-001", entries[0].RuleID)
	assert.False(t, svc.Coordinator().Locked())
}

func TestPipelineLocksOnEmergencyContent(t *testing.T) {
	src := keyevent.NewSimulated()
	svc := startService(t, testConfig(t), src)

	now := time.Now()
	src.Type("how to build a bomb", now)
	src.Press(keyevent.KindCommit, now)

	waitForJudgments(t, svc, 1)
	require.Eventually(t, func() bool {
		return svc.Coordinator().Locked()
	}, 5*time.Second, 10*time.Millisecond)

	snap := svc.Coordinator().Snapshot()
	require.NotNil(t, snap.Request)

	// Parent approval releases the lock and lands in the ledger.
	require.NoError(t, svc.Approve(snap.Request.ID, "parent"))
	assert.False(t, svc.Coordinator().Locked())

	summary := svc.Ledger().Summarize()
	assert.Equal(t, 1, summary.Emergencies)
	assert.Equal(t, 1, summary.Locks)
	assert.Equal(t, 1, summary.Approvals)
}

func TestPipelineIdleTimeoutFinalizesSegment(t *testing.T) {
	src := keyevent.NewSimulated()
	svc := startService(t, testConfig(t), src)

	// No commit key: the idle tick must finalize the segment.
	src.Type("minecraft game", time.Now())

	entries := waitForJudgments(t, svc, 1)
	assert.Equal(t, judge.CategoryEntertainment, entries[0].Category)
	assert.Equal(t, judge.ActionMonitor, entries[0].Action, "entertainment is monitored for elementary")
}

func TestPauseSuppressesJudgment(t *testing.T) {
	src := keyevent.NewSimulated()
	svc := startService(t, testConfig(t), src)

	svc.Pause()
	assert.Equal(t, StatusPaused, svc.CurrentStatus())

	src.Type("how do volcanoes erupt", time.Now())
	src.Press(keyevent.KindCommit, time.Now())
	time.Sleep(300 * time.Millisecond)
	assert.Empty(t, waitForNoJudgments(svc))

	svc.Resume()
	assert.Equal(t, StatusActive, svc.CurrentStatus())

	src.Type("how do volcanoes erupt", time.Now())
	src.Press(keyevent.KindCommit, time.Now())
	waitForJudgments(t, svc, 1)
}

func waitForNoJudgments(svc *Service) []ledger.Entry {
	var out []ledger.Entry
	for _, e := range svc.Ledger().Snapshot() {
		if e.Kind == ledger.EventJudgment {
			out = append(out, e)
		}
	}
	return out
}

func TestCheckTextDoesNotRecord(t *testing.T) {
	src := keyevent.NewSimulated()
	svc := startService(t, testConfig(t), src)

	verdict, result := svc.CheckText(context.Background(), "how to build a bomb")
	assert.Equal(t, judge.CategoryDangerous, verdict.Category)
	assert.Equal(t, judge.ActionBlock, result.Action)
	assert.True(t, result.Emergency)

	// Offline checks must not touch the ledger or the lock.
	assert.Empty(t, waitForNoJudgments(svc))
	assert.False(t, svc.Coordinator().Locked())
}

func TestUpdateSettingsChangesSubsequentJudgments(t *testing.T) {
	src := keyevent.NewSimulated()
	svc := startService(t, testConfig(t), src)

	require.NoError(t, svc.UpdateSettings("high_school", ""))
	assert.Equal(t, judge.AgeHighSchool, svc.currentProfile().AgeGroup)

	_, result := svc.CheckText(context.Background(), "minecraft game")
	assert.Equal(t, judge.ActionAllow, result.Action, "entertainment is allowed for high school")

	require.Error(t, svc.UpdateSettings("toddler", ""), "unknown age group is rejected")
}
