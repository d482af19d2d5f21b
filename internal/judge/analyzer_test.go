package judge

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"guardiand/internal/logging"
)

type stubAnalyzer struct {
	verdict Verdict
	err     error
	calls   int
}

func (a *stubAnalyzer) Analyze(ctx context.Context, req AnalysisRequest) (Verdict, error) {
	a.calls++
	if a.err != nil {
		return Verdict{}, a.err
	}
	return a.verdict, nil
}

func newTestJudge(t *testing.T, a Analyzer) *Judge {
	t.Helper()
	engine, err := NewEngine(DefaultRules(), DefaultEmergencyKeywords())
	require.NoError(t, err)
	cache := NewCache(16, time.Minute, nil)
	return New(a, cache, engine, logging.Default().WithComponent("test"))
}

func TestJudgeCachesVerdicts(t *testing.T) {
	a := &stubAnalyzer{verdict: Verdict{Category: CategorySafe, Confidence: 0.9}}
	j := newTestJudge(t, a)

	req := AnalysisRequest{Text: "hello", Profile: elementaryModerate()}
	v1 := j.Analyze(context.Background(), req)
	v2 := j.Analyze(context.Background(), req)

	assert.Equal(t, CategorySafe, v1.Category)
	assert.Equal(t, v1.Category, v2.Category)
	assert.Equal(t, 1, a.calls)
}

func TestJudgeFallbackOnAnalyzerError(t *testing.T) {
	a := &stubAnalyzer{err: errors.New("service down")}
	j := newTestJudge(t, a)

	v, res := j.Evaluate(context.Background(), AnalysisRequest{
		Text: "anything", Profile: elementaryModerate(),
	})
	assert.True(t, v.Fallback)
	assert.Equal(t, CategoryConcerning, v.Category)
	// Zero-confidence fallback lands in the low-confidence monitor rule,
	// never allow.
	assert.Equal(t, ActionMonitor, res.Action)
}

func TestJudgeFallbackNotCached(t *testing.T) {
	a := &stubAnalyzer{err: errors.New("service down")}
	j := newTestJudge(t, a)

	req := AnalysisRequest{Text: "hello", Profile: elementaryModerate()}
	j.Analyze(context.Background(), req)
	j.Analyze(context.Background(), req)
	assert.Equal(t, 2, a.calls)
}

func TestJudgeDegradedAfterConsecutiveFailures(t *testing.T) {
	a := &stubAnalyzer{err: errors.New("service down")}
	j := newTestJudge(t, a)

	for i := 0; i < degradedAfter; i++ {
		assert.False(t, j.Degraded())
		j.Analyze(context.Background(), AnalysisRequest{
			Text: string(rune('a' + i)), Profile: elementaryModerate(),
		})
	}
	assert.True(t, j.Degraded())

	a.err = nil
	a.verdict = Verdict{Category: CategorySafe, Confidence: 0.9}
	j.Analyze(context.Background(), AnalysisRequest{Text: "recovered", Profile: elementaryModerate()})
	assert.False(t, j.Degraded())
}

func TestJudgeTimeoutYieldsFallback(t *testing.T) {
	slow := analyzerFunc(func(ctx context.Context, req AnalysisRequest) (Verdict, error) {
		<-ctx.Done()
		return Verdict{}, ctx.Err()
	})
	engine, err := NewEngine(DefaultRules(), DefaultEmergencyKeywords())
	require.NoError(t, err)
	j := New(slow, NewCache(16, time.Minute, nil), engine,
		logging.Default().WithComponent("test"), WithTimeout(10*time.Millisecond))

	v := j.Analyze(context.Background(), AnalysisRequest{Text: "slow", Profile: elementaryModerate()})
	assert.True(t, v.Fallback)
}

type analyzerFunc func(ctx context.Context, req AnalysisRequest) (Verdict, error)

func (f analyzerFunc) Analyze(ctx context.Context, req AnalysisRequest) (Verdict, error) {
	return f(ctx, req)
}
