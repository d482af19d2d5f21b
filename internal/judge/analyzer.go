package judge

import (
	"context"
	"sync"
	"time"

	"guardiand/internal/logging"
)

// AnalysisRequest carries one capture context to the analysis
// collaborator. Image is nil for text-only analysis.
type AnalysisRequest struct {
	Text    string
	Image   []byte
	Profile Profile
}

// Analyzer is the external multimodal analysis collaborator. It is
// network-bound and rate-limited; the Judge shields it with a cache and
// a hard timeout.
type Analyzer interface {
	Analyze(ctx context.Context, req AnalysisRequest) (Verdict, error)
}

// Judge ties analysis dispatch and rule application together: verdicts
// come from the cache or the analyzer, actions from the rule engine.
type Judge struct {
	analyzer Analyzer
	cache    *Cache
	engine   *Engine
	timeout  time.Duration
	now      func() time.Time
	log      *logging.Logger

	health failureTracker
}

// Option configures a Judge.
type Option func(*Judge)

// WithClock injects a clock for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(j *Judge) { j.now = now }
}

// WithTimeout overrides the analysis hard timeout (default 5s).
func WithTimeout(d time.Duration) Option {
	return func(j *Judge) { j.timeout = d }
}

// New creates a Judge around an analyzer, cache, and rule engine.
func New(analyzer Analyzer, cache *Cache, engine *Engine, log *logging.Logger, opts ...Option) *Judge {
	j := &Judge{
		analyzer: analyzer,
		cache:    cache,
		engine:   engine,
		timeout:  5 * time.Second,
		now:      time.Now,
		log:      log,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Analyze returns a verdict for the given context, consulting the cache
// first. Collaborator failure or timeout yields the conservative
// fallback verdict instead of an error: the pipeline must keep moving,
// and it must fail toward caution.
func (j *Judge) Analyze(ctx context.Context, req AnalysisRequest) Verdict {
	key := Fingerprint(req.Text, req.Image, req.Profile)
	if v, ok := j.cache.Get(key); ok {
		j.log.Debug("verdict cache hit", "category", v.Category)
		return v
	}

	actx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	v, err := j.analyzer.Analyze(actx, req)
	if err != nil {
		j.health.record(false)
		j.log.Warn("analysis failed, falling back to cautious verdict", "error", err)
		return FallbackVerdict(j.now())
	}
	j.health.record(true)

	v.Category = ParseCategory(string(v.Category))
	v.AnalyzedAt = j.now()
	j.cache.Put(key, v)
	return v
}

// Evaluate runs the full judgment for one capture context: analyze
// (cached), then apply the rule table.
func (j *Judge) Evaluate(ctx context.Context, req AnalysisRequest) (Verdict, Result) {
	v := j.Analyze(ctx, req)
	res := j.engine.Judge(v, req.Text, req.Profile, j.now())
	return v, res
}

// Engine exposes the rule engine for explicit reconfiguration.
func (j *Judge) Engine() *Engine { return j.engine }

// Cache exposes the verdict cache for scheduled purging.
func (j *Judge) Cache() *Cache { return j.cache }

// Degraded reports whether analysis failures have crossed the health
// threshold; the dashboard surfaces this as degraded connection status.
func (j *Judge) Degraded() bool { return j.health.degraded() }

// failureTracker flags the analyzer as degraded after repeated
// consecutive failures. A single success clears it.
type failureTracker struct {
	mu          sync.Mutex
	consecutive int
}

// degradedAfter is the consecutive-failure count that marks the
// analyzer unhealthy.
const degradedAfter = 3

func (f *failureTracker) record(ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ok {
		f.consecutive = 0
		return
	}
	f.consecutive++
}

func (f *failureTracker) degraded() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.consecutive >= degradedAfter
}
