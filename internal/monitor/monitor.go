// Package monitor runs the guardiand pipeline: key events are
// aggregated into segments, correlated with screen captures, judged,
// and acted on. A single goroutine owns the pipeline; the lock
// coordinator, dashboard hub, and control socket hang off it.
package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"guardiand/internal/capture"
	"guardiand/internal/config"
	"guardiand/internal/dashboard"
	"guardiand/internal/ipc"
	"guardiand/internal/judge"
	"guardiand/internal/keyevent"
	"guardiand/internal/ledger"
	"guardiand/internal/lock"
	"guardiand/internal/logging"
	"guardiand/internal/notify"
	"guardiand/internal/segment"
	"guardiand/internal/store"
)

// Status is the service lifecycle state.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusActive   Status = "active"
	StatusPaused   Status = "paused"
	StatusError    Status = "error"
)

// Deps are the external collaborators the daemon wires in. Source and
// Analyzer are required; the rest degrade gracefully when nil.
type Deps struct {
	Source   keyevent.Source
	Capturer capture.Capturer // nil disables screenshots
	Analyzer judge.Analyzer
	Store    *store.Store    // nil disables persistence
	Notifier notify.Notifier // nil falls back to the log
}

// Service is the monitoring daemon core.
type Service struct {
	cfg  *config.Config
	deps Deps
	log  *logging.Logger

	agg        *segment.Aggregator
	correlator *capture.Correlator
	judge      *judge.Judge
	coord      *lock.Coordinator
	ledger     *ledger.Ledger
	hub        *dashboard.Hub
	auth       *dashboard.Auth
	ipcServer  *ipc.Server
	cron       *cron.Cron
	rulesWatch *rulesWatcher

	sessionID string
	startedAt time.Time
	now       func() time.Time

	mu      sync.RWMutex
	profile judge.Profile
	status  Status
	paused  bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New assembles a service from config and collaborators.
func New(cfg *config.Config, deps Deps) (*Service, error) {
	if deps.Source == nil {
		return nil, fmt.Errorf("key event source is required")
	}
	if deps.Analyzer == nil {
		return nil, fmt.Errorf("analyzer is required")
	}

	ageGroup, err := judge.ParseAgeGroup(cfg.Profile.AgeGroup)
	if err != nil {
		return nil, fmt.Errorf("profile: %w", err)
	}
	strictness, err := judge.ParseStrictness(cfg.Profile.Strictness)
	if err != nil {
		return nil, fmt.Errorf("profile: %w", err)
	}

	log := logging.Default().WithComponent("monitor")

	rules := judge.DefaultRules()
	if cfg.Rules.Path != "" {
		extra, err := judge.LoadRulesFile(cfg.Rules.Path)
		if err != nil {
			return nil, fmt.Errorf("rules file: %w", err)
		}
		rules = append(rules, extra...)
	}
	keywords := cfg.Analysis.EmergencyKeywords
	if len(keywords) == 0 {
		keywords = judge.DefaultEmergencyKeywords()
	}
	engine, err := judge.NewEngine(rules, keywords)
	if err != nil {
		return nil, fmt.Errorf("rule engine: %w", err)
	}

	cache := judge.NewCache(cfg.Analysis.CacheSize,
		time.Duration(cfg.Analysis.CacheTTLMin)*time.Minute, time.Now)
	j := judge.New(deps.Analyzer, cache, engine, logging.Default().WithComponent("judge"),
		judge.WithTimeout(time.Duration(cfg.Analysis.TimeoutSec)*time.Second))

	capturer := deps.Capturer
	if !cfg.Capture.Enabled {
		capturer = nil
	}
	correlator := capture.New(capturer, capture.Config{
		Timeout:          time.Duration(cfg.Capture.TimeoutMs) * time.Millisecond,
		QueueDepth:       cfg.Capture.QueueDepth,
		FailureWarnAfter: cfg.Capture.FailureWarnAfter,
	}, logging.Default().WithComponent("capture"))

	s := &Service{
		cfg:        cfg,
		deps:       deps,
		log:        log,
		correlator: correlator,
		judge:      j,
		profile:    judge.Profile{AgeGroup: ageGroup, Strictness: strictness},
		status:     StatusStopped,
		now:        time.Now,
		agg: segment.New(segment.Config{
			IdleTimeout:     time.Duration(cfg.Monitor.IdleTimeoutMs) * time.Millisecond,
			IdleShort:       time.Duration(cfg.Monitor.IdleShortMs) * time.Millisecond,
			LengthThreshold: cfg.Monitor.LengthThreshold,
			HardCap:         cfg.Monitor.HardCap,
		}),
	}

	if deps.Notifier == nil {
		s.deps.Notifier = notify.NewLogNotifier()
	}

	s.auth = dashboard.NewAuth(cfg.Dashboard.ParentPINHash)
	if cfg.Dashboard.Enabled {
		s.hub = dashboard.NewHub(cfg.Dashboard.Addr, s.auth, s)
	}

	var coordOpts []lock.Option
	if cfg.Lock.Persist && deps.Store != nil {
		coordOpts = append(coordOpts, lock.WithStore(deps.Store))
	}
	s.coord = lock.NewCoordinator(lock.Config{
		Timeout:   time.Duration(cfg.Lock.TimeoutSec) * time.Second,
		AutoAllow: cfg.Lock.OnTimeout == config.OnTimeoutAutoAllow,
	}, lock.NopOverlay{}, lock.SinkFunc(s.executeLockCommand), coordOpts...)

	if cfg.IPC.Enabled {
		s.ipcServer = ipc.NewServer(cfg.IPC.SocketPath, &controlHandler{svc: s})
	}

	return s, nil
}

// SetOverlay replaces the lock screen implementation. Must be called
// before Start.
func (s *Service) SetOverlay(ov lock.Overlay) {
	s.coord = lock.NewCoordinator(lock.Config{
		Timeout:   time.Duration(s.cfg.Lock.TimeoutSec) * time.Second,
		AutoAllow: s.cfg.Lock.OnTimeout == config.OnTimeoutAutoAllow,
	}, ov, lock.SinkFunc(s.executeLockCommand), s.coordOpts()...)
}

func (s *Service) coordOpts() []lock.Option {
	if s.cfg.Lock.Persist && s.deps.Store != nil {
		return []lock.Option{lock.WithStore(s.deps.Store)}
	}
	return nil
}

// Start brings the pipeline up. It returns once all components are
// running; an unresolved lock from a previous run is restored first.
func (s *Service) Start(ctx context.Context) error {
	s.setStatus(StatusStarting)
	s.sessionID = uuid.NewString()
	s.startedAt = s.now()

	var sink ledger.Sink
	if s.deps.Store != nil {
		if err := s.deps.Store.BeginSession(s.sessionID, s.startedAt, s.currentProfile()); err != nil {
			s.setStatus(StatusError)
			return fmt.Errorf("begin session: %w", err)
		}
		sink = s.deps.Store
	}
	s.ledger = ledger.New(s.sessionID, s.startedAt, sink)

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	if err := s.deps.Source.Start(ctx); err != nil {
		s.setStatus(StatusError)
		return fmt.Errorf("start key event source: %w", err)
	}
	s.correlator.Start(ctx)

	if s.hub != nil {
		if err := s.hub.Start(); err != nil {
			s.setStatus(StatusError)
			return fmt.Errorf("start dashboard: %w", err)
		}
	}
	if s.ipcServer != nil {
		if err := s.ipcServer.Start(); err != nil {
			s.setStatus(StatusError)
			return fmt.Errorf("start control socket: %w", err)
		}
	}

	if s.cfg.Rules.Path != "" {
		w, err := watchRules(s.cfg.Rules.Path, s.reloadRules)
		if err != nil {
			s.log.Warn("rules file watch unavailable", "path", s.cfg.Rules.Path, "error", err)
		} else {
			s.rulesWatch = w
		}
	}

	s.startJobs()

	if err := s.coord.Resume(); err != nil {
		s.log.Error("restoring lock state failed", "error", err)
	}

	s.wg.Add(1)
	go s.run(ctx)

	s.setStatus(StatusActive)
	s.ledger.Append(ledger.Entry{Kind: ledger.EventSession, Detail: "session started", At: s.startedAt})
	s.log.Info("monitoring started",
		"session_id", s.sessionID,
		"age_group", s.currentProfile().AgeGroup,
		"strictness", s.currentProfile().Strictness)
	return nil
}

// Stop tears the pipeline down and closes the session.
func (s *Service) Stop() error {
	if s.cancel != nil {
		s.cancel()
	}
	if err := s.deps.Source.Stop(); err != nil {
		s.log.Warn("stopping key event source failed", "error", err)
	}
	s.correlator.Stop()
	s.wg.Wait()

	if s.cron != nil {
		s.cron.Stop()
	}
	if s.rulesWatch != nil {
		s.rulesWatch.close()
	}
	if s.ipcServer != nil {
		if err := s.ipcServer.Stop(); err != nil {
			s.log.Warn("stopping control socket failed", "error", err)
		}
	}
	if s.hub != nil {
		if err := s.hub.Stop(); err != nil {
			s.log.Warn("stopping dashboard failed", "error", err)
		}
	}
	s.coord.Close()

	if s.deps.Store != nil && s.ledger != nil {
		if err := s.deps.Store.EndSession(s.sessionID, s.now(), s.ledger.Summarize()); err != nil {
			s.log.Warn("closing session failed", "error", err)
		}
	}

	s.setStatus(StatusStopped)
	s.log.Info("monitoring stopped", "session_id", s.sessionID)
	return nil
}

func (s *Service) run(ctx context.Context) {
	defer s.wg.Done()
	tick := time.Duration(s.cfg.Monitor.TickMs) * time.Millisecond
	if tick <= 0 {
		tick = 250 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	events := s.deps.Source.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			s.onKeyEvent(ev)
		case <-ticker.C:
			s.onTick()
		case cctx, ok := <-s.correlator.Contexts():
			if !ok {
				return
			}
			s.handleContext(ctx, cctx)
		}
	}
}

func (s *Service) onKeyEvent(ev keyevent.Event) {
	if s.isPaused() {
		return
	}
	if seg := s.agg.OnKeyEvent(ev); seg != nil {
		s.enqueue(seg)
	}
}

func (s *Service) onTick() {
	if s.isPaused() {
		return
	}
	if seg := s.agg.CheckIdle(s.now()); seg != nil {
		s.enqueue(seg)
	}
}

func (s *Service) enqueue(seg *segment.Segment) {
	if !s.correlator.OnSegmentReady(seg) {
		// Dropped under backpressure; judged text-only without image.
		s.log.Warn("segment dropped by capture queue, judging text-only", "segment_id", seg.ID)
		s.handleContext(context.Background(), &capture.Context{Segment: seg})
	}
}

func (s *Service) handleContext(ctx context.Context, cctx *capture.Context) {
	seg := cctx.Segment
	profile := s.currentProfile()

	verdict, result := s.judge.Evaluate(ctx, judge.AnalysisRequest{
		Text:    seg.Text,
		Image:   cctx.Image,
		Profile: profile,
	})
	cctx.ReleaseImage()

	s.ledger.RecordJudgment(seg.ID, verdict, result)
	s.log.Info("segment judged",
		"segment_id", seg.ID,
		"category", verdict.Category,
		"confidence", verdict.Confidence,
		"action", result.Action,
		"rule_id", result.RuleID,
		"emergency", result.Emergency)

	if result.Action.Locks() {
		reason := fmt.Sprintf("%s content: %s", verdict.Category, result.Reason)
		if _, err := s.coord.Engage(lock.EngageParams{
			Reason:     reason,
			Confidence: verdict.Confidence,
			Keywords:   verdict.Keywords,
		}); err != nil {
			s.log.Error("engaging lock failed", "error", err)
		}
	}
}

// currentProfile returns the live profile.
func (s *Service) currentProfile() judge.Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.profile
}

func (s *Service) setStatus(st Status) {
	s.mu.Lock()
	s.status = st
	s.mu.Unlock()
}

// CurrentStatus reports the lifecycle state.
func (s *Service) CurrentStatus() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.paused && s.status == StatusActive {
		return StatusPaused
	}
	return s.status
}

func (s *Service) isPaused() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.paused
}

// Pause suspends judgment of new input. The open segment is discarded
// rather than judged later out of context.
func (s *Service) Pause() {
	s.mu.Lock()
	s.paused = true
	s.mu.Unlock()
	s.agg.OnKeyEvent(keyevent.Event{Kind: keyevent.KindCancel, Timestamp: s.now()})
	s.log.Info("monitoring paused")
}

// Resume reactivates monitoring after a pause.
func (s *Service) Resume() {
	s.mu.Lock()
	s.paused = false
	s.mu.Unlock()
	s.log.Info("monitoring resumed")
}

// Ledger exposes the session ledger.
func (s *Service) Ledger() *ledger.Ledger { return s.ledger }

// Coordinator exposes the lock coordinator.
func (s *Service) Coordinator() *lock.Coordinator { return s.coord }

// Hub exposes the dashboard hub (nil when disabled).
func (s *Service) Hub() *dashboard.Hub { return s.hub }

// CheckText judges text offline: same cache, engine, and profile, but
// nothing is recorded and no lock is engaged.
func (s *Service) CheckText(ctx context.Context, text string) (judge.Verdict, judge.Result) {
	return s.judge.Evaluate(ctx, judge.AnalysisRequest{
		Text:    text,
		Profile: s.currentProfile(),
	})
}

func (s *Service) reloadRules() {
	rules := judge.DefaultRules()
	if s.cfg.Rules.Path != "" {
		extra, err := judge.LoadRulesFile(s.cfg.Rules.Path)
		if err != nil {
			s.log.Error("rules reload rejected, keeping previous table",
				"path", s.cfg.Rules.Path, "error", err)
			return
		}
		rules = append(rules, extra...)
	}
	if err := s.judge.Engine().Reload(rules); err != nil {
		s.log.Error("rules reload rejected, keeping previous table", "error", err)
		return
	}
	s.log.Info("rules reloaded", "count", len(rules))
}
