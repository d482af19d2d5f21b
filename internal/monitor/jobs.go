package monitor

import (
	"time"

	"github.com/robfig/cron/v3"

	"guardiand/internal/dashboard"
)

// startJobs schedules the periodic maintenance work: dashboard activity
// summaries, verdict cache purges, and the nightly retention sweep.
func (s *Service) startJobs() {
	c := cron.New()

	if s.hub != nil {
		if _, err := c.AddFunc("@every 1m", s.broadcastSummary); err != nil {
			s.log.Warn("scheduling activity updates failed", "error", err)
		}
	}

	if _, err := c.AddFunc("@every 10m", func() {
		if n := s.judge.Cache().Purge(); n > 0 {
			s.log.Debug("verdict cache purged", "expired", n)
		}
	}); err != nil {
		s.log.Warn("scheduling cache purge failed", "error", err)
	}

	if s.deps.Store != nil && s.cfg.Storage.RetentionDays > 0 {
		if _, err := c.AddFunc("0 3 * * *", s.retentionSweep); err != nil {
			s.log.Warn("scheduling retention sweep failed", "error", err)
		}
	}

	c.Start()
	s.cron = c
}

func (s *Service) broadcastSummary() {
	if s.ledger == nil || s.hub == nil {
		return
	}
	s.hub.Announce(dashboard.TypeActivityUpdate, dashboard.ActivityUpdateData{
		Summary: s.ledger.Summarize(),
	})
}

func (s *Service) retentionSweep() {
	cutoff := s.now().AddDate(0, 0, -s.cfg.Storage.RetentionDays)
	removed, err := s.deps.Store.PruneBefore(cutoff)
	if err != nil {
		s.log.Error("retention sweep failed", "error", err)
		return
	}
	if removed > 0 {
		s.log.Info("retention sweep complete", "removed", removed, "cutoff", cutoff.Format(time.RFC3339))
	}
}
