package monitor

import (
	"context"
	"fmt"

	"guardiand/internal/dashboard"
	"guardiand/internal/ipc"
	"guardiand/internal/judge"
	"guardiand/internal/ledger"
	"guardiand/internal/lock"
	"guardiand/internal/notify"
)

// executeLockCommand is the lock coordinator's side-effect sink:
// dashboard announcements, ledger records, and parent notifications.
func (s *Service) executeLockCommand(cmd lock.Command) {
	switch cmd := cmd.(type) {
	case lock.AnnounceLocked:
		if s.hub != nil {
			data := dashboard.SystemLockedData{
				Request: dashboard.PendingApproval{
					RequestID:  cmd.Request.ID,
					Reasons:    cmd.Request.Reasons,
					Confidence: cmd.Request.Confidence,
					Keywords:   cmd.Request.Keywords,
					CreatedAt:  cmd.Request.CreatedAt,
					TimeoutAt:  cmd.TimeoutAt,
				},
				Coalesced: cmd.Coalesced,
			}
			s.hub.Announce(dashboard.TypeSystemLocked, data)
			s.hub.Announce(dashboard.TypeApprovalRequest, data.Request)
		}

	case lock.AnnounceUnlocked:
		if s.hub != nil {
			s.hub.Announce(dashboard.TypeSystemUnlocked, dashboard.SystemUnlockedData{
				RequestID:  cmd.RequestID,
				Resolution: string(cmd.Resolution),
				Approver:   cmd.Approver,
			})
		}

	case lock.RecordTransition:
		if s.ledger == nil {
			return
		}
		entry := ledger.Entry{
			At:         cmd.At,
			RequestID:  cmd.RequestID,
			Resolution: string(cmd.Resolution),
			Approver:   cmd.Approver,
			Detail:     cmd.Transition,
		}
		switch cmd.Transition {
		case "locked", "coalesced":
			entry.Kind = ledger.EventLock
		case "denied":
			entry.Kind = ledger.EventDenial
		case "timeout":
			entry.Kind = ledger.EventTimeout
		case "unlocked":
			entry.Kind = ledger.EventUnlock
		default:
			entry.Kind = ledger.EventLock
		}
		s.ledger.Append(entry)

	case lock.NotifyParent:
		if !s.cfg.Notify.Enabled {
			return
		}
		urgency := notify.UrgencyNormal
		if cmd.Urgent {
			urgency = notify.UrgencyCritical
		}
		if err := s.deps.Notifier.Send(notify.Notification{
			Title:   cmd.Title,
			Body:    cmd.Body,
			Urgency: urgency,
		}); err != nil {
			s.log.Warn("parent notification failed", "error", err)
		}
	}
}

// Approve implements dashboard.Controller.
func (s *Service) Approve(requestID, approver string) error {
	return s.coord.Approve(requestID, approver)
}

// Deny implements dashboard.Controller.
func (s *Service) Deny(requestID, approver string) error {
	return s.coord.Deny(requestID, approver)
}

// Unlock is the PIN-authenticated manual override used by guardianctl.
func (s *Service) Unlock(pin, source string) error {
	if _, err := s.auth.Authenticate(source, pin); err != nil {
		return fmt.Errorf("unlock refused: %w", err)
	}
	return s.coord.Override(source)
}

// Status implements dashboard.Controller.
func (s *Service) Status() dashboard.ConnectionStatusData {
	snap := s.coord.Snapshot()
	data := dashboard.ConnectionStatusData{
		SessionID: s.sessionID,
		Status:    string(s.CurrentStatus()),
		Locked:    snap.Locked(),
		Profile:   s.currentProfile(),
		Degraded:  s.judge.Degraded() || s.correlator.Degraded(),
	}
	if snap.Request != nil {
		data.Pending = &dashboard.PendingApproval{
			RequestID:  snap.Request.ID,
			Reasons:    snap.Request.Reasons,
			Confidence: snap.Request.Confidence,
			Keywords:   snap.Request.Keywords,
			CreatedAt:  snap.Request.CreatedAt,
			TimeoutAt:  snap.TimeoutAt,
		}
	}
	return data
}

// UpdateSettings implements dashboard.Controller. Empty fields keep
// their current value; the new profile applies to subsequent judgments
// only.
func (s *Service) UpdateSettings(ageGroup, strictness string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.profile
	if ageGroup != "" {
		parsed, err := judge.ParseAgeGroup(ageGroup)
		if err != nil {
			return err
		}
		next.AgeGroup = parsed
	}
	if strictness != "" {
		parsed, err := judge.ParseStrictness(strictness)
		if err != nil {
			return err
		}
		next.Strictness = parsed
	}
	s.profile = next
	s.log.Info("profile updated", "age_group", next.AgeGroup, "strictness", next.Strictness)
	return nil
}

// controlHandler adapts the service to the IPC control socket.
type controlHandler struct {
	svc *Service
}

// Handle implements ipc.Handler.
func (h *controlHandler) Handle(ctx context.Context, req *ipc.Message) (*ipc.Message, error) {
	s := h.svc
	switch req.Header.Type {
	case ipc.MsgStatusRequest:
		return ipc.NewMessage(ipc.MsgStatusResponse, h.statusPayload())

	case ipc.MsgRecentRequest:
		var p ipc.RecentRequestPayload
		if err := req.Decode(&p); err != nil {
			return nil, err
		}
		return ipc.NewMessage(ipc.MsgRecentResponse, ipc.RecentResponsePayload{
			Entries: s.ledger.Recent(p.Limit),
		})

	case ipc.MsgApprove:
		var p ipc.ResolvePayload
		if err := req.Decode(&p); err != nil {
			return nil, err
		}
		if err := s.Approve(p.RequestID, p.Approver); err != nil {
			return nil, err
		}
		return ipc.NewMessage(ipc.MsgApproveResp, ipc.AckPayload{OK: true})

	case ipc.MsgDeny:
		var p ipc.ResolvePayload
		if err := req.Decode(&p); err != nil {
			return nil, err
		}
		if err := s.Deny(p.RequestID, p.Approver); err != nil {
			return nil, err
		}
		return ipc.NewMessage(ipc.MsgDenyResp, ipc.AckPayload{OK: true})

	case ipc.MsgUnlock:
		var p ipc.UnlockPayload
		if err := req.Decode(&p); err != nil {
			return nil, err
		}
		if err := s.Unlock(p.PIN, p.Source); err != nil {
			return nil, err
		}
		return ipc.NewMessage(ipc.MsgUnlockResp, ipc.AckPayload{OK: true})

	case ipc.MsgReloadRules:
		s.reloadRules()
		return ipc.NewMessage(ipc.MsgReloadRulesResp, ipc.ReloadRulesResponsePayload{
			RuleCount: len(s.judge.Engine().Rules()),
		})

	case ipc.MsgCheckText:
		var p ipc.CheckTextPayload
		if err := req.Decode(&p); err != nil {
			return nil, err
		}
		if p.Text == "" {
			return nil, fmt.Errorf("empty text")
		}
		verdict, result := s.CheckText(ctx, p.Text)
		return ipc.NewMessage(ipc.MsgCheckTextResp, ipc.CheckTextResponsePayload{
			Verdict: verdict,
			Result:  result,
		})

	case ipc.MsgPause:
		s.Pause()
		return ipc.NewMessage(ipc.MsgPauseResp, ipc.AckPayload{OK: true})

	case ipc.MsgResume:
		s.Resume()
		return ipc.NewMessage(ipc.MsgResumeResp, ipc.AckPayload{OK: true})

	default:
		return nil, fmt.Errorf("unsupported request type %#x", uint16(req.Header.Type))
	}
}

func (h *controlHandler) statusPayload() ipc.StatusPayload {
	s := h.svc
	snap := s.coord.Snapshot()
	p := ipc.StatusPayload{
		SessionID:  s.sessionID,
		Status:     string(s.CurrentStatus()),
		Locked:     snap.Locked(),
		Profile:    s.currentProfile(),
		Degraded:   s.judge.Degraded() || s.correlator.Degraded(),
		Summary:    s.ledger.Summarize(),
		StartedAt:  s.startedAt,
		RulesPath:  s.cfg.Rules.Path,
		RuleCount:  len(s.judge.Engine().Rules()),
		CacheSize:  s.judge.Cache().Len(),
		DroppedCap: uint64(s.correlator.Dropped()),
	}
	if snap.Request != nil {
		p.RequestID = snap.Request.ID
	}
	return p
}
