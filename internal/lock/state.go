// Package lock owns the authoritative "is the machine locked" fact.
//
// The state machine is pure: Apply takes a state and an input and
// returns the next state plus a list of side-effect commands. The
// Coordinator is the only owner of a live State; everything else sees
// read-only snapshots or change notifications.
package lock

import (
	"errors"
	"fmt"
	"time"
)

// Resolution records what ended (or extended) a lock.
type Resolution string

const (
	ResolutionApproval  Resolution = "approval"
	ResolutionDenial    Resolution = "denial"
	ResolutionTimeout   Resolution = "timeout"
	ResolutionOverride  Resolution = "manual-override"
	ResolutionAutoAllow Resolution = "auto-allow"
)

// ApprovalRequest is the pending-resolution record created when a lock
// begins. Its ID doubles as the lock instance id.
type ApprovalRequest struct {
	ID            string    `json:"id"`
	Reasons       []string  `json:"reasons"`
	Confidence    float64   `json:"confidence"`
	Keywords      []string  `json:"keywords,omitempty"`
	ScreenshotRef string    `json:"screenshot_ref,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// Reason returns the primary (first) reason.
func (r *ApprovalRequest) Reason() string {
	if len(r.Reasons) == 0 {
		return ""
	}
	return r.Reasons[0]
}

// State is the lock state. Locked iff Request != nil; Check enforces
// the invariant.
type State struct {
	Request   *ApprovalRequest
	OpenedAt  time.Time
	TimeoutAt time.Time

	// TimedOut marks a lock that exhausted its approval window under
	// the remain-locked policy and now awaits manual intervention.
	TimedOut bool
}

// Locked reports whether the machine is locked.
func (s State) Locked() bool { return s.Request != nil }

// Check verifies the state invariant: locked iff an unresolved approval
// request exists.
func (s State) Check() error {
	if s.Request == nil && (!s.OpenedAt.IsZero() || !s.TimeoutAt.IsZero()) {
		return errors.New("unlocked state carries lock timestamps")
	}
	if s.Request != nil && s.OpenedAt.IsZero() {
		return errors.New("locked state has no opened_at")
	}
	return nil
}

// Input is one event fed to the state machine.
type Input interface{ isInput() }

// Engage requests a lock (judgment decided block or restrict).
type Engage struct {
	Request ApprovalRequest
	Timeout time.Duration
	At      time.Time
}

// Approve resolves a lock positively.
type Approve struct {
	RequestID string
	Approver  string
	At        time.Time
}

// Deny keeps the lock and resets the approval window.
type Deny struct {
	RequestID string
	Approver  string
	Timeout   time.Duration
	At        time.Time
}

// Expire fires when the approval window lapses with no response.
type Expire struct {
	// AutoAllow selects the opt-in auto-allow policy; the default is
	// to remain locked pending manual intervention.
	AutoAllow bool
	At        time.Time
}

// Override is an authenticated remote unlock, recorded distinctly from
// parent approval.
type Override struct {
	Source string
	At     time.Time
}

func (Engage) isInput()   {}
func (Approve) isInput()  {}
func (Deny) isInput()     {}
func (Expire) isInput()   {}
func (Override) isInput() {}

// Command is a side effect the coordinator must execute after a
// transition. Transitions never perform I/O themselves.
type Command interface{ isCommand() }

// ShowOverlay displays the lock screen.
type ShowOverlay struct {
	Reason string
	Status string
}

// UpdateOverlay changes the lock screen status line.
type UpdateOverlay struct{ Status string }

// HideOverlay dismisses the lock screen.
type HideOverlay struct{}

// AnnounceLocked pushes lock state to the dashboard, carrying the
// request so reconnecting clients can re-render it.
type AnnounceLocked struct {
	Request   ApprovalRequest
	TimeoutAt time.Time
	Coalesced bool
}

// AnnounceUnlocked pushes the resolution to the dashboard.
type AnnounceUnlocked struct {
	RequestID  string
	Resolution Resolution
	Approver   string
}

// RecordTransition appends an audit entry to the ledger and store.
type RecordTransition struct {
	RequestID  string
	Transition string // "locked", "coalesced", "denied", "timeout", "unlocked"
	Resolution Resolution
	Approver   string
	At         time.Time
}

// NotifyParent sends an out-of-band notification.
type NotifyParent struct {
	Urgent bool
	Title  string
	Body   string
}

func (ShowOverlay) isCommand()      {}
func (UpdateOverlay) isCommand()    {}
func (HideOverlay) isCommand()      {}
func (AnnounceLocked) isCommand()   {}
func (AnnounceUnlocked) isCommand() {}
func (RecordTransition) isCommand() {}
func (NotifyParent) isCommand()     {}

// Transition errors.
var (
	// ErrNotLocked is returned for resolutions arriving while unlocked.
	ErrNotLocked = errors.New("machine is not locked")
	// ErrRequestMismatch is returned when a resolution names a request
	// other than the live one (already resolved, or stale).
	ErrRequestMismatch = errors.New("approval request already resolved or unknown")
)

// Apply runs one transition. The returned state shares no mutable data
// with the input state.
func Apply(s State, in Input) (State, []Command, error) {
	switch ev := in.(type) {
	case Engage:
		return applyEngage(s, ev)
	case Approve:
		return applyApprove(s, ev)
	case Deny:
		return applyDeny(s, ev)
	case Expire:
		return applyExpire(s, ev)
	case Override:
		return applyOverride(s, ev)
	default:
		return s, nil, fmt.Errorf("unknown lock input %T", in)
	}
}

func applyEngage(s State, ev Engage) (State, []Command, error) {
	if s.Locked() {
		// Coalesce: repeated typing while locked must not create a
		// second approval request. The new reason is appended.
		req := cloneRequest(s.Request)
		req.Reasons = append(req.Reasons, ev.Request.Reasons...)
		req.Keywords = mergeKeywords(req.Keywords, ev.Request.Keywords)
		next := s
		next.Request = req
		cmds := []Command{
			UpdateOverlay{Status: fmt.Sprintf("%d incidents pending review", len(req.Reasons))},
			AnnounceLocked{Request: *req, TimeoutAt: next.TimeoutAt, Coalesced: true},
			RecordTransition{RequestID: req.ID, Transition: "coalesced", At: ev.At},
		}
		return next, cmds, nil
	}

	req := cloneRequest(&ev.Request)
	next := State{
		Request:   req,
		OpenedAt:  ev.At,
		TimeoutAt: ev.At.Add(ev.Timeout),
	}
	cmds := []Command{
		ShowOverlay{Reason: req.Reason(), Status: "waiting for parent approval"},
		AnnounceLocked{Request: *req, TimeoutAt: next.TimeoutAt},
		RecordTransition{RequestID: req.ID, Transition: "locked", At: ev.At},
		NotifyParent{
			Urgent: true,
			Title:  "Approval required",
			Body:   req.Reason(),
		},
	}
	return next, cmds, nil
}

func applyApprove(s State, ev Approve) (State, []Command, error) {
	if !s.Locked() {
		return s, nil, ErrNotLocked
	}
	if s.Request.ID != ev.RequestID {
		return s, nil, ErrRequestMismatch
	}
	cmds := []Command{
		HideOverlay{},
		AnnounceUnlocked{RequestID: ev.RequestID, Resolution: ResolutionApproval, Approver: ev.Approver},
		RecordTransition{
			RequestID: ev.RequestID, Transition: "unlocked",
			Resolution: ResolutionApproval, Approver: ev.Approver, At: ev.At,
		},
	}
	return State{}, cmds, nil
}

func applyDeny(s State, ev Deny) (State, []Command, error) {
	if !s.Locked() {
		return s, nil, ErrNotLocked
	}
	if s.Request.ID != ev.RequestID {
		return s, nil, ErrRequestMismatch
	}
	next := s
	next.Request = cloneRequest(s.Request)
	next.TimeoutAt = ev.At.Add(ev.Timeout)
	next.TimedOut = false
	cmds := []Command{
		UpdateOverlay{Status: "request denied by parent"},
		AnnounceLocked{Request: *next.Request, TimeoutAt: next.TimeoutAt},
		RecordTransition{
			RequestID: ev.RequestID, Transition: "denied",
			Resolution: ResolutionDenial, Approver: ev.Approver, At: ev.At,
		},
	}
	return next, cmds, nil
}

func applyExpire(s State, ev Expire) (State, []Command, error) {
	if !s.Locked() {
		return s, nil, ErrNotLocked
	}

	if ev.AutoAllow {
		// Explicit opt-in only. Unlocking on silence is the unsafe
		// choice, so it is recorded loudly.
		id := s.Request.ID
		cmds := []Command{
			HideOverlay{},
			AnnounceUnlocked{RequestID: id, Resolution: ResolutionAutoAllow},
			RecordTransition{
				RequestID: id, Transition: "unlocked",
				Resolution: ResolutionAutoAllow, At: ev.At,
			},
			NotifyParent{
				Urgent: true,
				Title:  "Lock auto-released",
				Body:   "approval window lapsed with no response; auto-allow policy is enabled",
			},
		}
		return State{}, cmds, nil
	}

	// Safe default: remain locked pending manual intervention. No
	// second approval request is created.
	next := s
	next.Request = cloneRequest(s.Request)
	next.TimedOut = true
	cmds := []Command{
		UpdateOverlay{Status: "approval window lapsed; still locked"},
		RecordTransition{
			RequestID: next.Request.ID, Transition: "timeout",
			Resolution: ResolutionTimeout, At: ev.At,
		},
	}
	return next, cmds, nil
}

func applyOverride(s State, ev Override) (State, []Command, error) {
	if !s.Locked() {
		return s, nil, ErrNotLocked
	}
	id := s.Request.ID
	cmds := []Command{
		HideOverlay{},
		AnnounceUnlocked{RequestID: id, Resolution: ResolutionOverride, Approver: ev.Source},
		RecordTransition{
			RequestID: id, Transition: "unlocked",
			Resolution: ResolutionOverride, Approver: ev.Source, At: ev.At,
		},
	}
	return State{}, cmds, nil
}

func cloneRequest(r *ApprovalRequest) *ApprovalRequest {
	cp := *r
	cp.Reasons = append([]string(nil), r.Reasons...)
	cp.Keywords = append([]string(nil), r.Keywords...)
	return &cp
}

func mergeKeywords(existing, extra []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, k := range existing {
		seen[k] = true
	}
	for _, k := range extra {
		if !seen[k] {
			existing = append(existing, k)
			seen[k] = true
		}
	}
	return existing
}
