package ui

import (
	"context"
	"fmt"
	"image"
	"strings"
	"sync"
	"time"

	"gioui.org/layout"
	"gioui.org/op/clip"
	"gioui.org/op/paint"
	"gioui.org/unit"
	"gioui.org/widget"
	"gioui.org/widget/material"

	"guardiand/cmd/guardian-overlay/internal/theme"
	"guardiand/internal/dashboard"
)

// Resolver performs parent-authenticated lock resolutions against the
// daemon. The UI never talks to the socket directly.
type Resolver interface {
	Resolve(ctx context.Context, requestID, pin string, approve bool) error
}

// Overlay is the lock screen. It renders one of two views: a quiet
// monitoring badge while unlocked, and the full-screen approval prompt
// while locked. State is fed from the dashboard stream.
type Overlay struct {
	theme *theme.Theme
	res   Resolver

	mu        sync.Mutex
	locked    bool
	reasons   []string
	requestID string
	timeoutAt time.Time
	lapsed    bool
	status    string
	busy      bool
	clearPIN  bool

	pinEditor  widget.Editor
	approveBtn widget.Clickable
	denyBtn    widget.Clickable
}

// NewOverlay creates the lock screen component.
func NewOverlay(t *theme.Theme, res Resolver) *Overlay {
	o := &Overlay{theme: t, res: res}
	o.pinEditor.SingleLine = true
	o.pinEditor.Mask = '*'
	return o
}

// Apply updates the overlay state from a dashboard envelope and reports
// whether anything changed (callers invalidate the window on change).
func (o *Overlay) Apply(env dashboard.Envelope) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch env.Type {
	case dashboard.TypeSystemLocked:
		var data dashboard.SystemLockedData
		if err := env.DecodeData(&data); err != nil {
			return false
		}
		o.locked = true
		o.lapsed = false
		o.reasons = data.Request.Reasons
		o.requestID = data.Request.RequestID
		o.timeoutAt = data.Request.TimeoutAt
		if !data.Coalesced {
			o.status = ""
			o.clearPIN = true
		}
		return true

	case dashboard.TypeSystemUnlocked:
		o.locked = false
		o.requestID = ""
		o.status = ""
		o.busy = false
		o.clearPIN = true
		return true

	case dashboard.TypeConnectionStatus:
		var data dashboard.ConnectionStatusData
		if err := env.DecodeData(&data); err != nil {
			return false
		}
		o.locked = data.Locked
		if data.Pending != nil {
			o.reasons = data.Pending.Reasons
			o.requestID = data.Pending.RequestID
			o.timeoutAt = data.Pending.TimeoutAt
		}
		return true
	}
	return false
}

// Locked reports whether the lock view is active.
func (o *Overlay) Locked() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.locked
}

// MarkLapsed switches the prompt to the approval-window-lapsed wording.
func (o *Overlay) MarkLapsed() {
	o.mu.Lock()
	o.lapsed = true
	o.mu.Unlock()
}

// Layout renders the overlay.
func (o *Overlay) Layout(gtx layout.Context) layout.Dimensions {
	paint.Fill(gtx.Ops, o.theme.Palette.Background)

	o.mu.Lock()
	locked := o.locked
	if o.clearPIN {
		o.clearPIN = false
		o.mu.Unlock()
		// The editor is only ever touched on the frame loop.
		o.pinEditor.SetText("")
	} else {
		o.mu.Unlock()
	}

	if !locked {
		return o.layoutIdle(gtx)
	}
	o.handleClicks(gtx)
	return o.layoutLocked(gtx)
}

func (o *Overlay) layoutIdle(gtx layout.Context) layout.Dimensions {
	return layout.Center.Layout(gtx, func(gtx layout.Context) layout.Dimensions {
		l := material.Body1(o.theme.Theme, "Monitoring active")
		l.Color = o.theme.Palette.TextMuted
		return l.Layout(gtx)
	})
}

func (o *Overlay) handleClicks(gtx layout.Context) {
	if o.approveBtn.Clicked(gtx) {
		o.resolve(true)
	}
	if o.denyBtn.Clicked(gtx) {
		o.resolve(false)
	}
}

// resolve runs the network call off the frame loop; the result lands in
// the status line.
func (o *Overlay) resolve(approve bool) {
	o.mu.Lock()
	if o.busy || o.res == nil {
		o.mu.Unlock()
		return
	}
	pin := strings.TrimSpace(o.pinEditor.Text())
	requestID := o.requestID
	if pin == "" {
		o.status = "Enter the parent PIN"
		o.mu.Unlock()
		return
	}
	o.busy = true
	o.status = "Checking..."
	o.mu.Unlock()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := o.res.Resolve(ctx, requestID, pin, approve)

		o.mu.Lock()
		defer o.mu.Unlock()
		o.busy = false
		if err != nil {
			o.status = fmt.Sprintf("Failed: %v", err)
			return
		}
		if approve {
			o.status = "Approved"
		} else {
			o.status = "Denied. Still locked."
		}
	}()
}

func (o *Overlay) layoutLocked(gtx layout.Context) layout.Dimensions {
	o.mu.Lock()
	reasons := o.reasons
	requestID := o.requestID
	timeoutAt := o.timeoutAt
	lapsed := o.lapsed
	status := o.status
	o.mu.Unlock()

	return layout.Center.Layout(gtx, func(gtx layout.Context) layout.Dimensions {
		gtx.Constraints.Max.X = gtx.Dp(480)
		return o.card(gtx, func(gtx layout.Context) layout.Dimensions {
			return layout.Flex{Axis: layout.Vertical}.Layout(gtx,
				layout.Rigid(func(gtx layout.Context) layout.Dimensions {
					title := material.H4(o.theme.Theme, "System Locked")
					title.Color = o.theme.Palette.Danger
					title.TextSize = o.theme.Config.FontTitle
					return title.Layout(gtx)
				}),
				layout.Rigid(layout.Spacer{Height: o.theme.Config.Spacing}.Layout),
				layout.Rigid(func(gtx layout.Context) layout.Dimensions {
					body := material.Body1(o.theme.Theme, reasonText(reasons))
					body.Color = o.theme.Palette.Text
					return body.Layout(gtx)
				}),
				layout.Rigid(layout.Spacer{Height: unit.Dp(4)}.Layout),
				layout.Rigid(func(gtx layout.Context) layout.Dimensions {
					caption := material.Caption(o.theme.Theme, deadlineText(timeoutAt, lapsed))
					caption.Color = o.theme.Palette.TextMuted
					return caption.Layout(gtx)
				}),
				layout.Rigid(layout.Spacer{Height: o.theme.Config.Spacing}.Layout),
				layout.Rigid(func(gtx layout.Context) layout.Dimensions {
					ed := material.Editor(o.theme.Theme, &o.pinEditor, "Parent PIN")
					ed.Color = o.theme.Palette.Text
					ed.HintColor = o.theme.Palette.TextMuted
					return ed.Layout(gtx)
				}),
				layout.Rigid(layout.Spacer{Height: o.theme.Config.Spacing}.Layout),
				layout.Rigid(func(gtx layout.Context) layout.Dimensions {
					return layout.Flex{Axis: layout.Horizontal, Spacing: layout.SpaceBetween}.Layout(gtx,
						layout.Flexed(1, func(gtx layout.Context) layout.Dimensions {
							btn := material.Button(o.theme.Theme, &o.approveBtn, "Approve")
							btn.Background = o.theme.Palette.Success
							return btn.Layout(gtx)
						}),
						layout.Rigid(layout.Spacer{Width: o.theme.Config.Spacing}.Layout),
						layout.Flexed(1, func(gtx layout.Context) layout.Dimensions {
							btn := material.Button(o.theme.Theme, &o.denyBtn, "Keep Locked")
							btn.Background = o.theme.Palette.Danger
							return btn.Layout(gtx)
						}),
					)
				}),
				layout.Rigid(layout.Spacer{Height: unit.Dp(8)}.Layout),
				layout.Rigid(func(gtx layout.Context) layout.Dimensions {
					st := material.Caption(o.theme.Theme, status)
					st.Color = o.theme.Palette.TextMuted
					return st.Layout(gtx)
				}),
				layout.Rigid(func(gtx layout.Context) layout.Dimensions {
					id := material.Caption(o.theme.Theme, "Request "+requestID)
					id.Color = o.theme.Palette.TextMuted
					return id.Layout(gtx)
				}),
			)
		})
	})
}

func (o *Overlay) card(gtx layout.Context, w layout.Widget) layout.Dimensions {
	return layout.Background{}.Layout(gtx,
		func(gtx layout.Context) layout.Dimensions {
			size := gtx.Constraints.Min
			rect := clip.UniformRRect(image.Rect(0, 0, size.X, size.Y),
				gtx.Dp(o.theme.Config.CornerRadius)).Op(gtx.Ops)
			paint.FillShape(gtx.Ops, o.theme.Palette.Surface, rect)
			return layout.Dimensions{Size: size}
		},
		func(gtx layout.Context) layout.Dimensions {
			return layout.UniformInset(o.theme.Config.Padding).Layout(gtx, w)
		},
	)
}

func reasonText(reasons []string) string {
	if len(reasons) == 0 {
		return "A parent needs to review recent activity before the computer can be used."
	}
	if len(reasons) == 1 {
		return reasons[0]
	}
	return reasons[0] + fmt.Sprintf(" (and %d more)", len(reasons)-1)
}

func deadlineText(timeoutAt time.Time, lapsed bool) string {
	if lapsed || (!timeoutAt.IsZero() && time.Now().After(timeoutAt)) {
		return "The approval window has lapsed. The system stays locked until a parent responds."
	}
	if timeoutAt.IsZero() {
		return "Waiting for a parent to respond."
	}
	return "Waiting for a parent to respond until " + timeoutAt.Format("15:04:05") + "."
}
