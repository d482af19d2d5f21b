// Package notify delivers out-of-band parent notifications. Urgency
// follows the triggering action: blocks are critical, restricts are
// normal, everything else is low.
package notify

import (
	"guardiand/internal/judge"
	"guardiand/internal/logging"
)

// Urgency levels follow the freedesktop notification spec.
type Urgency byte

const (
	UrgencyLow      Urgency = 0
	UrgencyNormal   Urgency = 1
	UrgencyCritical Urgency = 2
)

// Notification is one message to surface.
type Notification struct {
	Title   string
	Body    string
	Urgency Urgency
}

// Notifier sends notifications. Send failures are surfaced so callers
// can fall back; they never block monitoring.
type Notifier interface {
	Send(n Notification) error
	Close() error
}

// UrgencyFor maps a judgment action to a notification urgency.
func UrgencyFor(action judge.Action) Urgency {
	switch action {
	case judge.ActionBlock:
		return UrgencyCritical
	case judge.ActionRestrict:
		return UrgencyNormal
	default:
		return UrgencyLow
	}
}

// LogNotifier writes notifications to the structured log. It is the
// fallback when no desktop bus is reachable, and keeps notification
// routing observable in headless runs.
type LogNotifier struct {
	log *logging.Logger
}

// NewLogNotifier returns a log-backed notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{log: logging.Default().WithComponent("notify")}
}

// Send implements Notifier.
func (n *LogNotifier) Send(msg Notification) error {
	n.log.Info("notification", "title", msg.Title, "body", msg.Body, "urgency", int(msg.Urgency))
	return nil
}

// Close implements Notifier.
func (n *LogNotifier) Close() error { return nil }

// Fallback wraps a primary notifier and falls back to a secondary when
// the primary fails, logging the failure once per outage.
type Fallback struct {
	primary   Notifier
	secondary Notifier
	log       *logging.Logger
	degraded  bool
}

// NewFallback chains two notifiers.
func NewFallback(primary, secondary Notifier) *Fallback {
	return &Fallback{
		primary:   primary,
		secondary: secondary,
		log:       logging.Default().WithComponent("notify"),
	}
}

// Send implements Notifier.
func (f *Fallback) Send(n Notification) error {
	err := f.primary.Send(n)
	if err == nil {
		f.degraded = false
		return nil
	}
	if !f.degraded {
		f.log.Warn("primary notifier failed, using fallback", "error", err)
		f.degraded = true
	}
	return f.secondary.Send(n)
}

// Close implements Notifier.
func (f *Fallback) Close() error {
	err := f.primary.Close()
	if err2 := f.secondary.Close(); err == nil {
		err = err2
	}
	return err
}
