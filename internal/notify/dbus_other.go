//go:build !linux

package notify

import "errors"

// DBusNotifier is only available on Linux.
type DBusNotifier struct{}

// NewDBusNotifier reports that no desktop bus exists on this platform.
func NewDBusNotifier() (*DBusNotifier, error) {
	return nil, errors.New("desktop notifications unsupported on this platform")
}

// Send implements Notifier.
func (d *DBusNotifier) Send(Notification) error {
	return errors.New("desktop notifications unsupported on this platform")
}

// Close implements Notifier.
func (d *DBusNotifier) Close() error { return nil }
