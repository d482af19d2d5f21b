package notify

import (
	"fmt"

	"github.com/godbus/dbus/v5"
)

const (
	notifyBusName    = "org.freedesktop.Notifications"
	notifyObjectPath = "/org/freedesktop/Notifications"
	notifyMethod     = "org.freedesktop.Notifications.Notify"
	appName          = "guardiand"
)

// DBusNotifier sends desktop notifications over the session bus.
type DBusNotifier struct {
	conn *dbus.Conn
}

// NewDBusNotifier connects to the session bus. It fails when no bus is
// available (headless or sandboxed runs); callers wrap it in a
// Fallback.
func NewDBusNotifier() (*DBusNotifier, error) {
	conn, err := dbus.SessionBus()
	if err != nil {
		return nil, fmt.Errorf("connect session bus: %w", err)
	}
	return &DBusNotifier{conn: conn}, nil
}

// Send implements Notifier.
func (d *DBusNotifier) Send(n Notification) error {
	obj := d.conn.Object(notifyBusName, dbus.ObjectPath(notifyObjectPath))
	hints := map[string]dbus.Variant{
		"urgency": dbus.MakeVariant(byte(n.Urgency)),
	}
	// Critical notifications do not expire; others auto-dismiss.
	expire := int32(10000)
	if n.Urgency == UrgencyCritical {
		expire = 0
	}
	call := obj.Call(notifyMethod, 0,
		appName, uint32(0), "", n.Title, n.Body, []string{}, hints, expire)
	if call.Err != nil {
		return fmt.Errorf("send notification: %w", call.Err)
	}
	return nil
}

// Close implements Notifier.
func (d *DBusNotifier) Close() error {
	return d.conn.Close()
}
