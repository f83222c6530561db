// Package systemd reports service state to the systemd service manager.
// Every call is a no-op when the process was not started by systemd.
package systemd

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
)

// Notifier sends sd_notify messages. The zero value talks to the socket in
// $NOTIFY_SOCKET.
type Notifier struct {
	// send replaces daemon.SdNotify in tests.
	send func(unsetEnv bool, state string) (bool, error)
}

func (n Notifier) notify(state string) (bool, error) {
	if n.send != nil {
		return n.send(false, state)
	}
	return daemon.SdNotify(false, state)
}

// Ready reports that startup finished. sent is false outside systemd.
func (n Notifier) Ready() (sent bool, err error) { return n.notify(daemon.SdNotifyReady) }

// Stopping reports that shutdown began.
func (n Notifier) Stopping() (bool, error) { return n.notify(daemon.SdNotifyStopping) }

// Status sets the free-form status line shown by systemctl status.
func (n Notifier) Status(msg string) (bool, error) { return n.notify("STATUS=" + msg) }

// Watchdog pings the systemd watchdog at half the configured interval until
// ctx is done. It returns immediately when the unit has no WatchdogSec.
func (n Notifier) Watchdog(ctx context.Context) error {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval <= 0 {
		return err
	}
	t := time.NewTicker(interval / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if _, err := n.notify(daemon.SdNotifyWatchdog); err != nil {
				return err
			}
		}
	}
}
