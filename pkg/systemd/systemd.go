// Package systemd reports service readiness and watchdog pings to systemd.
// Every call is a no-op when the process is not run by systemd.
package systemd

import (
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
)

// Notifier sends sd_notify states. The zero value is usable.
type Notifier struct {
	// unsetEnv clears NOTIFY_SOCKET after the first call; used by
	// one-shot commands that must not leak it to children.
	unsetEnv bool
}

func (n Notifier) send(state string) (bool, error) {
	return daemon.SdNotify(n.unsetEnv, state)
}

// Ready reports READY=1. It returns false when no notify socket is set.
func (n Notifier) Ready() (bool, error) { return n.send(daemon.SdNotifyReady) }

func (n Notifier) Stopping() (bool, error) { return n.send(daemon.SdNotifyStopping) }

func (n Notifier) Watchdog() (bool, error) { return n.send(daemon.SdNotifyWatchdog) }

// Status sets the free-form STATUS= line shown by systemctl status.
func (n Notifier) Status(s string) (bool, error) { return n.send("STATUS=" + s) }

// WatchdogInterval returns half of WATCHDOG_USEC, or 0 when the watchdog is
// not enabled for this process.
func WatchdogInterval() time.Duration {
	d, err := daemon.SdWatchdogEnabled(false)
	if err != nil || d <= 0 {
		return 0
	}
	return d / 2
}
