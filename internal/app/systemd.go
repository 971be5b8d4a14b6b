package app

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "remindbot/pkg/logx"
)

// StopReason is logged when the app stops.
type StopReason string

const (
	StopUnknown    StopReason = "unknown"
	StopSignal     StopReason = "signal"
	StopFatalError StopReason = "fatal_error"
)

// startSystemd reports readiness and, when the unit sets WatchdogSec,
// pings the watchdog at half the interval. Outside systemd both are no-ops.
func (a *App) startSystemd(ctx context.Context) {
	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Warn("sd_notify ready failed", logx.Err(err))
	} else if ok {
		a.log.Debug("sd_notify ready sent")
	}

	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval <= 0 {
		return
	}
	a.sup.Go0("systemd.watchdog", func(c context.Context) {
		t := time.NewTicker(interval / 2)
		defer t.Stop()
		for {
			select {
			case <-c.Done():
				return
			case <-t.C:
				_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
			}
		}
	})
	a.log.Info("systemd watchdog enabled", logx.Duration("interval", interval))
}

func notifyStopping() {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
}
