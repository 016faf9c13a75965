package app

import (
	"context"
	"time"

	sddaemon "github.com/coreos/go-systemd/v22/daemon"

	logx "herobot/pkg/logx"
)

// startSystemd announces readiness to systemd and keeps the watchdog fed
// when one is configured. Both calls no-op outside a systemd unit
// (NOTIFY_SOCKET unset), so this is safe everywhere.
func (a *App) startSystemd() {
	sent, err := sddaemon.SdNotify(false, sddaemon.SdNotifyReady)
	if err != nil {
		a.log.Warn("sd_notify READY failed", logx.Err(err))
		return
	}
	if !sent {
		return
	}
	a.log.Debug("sd_notify READY sent")

	interval, err := sddaemon.SdWatchdogEnabled(false)
	if err != nil || interval == 0 {
		return
	}
	a.sup.Go0("systemd.watchdog", func(c context.Context) {
		ticker := time.NewTicker(interval / 2)
		defer ticker.Stop()
		for {
			select {
			case <-c.Done():
				return
			case <-ticker.C:
				_, _ = sddaemon.SdNotify(false, sddaemon.SdNotifyWatchdog)
			}
		}
	})
}

func (a *App) notifySystemdStopping() {
	_, _ = sddaemon.SdNotify(false, sddaemon.SdNotifyStopping)
}
