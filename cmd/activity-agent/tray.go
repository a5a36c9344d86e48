package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"Mansoor88-6/activity-agent/internal/models"
	"Mansoor88-6/activity-agent/internal/scheduler"

	"github.com/getlantern/systray"
	"go.uber.org/zap"
)

const trayRefresh = 5 * time.Second

type trayAgent interface {
	Status() models.StatusReport
	StartManualBreak(minutes int) (*models.ActiveBreak, error)
	StopBreak() bool
}

// runTray shows the tray menu and blocks until Quit is clicked or a signal
// arrives. systray must own the main goroutine.
func runTray(agent trayAgent, quit <-chan os.Signal, logger *zap.Logger) {
	onReady := func() {
		systray.SetTitle("Activity Agent")
		systray.SetTooltip("Activity Agent")

		status := systray.AddMenuItem("", "Current status")
		status.Disable()
		systray.AddSeparator()
		takeBreak := systray.AddMenuItem("Take break", "Start the daily manual break")
		endBreak := systray.AddMenuItem("End break", "Resume tracking")
		systray.AddSeparator()
		exit := systray.AddMenuItem("Quit", "Stop tracking and exit")

		refresh := func() {
			st := agent.Status()
			status.SetTitle(trayStatus(st))
			if st.OnBreak {
				takeBreak.Disable()
				endBreak.Enable()
			} else {
				takeBreak.Enable()
				endBreak.Disable()
			}
		}
		refresh()

		go func() {
			ticker := time.NewTicker(trayRefresh)
			defer ticker.Stop()
			for {
				select {
				case <-takeBreak.ClickedCh:
					if _, err := agent.StartManualBreak(0); err != nil {
						logTrayBreak(logger, err)
					}
					refresh()
				case <-endBreak.ClickedCh:
					agent.StopBreak()
					refresh()
				case <-ticker.C:
					refresh()
				case <-exit.ClickedCh:
					systray.Quit()
					return
				case sig := <-quit:
					logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
					systray.Quit()
					return
				}
			}
		}()
	}

	systray.Run(onReady, func() {
		logger.Info("Tray closed")
	})
}

func trayStatus(st models.StatusReport) string {
	if !st.ClockedIn {
		return "Not tracking"
	}
	worked := time.Duration(st.WorkingTime) * time.Second
	label := fmt.Sprintf("%s, %s worked", st.State, worked.Truncate(time.Minute))
	if st.OnBreak && st.BreakEndsAt != nil {
		label += fmt.Sprintf(", break until %s", time.UnixMilli(*st.BreakEndsAt).Format("15:04"))
	}
	return label
}

func logTrayBreak(logger *zap.Logger, err error) {
	var taken *scheduler.BreakTakenError
	switch {
	case errors.As(err, &taken):
		logger.Info("Manual break already taken today", zap.Time("next_available_at", taken.NextAvailableAt))
	default:
		logger.Warn("Failed to start break", zap.Error(err))
	}
}
