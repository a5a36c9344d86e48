package service

import (
	"time"

	"Mansoor88-6/activity-agent/internal/models"

	"go.uber.org/zap"
)

// Notifier shows user-facing notices. Rendering them is up to the host.
type Notifier interface {
	PreIdleWarning(remaining time.Duration)
	BreakStarted(b models.ActiveBreak)
	BreakEnded(b models.ActiveBreak, expired bool)
	BreakRejected(reason string)
}

// LogNotifier writes notices to the log
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.Named("notice")}
}

func (n *LogNotifier) PreIdleWarning(remaining time.Duration) {
	n.logger.Info("You will be marked idle soon", zap.Duration("in", remaining))
}

func (n *LogNotifier) BreakStarted(b models.ActiveBreak) {
	n.logger.Info("Break started",
		zap.String("kind", string(b.Kind)),
		zap.Time("ends_at", b.EndsAt),
	)
}

func (n *LogNotifier) BreakEnded(b models.ActiveBreak, expired bool) {
	if expired {
		n.logger.Info("Break is over, tracking resumed", zap.String("kind", string(b.Kind)))
		return
	}
	n.logger.Info("Break stopped, tracking resumed", zap.String("kind", string(b.Kind)))
}

func (n *LogNotifier) BreakRejected(reason string) {
	n.logger.Info("Break request rejected", zap.String("reason", reason))
}
