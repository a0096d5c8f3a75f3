package notifier

import (
	"context"

	"go.uber.org/zap"
)

// LogNotifier writes notifications to the structured log
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a new log notifier
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.Named("notify")}
}

// Notify implements Notifier.Notify
func (n *LogNotifier) Notify(ctx context.Context, notification Notification) error {
	fields := []zap.Field{
		zap.String("title", notification.Title),
		zap.String("body", notification.Body),
		zap.String("class", string(notification.Class)),
		zap.String("tag", notification.Tag),
		zap.Bool("require_interaction", notification.RequireInteraction),
	}
	if notification.RequireInteraction {
		n.logger.Warn("Notification", fields...)
		return nil
	}
	n.logger.Info("Notification", fields...)
	return nil
}

// PlayAlertTone implements Notifier.PlayAlertTone
func (n *LogNotifier) PlayAlertTone(ctx context.Context, tone Tone) error {
	n.logger.Warn("Alert tone",
		zap.Float64("frequency_hz", tone.FrequencyHz),
		zap.Duration("pulse", tone.Pulse),
		zap.Duration("gap", tone.Gap),
		zap.Int("pulses", tone.Pulses))
	return nil
}
