package emergency

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/crashguard/internal/model"
	"github.com/t77yq/crashguard/internal/notifier"
)

const (
	DefaultCallDelay = time.Second

	CallPlacedTitle = "Emergency services contacted"
	CallPlacedBody  = "Location shared. Emergency contact notified."

	callTagPrefix = "emergency-call"
)

// SimulatedCaller stands in for a telephony integration. After a short
// delay it tells the user that help is on the way.
type SimulatedCaller struct {
	notifier notifier.Notifier
	format   notifier.Format
	delay    time.Duration
	logger   *zap.Logger
}

// NewSimulatedCaller creates a simulated caller
func NewSimulatedCaller(n notifier.Notifier, format notifier.Format, delay time.Duration, logger *zap.Logger) *SimulatedCaller {
	if delay <= 0 {
		delay = DefaultCallDelay
	}
	return &SimulatedCaller{
		notifier: n,
		format:   format,
		delay:    delay,
		logger:   logger.Named("caller"),
	}
}

// Call implements Caller.Call
func (c *SimulatedCaller) Call(ctx context.Context, state model.EmergencyState) error {
	fields := []zap.Field{
		zap.Bool("simulated", true),
		zap.String("trigger", string(state.TriggeredBy)),
		zap.String("alert_id", state.AlertID),
	}
	if state.GlucoseLevel != nil {
		fields = append(fields, zap.Float64("glucose_level", *state.GlucoseLevel))
	}
	c.logger.Warn("Emergency call initiated", fields...)

	timer := time.NewTimer(c.delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}

	n := c.format.ForAlert(model.Alert{
		ID:      state.AlertID,
		Class:   model.AlertClassDanger,
		Title:   CallPlacedTitle,
		Message: CallPlacedBody,
	})
	// Distinct from the alert's own tag so it never replaces that notification
	n.Tag = callTag(state.AlertID)
	if err := c.notifier.Notify(ctx, n); err != nil {
		return fmt.Errorf("failed to notify call placed: %w", err)
	}

	c.logger.Info("Emergency call completed", zap.Bool("simulated", true))
	return nil
}

func callTag(alertID string) string {
	if alertID == "" {
		return callTagPrefix
	}
	return callTagPrefix + "-" + alertID
}
