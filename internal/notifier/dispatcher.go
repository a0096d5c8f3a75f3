package notifier

import (
	"context"
	"sync"

	"github.com/VictoriaMetrics/metrics"
	"go.uber.org/zap"

	"github.com/t77yq/crashguard/internal/model"
	"github.com/t77yq/crashguard/internal/storage"
)

const dispatchQueueSize = 64

var (
	notificationsSent   = metrics.NewCounter(`crashguard_notifications_sent_total`)
	notificationsFailed = metrics.NewCounter(`crashguard_notifications_failed_total`)
	notificationsDenied = metrics.NewCounter(`crashguard_notifications_skipped_total`)
	tonesPlayed         = metrics.NewCounter(`crashguard_alert_tones_total`)
)

// Dispatcher turns newly active alerts into notifications. Each alert is
// notified at most once per process.
type Dispatcher struct {
	notifier  Notifier
	recorders []Notifier
	format    Format
	tone      Tone
	logger    *zap.Logger

	queue chan []model.Alert

	mu        sync.Mutex
	seen      map[string]struct{}
	requested bool
}

// DispatcherOption configures a Dispatcher
type DispatcherOption func(*Dispatcher)

// WithRecorders adds channels that keep a record of every notification.
// Recorders are not user-facing: they receive notifications whatever the
// user's permission, and tones only when the user hears them.
func WithRecorders(recorders ...Notifier) DispatcherOption {
	return func(d *Dispatcher) {
		d.recorders = append(d.recorders, recorders...)
	}
}

// NewDispatcher creates a new dispatcher. n holds the user-facing channels
// and is gated on their permission.
func NewDispatcher(n Notifier, format Format, tone Tone, logger *zap.Logger, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		notifier: n,
		format:   format,
		tone:     tone,
		logger:   logger.Named("dispatcher"),
		queue:    make(chan []model.Alert, dispatchQueueSize),
		seen:     make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// OnChange is a storage.ChangeListener. It hands the active set to Run so
// slow channels never hold up the caller.
func (d *Dispatcher) OnChange(change storage.Change) {
	if change.Kind != storage.ChangeAppended {
		return
	}
	select {
	case d.queue <- change.Active:
	default:
		d.logger.Warn("Dispatch queue full, dropping change", zap.String("alert_id", change.Alert.ID))
	}
}

// Run requests permission and delivers queued changes until ctx is done
func (d *Dispatcher) Run(ctx context.Context) {
	d.permission(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case active := <-d.queue:
			d.Dispatch(ctx, active)
		}
	}
}

// Dispatch notifies every alert in active that has not been seen before
func (d *Dispatcher) Dispatch(ctx context.Context, active []model.Alert) {
	fresh := d.claim(active)
	if len(fresh) == 0 {
		return
	}
	for _, alert := range fresh {
		d.record(ctx, d.format.ForAlert(alert))
	}

	perm := d.permission(ctx)
	if perm != PermissionGranted {
		notificationsDenied.Add(len(fresh))
		d.logger.Debug("Notifications not permitted, skipping",
			zap.String("permission", string(perm)),
			zap.Int("count", len(fresh)))
		return
	}

	for _, alert := range fresh {
		n := d.format.ForAlert(alert)
		if err := d.notifier.Notify(ctx, n); err != nil {
			notificationsFailed.Inc()
			d.logger.Warn("Failed to deliver notification",
				zap.String("alert_id", alert.ID),
				zap.Error(err))
		} else {
			notificationsSent.Inc()
		}

		if alert.Class != model.AlertClassDanger {
			continue
		}
		if err := d.notifier.PlayAlertTone(ctx, d.tone); err != nil {
			d.logger.Warn("Failed to play alert tone",
				zap.String("alert_id", alert.ID),
				zap.Error(err))
			continue
		}
		tonesPlayed.Inc()
		d.recordTone(ctx)
	}
}

func (d *Dispatcher) record(ctx context.Context, n Notification) {
	for _, r := range d.recorders {
		if err := r.Notify(ctx, n); err != nil {
			d.logger.Warn("Failed to record notification",
				zap.String("alert_id", n.AlertID),
				zap.Error(err))
		}
	}
}

func (d *Dispatcher) recordTone(ctx context.Context) {
	for _, r := range d.recorders {
		if err := r.PlayAlertTone(ctx, d.tone); err != nil {
			d.logger.Warn("Failed to record alert tone", zap.Error(err))
		}
	}
}

// claim marks the unseen alerts in active as seen and returns them
func (d *Dispatcher) claim(active []model.Alert) []model.Alert {
	d.mu.Lock()
	defer d.mu.Unlock()

	var fresh []model.Alert
	for _, alert := range active {
		if !alert.Active() {
			continue
		}
		if _, ok := d.seen[alert.ID]; ok {
			continue
		}
		d.seen[alert.ID] = struct{}{}
		fresh = append(fresh, alert)
	}
	return fresh
}

// permission returns the notifier's permission. The first call asks for it
// once; decided channels answer without prompting, so a fan-out still asks
// its undecided children when another child is already granted.
func (d *Dispatcher) permission(ctx context.Context) Permission {
	pr, ok := d.notifier.(PermissionRequester)
	if !ok {
		return PermissionGranted
	}

	d.mu.Lock()
	requested := d.requested
	d.requested = true
	d.mu.Unlock()

	if requested {
		return pr.Permission()
	}

	perm, err := pr.RequestPermission(ctx)
	if err != nil {
		d.logger.Warn("Permission request failed", zap.Error(err))
		return pr.Permission()
	}
	d.logger.Info("Notification permission resolved", zap.String("permission", string(perm)))
	return perm
}
