package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"go.uber.org/zap"

	"github.com/t77yq/crashguard/internal/model"
	"github.com/t77yq/crashguard/internal/scheduler"
	"github.com/t77yq/crashguard/internal/storage"
)

// DefaultPollInterval is used when no interval is configured
const DefaultPollInterval = 30 * time.Second

var (
	pollsTotal        = metrics.NewCounter(`crashguard_polls_total`)
	pollFailuresTotal = metrics.NewCounter(`crashguard_poll_failures_total`)
	pollDuration      = metrics.NewHistogram(`crashguard_poll_duration_seconds`)
)

// RiskSource provides the current risk snapshot
type RiskSource interface {
	FetchRiskSnapshot(ctx context.Context) (model.RiskSnapshot, error)
}

// Poller periodically fetches risk snapshots and records derived alerts
type Poller struct {
	source  RiskSource
	deriver *Deriver
	store   storage.AlertStorage
	task    *scheduler.PeriodicTask
	logger  *zap.Logger
	now     func() time.Time

	mu     sync.RWMutex
	latest *model.RiskSnapshot
}

// NewPoller creates a new poller
func NewPoller(source RiskSource, deriver *Deriver, store storage.AlertStorage, interval time.Duration, logger *zap.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	p := &Poller{
		source:  source,
		deriver: deriver,
		store:   store,
		logger:  logger.Named("poller"),
		now:     time.Now,
	}
	p.task = scheduler.NewPeriodicTask("risk-poll", interval, p.PollOnce, logger)
	return p
}

// Start polls immediately and then on every interval
func (p *Poller) Start(ctx context.Context) error {
	return p.task.Start(ctx)
}

// Stop cancels polling; an in-flight poll is abandoned
func (p *Poller) Stop() {
	p.task.Stop()
}

// PollOnce performs a single poll cycle. Failures are logged and counted,
// never returned.
func (p *Poller) PollOnce(ctx context.Context) {
	start := time.Now()
	pollsTotal.Inc()

	snapshot, err := p.source.FetchRiskSnapshot(ctx)
	pollDuration.UpdateDuration(start)
	if err != nil {
		pollFailuresTotal.Inc()
		if ctx.Err() != nil {
			p.logger.Debug("Poll abandoned", zap.Error(err))
			return
		}
		p.logger.Warn("Risk poll failed, skipping cycle", zap.Error(err))
		return
	}
	snapshot.ReceivedAt = p.now()

	p.mu.Lock()
	p.latest = &snapshot
	p.mu.Unlock()

	p.logger.Debug("Risk snapshot received",
		zap.String("risk_level", string(snapshot.RiskLevel)),
		zap.Float64("current_glucose", snapshot.CurrentGlucose),
		zap.Float64("predicted_glucose", snapshot.PredictedGlucose))

	alert, ok := p.store.Record(p.deriver.DeriveFunc(snapshot))
	if !ok {
		return
	}
	metrics.GetOrCreateCounter(`crashguard_alerts_derived_total{class="` + string(alert.Class) + `"}`).Inc()
}

// Latest returns the most recent successful snapshot
func (p *Poller) Latest() (model.RiskSnapshot, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.latest == nil {
		return model.RiskSnapshot{}, false
	}
	return *p.latest, true
}

// LatestGlucose returns the current glucose of the latest snapshot
func (p *Poller) LatestGlucose() (float64, bool) {
	snapshot, ok := p.Latest()
	if !ok {
		return 0, false
	}
	return snapshot.CurrentGlucose, true
}
