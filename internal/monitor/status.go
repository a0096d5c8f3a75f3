package monitor

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"github.com/t77yq/crashguard/internal/model"
	"github.com/t77yq/crashguard/internal/scheduler"
	"github.com/t77yq/crashguard/internal/service"
	"github.com/t77yq/crashguard/internal/storage"
)

// DefaultStatusInterval is used when no heartbeat interval is configured
const DefaultStatusInterval = time.Minute

// StatusSubject is the subject heartbeats are published on
const StatusSubject = service.SubjectStatus

// Publisher publishes a JSON-encodable value on a subject
type Publisher interface {
	Publish(ctx context.Context, subject string, v any) error
}

// StatusReport is a point-in-time summary of the pipeline and its host
type StatusReport struct {
	Timestamp      time.Time            `json:"timestamp"`
	Uptime         string               `json:"uptime"`
	RiskLevel      model.RiskLevel      `json:"risk_level,omitempty"`
	LastSnapshotAt *time.Time           `json:"last_snapshot_at,omitempty"`
	ActiveAlerts   int                  `json:"active_alerts"`
	TotalAlerts    int                  `json:"total_alerts"`
	Emergency      model.EmergencyPhase `json:"emergency"`
	CPUUsage       float64              `json:"cpu_usage"`
	MemoryUsage    float64              `json:"memory_usage"`
}

// StatusReporter periodically publishes a StatusReport heartbeat
type StatusReporter struct {
	logger    *zap.Logger
	publisher Publisher
	store     storage.AlertStorage
	poller    *Poller
	emergency func() model.EmergencyState
	task      *scheduler.PeriodicTask
	started   time.Time
}

// NewStatusReporter creates a status reporter. publisher may be nil, in
// which case heartbeats are only logged.
func NewStatusReporter(publisher Publisher, store storage.AlertStorage, poller *Poller,
	emergency func() model.EmergencyState, interval time.Duration, logger *zap.Logger) *StatusReporter {
	if interval <= 0 {
		interval = DefaultStatusInterval
	}
	r := &StatusReporter{
		logger:    logger.Named("status"),
		publisher: publisher,
		store:     store,
		poller:    poller,
		emergency: emergency,
		started:   time.Now(),
	}
	r.task = scheduler.NewPeriodicTask("status", interval, r.publish, logger)
	return r
}

// Start starts the heartbeat
func (r *StatusReporter) Start(ctx context.Context) error {
	r.logger.Info("Starting status reporter")
	return r.task.Start(ctx)
}

// Stop stops the heartbeat
func (r *StatusReporter) Stop() {
	r.logger.Info("Stopping status reporter")
	r.task.Stop()
}

// Report collects the current status
func (r *StatusReporter) Report() StatusReport {
	report := StatusReport{
		Timestamp: time.Now(),
		Uptime:    time.Since(r.started).Round(time.Second).String(),
		Emergency: model.EmergencyPhaseIdle,
	}

	if r.poller != nil {
		if snapshot, ok := r.poller.Latest(); ok {
			report.RiskLevel = snapshot.RiskLevel
			receivedAt := snapshot.ReceivedAt
			report.LastSnapshotAt = &receivedAt
		}
	}
	if r.store != nil {
		report.ActiveAlerts = len(r.store.Active())
		report.TotalAlerts = len(r.store.All())
	}
	if r.emergency != nil {
		report.Emergency = r.emergency().Phase()
	}

	// Non-blocking sample since the previous call
	if cpuPercent, err := cpu.Percent(0, false); err != nil {
		r.logger.Debug("Failed to get CPU usage", zap.Error(err))
	} else if len(cpuPercent) > 0 {
		report.CPUUsage = cpuPercent[0]
	}

	if memInfo, err := mem.VirtualMemory(); err != nil {
		r.logger.Debug("Failed to get memory usage", zap.Error(err))
	} else {
		report.MemoryUsage = memInfo.UsedPercent
	}

	return report
}

func (r *StatusReporter) publish(ctx context.Context) {
	report := r.Report()

	r.logger.Debug("Status collected",
		zap.String("risk_level", string(report.RiskLevel)),
		zap.Int("active_alerts", report.ActiveAlerts),
		zap.String("emergency", string(report.Emergency)),
		zap.Float64("cpu_usage", report.CPUUsage),
		zap.Float64("memory_usage", report.MemoryUsage))

	if r.publisher == nil {
		return
	}
	if err := r.publisher.Publish(ctx, StatusSubject, report); err != nil {
		r.logger.Error("Failed to publish status", zap.Error(err))
	}
}
