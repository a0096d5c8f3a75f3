package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Job is the unit of work run by a PeriodicTask
type Job func(ctx context.Context)

// PeriodicTask runs a job immediately on start and then at a fixed interval
// until stopped. Runs never overlap; a tick that arrives while the previous
// run is still going is skipped.
type PeriodicTask struct {
	name     string
	interval time.Duration
	job      Job
	logger   *zap.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	cancel  context.CancelFunc
	running bool
	wg      sync.WaitGroup
}

// cronLogger adapts zap.Logger to cron.Logger
type cronLogger struct {
	logger *zap.Logger
}

func (l *cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, zap.Any("details", keysAndValues))
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, zap.Error(err), zap.Any("details", keysAndValues))
}

// NewPeriodicTask creates a new periodic task. Intervals below one second
// are rounded up to one second.
func NewPeriodicTask(name string, interval time.Duration, job Job, logger *zap.Logger) *PeriodicTask {
	return &PeriodicTask{
		name:     name,
		interval: interval,
		job:      job,
		logger:   logger.Named("periodic").With(zap.String("task", name)),
	}
}

// Start runs the job once and schedules it every interval. Cancelling ctx
// has the same effect as calling Stop.
func (t *PeriodicTask) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running {
		return ErrAlreadyRunning
	}
	if t.interval <= 0 {
		return ErrInvalidInterval
	}

	runCtx, cancel := context.WithCancel(ctx)
	logger := &cronLogger{logger: t.logger}
	c := cron.New(cron.WithLogger(logger))

	// The same wrapped job backs the immediate run and the schedule so the
	// skip-if-running guard covers both.
	job := cron.NewChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)).Then(cron.FuncJob(func() {
		t.job(runCtx)
	}))
	c.Schedule(cron.Every(t.interval), job)

	t.cron = c
	t.cancel = cancel
	t.running = true

	c.Start()

	t.wg.Add(2)
	go func() {
		defer t.wg.Done()
		job.Run()
	}()
	go func() {
		defer t.wg.Done()
		<-runCtx.Done()
		stopCtx := c.Stop()
		<-stopCtx.Done()

		t.mu.Lock()
		if t.cron == c {
			t.running = false
		}
		t.mu.Unlock()
	}()

	t.logger.Info("Periodic task started", zap.Duration("interval", t.interval))
	return nil
}

// Stop cancels the schedule and waits for an in-flight run to finish.
// Stopping a task that is not running is a no-op.
func (t *PeriodicTask) Stop() {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	t.running = false
	cancel := t.cancel
	t.mu.Unlock()

	cancel()
	t.wg.Wait()

	t.logger.Info("Periodic task stopped")
}

// Running reports whether the task is scheduled
func (t *PeriodicTask) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}
