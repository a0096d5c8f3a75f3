package emergency

import (
	"context"
	"sync"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"go.uber.org/zap"

	"github.com/t77yq/crashguard/internal/model"
	"github.com/t77yq/crashguard/internal/storage"
)

// DefaultTickInterval is the countdown step
const DefaultTickInterval = time.Second

var emergencyCalls = metrics.NewCounter(`crashguard_emergency_calls_total`)

// Caller contacts emergency services for an escalated emergency
type Caller interface {
	Call(ctx context.Context, state model.EmergencyState) error
}

// Listener receives every emergency state change. Listeners run in order
// on the escalator's delivery goroutine, never on the countdown.
type Listener func(state model.EmergencyState)

// Config configures an Escalator
type Config struct {
	CountdownSeconds int
	TickInterval     time.Duration
	// Manual disables the countdown goroutine; only Tick advances the countdown
	Manual bool
}

// Activation describes what started an emergency
type Activation struct {
	Trigger      model.EmergencyTrigger
	AlertID      string
	GlucoseLevel *float64
}

// Escalator runs the emergency countdown state machine:
// idle -> active -> calling, and back to idle on Cancel.
type Escalator struct {
	cfg    Config
	caller Caller
	logger *zap.Logger
	now    func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu            sync.Mutex
	state         model.EmergencyState
	listeners     []Listener
	pending       []model.EmergencyState
	wake          chan struct{}
	stopCountdown context.CancelFunc
	cancelCall    context.CancelFunc
}

// NewEscalator creates an idle escalator
func NewEscalator(cfg Config, caller Caller, logger *zap.Logger) *Escalator {
	if cfg.CountdownSeconds <= 0 {
		cfg.CountdownSeconds = model.DefaultCountdownSeconds
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	e := &Escalator{
		cfg:    cfg,
		caller: caller,
		logger: logger.Named("emergency"),
		now:    time.Now,
		ctx:    ctx,
		cancel: cancel,
		state:  model.IdleEmergencyState(cfg.CountdownSeconds),
		wake:   make(chan struct{}, 1),
	}
	e.wg.Add(1)
	go e.deliver()
	return e
}

// State returns a copy of the current state
func (e *Escalator) State() model.EmergencyState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Subscribe registers a state change listener
func (e *Escalator) Subscribe(listener Listener) {
	e.mu.Lock()
	defer e.mu.Unlock()

	listeners := make([]Listener, len(e.listeners), len(e.listeners)+1)
	copy(listeners, e.listeners)
	e.listeners = append(listeners, listener)
}

// Activate starts the countdown. It is a no-op unless the escalator is idle.
func (e *Escalator) Activate(a Activation) bool {
	e.mu.Lock()
	if e.state.Phase() != model.EmergencyPhaseIdle || e.ctx.Err() != nil {
		e.mu.Unlock()
		return false
	}

	activatedAt := e.now()
	e.state = model.EmergencyState{
		Active:           true,
		CountdownSeconds: e.cfg.CountdownSeconds,
		TriggeredBy:      a.Trigger,
		AlertID:          a.AlertID,
		GlucoseLevel:     a.GlucoseLevel,
		ActivatedAt:      &activatedAt,
	}

	if !e.cfg.Manual {
		countdownCtx, stop := context.WithCancel(e.ctx)
		e.stopCountdown = stop
		e.wg.Add(1)
		go e.runCountdown(countdownCtx)
	}

	state := e.state
	e.publishLocked()
	e.mu.Unlock()

	metrics.GetOrCreateCounter(`crashguard_emergencies_activated_total{trigger="` + string(a.Trigger) + `"}`).Inc()
	e.logger.Warn("Emergency activated",
		zap.String("trigger", string(a.Trigger)),
		zap.String("alert_id", a.AlertID),
		zap.Int("countdown_seconds", state.CountdownSeconds))

	return true
}

// Tick advances a manual countdown by one step. Reaching zero moves the
// escalator to calling and invokes the caller exactly once. Escalators with
// a countdown goroutine own their ticks, so Tick is a no-op for them.
func (e *Escalator) Tick() {
	if !e.cfg.Manual {
		e.logger.Debug("Tick ignored, countdown runs on its own timer")
		return
	}
	e.tick(context.Background())
}

// tick ignores steps from a countdown that has since been stopped
func (e *Escalator) tick(countdownCtx context.Context) {
	e.mu.Lock()
	if countdownCtx.Err() != nil || e.state.Phase() != model.EmergencyPhaseActive {
		e.mu.Unlock()
		return
	}

	if e.state.CountdownSeconds > 0 {
		e.state.CountdownSeconds--
	}
	if e.state.CountdownSeconds == 0 {
		e.startCallLocked()
	}

	state := e.state
	e.publishLocked()
	e.mu.Unlock()

	e.logger.Debug("Emergency countdown",
		zap.Int("countdown_seconds", state.CountdownSeconds),
		zap.Bool("calling", state.Calling))
}

// CallNow skips the rest of the countdown. It is a no-op unless the
// escalator is active.
func (e *Escalator) CallNow() bool {
	e.mu.Lock()
	if e.state.Phase() != model.EmergencyPhaseActive {
		e.mu.Unlock()
		return false
	}
	e.startCallLocked()
	e.publishLocked()
	e.mu.Unlock()

	return true
}

// Cancel returns to idle with the countdown reset. It is a no-op when idle.
func (e *Escalator) Cancel() bool {
	e.mu.Lock()
	if e.state.Phase() == model.EmergencyPhaseIdle {
		e.mu.Unlock()
		return false
	}

	e.stopLocked()
	previous := e.state.Phase()
	e.state = model.IdleEmergencyState(e.cfg.CountdownSeconds)
	e.publishLocked()
	e.mu.Unlock()

	e.logger.Info("Emergency cancelled", zap.String("previous_phase", string(previous)))

	return true
}

// Close stops the countdown and any call in progress and waits for them.
// Listeners receive every state queued before Close.
func (e *Escalator) Close() {
	e.mu.Lock()
	e.stopLocked()
	e.mu.Unlock()

	e.cancel()
	e.wg.Wait()
}

// startCallLocked moves an active emergency to calling. Must hold e.mu.
func (e *Escalator) startCallLocked() {
	if e.stopCountdown != nil {
		e.stopCountdown()
		e.stopCountdown = nil
	}
	e.state.Calling = true
	e.state.CountdownSeconds = 0

	state := e.state
	if e.ctx.Err() != nil {
		return
	}
	callCtx, cancel := context.WithCancel(e.ctx)
	e.cancelCall = cancel

	emergencyCalls.Inc()
	e.logger.Warn("Contacting emergency services",
		zap.String("trigger", string(state.TriggeredBy)),
		zap.String("alert_id", state.AlertID))

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer cancel()
		if err := e.caller.Call(callCtx, state); err != nil {
			if callCtx.Err() != nil {
				e.logger.Info("Emergency call aborted", zap.Error(err))
				return
			}
			e.logger.Error("Emergency call failed", zap.Error(err))
		}
	}()
}

// stopLocked cancels the countdown and call goroutines. Must hold e.mu.
func (e *Escalator) stopLocked() {
	if e.stopCountdown != nil {
		e.stopCountdown()
		e.stopCountdown = nil
	}
	if e.cancelCall != nil {
		e.cancelCall()
		e.cancelCall = nil
	}
}

func (e *Escalator) runCountdown(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.tick(ctx)
		}
	}
}

// publishLocked queues the current state for the listeners. Must hold e.mu.
func (e *Escalator) publishLocked() {
	e.pending = append(e.pending, e.state)
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// deliver hands queued states to the listeners in order until Close
func (e *Escalator) deliver() {
	defer e.wg.Done()

	for {
		select {
		case <-e.ctx.Done():
			e.flush()
			return
		case <-e.wake:
			e.flush()
		}
	}
}

func (e *Escalator) flush() {
	for {
		e.mu.Lock()
		batch, listeners := e.pending, e.listeners
		e.pending = nil
		e.mu.Unlock()

		if len(batch) == 0 {
			return
		}
		for _, state := range batch {
			for _, listener := range listeners {
				listener(state)
			}
		}
	}
}

// GlucoseSource returns the latest known current glucose
type GlucoseSource func() (float64, bool)

// ForAlert builds the activation for the active danger alert id
func ForAlert(store storage.AlertStorage, id string, glucose GlucoseSource) (Activation, error) {
	alert, ok := store.Get(id)
	if !ok || !alert.Active() {
		return Activation{}, ErrAlertNotFound
	}
	if alert.Class != model.AlertClassDanger {
		return Activation{}, ErrNotDanger
	}
	return Activation{
		Trigger:      model.EmergencyTriggerAlert,
		AlertID:      alert.ID,
		GlucoseLevel: latestGlucose(glucose),
	}, nil
}

// AutoActivate returns a store listener that activates the escalator when a
// danger alert is appended
func (e *Escalator) AutoActivate(glucose GlucoseSource) storage.ChangeListener {
	return func(change storage.Change) {
		if change.Kind != storage.ChangeAppended || change.Alert.Class != model.AlertClassDanger {
			return
		}
		e.Activate(Activation{
			Trigger:      model.EmergencyTriggerAuto,
			AlertID:      change.Alert.ID,
			GlucoseLevel: latestGlucose(glucose),
		})
	}
}

func latestGlucose(glucose GlucoseSource) *float64 {
	if glucose == nil {
		return nil
	}
	if g, ok := glucose(); ok {
		return &g
	}
	return nil
}
