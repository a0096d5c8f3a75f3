package storage

import (
	"sync"

	"go.uber.org/zap"

	"github.com/t77yq/crashguard/internal/model"
)

// ChangeKind describes how the alert log changed
type ChangeKind string

const (
	ChangeAppended  ChangeKind = "appended"
	ChangeDismissed ChangeKind = "dismissed"
)

// Change is delivered to listeners after every effective mutation
type Change struct {
	Kind   ChangeKind    `json:"kind"`
	Alert  model.Alert   `json:"alert"`
	Active []model.Alert `json:"active"`
}

// ChangeListener receives alert log changes
type ChangeListener func(change Change)

// DeriveFunc proposes at most one alert given the currently active alerts
type DeriveFunc func(active []model.Alert) (model.Alert, bool)

// AlertStorage defines the interface for the session alert log
type AlertStorage interface {
	// Append adds an alert to the end of the log
	Append(alert model.Alert)

	// Record runs derive against the active alerts and appends its result
	// in the same critical section
	Record(derive DeriveFunc) (model.Alert, bool)

	// Dismiss marks an alert dismissed; unknown or dismissed ids are a no-op
	Dismiss(id string) bool

	// Get returns an alert by ID
	Get(id string) (model.Alert, bool)

	// Active returns non-dismissed alerts in insertion order
	Active() []model.Alert

	// All returns every alert in insertion order
	All() []model.Alert

	// Subscribe registers a change listener
	Subscribe(listener ChangeListener)
}

// MemoryAlertStore implements AlertStorage in memory.
// Every mutation swaps in a freshly built slice so readers never observe a
// partially applied change.
type MemoryAlertStore struct {
	logger    *zap.Logger
	mu        sync.RWMutex
	alerts    []model.Alert
	listeners []ChangeListener
}

// NewMemoryAlertStore creates an empty alert store
func NewMemoryAlertStore(logger *zap.Logger) *MemoryAlertStore {
	return &MemoryAlertStore{
		logger: logger.Named("alert-store"),
	}
}

// Append implements AlertStorage.Append
func (s *MemoryAlertStore) Append(alert model.Alert) {
	s.mu.Lock()
	s.alerts = appendCopy(s.alerts, alert)
	change := Change{Kind: ChangeAppended, Alert: alert, Active: activeOf(s.alerts)}
	listeners := s.listeners
	s.mu.Unlock()

	s.logger.Info("Alert recorded",
		zap.String("id", alert.ID),
		zap.String("class", string(alert.Class)),
		zap.String("title", alert.Title))

	s.notify(listeners, change)
}

// Record implements AlertStorage.Record
func (s *MemoryAlertStore) Record(derive DeriveFunc) (model.Alert, bool) {
	s.mu.Lock()
	alert, ok := derive(activeOf(s.alerts))
	if !ok {
		s.mu.Unlock()
		return model.Alert{}, false
	}
	s.alerts = appendCopy(s.alerts, alert)
	change := Change{Kind: ChangeAppended, Alert: alert, Active: activeOf(s.alerts)}
	listeners := s.listeners
	s.mu.Unlock()

	s.logger.Info("Alert recorded",
		zap.String("id", alert.ID),
		zap.String("class", string(alert.Class)),
		zap.String("title", alert.Title))

	s.notify(listeners, change)
	return alert, true
}

// Dismiss implements AlertStorage.Dismiss
func (s *MemoryAlertStore) Dismiss(id string) bool {
	s.mu.Lock()
	idx := -1
	for i, a := range s.alerts {
		if a.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 || s.alerts[idx].Dismissed {
		s.mu.Unlock()
		s.logger.Debug("Dismiss ignored", zap.String("id", id))
		return false
	}

	next := make([]model.Alert, len(s.alerts))
	copy(next, s.alerts)
	next[idx].Dismissed = true
	s.alerts = next

	change := Change{Kind: ChangeDismissed, Alert: next[idx], Active: activeOf(next)}
	listeners := s.listeners
	s.mu.Unlock()

	s.logger.Info("Alert dismissed", zap.String("id", id))

	s.notify(listeners, change)
	return true
}

// Get implements AlertStorage.Get
func (s *MemoryAlertStore) Get(id string) (model.Alert, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, a := range s.alerts {
		if a.ID == id {
			return a, true
		}
	}
	return model.Alert{}, false
}

// Active implements AlertStorage.Active
func (s *MemoryAlertStore) Active() []model.Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return activeOf(s.alerts)
}

// All implements AlertStorage.All
func (s *MemoryAlertStore) All() []model.Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]model.Alert, len(s.alerts))
	copy(all, s.alerts)
	return all
}

// Subscribe implements AlertStorage.Subscribe
func (s *MemoryAlertStore) Subscribe(listener ChangeListener) {
	s.mu.Lock()
	defer s.mu.Unlock()

	listeners := make([]ChangeListener, len(s.listeners), len(s.listeners)+1)
	copy(listeners, s.listeners)
	s.listeners = append(listeners, listener)
}

func (s *MemoryAlertStore) notify(listeners []ChangeListener, change Change) {
	for _, listener := range listeners {
		listener(change)
	}
}

func appendCopy(alerts []model.Alert, alert model.Alert) []model.Alert {
	next := make([]model.Alert, len(alerts), len(alerts)+1)
	copy(next, alerts)
	return append(next, alert)
}

func activeOf(alerts []model.Alert) []model.Alert {
	active := make([]model.Alert, 0, len(alerts))
	for _, a := range alerts {
		if a.Active() {
			active = append(active, a)
		}
	}
	return active
}
