package monitor

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/t77yq/crashguard/internal/model"
)

const (
	DangerTitle  = "CRITICAL: Hypoglycemia Risk"
	WarningTitle = "Hypoglycemia Warning"

	// WarningFallbackMessage is used when a medium snapshot has no recommendation
	WarningFallbackMessage = "Glucose is trending down. Monitor closely and keep fast-acting carbs nearby."
)

// Deriver maps a risk snapshot to at most one new alert
type Deriver struct {
	newID func() string
	now   func() time.Time
}

// DeriverOption configures a Deriver
type DeriverOption func(*Deriver)

// WithIDSource overrides the alert id generator
func WithIDSource(newID func() string) DeriverOption {
	return func(d *Deriver) {
		d.newID = newID
	}
}

// WithClock overrides the alert timestamp source
func WithClock(now func() time.Time) DeriverOption {
	return func(d *Deriver) {
		d.now = now
	}
}

// NewDeriver creates a deriver backed by random UUIDs and the wall clock
func NewDeriver(opts ...DeriverOption) *Deriver {
	d := &Deriver{
		newID: uuid.NewString,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Derive returns the alert to append for snapshot, if any. A class that
// already has an active alert is never duplicated, and a low snapshot never
// produces an alert.
func (d *Deriver) Derive(snapshot model.RiskSnapshot, active []model.Alert) (model.Alert, bool) {
	switch snapshot.RiskLevel {
	case model.RiskLevelHigh:
		if hasActive(active, model.AlertClassDanger) {
			return model.Alert{}, false
		}
		return d.alert(model.AlertClassDanger, DangerTitle, dangerMessage(snapshot)), true

	case model.RiskLevelMedium:
		if hasActive(active, model.AlertClassWarning) {
			return model.Alert{}, false
		}
		return d.alert(model.AlertClassWarning, WarningTitle, warningMessage(snapshot)), true
	}

	return model.Alert{}, false
}

// DeriveFunc binds snapshot so the derivation can run inside the store's
// critical section
func (d *Deriver) DeriveFunc(snapshot model.RiskSnapshot) func(active []model.Alert) (model.Alert, bool) {
	return func(active []model.Alert) (model.Alert, bool) {
		return d.Derive(snapshot, active)
	}
}

func (d *Deriver) alert(class model.AlertClass, title, message string) model.Alert {
	return model.Alert{
		ID:        d.newID(),
		Class:     class,
		Title:     title,
		Message:   message,
		CreatedAt: d.now(),
	}
}

func dangerMessage(snapshot model.RiskSnapshot) string {
	predicted := strconv.FormatFloat(snapshot.PredictedGlucose, 'f', -1, 64)
	if snapshot.EstimatedTime != nil && strings.TrimSpace(*snapshot.EstimatedTime) != "" {
		return fmt.Sprintf("Glucose predicted to reach %s mg/dL in %s. Take 15g of fast-acting carbs now.",
			predicted, *snapshot.EstimatedTime)
	}
	return fmt.Sprintf("Glucose predicted to reach %s mg/dL. Take 15g of fast-acting carbs immediately.", predicted)
}

func warningMessage(snapshot model.RiskSnapshot) string {
	if len(snapshot.Recommendations) > 0 && strings.TrimSpace(snapshot.Recommendations[0]) != "" {
		return snapshot.Recommendations[0]
	}
	return WarningFallbackMessage
}

func hasActive(active []model.Alert, class model.AlertClass) bool {
	for _, a := range active {
		if a.Class == class && a.Active() {
			return true
		}
	}
	return false
}
