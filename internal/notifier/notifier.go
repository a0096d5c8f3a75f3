package notifier

import (
	"context"
	"fmt"
	"time"

	"github.com/t77yq/crashguard/internal/model"
)

// Permission is the delivery permission of a notification channel
type Permission string

const (
	PermissionDefault     Permission = "default"
	PermissionGranted     Permission = "granted"
	PermissionDenied      Permission = "denied"
	PermissionUnsupported Permission = "unsupported"
)

const (
	DefaultTitlePrefix = "Dia-Pilot"
	DefaultIcon        = "/favicon.ico"
)

// Notification is a user-facing message derived from an alert
type Notification struct {
	Title              string           `json:"title"`
	Body               string           `json:"body"`
	Icon               string           `json:"icon,omitempty"`
	Badge              string           `json:"badge,omitempty"`
	Tag                string           `json:"tag,omitempty"`
	RequireInteraction bool             `json:"require_interaction"`
	Class              model.AlertClass `json:"class"`
	AlertID            string           `json:"alert_id,omitempty"`
}

// Tone describes the audible alert pattern
type Tone struct {
	FrequencyHz float64       `json:"frequency_hz" mapstructure:"frequency_hz"`
	Pulse       time.Duration `json:"pulse" mapstructure:"pulse"`
	Gap         time.Duration `json:"gap" mapstructure:"gap"`
	Pulses      int           `json:"pulses" mapstructure:"pulses"`
}

// DefaultTone returns two 800 Hz pulses of 300ms started 400ms apart
func DefaultTone() Tone {
	return Tone{
		FrequencyHz: 800,
		Pulse:       300 * time.Millisecond,
		Gap:         400 * time.Millisecond,
		Pulses:      2,
	}
}

// Notifier delivers notifications and alert tones to the user
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
	PlayAlertTone(ctx context.Context, tone Tone) error
}

// PermissionRequester is implemented by notifiers that need the user's consent
type PermissionRequester interface {
	Permission() Permission
	RequestPermission(ctx context.Context) (Permission, error)
}

// PermissionOf returns the current permission of n. Notifiers that do not
// manage permissions are always granted.
func PermissionOf(n Notifier) Permission {
	if pr, ok := n.(PermissionRequester); ok {
		return pr.Permission()
	}
	return PermissionGranted
}

// Format holds the presentation defaults applied to every notification
type Format struct {
	TitlePrefix string
	Icon        string
	Badge       string
}

// DefaultFormat returns the dashboard's notification presentation
func DefaultFormat() Format {
	return Format{
		TitlePrefix: DefaultTitlePrefix,
		Icon:        DefaultIcon,
		Badge:       DefaultIcon,
	}
}

// ForAlert builds the notification for alert
func (f Format) ForAlert(alert model.Alert) Notification {
	title := alert.Title
	if f.TitlePrefix != "" {
		title = fmt.Sprintf("%s: %s", f.TitlePrefix, alert.Title)
	}
	return Notification{
		Title:              title,
		Body:               alert.Message,
		Icon:               f.Icon,
		Badge:              f.Badge,
		Tag:                alert.ID,
		RequireInteraction: alert.Class == model.AlertClassDanger,
		Class:              alert.Class,
		AlertID:            alert.ID,
	}
}
