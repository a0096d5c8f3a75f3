package model

import "time"

// AlertClass represents the severity category of an alert
type AlertClass string

const (
	AlertClassDanger  AlertClass = "danger"
	AlertClassWarning AlertClass = "warning"
	AlertClassInfo    AlertClass = "info"
	AlertClassSuccess AlertClass = "success"
)

// Valid reports whether c is one of the known alert classes
func (c AlertClass) Valid() bool {
	switch c {
	case AlertClassDanger, AlertClassWarning, AlertClassInfo, AlertClassSuccess:
		return true
	}
	return false
}

// Alert represents an alert surfaced to the patient.
// Alerts are never deleted; dismissal only flips Dismissed.
type Alert struct {
	ID        string     `json:"id"`
	Class     AlertClass `json:"class"`
	Title     string     `json:"title"`
	Message   string     `json:"message"`
	CreatedAt time.Time  `json:"created_at"`
	Dismissed bool       `json:"dismissed"`
}

// Active reports whether the alert is still shown
func (a Alert) Active() bool {
	return !a.Dismissed
}
