package model

import "time"

// DefaultCountdownSeconds is the countdown an emergency starts from
const DefaultCountdownSeconds = 10

// EmergencyPhase is the escalator state derived from EmergencyState
type EmergencyPhase string

const (
	EmergencyPhaseIdle    EmergencyPhase = "idle"
	EmergencyPhaseActive  EmergencyPhase = "active"
	EmergencyPhaseCalling EmergencyPhase = "calling"
)

// EmergencyTrigger identifies what started an emergency
type EmergencyTrigger string

const (
	EmergencyTriggerSOS   EmergencyTrigger = "sos"
	EmergencyTriggerAlert EmergencyTrigger = "alert"
	EmergencyTriggerAuto  EmergencyTrigger = "auto"
)

// EmergencyState represents the emergency escalation state
type EmergencyState struct {
	Active           bool `json:"active"`
	CountdownSeconds int  `json:"countdown_seconds"`
	Calling          bool `json:"calling"`

	TriggeredBy  EmergencyTrigger `json:"triggered_by,omitempty"`
	AlertID      string           `json:"alert_id,omitempty"`
	GlucoseLevel *float64         `json:"glucose_level,omitempty"`
	ActivatedAt  *time.Time       `json:"activated_at,omitempty"`
}

// IdleEmergencyState returns the initial, inactive state
func IdleEmergencyState(countdown int) EmergencyState {
	return EmergencyState{CountdownSeconds: countdown}
}

// Phase returns the state machine phase
func (s EmergencyState) Phase() EmergencyPhase {
	switch {
	case s.Calling:
		return EmergencyPhaseCalling
	case s.Active:
		return EmergencyPhaseActive
	default:
		return EmergencyPhaseIdle
	}
}
