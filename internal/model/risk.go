package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// RiskLevel represents the hypoglycemia risk reported by the backend
type RiskLevel string

const (
	RiskLevelLow    RiskLevel = "low"
	RiskLevelMedium RiskLevel = "medium"
	RiskLevelHigh   RiskLevel = "high"
)

// Valid reports whether l is one of the known risk levels
func (l RiskLevel) Valid() bool {
	switch l {
	case RiskLevelLow, RiskLevelMedium, RiskLevelHigh:
		return true
	}
	return false
}

// UnmarshalJSON rejects risk levels the pipeline does not know about
func (l *RiskLevel) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	level := RiskLevel(s)
	if !level.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidRiskLevel, s)
	}
	*l = level
	return nil
}

// RiskSnapshot is the backend's current hypoglycemia-risk assessment.
// A snapshot is immutable once received and superseded by the next poll.
type RiskSnapshot struct {
	RiskLevel        RiskLevel `json:"risk_level"`
	CurrentGlucose   float64   `json:"current_glucose"`
	PredictedGlucose float64   `json:"predicted_glucose"`
	EstimatedTime    *string   `json:"estimated_time,omitempty"`
	Recommendations  []string  `json:"recommendations"`

	// ReceivedAt is stamped locally by the poller
	ReceivedAt time.Time `json:"received_at"`
}
