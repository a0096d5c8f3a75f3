package model

import "errors"

var (
	// ErrInvalidRiskLevel is returned when a snapshot carries an unknown risk level
	ErrInvalidRiskLevel = errors.New("invalid risk level")
)
