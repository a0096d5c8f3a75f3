package emergency

import "errors"

var (
	// ErrAlertNotFound is returned when activating from an alert that is not active
	ErrAlertNotFound = errors.New("alert not found or dismissed")

	// ErrNotDanger is returned when activating from a non-danger alert
	ErrNotDanger = errors.New("alert is not a danger alert")
)
