package scheduler

import "errors"

var (
	// ErrInvalidConfig is returned when configuration is invalid
	ErrInvalidConfig = errors.New("invalid scheduler configuration")

	// ErrRunInProgress is returned by RunNow while another run is active
	ErrRunInProgress = errors.New("sweep already in progress")
)
