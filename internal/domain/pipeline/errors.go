package pipeline

import "errors"

// Sentinel kinds for pipeline errors.
var (
	// ErrAlreadyRunning is returned when a run is already in progress.
	ErrAlreadyRunning = errors.New("retrain already running")
	// ErrRetrainFailed wraps any failure after new data arrived.
	ErrRetrainFailed = errors.New("retrain failed")
)
