package service

import "errors"

// Sentinel kinds for service errors.
var (
	// ErrLeagueMismatch rejects a fixture between teams of different leagues.
	ErrLeagueMismatch = errors.New("teams play in different leagues")
	// ErrRetrainPending means a retrain is already queued or running.
	ErrRetrainPending = errors.New("retrain already pending")
	// ErrJournalDisabled means no database is configured.
	ErrJournalDisabled = errors.New("prediction journal disabled")
	// ErrNotOpen means the service was used before Open.
	ErrNotOpen = errors.New("service not open")
)
