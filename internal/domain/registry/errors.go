package registry

import "errors"

// Sentinel kinds for registry errors.
var (
	// ErrInsufficientData means a league has too few complete feature rows to train.
	ErrInsufficientData = errors.New("insufficient training data")
)
