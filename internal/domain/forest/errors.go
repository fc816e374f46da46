package forest

import "errors"

// Sentinel kinds for forest errors.
var (
	ErrEmptyTrainingSet = errors.New("empty training set")
	ErrShapeMismatch    = errors.New("feature shape mismatch")
	ErrInvalidConfig    = errors.New("invalid forest config")
)
