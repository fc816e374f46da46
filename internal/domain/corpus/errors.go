package corpus

import "errors"

// Sentinel kinds for corpus errors.
var (
	// ErrDataUnavailable means no configured file was present or no row survived parsing.
	ErrDataUnavailable = errors.New("match data unavailable")
	// ErrMalformedFile means a file lacks a required column.
	ErrMalformedFile = errors.New("malformed result file")
)
