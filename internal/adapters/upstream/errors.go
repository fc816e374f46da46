package upstream

import "errors"

// Sentinel kinds for upstream errors.
var (
	// ErrFetchFailed marks a file that could not be refreshed.
	ErrFetchFailed = errors.New("upstream fetch failed")
	// ErrTooLarge marks a response body over the size limit.
	ErrTooLarge = errors.New("response too large")
)
