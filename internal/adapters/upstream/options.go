package upstream

import (
	"time"

	"github.com/okian/kickoff/pkg/logger"
)

// Option applies a configuration option to the Downloader.
type Option func(*Downloader)

// WithTimeout bounds each file download.
func WithTimeout(t time.Duration) Option {
	return func(d *Downloader) {
		if t > 0 {
			d.timeout = t
		}
	}
}

// WithRPS paces requests to the upstream host.
func WithRPS(rps float64) Option {
	return func(d *Downloader) {
		if rps > 0 {
			d.rps = rps
		}
	}
}

// WithBreakerFailures opens the breaker after n consecutive failures.
func WithBreakerFailures(n int) Option {
	return func(d *Downloader) {
		if n > 0 {
			d.breakerFailures = uint32(n)
		}
	}
}

// WithMaxBytes caps the size of one downloaded file.
func WithMaxBytes(n int64) Option {
	return func(d *Downloader) {
		if n > 0 {
			d.maxBytes = n
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(d *Downloader) {
		if l != nil {
			d.logger = l
		}
	}
}
