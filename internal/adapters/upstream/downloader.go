// Package upstream refreshes the raw result files from the public source.
package upstream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/okian/kickoff/internal/domain/corpus"
	"github.com/okian/kickoff/pkg/logger"
	"github.com/okian/kickoff/pkg/metrics"
)

const (
	defaultTimeout         = 15 * time.Second
	defaultRPS             = 2
	defaultBreakerFailures = 3
	breakerCooldown        = 60 * time.Second
	defaultMaxBytes        = 32 << 20
)

// Downloader fetches each configured file into dir. Every file is written
// through a temp file and rename, so a failed download leaves the previous
// copy in place.
type Downloader struct {
	dir     string
	sources map[string]string

	client          *http.Client
	timeout         time.Duration
	rps             float64
	breakerFailures uint32
	maxBytes        int64

	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	logger  logger.Logger
}

// New creates a Downloader. sources maps a file name to its URL.
func New(dir string, sources map[string]string, opts ...Option) *Downloader {
	d := &Downloader{
		dir:             dir,
		sources:         sources,
		client:          &http.Client{},
		timeout:         defaultTimeout,
		rps:             defaultRPS,
		breakerFailures: defaultBreakerFailures,
		maxBytes:        defaultMaxBytes,
		logger:          logger.Get().Named("upstream"),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.limiter = rate.NewLimiter(rate.Limit(d.rps), 1)
	d.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "upstream",
		Timeout: breakerCooldown,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= d.breakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			d.logger.Warn(context.Background(), "breaker state changed",
				logger.String("breaker", name),
				logger.String("from", from.String()),
				logger.String("to", to.String()),
			)
		},
	})
	return d
}

// Fetch downloads every source in name order and returns the names that
// were refreshed. Failures are per file: the returned error joins them and
// the remaining files are still attempted.
func (d *Downloader) Fetch(ctx context.Context) ([]string, error) {
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: data dir: %v", ErrFetchFailed, err)
	}

	names := make([]string, 0, len(d.sources))
	for name := range d.sources {
		names = append(names, name)
	}
	sort.Strings(names)

	var (
		updated []string
		errs    []error
	)
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		start := time.Now()
		err := d.fetchOne(ctx, name, d.sources[name])
		ms := float64(time.Since(start).Milliseconds())
		if err != nil {
			metrics.RecordDownload(name, "error", ms)
			d.logger.Warn(ctx, "download failed", logger.String("file", name), logger.Error(err))
			errs = append(errs, err)
			continue
		}
		metrics.RecordDownload(name, "ok", ms)
		d.logger.Info(ctx, "downloaded", logger.String("file", name))
		updated = append(updated, name)
	}
	return updated, errors.Join(errs...)
}

func (d *Downloader) fetchOne(ctx context.Context, name, url string) error {
	if err := d.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrFetchFailed, name, err)
	}
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	body, err := d.breaker.Execute(func() (interface{}, error) {
		return d.get(ctx, url)
	})
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrFetchFailed, name, err)
	}
	data, _ := body.([]byte)
	if _, _, err := corpus.ParseFile(bytes.NewReader(data), ""); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrFetchFailed, name, err)
	}
	if err := writeAtomic(filepath.Join(d.dir, name), data); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrFetchFailed, name, err)
	}
	return nil
}

func (d *Downloader) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, d.maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > d.maxBytes {
		return nil, fmt.Errorf("%w: over %d bytes", ErrTooLarge, d.maxBytes)
	}
	if len(data) == 0 {
		return nil, errors.New("empty body")
	}
	return data, nil
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return nil
}
