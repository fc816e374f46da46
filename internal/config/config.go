// Package config defines service configuration structures and loading hooks.
//
// Conventions:
//   - New() returns a Config populated with defaults.
//   - Load layers a YAML file and KICKOFF_* env vars on top of New().
//   - Keys are flat snake_case to keep env mapping trivial.
package config

import (
	"fmt"
	"time"
)

// SeasonLayout is the date layout of SeasonStart.
const SeasonLayout = "2006-01-02"

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`
	// LogFormat selects text or json output.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// DataDir holds the raw per-league CSV files.
	DataDir string `koanf:"data_dir"`

	// LeagueFiles maps a raw file name to its league label.
	LeagueFiles map[string]string `koanf:"league_files"`

	// SourceURLs maps a raw file name to the upstream URL it is refreshed from.
	SourceURLs map[string]string `koanf:"source_urls"`

	// SeasonStart is the first day (YYYY-MM-DD) of the current-season window.
	SeasonStart string `koanf:"season_start"`

	// MinTrainingRows is the smallest trainable table a league needs.
	MinTrainingRows int `koanf:"min_training_rows"`
	// EvalFraction is the chronological hold-out share.
	EvalFraction float64 `koanf:"eval_fraction"`

	// Forest hyper-parameters.
	ForestTrees           int   `koanf:"forest_trees"`
	ForestMaxDepth        int   `koanf:"forest_max_depth"`
	ForestMinSamplesSplit int   `koanf:"forest_min_samples_split"`
	ForestSeed            int64 `koanf:"forest_seed"`

	// RetrainSchedule is a standard 5-field cron expression.
	RetrainSchedule string `koanf:"retrain_schedule"`
	// Timezone the schedule is evaluated in.
	Timezone string `koanf:"timezone"`
	// RetrainOnStartup enqueues one run when the service starts.
	RetrainOnStartup bool `koanf:"retrain_on_startup"`

	// DownloadTimeoutMS bounds each upstream file download.
	DownloadTimeoutMS int `koanf:"download_timeout_ms"`
	// DownloadMaxBytes rejects upstream files larger than this.
	DownloadMaxBytes int64 `koanf:"download_max_bytes"`
	// DownloadRPS paces upstream requests.
	DownloadRPS float64 `koanf:"download_rps"`
	// BreakerFailures opens the upstream breaker after this many consecutive failures.
	BreakerFailures int `koanf:"breaker_failures"`

	// DatabasePath points at the sqlite run ledger and prediction journal.
	// Empty disables persistence.
	DatabasePath string `koanf:"database_path"`
	// DatabaseBusyTimeoutMS is how long sqlite waits on a locked database.
	DatabaseBusyTimeoutMS int `koanf:"database_busy_timeout_ms"`

	// RedisAddr enables the shared prediction cache; empty keeps it in memory.
	RedisAddr string `koanf:"redis_addr"`
	// CacheTTLSeconds bounds how long a cached prediction lives.
	CacheTTLSeconds int `koanf:"cache_ttl_seconds"`

	// MaxListLimit caps ?limit on list endpoints.
	MaxListLimit int `koanf:"max_list_limit"`
}

// New creates a Config with defaults.
func New() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "text",
		Addr:      ":9080",
		DataDir:   "data",
		LeagueFiles: map[string]string{
			"SP1.csv": "Spain", "SP1 (1).csv": "Spain", "SP1 (2).csv": "Spain",
			"E0.csv": "England", "E0 (1).csv": "England", "E0 (2).csv": "England",
			"F1.csv": "France", "F1 (1).csv": "France", "F1 (2).csv": "France",
			"I1.csv": "Italy", "I1 (1).csv": "Italy", "I1 (2).csv": "Italy",
			"D1.csv": "Germany", "D1 (1).csv": "Germany", "D1 (2).csv": "Germany",
		},
		SourceURLs: map[string]string{
			"SP1.csv": "https://www.football-data.co.uk/mmz4281/2526/SP1.csv",
			"E0.csv":  "https://www.football-data.co.uk/mmz4281/2526/E0.csv",
			"F1.csv":  "https://www.football-data.co.uk/mmz4281/2526/F1.csv",
			"I1.csv":  "https://www.football-data.co.uk/mmz4281/2526/I1.csv",
			"D1.csv":  "https://www.football-data.co.uk/mmz4281/2526/D1.csv",
		},
		SeasonStart:           "2025-08-01",
		MinTrainingRows:       50,
		EvalFraction:          0.2,
		ForestTrees:           100,
		ForestMaxDepth:        10,
		ForestMinSamplesSplit: 5,
		ForestSeed:            42,
		RetrainSchedule:       "0 3 * * 1",
		Timezone:              "UTC",
		DownloadTimeoutMS:     15_000,
		DownloadMaxBytes:      32 << 20,
		DownloadRPS:           2,
		BreakerFailures:       3,
		DatabaseBusyTimeoutMS: 5_000,
		CacheTTLSeconds:       3600,
		MaxListLimit:          100,
	}
}

// SeasonStartTime parses SeasonStart.
func (c *Config) SeasonStartTime() (time.Time, error) {
	t, err := time.Parse(SeasonLayout, c.SeasonStart)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: season_start %q: %v", ErrInvalidConfig, c.SeasonStart, err)
	}
	return t, nil
}

// Location resolves Timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: timezone %q: %v", ErrInvalidConfig, c.Timezone, err)
	}
	return loc, nil
}

// DownloadTimeout returns DownloadTimeoutMS as a duration.
func (c *Config) DownloadTimeout() time.Duration {
	return time.Duration(c.DownloadTimeoutMS) * time.Millisecond
}

// DatabaseBusyTimeout returns DatabaseBusyTimeoutMS as a duration.
func (c *Config) DatabaseBusyTimeout() time.Duration {
	return time.Duration(c.DatabaseBusyTimeoutMS) * time.Millisecond
}

// CacheTTL returns CacheTTLSeconds as a duration.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

// Validate reports the first invalid field.
func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.DataDir == "":
		return fmt.Errorf("%w: data_dir must not be empty", ErrInvalidConfig)
	case len(c.LeagueFiles) == 0:
		return fmt.Errorf("%w: league_files must not be empty", ErrInvalidConfig)
	case c.MinTrainingRows < 1:
		return fmt.Errorf("%w: min_training_rows must be positive", ErrInvalidConfig)
	case c.EvalFraction <= 0 || c.EvalFraction >= 1:
		return fmt.Errorf("%w: eval_fraction must be in (0,1)", ErrInvalidConfig)
	case c.ForestTrees < 1 || c.ForestMaxDepth < 1 || c.ForestMinSamplesSplit < 2:
		return fmt.Errorf("%w: forest parameters out of range", ErrInvalidConfig)
	case c.DownloadTimeoutMS <= 0:
		return fmt.Errorf("%w: download_timeout_ms must be positive", ErrInvalidConfig)
	case c.DownloadMaxBytes <= 0:
		return fmt.Errorf("%w: download_max_bytes must be positive", ErrInvalidConfig)
	case c.DatabaseBusyTimeoutMS < 0:
		return fmt.Errorf("%w: database_busy_timeout_ms must not be negative", ErrInvalidConfig)
	}
	if _, err := c.SeasonStartTime(); err != nil {
		return err
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}
