package forest

import "runtime"

// Config fixes the forest hyper-parameters.
type Config struct {
	Trees           int
	MaxDepth        int
	MinSamplesSplit int
	// MaxFeatures per split; 0 means floor(sqrt(features)).
	MaxFeatures int
	Seed        int64
	// Workers bounds tree-building goroutines; 0 means GOMAXPROCS.
	Workers int
}

// DefaultConfig is the production configuration.
func DefaultConfig() Config {
	return Config{
		Trees:           100,
		MaxDepth:        10,
		MinSamplesSplit: 5,
		Seed:            42,
	}
}

// Option adjusts a Config.
type Option func(*Config)

// WithTrees sets the ensemble size.
func WithTrees(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.Trees = n
		}
	}
}

// WithMaxDepth caps tree depth.
func WithMaxDepth(d int) Option {
	return func(c *Config) {
		if d > 0 {
			c.MaxDepth = d
		}
	}
}

// WithMinSamplesSplit sets the smallest node that may be split.
func WithMinSamplesSplit(n int) Option {
	return func(c *Config) {
		if n >= 2 {
			c.MinSamplesSplit = n
		}
	}
}

// WithSeed fixes the random source.
func WithSeed(seed int64) Option {
	return func(c *Config) { c.Seed = seed }
}

// WithWorkers bounds parallel tree building.
func WithWorkers(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.Workers = n
		}
	}
}

// NewConfig applies opts over DefaultConfig.
func NewConfig(opts ...Option) Config {
	c := DefaultConfig()
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

func (c Config) workers() int {
	if c.Workers > 0 {
		return c.Workers
	}
	return runtime.GOMAXPROCS(0)
}
