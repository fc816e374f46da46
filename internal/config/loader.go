package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix namespaces every environment override.
const EnvPrefix = "KICKOFF_"

const keyDelim = "::"

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New())
//  2. file (YAML) if KICKOFF_CONFIG is set
//  3. env (prefix KICKOFF_)
func Load(_ context.Context) (*Config, error) {
	base := New()

	// League file names contain dots, so keys are delimited by "::".
	k := koanf.New(keyDelim)

	if path := os.Getenv(EnvPrefix + "CONFIG"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrLoadConfig, path, err)
		}
	}

	// KICKOFF_DATA_DIR -> data_dir. Underscores are kept to match koanf tags.
	envProvider := env.Provider(EnvPrefix, keyDelim, func(s string) string {
		return strings.TrimPrefix(strings.ToLower(s), strings.ToLower(EnvPrefix))
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: env: %v", ErrLoadConfig, err)
	}
	// The path to the file itself is not a config key.
	k.Delete("config")

	cfg := *base
	// Maps are replaced, not merged, when the file or env sets them.
	if k.Exists("league_files") {
		cfg.LeagueFiles = map[string]string{}
	}
	if k.Exists("source_urls") {
		cfg.SourceURLs = map[string]string{}
	}
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoadConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
