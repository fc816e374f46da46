// Package cache stores computed predictions keyed by corpus fingerprint and
// registry generation, so a retrain makes every older entry unreachable and
// processes sharing a cache never read each other's predictions for a
// different corpus.
package cache

import (
	"context"
	"fmt"
	"strings"

	"github.com/okian/kickoff/internal/domain/types"
)

// KeyPrefix namespaces every prediction key.
const KeyPrefix = "kickoff:prediction:"

// Cache holds predictions.
type Cache interface {
	// Get returns the cached prediction for key, if any.
	Get(ctx context.Context, key string) (types.Prediction, bool, error)
	// Set stores p under key.
	Set(ctx context.Context, key string, p types.Prediction) error
	// Purge drops every prediction.
	Purge(ctx context.Context) error
}

// Key builds the cache key of a fixture for one corpus and registry
// generation. Team names are matched case-insensitively, like the corpus does.
func Key(fingerprint, generation uint64, home, away string) string {
	return fmt.Sprintf("%s%016x:%d:%s:%s", KeyPrefix, fingerprint, generation,
		strings.ToLower(strings.TrimSpace(home)),
		strings.ToLower(strings.TrimSpace(away)))
}
