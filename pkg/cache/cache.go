package cache

import (
	"context"

	"github.com/reqshield/reqshield/pkg/models"
)

// Store caches completed analyses keyed by fingerprint key. Implementations
// must be safe for concurrent use and apply the configured TTL on Set.
//
// A Store is a pure cache: failures are treated as misses and never surface
// to callers. The engine re-evaluates on any miss.
type Store interface {
	// Get returns the cached analysis for key, or false when the key is
	// absent or expired.
	Get(ctx context.Context, key string) (*models.RiskAnalysis, bool)

	// Set stores the analysis under key for the store's TTL, replacing any
	// previous entry.
	Set(ctx context.Context, key string, analysis *models.RiskAnalysis)
}
