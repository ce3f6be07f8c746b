package risk

import (
	"context"
	"time"

	"github.com/sentinelops/ueba-backend/internal/domain/risk"
)

// Store persists current risk scores and bounded score history per entity.
// Two implementations ship: the in-memory sharded store in this package and
// the Redis-backed store in internal/infrastructure/cache.
type Store interface {
	// Save replaces the entity's current score and appends a history entry.
	// Implementations prune history older than their retention window.
	Save(ctx context.Context, score *risk.Score) error
	// Current returns the entity's latest score, or (nil, nil) when the
	// entity has never been scored.
	Current(ctx context.Context, entityID string) (*risk.Score, error)
	// History returns score history at or after since, oldest first.
	History(ctx context.Context, entityID string, since time.Time) ([]risk.HistoryEntry, error)
	// AllCurrent returns the latest score of every known entity.
	AllCurrent(ctx context.Context) ([]*risk.Score, error)
}
