package baseline

import (
	"context"
	"time"

	"github.com/sentinelops/ueba-backend/internal/domain/event"
)

// EventSource provides historical events for baseline training. Collectors
// live outside this module; tests use fakes.
type EventSource interface {
	// CollectEntityEvents returns all events for the entity in [start, end).
	CollectEntityEvents(ctx context.Context, entityID string, start, end time.Time) ([]*event.Event, error)
}
