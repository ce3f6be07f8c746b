package analysis

import (
	"context"
	"time"

	"github.com/sentinelops/ueba-backend/internal/domain/entity"
	"github.com/sentinelops/ueba-backend/internal/domain/event"
)

// EventSource supplies time-ordered, deduplicated events for an entity.
// Collectors live outside this module.
type EventSource interface {
	CollectEntityEvents(ctx context.Context, entityID string, start, end time.Time) ([]*event.Event, error)
}

// EntityDirectory resolves entity identities. The directory owns entity
// records; this core only reads them.
type EntityDirectory interface {
	GetEntity(ctx context.Context, entityID string) (*entity.Entity, error)
}
