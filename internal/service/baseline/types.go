package baseline

import (
	"time"

	"github.com/google/uuid"

	"github.com/sentinelops/ueba-backend/internal/domain/entity"
)

// Baseline captures an entity's established behavioral norm over a training
// period. Instances are immutable once built; Rebuild swaps the whole value.
type Baseline struct {
	ID          uuid.UUID   `json:"id"`
	EntityID    string      `json:"entity_id"`
	EntityType  entity.Type `json:"entity_type"`
	PeriodStart time.Time   `json:"period_start"`
	PeriodEnd   time.Time   `json:"period_end"`

	// TypicalHours are hours of day (0-23) the entity is normally active in.
	TypicalHours []int `json:"typical_hours"`
	// TypicalDays are Monday-based weekday indices (0-6) of normal activity.
	TypicalDays []int `json:"typical_days"`
	// HourlyFrequency is the activity share per hour of day, normalized to
	// sum to 1 over the 24 buckets.
	HourlyFrequency [24]float64 `json:"hourly_frequency"`

	AvgEventsPerHour float64 `json:"avg_events_per_hour"`
	EventsStd        float64 `json:"events_std"`

	Confidence float64   `json:"confidence"`
	EventCount int       `json:"event_count"`
	CreatedAt  time.Time `json:"created_at"`
}

// IsTypicalHour reports whether h is within the entity's normal hours.
func (b *Baseline) IsTypicalHour(h int) bool {
	for _, th := range b.TypicalHours {
		if th == h {
			return true
		}
	}
	return false
}

// MaxHourlyFrequency returns the largest hourly share, at least a small
// epsilon so callers can divide by it.
func (b *Baseline) MaxHourlyFrequency() float64 {
	max := 0.0
	for _, f := range b.HourlyFrequency {
		if f > max {
			max = f
		}
	}
	if max == 0 {
		return 1
	}
	return max
}
