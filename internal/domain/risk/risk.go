package risk

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Score is the aggregated, time-decayed risk indicator for one entity.
// Exactly one logical "current" score exists per entity; recalculation
// replaces it. History is kept separately for trend queries.
type Score struct {
	ID                 uuid.UUID          `json:"id"`
	EntityID           string             `json:"entity_id"`
	Overall            float64            `json:"overall_score"`
	Level              Level              `json:"risk_level"`
	Factors            map[string]float64 `json:"risk_factors"`
	ContributingEvents []uuid.UUID        `json:"contributing_events,omitempty"`
	Method             string             `json:"calculation_method"`
	DecayApplied       bool               `json:"decay_applied"`
	LastCalculated     time.Time          `json:"last_calculated"`
}

type Level int

const (
	LevelVeryLow Level = iota
	LevelLow
	LevelMedium
	LevelHigh
	LevelVeryHigh
)

func (l Level) String() string {
	switch l {
	case LevelVeryLow:
		return "very_low"
	case LevelLow:
		return "low"
	case LevelMedium:
		return "medium"
	case LevelHigh:
		return "high"
	case LevelVeryHigh:
		return "very_high"
	default:
		return "unknown"
	}
}

// LevelForScore maps a score onto the fixed five-tier cut points.
func LevelForScore(score float64) Level {
	switch {
	case score >= 0.8:
		return LevelVeryHigh
	case score >= 0.6:
		return LevelHigh
	case score >= 0.4:
		return LevelMedium
	case score >= 0.2:
		return LevelLow
	default:
		return LevelVeryLow
	}
}

// NewScore validates the overall value and derives the level from it.
func NewScore(entityID string, overall float64, factors map[string]float64, method string) (*Score, error) {
	if entityID == "" {
		return nil, fmt.Errorf("entity ID cannot be empty")
	}
	if overall < 0 || overall > 1 {
		return nil, fmt.Errorf("overall score %f outside [0,1]", overall)
	}
	if factors == nil {
		factors = map[string]float64{}
	}

	return &Score{
		ID:             uuid.New(),
		EntityID:       entityID,
		Overall:        overall,
		Level:          LevelForScore(overall),
		Factors:        factors,
		Method:         method,
		LastCalculated: time.Now(),
	}, nil
}

// HistoryEntry is one appended point in an entity's risk history.
type HistoryEntry struct {
	Score     float64   `json:"score"`
	Timestamp time.Time `json:"timestamp"`
}

// Trend summarizes an entity's risk history over a query window.
type Trend struct {
	Current    float64 `json:"current_score"`
	Min        float64 `json:"min_score"`
	Max        float64 `json:"max_score"`
	Avg        float64 `json:"avg_score"`
	Direction  string  `json:"trend_direction"` // "increasing" or "decreasing"
	Volatility float64 `json:"volatility"`
	DataPoints int     `json:"data_points"`
}
