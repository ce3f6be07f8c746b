package anomaly

import (
	"github.com/sentinelops/ueba-backend/internal/domain/event"
)

// Geo resolves geographic relationships between event locations. A haversine
// implementation ships with the engine; deployments with a geo-IP service can
// substitute their own.
type Geo interface {
	// DistanceKM returns the distance between two locations in kilometers.
	DistanceKM(a, b event.Location) float64
	// DetectImpossibleTravel returns location pairs whose required travel
	// speed exceeds what is physically plausible.
	DetectImpossibleTravel(events []*event.Event) []TravelPair
}

// TravelPair describes two located events that imply impossible travel.
type TravelPair struct {
	Earlier          *event.Event
	Later            *event.Event
	DistanceKM       float64
	TimeDiffHours    float64
	RequiredSpeedKMH float64
}

// OutlierModel scores a dense feature vector. Scores below zero indicate
// increasing abnormality, matching decision-function conventions; the engine
// flags vectors scoring below the configured pattern threshold.
type OutlierModel interface {
	Score(vector []float64) float64
}
