package anomaly

import (
	"sort"

	"github.com/sentinelops/ueba-backend/internal/domain/event"
)

// maxTravelSpeedKMH is the fastest plausible travel speed between two event
// locations. Commercial flight tops out around 900 km/h.
const maxTravelSpeedKMH = 1000.0

// HaversineGeo implements Geo with great-circle math over event coordinates.
type HaversineGeo struct {
	// MaxSpeedKMH overrides the impossible-travel speed bound when > 0.
	MaxSpeedKMH float64
}

func (g *HaversineGeo) maxSpeed() float64 {
	if g.MaxSpeedKMH > 0 {
		return g.MaxSpeedKMH
	}
	return maxTravelSpeedKMH
}

func (g *HaversineGeo) DistanceKM(a, b event.Location) float64 {
	return a.DistanceKM(b)
}

// DetectImpossibleTravel walks the entity's located events in timestamp order
// and reports consecutive pairs whose implied speed exceeds the bound.
func (g *HaversineGeo) DetectImpossibleTravel(events []*event.Event) []TravelPair {
	located := make([]*event.Event, 0, len(events))
	for _, e := range events {
		if e.Location != nil {
			located = append(located, e)
		}
	}
	if len(located) < 2 {
		return nil
	}

	sort.Slice(located, func(i, j int) bool {
		return located[i].Timestamp.Before(located[j].Timestamp)
	})

	var pairs []TravelPair
	for i := 1; i < len(located); i++ {
		prev, curr := located[i-1], located[i]

		distance := prev.Location.DistanceKM(*curr.Location)
		hours := curr.Timestamp.Sub(prev.Timestamp).Hours()
		if distance <= 0 || hours <= 0 {
			continue
		}

		speed := distance / hours
		if speed > g.maxSpeed() {
			pairs = append(pairs, TravelPair{
				Earlier:          prev,
				Later:            curr,
				DistanceKM:       distance,
				TimeDiffHours:    hours,
				RequiredSpeedKMH: speed,
			})
		}
	}

	return pairs
}
