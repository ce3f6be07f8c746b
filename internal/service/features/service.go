package features

import (
	"math"
	"sort"
	"time"

	"github.com/sentinelops/ueba-backend/internal/domain/event"
	"github.com/sentinelops/ueba-backend/internal/infrastructure/config"
)

// Extractor computes behavioral feature vectors from raw events.
type Extractor struct {
	cfg config.AnalyticsConfig
}

// NewExtractor creates a new feature extractor.
func NewExtractor(cfg config.AnalyticsConfig) *Extractor {
	return &Extractor{cfg: cfg}
}

// Extract builds a feature vector for the given entity from its events.
// Events are assumed to already be filtered to the observation window.
// An empty event slice yields an empty but valid vector.
func (x *Extractor) Extract(entityID string, events []*event.Event, now time.Time) *Vector {
	v := &Vector{
		EntityID:  entityID,
		Timestamp: now,
		Window:    x.cfg.FeatureWindow,
		Values:    make(map[string]float64),
	}

	if len(events) == 0 {
		return v
	}

	// Events ordered by time drive the interval and travel features.
	sorted := make([]*event.Event, len(events))
	copy(sorted, events)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	x.temporalFeatures(v, sorted)
	x.accessFeatures(v, sorted)
	x.volumeFeatures(v, sorted)
	x.patternFeatures(v, sorted)
	x.geographicFeatures(v, sorted)

	authEvents := filterAuth(sorted)
	if len(authEvents) > 0 {
		x.authFeatures(v, authEvents)
	}

	sanitize(v.Values)
	return v
}

func (x *Extractor) temporalFeatures(v *Vector, events []*event.Event) {
	hours := make([]float64, 0, len(events))
	days := make([]float64, 0, len(events))
	hourCounts := make(map[int]int)

	var weekend, night, business float64
	for _, e := range events {
		h := e.Timestamp.Hour()
		d := int(e.Timestamp.Weekday())
		// Monday-based day index so weekends sit at 5 and 6
		d = (d + 6) % 7

		hours = append(hours, float64(h))
		days = append(days, float64(d))
		hourCounts[h]++

		if d >= 5 {
			weekend++
		}
		if h < 6 || h > 22 {
			night++
		}
		if h >= 9 && h <= 17 {
			business++
		}
	}

	n := float64(len(events))
	v.Values["avg_hour_of_day"] = mean(hours)
	v.Values["std_hour_of_day"] = stddev(hours)
	v.Values["most_common_hour"] = float64(mostCommon(hourCounts))
	v.Values["avg_day_of_week"] = mean(days)
	v.Values["weekend_activity_ratio"] = weekend / n
	v.Values["night_activity_ratio"] = night / n
	v.Values["business_hours_ratio"] = business / n

	if len(events) > 1 {
		intervals := make([]float64, 0, len(events)-1)
		for i := 1; i < len(events); i++ {
			intervals = append(intervals, events[i].Timestamp.Sub(events[i-1].Timestamp).Hours())
		}
		v.Values["avg_time_between_events"] = mean(intervals)
		v.Values["std_time_between_events"] = stddev(intervals)
		v.Values["max_idle_time"] = maxOf(intervals)
		v.Values["min_idle_time"] = minOf(intervals)
	}
}

func (x *Extractor) accessFeatures(v *Vector, events []*event.Event) {
	typeCounts := make(map[event.Type]int)
	sources := make(map[string]struct{})
	destinations := make(map[string]struct{})

	for _, e := range events {
		typeCounts[e.Type]++
		if e.SourceIP != "" {
			sources[e.SourceIP] = struct{}{}
		}
		if e.DestinationIP != "" {
			destinations[e.DestinationIP] = struct{}{}
		}
	}

	total := float64(len(events))
	for _, t := range event.AllTypes() {
		v.Values[t.String()+"_ratio"] = float64(typeCounts[t]) / total
	}

	v.Values["unique_source_ips"] = float64(len(sources))
	v.Values["unique_destinations"] = float64(len(destinations))
	v.Values["access_diversity_score"] = float64(len(sources)) / math.Max(total, 1)
}

func (x *Extractor) volumeFeatures(v *Vector, events []*event.Event) {
	total := float64(len(events))
	span := events[len(events)-1].Timestamp.Sub(events[0].Timestamp).Hours()

	v.Values["total_events"] = total
	v.Values["events_per_hour"] = total / math.Max(span, 1)

	volumes := make([]float64, 0, len(events))
	for _, e := range events {
		if dv := e.DataVolume(); dv > 0 {
			volumes = append(volumes, float64(dv))
		}
	}

	if len(volumes) > 0 {
		v.Values["total_data_volume"] = sum(volumes)
		v.Values["avg_data_volume"] = mean(volumes)
		v.Values["max_data_volume"] = maxOf(volumes)
		v.Values["std_data_volume"] = stddev(volumes)
	}
}

func (x *Extractor) patternFeatures(v *Vector, events []*event.Event) {
	if len(events) < 2 {
		return
	}

	sessions := make(map[string][]*event.Event)
	for _, e := range events {
		sessions[e.Session()] = append(sessions[e.Session()], e)
	}

	v.Values["unique_sessions"] = float64(len(sessions))
	v.Values["avg_session_duration"] = 0
	v.Values["avg_events_per_session"] = 0

	durations := make([]float64, 0, len(sessions))
	counts := make([]float64, 0, len(sessions))
	for _, se := range sessions {
		if len(se) > 1 {
			first, last := se[0].Timestamp, se[0].Timestamp
			for _, e := range se[1:] {
				if e.Timestamp.Before(first) {
					first = e.Timestamp
				}
				if e.Timestamp.After(last) {
					last = e.Timestamp
				}
			}
			durations = append(durations, last.Sub(first).Minutes())
		}
		counts = append(counts, float64(len(se)))
	}

	if len(durations) > 0 {
		v.Values["avg_session_duration"] = mean(durations)
	}
	v.Values["avg_events_per_session"] = mean(counts)
}

func (x *Extractor) geographicFeatures(v *Vector, events []*event.Event) {
	located := make([]*event.Event, 0, len(events))
	uniq := make(map[string]struct{})
	for _, e := range events {
		if e.Location != nil {
			located = append(located, e)
			uniq[e.Location.Key()] = struct{}{}
		}
	}

	if len(located) == 0 {
		v.Values["unique_locations"] = 0
		v.Values["geographic_diversity"] = 0
		return
	}

	// Consecutive hops approximate the travel path.
	distances := make([]float64, 0, len(located)-1)
	for i := 1; i < len(located); i++ {
		distances = append(distances, located[i-1].Location.DistanceKM(*located[i].Location))
	}

	v.Values["unique_locations"] = float64(len(uniq))
	v.Values["geographic_diversity"] = float64(len(uniq)) / float64(len(events))
	if len(distances) > 0 {
		v.Values["max_geographic_distance"] = maxOf(distances)
		v.Values["avg_geographic_distance"] = mean(distances)
	} else {
		v.Values["max_geographic_distance"] = 0
		v.Values["avg_geographic_distance"] = 0
	}
}

func (x *Extractor) authFeatures(v *Vector, authEvents []*event.Event) {
	total := float64(len(authEvents))
	var success, failure, mfa float64
	methods := make(map[string]struct{})

	for _, e := range authEvents {
		switch e.AuthResult {
		case event.ResultSuccess:
			success++
		case event.ResultFailure:
			failure++
		}
		if e.MFAUsed {
			mfa++
		}
		methods[e.AuthMethod] = struct{}{}
	}

	v.Values["auth_success_rate"] = success / total
	v.Values["auth_failure_rate"] = failure / total
	v.Values["mfa_usage_rate"] = mfa / total
	v.Values["auth_method_diversity"] = float64(len(methods))
	v.Values["total_auth_attempts"] = total
}

func filterAuth(events []*event.Event) []*event.Event {
	out := make([]*event.Event, 0)
	for _, e := range events {
		if e.Type == event.TypeAuthentication {
			out = append(out, e)
		}
	}
	return out
}

// sanitize coerces NaN and infinite values to zero so downstream math and
// serialization never see them.
func sanitize(values map[string]float64) {
	for k, val := range values {
		if math.IsNaN(val) || math.IsInf(val, 0) {
			values[k] = 0
		}
	}
}

func sum(xs []float64) float64 {
	var s float64
	for _, x := range xs {
		s += x
	}
	return s
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	return sum(xs) / float64(len(xs))
}

// stddev is the population standard deviation.
func stddev(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	m := mean(xs)
	var ss float64
	for _, x := range xs {
		d := x - m
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(xs)))
}

func maxOf(xs []float64) float64 {
	m := xs[0]
	for _, x := range xs[1:] {
		if x > m {
			m = x
		}
	}
	return m
}

func minOf(xs []float64) float64 {
	m := xs[0]
	for _, x := range xs[1:] {
		if x < m {
			m = x
		}
	}
	return m
}

func mostCommon(counts map[int]int) int {
	best, bestCount := 0, -1
	for k, c := range counts {
		if c > bestCount || (c == bestCount && k < best) {
			best, bestCount = k, c
		}
	}
	return best
}
