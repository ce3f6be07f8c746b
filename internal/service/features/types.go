package features

import (
	"time"
)

// Vector is a named feature vector extracted from an entity's events over a
// single observation window.
type Vector struct {
	EntityID  string             `json:"entity_id"`
	Timestamp time.Time          `json:"timestamp"`
	Window    time.Duration      `json:"window"`
	Values    map[string]float64 `json:"values"`
}

// Get returns the named feature, or fallback when absent.
func (v *Vector) Get(name string, fallback float64) float64 {
	if val, ok := v.Values[name]; ok {
		return val
	}
	return fallback
}

// ModelFeatureNames are the features fed to the outlier model, in a fixed
// order so that model inputs stay comparable across runs.
var ModelFeatureNames = []string{
	"avg_hour_of_day",
	"std_hour_of_day",
	"weekend_activity_ratio",
	"night_activity_ratio",
	"business_hours_ratio",
	"total_events",
	"events_per_hour",
	"unique_source_ips",
	"access_diversity_score",
}

// ModelVector projects the named model features into a dense slice.
func (v *Vector) ModelVector() []float64 {
	out := make([]float64, len(ModelFeatureNames))
	for i, name := range ModelFeatureNames {
		out[i] = v.Get(name, 0)
	}
	return out
}
