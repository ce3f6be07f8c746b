package risk

// factorWeights is the fixed weight table for the weighted-ensemble score.
// Factors outside the table contribute with defaultFactorWeight. The score
// is normalized by the total weight of the factors actually present, so any
// factor subset stays in [0,1].
var factorWeights = map[string]float64{
	// Anomaly-based risks
	"anomaly_count_risk":    0.15,
	"anomaly_severity_risk": 0.15,
	"location_anomaly_risk": 0.10,
	"access_anomaly_risk":   0.10,

	// Temporal risks
	"off_hours_risk":      0.05,
	"weekend_risk":        0.03,
	"night_activity_risk": 0.05,
	"activity_burst_risk": 0.08,

	// Access risks
	"failed_access_risk":    0.10,
	"sensitive_access_risk": 0.08,
	"brute_force_risk":      0.12,

	// Volume risks
	"high_volume_risk": 0.06,
	"data_volume_risk": 0.04,

	// Entity-specific risks
	"privileged_entity_risk": 0.05,
	"external_entity_risk":   0.04,
	"untrusted_device_risk":  0.08,

	// Behavioral change risks
	"dormant_reactivation_risk": 0.06,
	"pattern_deviation_risk":    0.07,
}

const defaultFactorWeight = 0.01

const (
	// methodWeightedEnsemble tags scores produced by the full factor pipeline.
	methodWeightedEnsemble = "weighted_ensemble"

	// contributingEventLimit bounds how many recent events a score references.
	contributingEventLimit = 10
)
