package anomaly

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Detection is a single scored deviation emitted by the anomaly engine.
// Immutable once created; alerts reference detections but never own them.
type Detection struct {
	ID         uuid.UUID  `json:"id"`
	EntityID   string     `json:"entity_id"`
	EventID    *uuid.UUID `json:"event_id,omitempty"`
	Type       Type       `json:"type"`
	Score      float64    `json:"score"`
	Confidence float64    `json:"confidence"`
	Threshold  float64    `json:"threshold"`
	BaselineID *uuid.UUID `json:"baseline_id,omitempty"`

	// Snapshot of the features and deviations that produced the detection
	Features   map[string]float64 `json:"features,omitempty"`
	Deviations map[string]float64 `json:"deviations,omitempty"`

	DetectedAt time.Time `json:"detected_at"`
}

type Type int

const (
	TypeTime Type = iota
	TypeLocation
	TypeAccess
	TypeVolume
	TypePattern
	TypeBehavioral
)

func (t Type) String() string {
	switch t {
	case TypeTime:
		return "time_anomaly"
	case TypeLocation:
		return "location_anomaly"
	case TypeAccess:
		return "access_anomaly"
	case TypeVolume:
		return "volume_anomaly"
	case TypePattern:
		return "pattern_anomaly"
	case TypeBehavioral:
		return "behavioral_anomaly"
	default:
		return "unknown"
	}
}

// NewDetection validates score and confidence before constructing. Both must
// be in [0,1]; out-of-range values are a programming error in a detector.
func NewDetection(entityID string, anomalyType Type, score, confidence, threshold float64) (*Detection, error) {
	if entityID == "" {
		return nil, fmt.Errorf("entity ID cannot be empty")
	}
	if score < 0 || score > 1 {
		return nil, fmt.Errorf("anomaly score %f outside [0,1]", score)
	}
	if confidence < 0 || confidence > 1 {
		return nil, fmt.Errorf("confidence %f outside [0,1]", confidence)
	}

	return &Detection{
		ID:         uuid.New(),
		EntityID:   entityID,
		Type:       anomalyType,
		Score:      score,
		Confidence: confidence,
		Threshold:  threshold,
		DetectedAt: time.Now(),
	}, nil
}

// WithEvent ties the detection to the event that triggered it.
func (d *Detection) WithEvent(eventID uuid.UUID) *Detection {
	d.EventID = &eventID
	return d
}

// WithBaseline records which baseline the detection was scored against.
func (d *Detection) WithBaseline(baselineID uuid.UUID) *Detection {
	d.BaselineID = &baselineID
	return d
}
