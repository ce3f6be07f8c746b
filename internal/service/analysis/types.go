package analysis

import (
	"time"

	"github.com/google/uuid"

	"github.com/sentinelops/ueba-backend/internal/domain/alert"
	"github.com/sentinelops/ueba-backend/internal/domain/anomaly"
	"github.com/sentinelops/ueba-backend/internal/domain/entity"
	"github.com/sentinelops/ueba-backend/internal/domain/risk"
	"github.com/sentinelops/ueba-backend/internal/service/features"
)

// ProgressFunc receives coarse progress updates during a batch analysis.
// It may be called from multiple goroutines.
type ProgressFunc func(step string, percent float64)

// Type selects which pipeline stages a request runs.
type Type string

const (
	TypeAnomalyDetection   Type = "anomaly_detection"
	TypeBehavioralAnalysis Type = "behavioral_analysis"
	TypeRiskScoring        Type = "risk_scoring"
)

// Request describes one batch analysis. A nil Types slice runs every
// stage; EntityType, when set, restricts the batch to entities of that
// type (others yield empty results).
type Request struct {
	EntityIDs  []string
	EntityType *entity.Type
	Start      time.Time
	End        time.Time
	Types      []Type
	Progress   ProgressFunc
}

// wantsAnomalies reports whether the anomaly-detection stage should run.
func (r Request) wantsAnomalies() bool {
	if len(r.Types) == 0 {
		return true
	}
	for _, t := range r.Types {
		if t == TypeAnomalyDetection || t == TypeBehavioralAnalysis {
			return true
		}
	}
	return false
}

// wantsRiskScoring reports whether the risk-scoring stage should run.
func (r Request) wantsRiskScoring() bool {
	if len(r.Types) == 0 {
		return true
	}
	for _, t := range r.Types {
		if t == TypeRiskScoring {
			return true
		}
	}
	return false
}

// EntityResult is the outcome for a single entity within a batch. A
// failed or timed-out entity carries Err; the batch itself still
// completes.
type EntityResult struct {
	EntityID        string
	EventsProcessed int
	Features        *features.Vector
	Anomalies       []*anomaly.Detection
	RiskScore       *risk.Score
	Alert           *alert.Alert
	Err             error
}

// Response aggregates a batch analysis, results in submission order.
type Response struct {
	RequestID         uuid.UUID
	Results           []*EntityResult
	EntitiesAnalyzed  int
	EventsProcessed   int
	AnomaliesDetected int
	HighRiskEntities  int
	AlertsGenerated   int
	ProcessingTime    time.Duration
}
