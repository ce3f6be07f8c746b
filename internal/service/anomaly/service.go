package anomaly

import (
	"context"
	"math"

	"go.uber.org/zap"

	"github.com/sentinelops/ueba-backend/internal/domain/anomaly"
	"github.com/sentinelops/ueba-backend/internal/domain/entity"
	"github.com/sentinelops/ueba-backend/internal/domain/event"
	"github.com/sentinelops/ueba-backend/internal/infrastructure/config"
	"github.com/sentinelops/ueba-backend/internal/service/baseline"
	"github.com/sentinelops/ueba-backend/internal/service/features"
)

// Engine runs the anomaly detectors over one entity's current behavior.
// Detectors run in a fixed order (time, volume, pattern, location) so output
// ordering is deterministic for a given input.
type Engine struct {
	cfg    config.AnalyticsConfig
	geo    Geo
	model  OutlierModel
	logger *zap.Logger
}

// NewEngine creates an anomaly engine. A nil geo falls back to haversine
// math; a nil model falls back to a seeded isolation forest.
func NewEngine(cfg config.AnalyticsConfig, geo Geo, model OutlierModel, logger *zap.Logger) *Engine {
	if geo == nil {
		geo = &HaversineGeo{}
	}
	if model == nil {
		model = NewIsolationForest(1)
	}
	return &Engine{
		cfg:    cfg,
		geo:    geo,
		model:  model,
		logger: logger,
	}
}

// Detect scores the entity's current behavior against its baseline. A nil
// baseline skips the baseline-dependent detectors; location detection runs
// regardless because impossible travel needs no baseline.
func (e *Engine) Detect(
	ctx context.Context,
	ent *entity.Entity,
	vector *features.Vector,
	events []*event.Event,
	base *baseline.Baseline,
) []*anomaly.Detection {
	var detections []*anomaly.Detection

	if base != nil {
		if d := e.detectTime(ent, vector, base); d != nil {
			detections = append(detections, d)
		}
		if d := e.detectVolume(ent, vector, base); d != nil {
			detections = append(detections, d)
		}
		if d := e.detectPattern(ent, vector, base); d != nil {
			detections = append(detections, d)
		}
	} else {
		e.logger.Debug("no baseline, skipping baseline-dependent detectors",
			zap.String("entity_id", ent.ID))
	}

	detections = append(detections, e.detectLocation(ent, events)...)

	if len(detections) > 0 {
		e.logger.Debug("anomalies detected",
			zap.String("entity_id", ent.ID),
			zap.Int("count", len(detections)))
	}

	return detections
}

// detectTime flags activity at an hour outside the entity's typical set. The
// score is the shortfall of the hour's baseline share relative to the busiest
// hour; small shortfalls below the gate are noise and dropped.
func (e *Engine) detectTime(ent *entity.Entity, vector *features.Vector, base *baseline.Baseline) *anomaly.Detection {
	if len(base.TypicalHours) == 0 {
		return nil
	}

	hour := vector.Timestamp.Hour()
	if base.IsTypicalHour(hour) {
		return nil
	}

	score := 1.0 - base.HourlyFrequency[hour]/base.MaxHourlyFrequency()
	gate := e.cfg.TimeAnomalyGate()
	if score <= gate {
		return nil
	}

	d, err := anomaly.NewDetection(ent.ID, anomaly.TypeTime, score, 0.8, gate)
	if err != nil {
		e.logger.Warn("time detection rejected", zap.Error(err))
		return nil
	}
	d.WithBaseline(base.ID)
	d.Features = map[string]float64{
		"current_hour":        float64(hour),
		"typical_hour_count":  float64(len(base.TypicalHours)),
		"hour_baseline_share": base.HourlyFrequency[hour],
		"max_baseline_share":  base.MaxHourlyFrequency(),
	}
	d.Deviations = map[string]float64{"hour_deviation": score}
	return d
}

// detectVolume flags event volume more than StdMultiplier standard
// deviations from the baseline hourly rate.
func (e *Engine) detectVolume(ent *entity.Entity, vector *features.Vector, base *baseline.Baseline) *anomaly.Detection {
	if base.AvgEventsPerHour <= 0 {
		return nil
	}

	current := vector.Get("total_events", 0)
	std := base.EventsStd
	if std <= 0 {
		std = 1
	}

	z := math.Abs(current-base.AvgEventsPerHour) / std
	if z <= e.cfg.StdMultiplier {
		return nil
	}

	score := math.Min(z/10.0, 1.0)
	d, err := anomaly.NewDetection(ent.ID, anomaly.TypeVolume, score, 0.7, 0.4)
	if err != nil {
		e.logger.Warn("volume detection rejected", zap.Error(err))
		return nil
	}
	d.WithBaseline(base.ID)
	d.Features = map[string]float64{
		"current_volume":  current,
		"baseline_volume": base.AvgEventsPerHour,
	}
	d.Deviations = map[string]float64{
		"z_score":        z,
		"std_deviations": z,
	}
	return d
}

// detectPattern runs the outlier model over the fixed model feature subset.
func (e *Engine) detectPattern(ent *entity.Entity, vector *features.Vector, base *baseline.Baseline) *anomaly.Detection {
	mv := vector.ModelVector()
	if allZero(mv) {
		return nil
	}

	modelScore := e.model.Score(mv)
	if modelScore >= e.cfg.PatternThreshold {
		return nil
	}

	score := math.Min(math.Abs(modelScore), 1.0)
	d, err := anomaly.NewDetection(ent.ID, anomaly.TypePattern, score, 0.75, 0.5)
	if err != nil {
		e.logger.Warn("pattern detection rejected", zap.Error(err))
		return nil
	}
	d.WithBaseline(base.ID)
	d.Features = vector.Values
	d.Deviations = map[string]float64{"model_score": modelScore}
	return d
}

// detectLocation emits one detection per impossible-travel pair, tied to the
// later event of the pair.
func (e *Engine) detectLocation(ent *entity.Entity, events []*event.Event) []*anomaly.Detection {
	pairs := e.geo.DetectImpossibleTravel(events)
	if len(pairs) == 0 {
		return nil
	}

	detections := make([]*anomaly.Detection, 0, len(pairs))
	for _, pair := range pairs {
		d, err := anomaly.NewDetection(ent.ID, anomaly.TypeLocation, 0.9, 0.95, 0.7)
		if err != nil {
			e.logger.Warn("location detection rejected", zap.Error(err))
			continue
		}
		d.WithEvent(pair.Later.ID)
		d.Features = map[string]float64{
			"distance_km":           pair.DistanceKM,
			"time_difference_hours": pair.TimeDiffHours,
			"required_speed_kmh":    pair.RequiredSpeedKMH,
		}
		d.Deviations = map[string]float64{"impossible_travel": 1}
		detections = append(detections, d)
	}
	return detections
}

func allZero(xs []float64) bool {
	for _, x := range xs {
		if x != 0 {
			return false
		}
	}
	return true
}
