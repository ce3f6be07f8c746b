package risk

import (
	"context"
	"math"
	"sort"

	"go.uber.org/zap"

	"github.com/sentinelops/ueba-backend/internal/domain/anomaly"
	"github.com/sentinelops/ueba-backend/internal/domain/entity"
	"github.com/sentinelops/ueba-backend/internal/domain/errors"
	"github.com/sentinelops/ueba-backend/internal/domain/event"
	"github.com/sentinelops/ueba-backend/internal/domain/risk"
	"github.com/sentinelops/ueba-backend/internal/infrastructure/config"
)

// Scorer turns an entity's recent behavior and detected anomalies into a
// weighted risk score with time decay against the previous calculation.
type Scorer struct {
	cfg    config.RiskConfig
	store  Store
	logger *zap.Logger
}

// NewScorer creates a risk scorer backed by the given score store.
func NewScorer(cfg config.RiskConfig, store Store, logger *zap.Logger) *Scorer {
	return &Scorer{
		cfg:    cfg,
		store:  store,
		logger: logger,
	}
}

// Calculate builds the factor set, combines it through the weight table,
// applies decay against the previous score, and persists the result.
func (s *Scorer) Calculate(
	ctx context.Context,
	ent *entity.Entity,
	events []*event.Event,
	anomalies []*anomaly.Detection,
) (*risk.Score, error) {
	if ent == nil {
		return nil, errors.NewValidationError("INVALID_ENTITY", "entity cannot be nil")
	}

	factors := make(map[string]float64)
	s.anomalyFactors(factors, anomalies)
	s.temporalFactors(factors, events)
	s.volumeFactors(factors, events)
	s.accessFactors(factors, events)
	s.behavioralChangeFactors(factors, ent, events)
	s.entitySpecificFactors(factors, ent)

	overall := weightedScore(factors)

	decayed, applied, err := s.applyDecay(ctx, ent.ID, overall)
	if err != nil {
		return nil, err
	}

	score, err := risk.NewScore(ent.ID, decayed, factors, methodWeightedEnsemble)
	if err != nil {
		return nil, errors.NewInternalError("building risk score").WithCause(err)
	}
	score.DecayApplied = applied
	score.LastCalculated = clock.Now()
	score.Level = risk.LevelForScore(score.Overall)

	// The newest events carry the score's provenance.
	start := len(events) - contributingEventLimit
	if start < 0 {
		start = 0
	}
	for _, e := range events[start:] {
		score.ContributingEvents = append(score.ContributingEvents, e.ID)
	}

	if err := s.store.Save(ctx, score); err != nil {
		return nil, err
	}

	s.logger.Debug("risk score calculated",
		zap.String("entity_id", ent.ID),
		zap.Float64("score", score.Overall),
		zap.String("level", score.Level.String()))

	return score, nil
}

// Trend summarizes the entity's score history over the trailing days. Fewer
// than two data points yield (nil, nil).
func (s *Scorer) Trend(ctx context.Context, entityID string, days int) (*risk.Trend, error) {
	since := clock.Now().AddDate(0, 0, -days)
	history, err := s.store.History(ctx, entityID, since)
	if err != nil {
		return nil, err
	}
	if len(history) < 2 {
		return nil, nil
	}

	values := make([]float64, len(history))
	for i, h := range history {
		values[i] = h.Score
	}

	min, max, sum := values[0], values[0], 0.0
	for _, v := range values {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
		sum += v
	}

	direction := "decreasing"
	if values[len(values)-1] > values[0] {
		direction = "increasing"
	}

	return &risk.Trend{
		Current:    values[len(values)-1],
		Min:        min,
		Max:        max,
		Avg:        sum / float64(len(values)),
		Direction:  direction,
		Volatility: volatility(values),
		DataPoints: len(values),
	}, nil
}

// HighRiskEntities returns current scores at or above threshold, highest
// first, capped at limit. A non-positive threshold falls back to the
// configured high-risk cutoff.
func (s *Scorer) HighRiskEntities(ctx context.Context, threshold float64, limit int) ([]*risk.Score, error) {
	if threshold <= 0 {
		threshold = s.cfg.HighRiskThreshold
	}

	all, err := s.store.AllCurrent(ctx)
	if err != nil {
		return nil, err
	}

	high := make([]*risk.Score, 0, len(all))
	for _, score := range all {
		if score.Overall >= threshold {
			high = append(high, score)
		}
	}

	sort.Slice(high, func(i, j int) bool {
		return high[i].Overall > high[j].Overall
	})

	if limit > 0 && len(high) > limit {
		high = high[:limit]
	}
	return high, nil
}

func (s *Scorer) anomalyFactors(factors map[string]float64, anomalies []*anomaly.Detection) {
	if len(anomalies) == 0 {
		factors["anomaly_count_risk"] = 0
		factors["anomaly_severity_risk"] = 0
		return
	}

	counts := make(map[anomaly.Type]int)
	var totalScore float64
	for _, a := range anomalies {
		counts[a.Type]++
		totalScore += a.Score
	}

	factors["anomaly_count_risk"] = math.Min(float64(len(anomalies))/10.0, 1.0)
	// Average severity, deliberately not normalized by entity activity size.
	factors["anomaly_severity_risk"] = totalScore / float64(len(anomalies))

	if c := counts[anomaly.TypeLocation]; c > 0 {
		factors["location_anomaly_risk"] = math.Min(float64(c)/3.0, 1.0)
	}
	if c := counts[anomaly.TypeTime]; c > 0 {
		factors["time_anomaly_risk"] = math.Min(float64(c)/5.0, 1.0)
	}
	if c := counts[anomaly.TypeAccess]; c > 0 {
		factors["access_anomaly_risk"] = math.Min(float64(c)/3.0, 1.0)
	}
}

func (s *Scorer) temporalFactors(factors map[string]float64, events []*event.Event) {
	if len(events) == 0 {
		factors["temporal_risk"] = 0
		return
	}

	var offHours, weekend, night float64
	for _, e := range events {
		h := e.Timestamp.Hour()
		d := (int(e.Timestamp.Weekday()) + 6) % 7

		if h < 8 || h > 18 {
			offHours++
		}
		if d >= 5 {
			weekend++
		}
		if h >= 22 || h <= 6 {
			night++
		}
	}

	total := float64(len(events))
	factors["off_hours_risk"] = offHours / total
	factors["weekend_risk"] = weekend / total
	factors["night_activity_risk"] = night / total

	if len(events) > 10 {
		span := timeSpanHours(events)
		if span > 0 {
			factors["activity_burst_risk"] = math.Min((total/span)/100.0, 1.0)
		} else {
			// Every event at the same instant looks automated.
			factors["activity_burst_risk"] = 1.0
		}
	} else {
		factors["activity_burst_risk"] = 0
	}
}

func (s *Scorer) volumeFactors(factors map[string]float64, events []*event.Event) {
	if len(events) == 0 {
		factors["volume_risk"] = 0
		return
	}

	total := float64(len(events))
	eventsPerHour := total
	if len(events) > 1 {
		eventsPerHour = total / math.Max(timeSpanHours(events), 1)
	}

	// Threshold rate in lieu of a per-entity volume baseline; the anomaly
	// engine covers the baseline-relative case.
	const normalEventsPerHour = 10.0
	if eventsPerHour > normalEventsPerHour*3 {
		factors["high_volume_risk"] = math.Min((eventsPerHour/normalEventsPerHour)/10.0, 1.0)
	} else {
		factors["high_volume_risk"] = 0
	}

	var totalBytes int64
	for _, e := range events {
		totalBytes += e.DataVolume()
	}
	if totalBytes > 0 {
		dataMB := float64(totalBytes) / (1024 * 1024)
		factors["data_volume_risk"] = math.Min(dataMB/1000.0, 1.0)
	} else {
		factors["data_volume_risk"] = 0
	}
}

func (s *Scorer) accessFactors(factors map[string]float64, events []*event.Event) {
	if len(events) == 0 {
		factors["access_risk"] = 0
		return
	}

	var failed, succeeded, sensitive float64
	uniqueIPs := make(map[string]struct{})

	for _, e := range events {
		switch e.AuthResult {
		case event.ResultFailure:
			failed++
		case event.ResultSuccess:
			succeeded++
		}
		if e.IsSensitiveAccess() {
			sensitive++
		}
		if e.SourceIP != "" {
			uniqueIPs[e.SourceIP] = struct{}{}
		}
	}

	if attempts := failed + succeeded; attempts > 0 {
		factors["failed_access_risk"] = failed / attempts
	} else {
		factors["failed_access_risk"] = 0
	}

	factors["sensitive_access_risk"] = math.Min(sensitive/5.0, 1.0)
	factors["multiple_ip_risk"] = math.Min(float64(len(uniqueIPs))/10.0, 1.0)

	if failed >= 10 {
		factors["brute_force_risk"] = math.Min(failed/50.0, 1.0)
	} else {
		factors["brute_force_risk"] = 0
	}
}

func (s *Scorer) behavioralChangeFactors(factors map[string]float64, ent *entity.Entity, events []*event.Event) {
	factors["dormant_reactivation_risk"] = 0
	if ent.LastActivity != nil && len(events) > 0 {
		dormancy := clock.Now().Sub(*ent.LastActivity)
		if dormancy > s.cfg.DormantThreshold {
			days := dormancy.Hours() / 24
			factors["dormant_reactivation_risk"] = math.Min(days/365.0, 1.0)
		}
	}

	// Baseline-relative pattern deviation is scored by the anomaly engine
	// and folded in through the anomaly factors.
	factors["pattern_deviation_risk"] = 0
}

func (s *Scorer) entitySpecificFactors(factors map[string]float64, ent *entity.Entity) {
	if ent.Privileged {
		factors["privileged_entity_risk"] = 0.3
	} else {
		factors["privileged_entity_risk"] = 0
	}

	if ent.External {
		factors["external_entity_risk"] = 0.2
	} else {
		factors["external_entity_risk"] = 0
	}

	if ent.Type == entity.TypeServiceAccount {
		factors["service_account_risk"] = 0.1
	} else {
		factors["service_account_risk"] = 0
	}

	if ent.Type == entity.TypeDevice {
		if !ent.Trusted {
			factors["untrusted_device_risk"] = 0.4
		} else {
			factors["untrusted_device_risk"] = 0
		}
	}
}

// applyDecay decays the score against the time elapsed since the previous
// calculation. First-time entities keep the raw score.
func (s *Scorer) applyDecay(ctx context.Context, entityID string, score float64) (float64, bool, error) {
	prev, err := s.store.Current(ctx, entityID)
	if err != nil {
		return 0, false, err
	}
	if prev == nil {
		return score, false, nil
	}

	hours := clock.Now().Sub(prev.LastCalculated).Hours()
	halfLife := s.cfg.DecayHalfLife.Hours()
	factor := math.Exp(-math.Ln2 * hours / halfLife)

	return math.Max(score*factor, 0), true, nil
}

// weightedScore combines factors through the weight table, normalized by the
// total weight of the factors present.
func weightedScore(factors map[string]float64) float64 {
	if len(factors) == 0 {
		return 0
	}

	var weighted, totalWeight float64
	for name, value := range factors {
		weight, ok := factorWeights[name]
		if !ok {
			weight = defaultFactorWeight
		}
		weighted += value * weight
		totalWeight += weight
	}

	if totalWeight == 0 {
		return 0
	}
	return math.Max(0, math.Min(weighted/totalWeight, 1))
}

func timeSpanHours(events []*event.Event) float64 {
	first, last := events[0].Timestamp, events[0].Timestamp
	for _, e := range events[1:] {
		if e.Timestamp.Before(first) {
			first = e.Timestamp
		}
		if e.Timestamp.After(last) {
			last = e.Timestamp
		}
	}
	return last.Sub(first).Hours()
}

func volatility(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))

	var ss float64
	for _, v := range values {
		d := v - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(values)))
}
