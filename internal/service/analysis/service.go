package analysis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sentinelops/ueba-backend/internal/domain/alert"
	"github.com/sentinelops/ueba-backend/internal/domain/anomaly"
	"github.com/sentinelops/ueba-backend/internal/domain/entity"
	"github.com/sentinelops/ueba-backend/internal/domain/errors"
	"github.com/sentinelops/ueba-backend/internal/domain/event"
	"github.com/sentinelops/ueba-backend/internal/domain/risk"
	"github.com/sentinelops/ueba-backend/internal/infrastructure/config"
	"github.com/sentinelops/ueba-backend/internal/infrastructure/telemetry"
	"github.com/sentinelops/ueba-backend/internal/metrics"
	"github.com/sentinelops/ueba-backend/internal/service/alerting"
	anomalyservice "github.com/sentinelops/ueba-backend/internal/service/anomaly"
	"github.com/sentinelops/ueba-backend/internal/service/baseline"
	"github.com/sentinelops/ueba-backend/internal/service/features"
	riskservice "github.com/sentinelops/ueba-backend/internal/service/risk"
)

// Service orchestrates the analysis pipeline: collect events, extract
// features, compare against baseline, detect anomalies, score risk, and
// raise alerts for high-risk entities. Entities are independent, so a
// batch fans out over a bounded worker pool and gathers results in
// submission order.
type Service struct {
	cfg       config.AnalyticsConfig
	source    EventSource
	directory EntityDirectory
	extractor *features.Extractor
	baselines *baseline.Store
	engine    *anomalyservice.Engine
	scorer    *riskservice.Scorer
	alerts    *alerting.Manager
	logger    *zap.Logger
	registry  *metrics.Registry
}

// NewService wires the pipeline together. The registry is optional.
func NewService(
	cfg config.AnalyticsConfig,
	source EventSource,
	directory EntityDirectory,
	extractor *features.Extractor,
	baselines *baseline.Store,
	engine *anomalyservice.Engine,
	scorer *riskservice.Scorer,
	alerts *alerting.Manager,
	logger *zap.Logger,
	registry *metrics.Registry,
) *Service {
	return &Service{
		cfg:       cfg,
		source:    source,
		directory: directory,
		extractor: extractor,
		baselines: baselines,
		engine:    engine,
		scorer:    scorer,
		alerts:    alerts,
		logger:    logger,
		registry:  registry,
	}
}

// Analyze runs the pipeline for every requested entity. A single entity
// failing or timing out yields a partial result for that entity only; the
// batch always completes. An empty entity list is an empty response, not
// an error.
func (s *Service) Analyze(ctx context.Context, req Request) (*Response, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "analysis", "Analyze")
	defer span.End()

	started := time.Now()
	resp := &Response{RequestID: uuid.New()}

	if len(req.EntityIDs) == 0 {
		resp.ProcessingTime = time.Since(started)
		return resp, nil
	}

	end := req.End
	if end.IsZero() {
		end = time.Now().UTC()
	}
	start := req.Start
	if start.IsZero() {
		start = end.Add(-s.cfg.FeatureWindow)
	}

	// The progress callback and the completion counter share one mutex so
	// concurrent workers never report out of order.
	var progressMu sync.Mutex
	var completed int
	report := func(step string, percent float64) {
		if req.Progress == nil {
			return
		}
		progressMu.Lock()
		defer progressMu.Unlock()
		req.Progress(step, percent)
	}
	reportCompletion := func(total int) {
		progressMu.Lock()
		defer progressMu.Unlock()
		completed++
		if req.Progress != nil {
			req.Progress(fmt.Sprintf("analyzed entity %d/%d", completed, total), 95*float64(completed)/float64(total))
		}
	}

	s.logger.Info("starting batch analysis",
		zap.String("request_id", resp.RequestID.String()),
		zap.Int("entities", len(req.EntityIDs)))
	report("initializing analysis", 0)

	total := len(req.EntityIDs)
	results := make([]*EntityResult, total)
	sem := make(chan struct{}, s.cfg.MaxConcurrency)
	var wg sync.WaitGroup

	for i, entityID := range req.EntityIDs {
		wg.Add(1)
		go func(idx int, id string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			if s.registry != nil {
				s.registry.UpdateActiveAnalyses(1)
				defer s.registry.UpdateActiveAnalyses(-1)
			}

			entCtx := ctx
			if s.cfg.AnalysisTimeout > 0 {
				var cancel context.CancelFunc
				entCtx, cancel = context.WithTimeout(ctx, s.cfg.AnalysisTimeout)
				defer cancel()
			}
			results[idx] = s.analyzeEntity(entCtx, id, req, start, end)
			reportCompletion(total)
		}(i, entityID)
	}
	wg.Wait()

	resp.Results = results
	for _, r := range results {
		resp.EntitiesAnalyzed++
		resp.EventsProcessed += r.EventsProcessed
		resp.AnomaliesDetected += len(r.Anomalies)
		if r.RiskScore != nil && r.RiskScore.Level >= risk.LevelHigh {
			resp.HighRiskEntities++
		}
		if r.Alert != nil {
			resp.AlertsGenerated++
		}
	}

	if s.registry != nil {
		s.registry.SetHighRiskEntities(int64(resp.HighRiskEntities))
		s.registry.SetBaselineCacheSize(int64(s.baselines.Size()))
	}

	report("processing complete", 100)
	resp.ProcessingTime = time.Since(started)

	s.logger.Info("batch analysis completed",
		zap.String("request_id", resp.RequestID.String()),
		zap.Int("anomalies", resp.AnomaliesDetected),
		zap.Int("alerts", resp.AlertsGenerated),
		zap.Duration("elapsed", resp.ProcessingTime))

	return resp, nil
}

// analyzeEntity runs the per-entity pipeline, honoring the request's
// entity-type restriction and stage selection. Dependency failures degrade
// the affected signal instead of failing the entity; only an unresolvable
// entity, a scoring failure, or a timeout produce an error result.
func (s *Service) analyzeEntity(ctx context.Context, entityID string, req Request, start, end time.Time) *EntityResult {
	ctx, span := telemetry.StartEntitySpan(ctx, "analyze_entity", entityID)
	defer span.End()
	logger := telemetry.WithContext(ctx, s.logger)

	res := &EntityResult{EntityID: entityID}
	calcStart := time.Now()

	ent, err := s.directory.GetEntity(ctx, entityID)
	if err != nil {
		telemetry.WithSpanError(span, err)
		logger.Warn("entity lookup failed",
			zap.String("entity_id", entityID),
			zap.Error(err))
		res.Err = err
		return res
	}
	if ent == nil {
		logger.Warn("unknown entity, returning empty result",
			zap.String("entity_id", entityID))
		return res
	}
	if req.EntityType != nil && ent.Type != *req.EntityType {
		logger.Debug("entity excluded by requested type",
			zap.String("entity_id", entityID),
			zap.String("entity_type", ent.Type.String()),
			zap.String("requested_type", req.EntityType.String()))
		return res
	}

	events, err := s.source.CollectEntityEvents(ctx, entityID, start, end)
	if err != nil {
		// Degraded: analyze with no events rather than failing the entity.
		logger.Warn("event collection failed",
			zap.String("entity_id", entityID),
			zap.Error(err))
		events = nil
	}
	res.EventsProcessed = len(events)

	res.Features = s.extractor.Extract(entityID, events, end)

	if ctx.Err() != nil {
		res.Err = errors.NewTimeoutError("entity analysis timed out").WithCause(ctx.Err())
		telemetry.WithSpanError(span, res.Err)
		return res
	}

	if req.wantsAnomalies() {
		base, err := s.baselines.GetOrCreate(ctx, ent)
		if err != nil {
			// Degraded: baseline-dependent detectors skip on nil.
			logger.Warn("baseline unavailable",
				zap.String("entity_id", entityID),
				zap.Error(err))
			base = nil
		}

		res.Anomalies = s.engine.Detect(ctx, ent, res.Features, events, base)
		if s.registry != nil {
			for _, d := range res.Anomalies {
				s.registry.RecordAnomaly(ctx, d.Type.String(), d.Score)
			}
		}
	}

	if req.wantsRiskScoring() {
		riskStart := time.Now()
		score, err := s.scorer.Calculate(ctx, ent, events, res.Anomalies)
		if err != nil {
			if ctx.Err() != nil {
				err = errors.NewTimeoutError("entity analysis timed out").WithCause(ctx.Err())
			}
			telemetry.WithSpanError(span, err)
			logger.Error("risk calculation failed",
				zap.String("entity_id", entityID),
				zap.Error(err))
			res.Err = err
			return res
		}
		res.RiskScore = score
		if s.registry != nil {
			s.registry.RecordRiskCalculation(ctx, float64(time.Since(riskStart).Microseconds()), score.Level.String(), score.Overall)
		}

		if score.Level >= risk.LevelHigh {
			if a, err := s.riskAlert(ent, score, res.Anomalies); err == nil {
				if err := s.alerts.Process(ctx, a); err == nil {
					res.Alert = a
				}
			}
		}
	}

	if s.registry != nil {
		s.registry.RecordAnalysis(ctx, float64(time.Since(calcStart).Milliseconds()), ent.Type.String(), true)
		s.registry.IncrementEntitiesProcessed()
	}

	return res
}

// riskAlert builds the alert raised when an entity crosses into high or
// very-high risk.
func (s *Service) riskAlert(ent *entity.Entity, score *risk.Score, anomalies []*anomaly.Detection) (*alert.Alert, error) {
	severity := alert.SeverityHigh
	if score.Level == risk.LevelVeryHigh {
		severity = alert.SeverityCritical
	}

	a, err := alert.New(
		fmt.Sprintf("High Risk Entity Detected: %s", ent.Name),
		fmt.Sprintf("Entity %s has elevated risk score of %.3f", ent.ID, score.Overall),
		severity, ent.ID, ent.Type, score.Overall,
	)
	if err != nil {
		return nil, err
	}

	a.Evidence["risk_factors"] = score.Factors
	a.Evidence["anomaly_count"] = len(anomalies)
	for _, d := range anomalies {
		a.AnomalyIDs = append(a.AnomalyIDs, d.ID)
	}
	a.Mitigations = []string{
		"Review recent activity",
		"Verify user identity",
		"Monitor closely",
	}
	return a, nil
}

// anomalyAlert builds the medium-severity alert raised from the real-time
// monitoring path.
func (s *Service) anomalyAlert(ent *entity.Entity, d *anomaly.Detection) (*alert.Alert, error) {
	a, err := alert.New(
		"Behavioral Anomaly Detected",
		fmt.Sprintf("Anomalous behavior detected for %s", ent.Name),
		alert.SeverityMedium, ent.ID, ent.Type, d.Score,
	)
	if err != nil {
		return nil, err
	}

	a.Evidence["anomaly_type"] = d.Type.String()
	if d.EventID != nil {
		a.Evidence["event_id"] = d.EventID.String()
	}
	a.AnomalyIDs = append(a.AnomalyIDs, d.ID)
	return a, nil
}

// MonitorStream consumes event batches until ctx is cancelled or the
// stream closes, feeding detections through the same alert path as batch
// analysis. Alert dispatch is asynchronous; a slow notification channel
// never stalls the loop.
func (s *Service) MonitorStream(ctx context.Context, stream <-chan []*event.Event, callback func([]*alert.Alert)) {
	s.logger.Info("starting real-time event monitoring")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("event monitoring stopped")
			return
		case batch, ok := <-stream:
			if !ok {
				s.logger.Info("event stream closed")
				return
			}
			if alerts := s.processBatch(ctx, batch); len(alerts) > 0 && callback != nil {
				callback(alerts)
			}
		}
	}
}

func (s *Service) processBatch(ctx context.Context, batch []*event.Event) []*alert.Alert {
	byEntity := make(map[string][]*event.Event)
	for _, e := range batch {
		byEntity[e.EntityID] = append(byEntity[e.EntityID], e)
	}

	var alerts []*alert.Alert
	for entityID, events := range byEntity {
		ent, err := s.directory.GetEntity(ctx, entityID)
		if err != nil || ent == nil {
			continue
		}

		vector := s.extractor.Extract(entityID, events, time.Now().UTC())
		base, err := s.baselines.GetOrCreate(ctx, ent)
		if err != nil {
			base = nil
		}

		for _, d := range s.engine.Detect(ctx, ent, vector, events, base) {
			if d.Score <= s.cfg.Sensitivity {
				continue
			}
			a, err := s.anomalyAlert(ent, d)
			if err != nil {
				continue
			}
			if err := s.alerts.Process(ctx, a); err == nil {
				alerts = append(alerts, a)
			}
		}
	}
	return alerts
}

// UpdateEntityBaseline forces a baseline rebuild, or builds lazily when
// forceRebuild is false.
func (s *Service) UpdateEntityBaseline(ctx context.Context, entityID string, forceRebuild bool) error {
	ent, err := s.directory.GetEntity(ctx, entityID)
	if err != nil {
		return err
	}
	if ent == nil {
		return errors.NewNotFoundError("entity")
	}

	if forceRebuild {
		_, err = s.baselines.Rebuild(ctx, ent)
	} else {
		_, err = s.baselines.GetOrCreate(ctx, ent)
	}
	if err != nil {
		return err
	}

	s.logger.Info("baseline updated",
		zap.String("entity_id", entityID),
		zap.Bool("force_rebuild", forceRebuild))
	return nil
}

// RiskTrend exposes the scorer's trend query.
func (s *Service) RiskTrend(ctx context.Context, entityID string, days int) (*risk.Trend, error) {
	return s.scorer.Trend(ctx, entityID, days)
}

// HighRiskEntities exposes the scorer's high-risk query.
func (s *Service) HighRiskEntities(ctx context.Context, threshold float64, limit int) ([]*risk.Score, error) {
	return s.scorer.HighRiskEntities(ctx, threshold, limit)
}

// Alerts exposes the alert manager for lifecycle operations.
func (s *Service) Alerts() *alerting.Manager {
	return s.alerts
}
