package metrics

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Registry holds all domain-specific metrics for the application
type Registry struct {
	meter metric.Meter

	// Analysis Metrics
	AnalysisDuration     metric.Float64Histogram
	EntitiesPerSecond    metric.Float64ObservableGauge
	AnalysisSuccessTotal metric.Int64Counter
	AnalysisFailureTotal metric.Int64Counter
	ActiveAnalyses       metric.Int64ObservableGauge

	// Anomaly Detection Metrics
	DetectionDuration metric.Float64Histogram
	AnomalyCounter    metric.Int64Counter
	AnomalyScore      metric.Float64Histogram
	BaselineRebuilds  metric.Int64Counter
	BaselineCacheSize metric.Int64ObservableGauge

	// Risk Metrics
	RiskCalcDuration  metric.Float64Histogram
	RiskScoreValue    metric.Float64Histogram
	HighRiskEntities  metric.Int64ObservableGauge
	DecayApplications metric.Int64Counter

	// Alert Metrics
	AlertCreatedCounter    metric.Int64Counter
	AlertSuppressedCounter metric.Int64Counter
	AlertEscalatedCounter  metric.Int64Counter
	DispatchQueueDepth     metric.Int64ObservableGauge
	DispatchLatency        metric.Float64Histogram
	DispatchFailureCounter metric.Int64Counter

	// State for observable metrics
	mu                 sync.RWMutex
	activeAnalyses     int64
	baselineCacheSize  int64
	highRiskEntities   int64
	dispatchQueueDepth int64
	entitiesProcessed  int64
	lastEntityCount    int64
	lastEntityTime     time.Time
}

// NewRegistry creates a new metrics registry with all domain metrics
func NewRegistry(meterName string) (*Registry, error) {
	meter := otel.Meter(meterName)
	r := &Registry{
		meter:          meter,
		lastEntityTime: time.Now(),
	}

	if err := r.initAnalysisMetrics(); err != nil {
		return nil, err
	}

	if err := r.initAnomalyMetrics(); err != nil {
		return nil, err
	}

	if err := r.initRiskMetrics(); err != nil {
		return nil, err
	}

	if err := r.initAlertMetrics(); err != nil {
		return nil, err
	}

	return r, nil
}

// initAnalysisMetrics initializes analysis pipeline metrics
func (r *Registry) initAnalysisMetrics() error {
	var err error

	r.AnalysisDuration, err = r.meter.Float64Histogram(
		"ueba.analysis.duration",
		metric.WithDescription("Duration of per-entity analysis in milliseconds"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 50, 100, 500, 1000, 5000, 30000),
	)
	if err != nil {
		return err
	}

	r.EntitiesPerSecond, err = r.meter.Float64ObservableGauge(
		"ueba.analysis.throughput_per_second",
		metric.WithDescription("Current entity analysis throughput per second"),
		metric.WithFloat64Callback(func(ctx context.Context, o metric.Float64Observer) error {
			r.mu.RLock()
			defer r.mu.RUnlock()

			now := time.Now()
			elapsed := now.Sub(r.lastEntityTime).Seconds()
			if elapsed > 0 {
				rate := float64(r.entitiesProcessed-r.lastEntityCount) / elapsed
				o.Observe(rate)
				r.lastEntityCount = r.entitiesProcessed
				r.lastEntityTime = now
			}
			return nil
		}),
	)
	if err != nil {
		return err
	}

	r.AnalysisSuccessTotal, err = r.meter.Int64Counter(
		"ueba.analysis.success_total",
		metric.WithDescription("Total number of successfully analyzed entities"),
	)
	if err != nil {
		return err
	}

	r.AnalysisFailureTotal, err = r.meter.Int64Counter(
		"ueba.analysis.failure_total",
		metric.WithDescription("Total number of failed entity analyses"),
	)
	if err != nil {
		return err
	}

	r.ActiveAnalyses, err = r.meter.Int64ObservableGauge(
		"ueba.analysis.active_total",
		metric.WithDescription("Number of entity analyses currently in flight"),
		metric.WithInt64Callback(func(ctx context.Context, o metric.Int64Observer) error {
			r.mu.RLock()
			defer r.mu.RUnlock()
			o.Observe(r.activeAnalyses)
			return nil
		}),
	)

	return err
}

// initAnomalyMetrics initializes detection and baseline metrics
func (r *Registry) initAnomalyMetrics() error {
	var err error

	r.DetectionDuration, err = r.meter.Float64Histogram(
		"ueba.anomaly.detection_duration",
		metric.WithDescription("Duration of anomaly detection per entity in milliseconds"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 5, 10, 50, 100, 500),
	)
	if err != nil {
		return err
	}

	r.AnomalyCounter, err = r.meter.Int64Counter(
		"ueba.anomaly.detected_total",
		metric.WithDescription("Total number of anomalies detected"),
	)
	if err != nil {
		return err
	}

	r.AnomalyScore, err = r.meter.Float64Histogram(
		"ueba.anomaly.score",
		metric.WithDescription("Distribution of anomaly scores"),
		metric.WithExplicitBucketBoundaries(0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9),
	)
	if err != nil {
		return err
	}

	r.BaselineRebuilds, err = r.meter.Int64Counter(
		"ueba.baseline.rebuild_total",
		metric.WithDescription("Total number of baseline rebuilds"),
	)
	if err != nil {
		return err
	}

	r.BaselineCacheSize, err = r.meter.Int64ObservableGauge(
		"ueba.baseline.cache_size",
		metric.WithDescription("Number of baselines held in memory"),
		metric.WithInt64Callback(func(ctx context.Context, o metric.Int64Observer) error {
			r.mu.RLock()
			defer r.mu.RUnlock()
			o.Observe(r.baselineCacheSize)
			return nil
		}),
	)

	return err
}

// initRiskMetrics initializes risk scoring metrics
func (r *Registry) initRiskMetrics() error {
	var err error

	r.RiskCalcDuration, err = r.meter.Float64Histogram(
		"ueba.risk.calculation_duration",
		metric.WithDescription("Duration of risk score calculation in microseconds"),
		metric.WithUnit("us"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 50, 100, 500, 1000),
	)
	if err != nil {
		return err
	}

	r.RiskScoreValue, err = r.meter.Float64Histogram(
		"ueba.risk.score",
		metric.WithDescription("Distribution of calculated risk scores"),
		metric.WithExplicitBucketBoundaries(0.1, 0.2, 0.4, 0.6, 0.8, 0.9),
	)
	if err != nil {
		return err
	}

	r.HighRiskEntities, err = r.meter.Int64ObservableGauge(
		"ueba.risk.high_risk_entities",
		metric.WithDescription("Number of entities currently above the high-risk threshold"),
		metric.WithInt64Callback(func(ctx context.Context, o metric.Int64Observer) error {
			r.mu.RLock()
			defer r.mu.RUnlock()
			o.Observe(r.highRiskEntities)
			return nil
		}),
	)
	if err != nil {
		return err
	}

	r.DecayApplications, err = r.meter.Int64Counter(
		"ueba.risk.decay_applied_total",
		metric.WithDescription("Total number of decay applications to stored scores"),
	)

	return err
}

// initAlertMetrics initializes alerting and dispatch metrics
func (r *Registry) initAlertMetrics() error {
	var err error

	r.AlertCreatedCounter, err = r.meter.Int64Counter(
		"ueba.alert.created_total",
		metric.WithDescription("Total number of alerts created"),
	)
	if err != nil {
		return err
	}

	r.AlertSuppressedCounter, err = r.meter.Int64Counter(
		"ueba.alert.suppressed_total",
		metric.WithDescription("Total number of alerts suppressed by cooldown"),
	)
	if err != nil {
		return err
	}

	r.AlertEscalatedCounter, err = r.meter.Int64Counter(
		"ueba.alert.escalated_total",
		metric.WithDescription("Total number of escalated alerts"),
	)
	if err != nil {
		return err
	}

	r.DispatchQueueDepth, err = r.meter.Int64ObservableGauge(
		"ueba.alert.dispatch_queue_depth",
		metric.WithDescription("Current depth of the notification dispatch queue"),
		metric.WithInt64Callback(func(ctx context.Context, o metric.Int64Observer) error {
			r.mu.RLock()
			defer r.mu.RUnlock()
			o.Observe(r.dispatchQueueDepth)
			return nil
		}),
	)
	if err != nil {
		return err
	}

	r.DispatchLatency, err = r.meter.Float64Histogram(
		"ueba.alert.dispatch_latency",
		metric.WithDescription("Notification dispatch latency in milliseconds"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 50, 100, 500, 1000, 5000),
	)
	if err != nil {
		return err
	}

	r.DispatchFailureCounter, err = r.meter.Int64Counter(
		"ueba.alert.dispatch_failure_total",
		metric.WithDescription("Total number of failed notification deliveries"),
	)

	return err
}

// Helper methods for updating observable metric values

// UpdateActiveAnalyses updates the in-flight analysis count
func (r *Registry) UpdateActiveAnalyses(delta int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.activeAnalyses += delta
}

// SetBaselineCacheSize sets the resident baseline count
func (r *Registry) SetBaselineCacheSize(size int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.baselineCacheSize = size
}

// SetHighRiskEntities sets the high-risk entity count
func (r *Registry) SetHighRiskEntities(count int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.highRiskEntities = count
}

// SetDispatchQueueDepth sets the dispatch queue depth
func (r *Registry) SetDispatchQueueDepth(depth int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dispatchQueueDepth = depth
}

// IncrementEntitiesProcessed increments the processed entity counter
func (r *Registry) IncrementEntitiesProcessed() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entitiesProcessed++
}

// Helper methods for recording metrics with common attribute patterns

// RecordAnalysis records per-entity analysis metrics
func (r *Registry) RecordAnalysis(ctx context.Context, durationMS float64, entityType string, success bool) {
	attrs := []attribute.KeyValue{
		attribute.String("entity_type", entityType),
		attribute.Bool("success", success),
	}

	r.AnalysisDuration.Record(ctx, durationMS, metric.WithAttributes(attrs...))

	if success {
		r.AnalysisSuccessTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	} else {
		r.AnalysisFailureTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	}

	r.IncrementEntitiesProcessed()
}

// RecordAnomaly records a detected anomaly with its score
func (r *Registry) RecordAnomaly(ctx context.Context, anomalyType string, score float64) {
	attrs := []attribute.KeyValue{
		attribute.String("anomaly_type", anomalyType),
	}

	r.AnomalyCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	r.AnomalyScore.Record(ctx, score, metric.WithAttributes(attrs...))
}

// RecordRiskCalculation records risk scoring metrics
func (r *Registry) RecordRiskCalculation(ctx context.Context, durationUS float64, level string, score float64) {
	attrs := []attribute.KeyValue{
		attribute.String("risk_level", level),
	}

	r.RiskCalcDuration.Record(ctx, durationUS, metric.WithAttributes(attrs...))
	r.RiskScoreValue.Record(ctx, score, metric.WithAttributes(attrs...))
}

// RecordAlertCreated records an alert creation
func (r *Registry) RecordAlertCreated(ctx context.Context, severity string, escalated bool) {
	attrs := []attribute.KeyValue{
		attribute.String("severity", severity),
		attribute.Bool("escalated", escalated),
	}

	r.AlertCreatedCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	if escalated {
		r.AlertEscalatedCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

// RecordAlertSuppressed records an alert dropped by a cooldown window
func (r *Registry) RecordAlertSuppressed(ctx context.Context, severity string) {
	r.AlertSuppressedCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("severity", severity),
	))
}

// RecordDispatch records a notification delivery attempt
func (r *Registry) RecordDispatch(ctx context.Context, latencyMS float64, channel string, success bool) {
	attrs := []attribute.KeyValue{
		attribute.String("channel", channel),
		attribute.Bool("success", success),
	}

	r.DispatchLatency.Record(ctx, latencyMS, metric.WithAttributes(attrs...))
	if !success {
		r.DispatchFailureCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}
