package analysis

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/sentinelops/ueba-backend/internal/domain/alert"
	"github.com/sentinelops/ueba-backend/internal/domain/entity"
	"github.com/sentinelops/ueba-backend/internal/domain/event"
	"github.com/sentinelops/ueba-backend/internal/domain/risk"
	"github.com/sentinelops/ueba-backend/internal/infrastructure/config"
	"github.com/sentinelops/ueba-backend/internal/service/alerting"
	"github.com/sentinelops/ueba-backend/internal/service/anomaly"
	"github.com/sentinelops/ueba-backend/internal/service/baseline"
	"github.com/sentinelops/ueba-backend/internal/service/features"
	riskservice "github.com/sentinelops/ueba-backend/internal/service/risk"
)

type stubSource struct {
	fn func(ctx context.Context, entityID string, start, end time.Time) ([]*event.Event, error)
}

func (s *stubSource) CollectEntityEvents(ctx context.Context, entityID string, start, end time.Time) ([]*event.Event, error) {
	if s.fn == nil {
		return nil, nil
	}
	return s.fn(ctx, entityID, start, end)
}

type stubDirectory struct {
	mu       sync.Mutex
	entities map[string]*entity.Entity
}

func (d *stubDirectory) GetEntity(_ context.Context, entityID string) (*entity.Entity, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.entities[entityID], nil
}

func (d *stubDirectory) add(e *entity.Entity) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.entities == nil {
		d.entities = make(map[string]*entity.Entity)
	}
	d.entities[e.ID] = e
}

func testAnalyticsConfig() config.AnalyticsConfig {
	return config.AnalyticsConfig{
		FeatureWindow:        24 * time.Hour,
		BaselineTrainingDays: 30,
		StdMultiplier:        3.0,
		PatternThreshold:     -0.5,
		Sensitivity:          0.05,
		MaxConcurrency:       4,
		AnalysisTimeout:      5 * time.Second,
	}
}

func newTestService(t *testing.T, source EventSource, directory EntityDirectory) *Service {
	t.Helper()
	cfg := testAnalyticsConfig()
	logger := zaptest.NewLogger(t)

	baselineSource, ok := source.(baseline.EventSource)
	require.True(t, ok, "test source must also serve baselines")

	riskCfg := config.RiskConfig{
		DecayHalfLife:     24 * time.Hour,
		HistoryRetention:  30 * 24 * time.Hour,
		HighRiskThreshold: 0.7,
	}
	alertCfg := config.AlertingConfig{
		Cooldown:            60 * time.Minute,
		EscalationThreshold: 5,
		EscalationWindow:    24 * time.Hour,
		DispatchQueueSize:   64,
		DispatchRatePerSec:  1000,
	}

	dispatcher := alerting.NewDispatcher(alertCfg, nil, logger, nil)
	manager := alerting.NewManager(alertCfg, dispatcher, logger, nil, nil)
	scorer := riskservice.NewScorer(riskCfg, riskservice.NewMemoryStore(riskCfg.HistoryRetention), logger)

	return NewService(
		cfg,
		source,
		directory,
		features.NewExtractor(cfg),
		baseline.NewStore(cfg, baselineSource, logger),
		anomaly.NewEngine(cfg, nil, nil, logger),
		scorer,
		manager,
		logger,
		nil,
	)
}

func plainUser(t *testing.T, id string) *entity.Entity {
	t.Helper()
	ent, err := entity.New(id, entity.TypeUser, "User "+id)
	require.NoError(t, err)
	return ent
}

// hostileEvents builds a burst of weekend-night failed authentications with
// sensitive access, many source IPs, heavy data movement, and locations far
// enough apart to trip impossible-travel detection.
func hostileEvents(t *testing.T, entityID string) []*event.Event {
	t.Helper()

	base := time.Date(2024, 3, 16, 23, 0, 0, 0, time.UTC) // Saturday night
	var events []*event.Event

	for i := 0; i < 50; i++ {
		e, err := event.New(entityID, event.TypeAuthentication, base)
		require.NoError(t, err)
		e.AuthResult = event.ResultFailure
		e.SourceIP = fmt.Sprintf("203.0.113.%d", i%10)
		e.DataClassification = "confidential"
		e.BytesAccessed = 50 * 1024 * 1024
		events = append(events, e)
	}

	singapore := &event.Location{Country: "SG", City: "Singapore", Latitude: 1.35, Longitude: 103.82}
	newYork := &event.Location{Country: "US", City: "New York", Latitude: 40.71, Longitude: -74.01}
	for i := 0; i < 7; i++ {
		e, err := event.New(entityID, event.TypeAuthentication, base.Add(time.Duration(i+1)*time.Minute))
		require.NoError(t, err)
		e.AuthResult = event.ResultSuccess
		e.SourceIP = "198.51.100.1"
		if i%2 == 0 {
			e.Location = singapore
		} else {
			e.Location = newYork
		}
		events = append(events, e)
	}

	return events
}

func TestService_Analyze_EmptyEntityList(t *testing.T) {
	svc := newTestService(t, &stubSource{}, &stubDirectory{})

	resp, err := svc.Analyze(context.Background(), Request{})
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Empty(t, resp.Results)
	assert.Zero(t, resp.EntitiesAnalyzed)
	assert.Zero(t, resp.AlertsGenerated)
}

func TestService_Analyze_SubmissionOrder(t *testing.T) {
	dir := &stubDirectory{}
	ids := []string{"user-c", "user-a", "user-b"}
	for _, id := range ids {
		dir.add(plainUser(t, id))
	}
	svc := newTestService(t, &stubSource{}, dir)

	resp, err := svc.Analyze(context.Background(), Request{EntityIDs: ids})
	require.NoError(t, err)
	require.Len(t, resp.Results, 3)
	for i, id := range ids {
		assert.Equal(t, id, resp.Results[i].EntityID)
		assert.NoError(t, resp.Results[i].Err)
		assert.NotNil(t, resp.Results[i].RiskScore)
	}
}

func TestService_Analyze_UnknownEntity(t *testing.T) {
	dir := &stubDirectory{}
	dir.add(plainUser(t, "user-1"))
	svc := newTestService(t, &stubSource{}, dir)

	resp, err := svc.Analyze(context.Background(), Request{EntityIDs: []string{"user-1", "ghost"}})
	require.NoError(t, err)
	require.Len(t, resp.Results, 2)

	assert.NotNil(t, resp.Results[0].RiskScore)
	// Unknown entity yields an empty result, not a batch failure.
	assert.Nil(t, resp.Results[1].RiskScore)
	assert.NoError(t, resp.Results[1].Err)
}

func TestService_Analyze_SourceFailureDegrades(t *testing.T) {
	dir := &stubDirectory{}
	dir.add(plainUser(t, "user-1"))
	source := &stubSource{fn: func(context.Context, string, time.Time, time.Time) ([]*event.Event, error) {
		return nil, fmt.Errorf("collector unavailable")
	}}
	svc := newTestService(t, source, dir)

	resp, err := svc.Analyze(context.Background(), Request{EntityIDs: []string{"user-1"}})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)

	res := resp.Results[0]
	assert.NoError(t, res.Err)
	assert.NotNil(t, res.Features)
	require.NotNil(t, res.RiskScore)
	assert.Equal(t, risk.LevelVeryLow, res.RiskScore.Level)
}

func TestService_Analyze_StageSelection(t *testing.T) {
	dir := &stubDirectory{}
	dir.add(plainUser(t, "user-1"))
	source := &stubSource{fn: func(_ context.Context, id string, _, _ time.Time) ([]*event.Event, error) {
		return hostileEvents(t, id), nil
	}}

	end := time.Date(2024, 3, 16, 23, 30, 0, 0, time.UTC)

	t.Run("anomaly detection only", func(t *testing.T) {
		svc := newTestService(t, source, dir)
		resp, err := svc.Analyze(context.Background(), Request{
			EntityIDs: []string{"user-1"},
			Start:     end.Add(-24 * time.Hour),
			End:       end,
			Types:     []Type{TypeAnomalyDetection},
		})
		require.NoError(t, err)
		require.Len(t, resp.Results, 1)

		res := resp.Results[0]
		assert.NotEmpty(t, res.Anomalies)
		assert.Nil(t, res.RiskScore)
		assert.Nil(t, res.Alert)
		assert.Zero(t, resp.AlertsGenerated)
	})

	t.Run("risk scoring only", func(t *testing.T) {
		svc := newTestService(t, source, dir)
		resp, err := svc.Analyze(context.Background(), Request{
			EntityIDs: []string{"user-1"},
			Start:     end.Add(-24 * time.Hour),
			End:       end,
			Types:     []Type{TypeRiskScoring},
		})
		require.NoError(t, err)
		require.Len(t, resp.Results, 1)

		res := resp.Results[0]
		assert.Empty(t, res.Anomalies)
		require.NotNil(t, res.RiskScore)
	})
}

func TestService_Analyze_EntityTypeFilter(t *testing.T) {
	dir := &stubDirectory{}
	dir.add(plainUser(t, "user-1"))
	device, err := entity.New("device-1", entity.TypeDevice, "Workstation")
	require.NoError(t, err)
	dir.add(device)
	svc := newTestService(t, &stubSource{}, dir)

	deviceType := entity.TypeDevice
	resp, err := svc.Analyze(context.Background(), Request{
		EntityIDs:  []string{"user-1", "device-1"},
		EntityType: &deviceType,
	})
	require.NoError(t, err)
	require.Len(t, resp.Results, 2)

	// The user is outside the requested type: empty result, no error.
	assert.Nil(t, resp.Results[0].RiskScore)
	assert.NoError(t, resp.Results[0].Err)
	assert.NotNil(t, resp.Results[1].RiskScore)
}

func TestService_Analyze_HighRiskRaisesAlert(t *testing.T) {
	dir := &stubDirectory{}
	ent := plainUser(t, "user-1")
	ent.Privileged = true
	ent.External = true
	lastSeen := time.Now().UTC().Add(-400 * 24 * time.Hour)
	ent.LastActivity = &lastSeen
	dir.add(ent)

	source := &stubSource{fn: func(_ context.Context, id string, _, _ time.Time) ([]*event.Event, error) {
		return hostileEvents(t, id), nil
	}}
	svc := newTestService(t, source, dir)

	end := time.Date(2024, 3, 16, 23, 30, 0, 0, time.UTC)
	resp, err := svc.Analyze(context.Background(), Request{
		EntityIDs: []string{"user-1"},
		Start:     end.Add(-24 * time.Hour),
		End:       end,
	})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)

	res := resp.Results[0]
	require.NoError(t, res.Err)
	require.NotNil(t, res.RiskScore)
	assert.GreaterOrEqual(t, res.RiskScore.Level, risk.LevelHigh)
	assert.NotEmpty(t, res.Anomalies)

	require.NotNil(t, res.Alert)
	assert.GreaterOrEqual(t, res.Alert.Severity, alert.SeverityHigh)
	assert.Equal(t, "user-1", res.Alert.EntityID)
	assert.NotEmpty(t, res.Alert.AnomalyIDs)
	assert.Contains(t, res.Alert.Evidence, "risk_factors")

	assert.Equal(t, 1, resp.HighRiskEntities)
	assert.Equal(t, 1, resp.AlertsGenerated)

	// The alert is stored and queryable through the manager.
	stored := svc.Alerts().ActiveAlerts(alerting.Filter{EntityID: "user-1"})
	assert.Len(t, stored, 1)
}

func TestService_Analyze_TimeoutYieldsPartialResults(t *testing.T) {
	dir := &stubDirectory{}
	dir.add(plainUser(t, "fast"))
	dir.add(plainUser(t, "slow"))

	source := &stubSource{fn: func(ctx context.Context, id string, _, _ time.Time) ([]*event.Event, error) {
		if id == "slow" {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return nil, nil
	}}
	svc := newTestService(t, source, dir)
	svc.cfg.AnalysisTimeout = 50 * time.Millisecond

	resp, err := svc.Analyze(context.Background(), Request{EntityIDs: []string{"fast", "slow"}})
	require.NoError(t, err)
	require.Len(t, resp.Results, 2)

	assert.NoError(t, resp.Results[0].Err)
	assert.NotNil(t, resp.Results[0].RiskScore)

	assert.Error(t, resp.Results[1].Err)
	assert.Nil(t, resp.Results[1].RiskScore)
}

func TestService_Analyze_ProgressCallback(t *testing.T) {
	dir := &stubDirectory{}
	for _, id := range []string{"user-1", "user-2"} {
		dir.add(plainUser(t, id))
	}
	svc := newTestService(t, &stubSource{}, dir)

	var mu sync.Mutex
	type update struct {
		step    string
		percent float64
	}
	var updates []update

	_, err := svc.Analyze(context.Background(), Request{
		EntityIDs: []string{"user-1", "user-2"},
		Progress: func(step string, percent float64) {
			mu.Lock()
			defer mu.Unlock()
			updates = append(updates, update{step, percent})
		},
	})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.GreaterOrEqual(t, len(updates), 3)
	assert.Equal(t, "initializing analysis", updates[0].step)
	assert.Zero(t, updates[0].percent)
	last := updates[len(updates)-1]
	assert.Equal(t, "processing complete", last.step)
	assert.Equal(t, 100.0, last.percent)

	for i := 1; i < len(updates); i++ {
		assert.GreaterOrEqual(t, updates[i].percent, updates[i-1].percent)
	}
}

func TestService_MonitorStream(t *testing.T) {
	dir := &stubDirectory{}
	dir.add(plainUser(t, "user-1"))
	svc := newTestService(t, &stubSource{}, dir)

	stream := make(chan []*event.Event, 1)
	var mu sync.Mutex
	var received []*alert.Alert

	done := make(chan struct{})
	go func() {
		defer close(done)
		svc.MonitorStream(context.Background(), stream, func(alerts []*alert.Alert) {
			mu.Lock()
			defer mu.Unlock()
			received = append(received, alerts...)
		})
	}()

	base := time.Date(2024, 3, 16, 10, 0, 0, 0, time.UTC)
	first, err := event.New("user-1", event.TypeAuthentication, base)
	require.NoError(t, err)
	first.Location = &event.Location{Country: "SG", City: "Singapore", Latitude: 1.35, Longitude: 103.82}
	second, err := event.New("user-1", event.TypeAuthentication, base.Add(time.Hour))
	require.NoError(t, err)
	second.Location = &event.Location{Country: "US", City: "New York", Latitude: 40.71, Longitude: -74.01}

	stream <- []*event.Event{first, second}
	close(stream)
	<-done

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 1)
	assert.Equal(t, alert.SeverityMedium, received[0].Severity)
	assert.Equal(t, "user-1", received[0].EntityID)
	assert.Equal(t, "location_anomaly", received[0].Evidence["anomaly_type"])
}

func TestService_UpdateEntityBaseline(t *testing.T) {
	dir := &stubDirectory{}
	ent := plainUser(t, "user-1")
	ent.BaselineEstablished = true
	dir.add(ent)

	source := &stubSource{fn: func(_ context.Context, id string, start, end time.Time) ([]*event.Event, error) {
		var events []*event.Event
		for ts := start; ts.Before(end); ts = ts.Add(6 * time.Hour) {
			e, err := event.New(id, event.TypeAuthentication, ts)
			require.NoError(t, err)
			events = append(events, e)
		}
		return events, nil
	}}
	svc := newTestService(t, source, dir)

	require.NoError(t, svc.UpdateEntityBaseline(context.Background(), "user-1", true))
	assert.Equal(t, 1, svc.baselines.Size())

	err := svc.UpdateEntityBaseline(context.Background(), "ghost", false)
	assert.Error(t, err)
}
