package alerting

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/sentinelops/ueba-backend/internal/domain/alert"
	"github.com/sentinelops/ueba-backend/internal/domain/entity"
	"github.com/sentinelops/ueba-backend/internal/infrastructure/config"
	"github.com/sentinelops/ueba-backend/internal/service/alerting/notify"
)

// fakeChannel records delivered payloads and optionally fails every send.
type fakeChannel struct {
	mu       sync.Mutex
	name     string
	payloads []notify.Payload
	err      error
}

func (c *fakeChannel) Name() string { return c.name }

func (c *fakeChannel) Send(_ context.Context, p notify.Payload) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.payloads = append(c.payloads, p)
	return nil
}

func (c *fakeChannel) delivered() []notify.Payload {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]notify.Payload, len(c.payloads))
	copy(out, c.payloads)
	return out
}

func testAlertingConfig() config.AlertingConfig {
	return config.AlertingConfig{
		Cooldown:            60 * time.Minute,
		EscalationThreshold: 5,
		EscalationWindow:    24 * time.Hour,
		DispatchQueueSize:   64,
		DispatchRatePerSec:  1000,
	}
}

func newTestManager(t *testing.T, channels ...notify.Channel) *Manager {
	t.Helper()
	logger := zaptest.NewLogger(t)
	dispatcher := NewDispatcher(testAlertingConfig(), channels, logger, nil)
	return NewManager(testAlertingConfig(), dispatcher, logger, nil, nil)
}

func newAlert(t *testing.T, entityID string, severity alert.Severity) *alert.Alert {
	t.Helper()
	a, err := alert.New("Anomalous behavior detected", "entity exceeded risk threshold",
		severity, entityID, entity.TypeUser, 0.75)
	require.NoError(t, err)
	return a
}

// setClocks pins both the manager's cooldown clock and the alert domain
// clock to the same mock, returning an advance function that moves both.
func setClocks(t *testing.T, at time.Time) func(time.Duration) {
	t.Helper()

	managerClock := NewMockClock(at)
	domainClock := &alert.MockClock{CurrentTime: at}
	SetClock(managerClock)
	alert.SetClock(domainClock)
	t.Cleanup(func() {
		ResetClock()
		alert.ResetClock()
	})

	return func(d time.Duration) {
		managerClock.Advance(d)
		domainClock.Advance(d)
	}
}

func TestManager_Process_CooldownDropsDuplicates(t *testing.T) {
	advance := setClocks(t, time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC))
	m := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.Process(ctx, newAlert(t, "user-1", alert.SeverityMedium)))
	require.NoError(t, m.Process(ctx, newAlert(t, "user-1", alert.SeverityMedium)))

	// Only the first alert survives the cooldown window.
	assert.Len(t, m.ActiveAlerts(Filter{}), 1)

	// A different severity is a different cooldown key.
	require.NoError(t, m.Process(ctx, newAlert(t, "user-1", alert.SeverityHigh)))
	assert.Len(t, m.ActiveAlerts(Filter{}), 2)

	// The window elapses and the same key is accepted again.
	advance(61 * time.Minute)
	require.NoError(t, m.Process(ctx, newAlert(t, "user-1", alert.SeverityMedium)))
	assert.Len(t, m.ActiveAlerts(Filter{}), 3)
}

func TestManager_Process_CriticalEscalatesImmediately(t *testing.T) {
	setClocks(t, time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC))
	m := newTestManager(t)

	a := newAlert(t, "user-1", alert.SeverityCritical)
	require.NoError(t, m.Process(context.Background(), a))

	assert.True(t, a.Escalated)
	assert.NotNil(t, a.EscalatedAt)
	// Critical has no higher tier.
	assert.Equal(t, alert.SeverityCritical, a.Severity)
}

func TestManager_Process_RepeatedAlertsEscalate(t *testing.T) {
	advance := setClocks(t, time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC))
	m := newTestManager(t)
	ctx := context.Background()

	var alerts []*alert.Alert
	for i := 0; i < 5; i++ {
		a := newAlert(t, "user-1", alert.SeverityMedium)
		require.NoError(t, m.Process(ctx, a))
		alerts = append(alerts, a)
		advance(2 * time.Hour) // past the cooldown, inside the 24h window
	}

	for _, a := range alerts[:4] {
		assert.False(t, a.Escalated)
	}
	assert.True(t, alerts[4].Escalated)
	assert.Equal(t, alert.SeverityHigh, alerts[4].Severity)
}

func TestManager_Process_ConcurrentEscalationAndQueries(t *testing.T) {
	setClocks(t, time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC))
	m := newTestManager(t)
	ctx := context.Background()

	// Escalation mutates stored alerts while other goroutines scan them;
	// run under -race.
	const entities = 16
	critical := alert.SeverityCritical
	var wg sync.WaitGroup
	for i := 0; i < entities; i++ {
		criticalAlert := newAlert(t, fmt.Sprintf("user-%d", i), alert.SeverityCritical)
		mediumAlert := newAlert(t, fmt.Sprintf("user-%d", i), alert.SeverityMedium)

		wg.Add(2)
		go func() {
			defer wg.Done()
			assert.NoError(t, m.Process(ctx, criticalAlert))
			assert.NoError(t, m.Process(ctx, mediumAlert))
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				m.ActiveAlerts(Filter{Severity: &critical})
			}
		}()
	}
	wg.Wait()

	got := m.ActiveAlerts(Filter{Severity: &critical, Limit: entities * 2})
	assert.Len(t, got, entities)
	for _, a := range got {
		assert.True(t, a.Escalated)
	}
}

func TestManager_Process_NilAlert(t *testing.T) {
	m := newTestManager(t)
	assert.Error(t, m.Process(context.Background(), nil))
}

func TestManager_UpdateStatus(t *testing.T) {
	setClocks(t, time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC))
	m := newTestManager(t)
	ctx := context.Background()

	a := newAlert(t, "user-1", alert.SeverityMedium)
	require.NoError(t, m.Process(ctx, a))

	require.NoError(t, m.UpdateStatus(ctx, a.ID, alert.StatusInvestigating, "", "analyst-7"))
	assert.Equal(t, alert.StatusInvestigating, a.Status)
	assert.Equal(t, "analyst-7", a.AssignedTo)

	require.NoError(t, m.UpdateStatus(ctx, a.ID, alert.StatusResolved, "benign batch job", ""))
	assert.Equal(t, alert.StatusResolved, a.Status)
	assert.Equal(t, "benign batch job", a.ResolutionNotes)
	assert.NotNil(t, a.ResolvedAt)

	// Terminal alerts reject further transitions.
	err := m.UpdateStatus(ctx, a.ID, alert.StatusOpen, "", "")
	assert.Error(t, err)
}

func TestManager_UpdateStatus_UnknownIDIsNoOp(t *testing.T) {
	m := newTestManager(t)

	err := m.UpdateStatus(context.Background(), uuid.New(), alert.StatusResolved, "", "")
	assert.NoError(t, err)
}

func TestManager_MarkFalsePositive(t *testing.T) {
	setClocks(t, time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC))

	var hookEntity string
	logger := zaptest.NewLogger(t)
	dispatcher := NewDispatcher(testAlertingConfig(), nil, logger, nil)
	m := NewManager(testAlertingConfig(), dispatcher, logger, nil, func(entityID string) {
		hookEntity = entityID
	})
	ctx := context.Background()

	a := newAlert(t, "user-1", alert.SeverityMedium)
	require.NoError(t, m.Process(ctx, a))
	require.NoError(t, m.MarkFalsePositive(ctx, a.ID, "scheduled maintenance"))

	assert.Equal(t, alert.StatusFalsePositive, a.Status)
	assert.True(t, a.FalsePositiveFeedback)
	assert.Equal(t, "scheduled maintenance", a.ResolutionNotes)
	assert.Equal(t, "user-1", hookEntity)
}

func TestManager_SuppressionExpiresLazily(t *testing.T) {
	advance := setClocks(t, time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC))
	m := newTestManager(t)
	ctx := context.Background()

	a := newAlert(t, "user-1", alert.SeverityMedium)
	require.NoError(t, m.Process(ctx, a))
	require.NoError(t, m.SuppressAlert(ctx, a.ID, time.Date(2024, 3, 15, 11, 0, 0, 0, time.UTC), "change window"))

	active := m.ActiveAlerts(Filter{})
	require.Len(t, active, 1)
	assert.Equal(t, alert.StatusSuppressed, active[0].Status)

	advance(2 * time.Hour)

	active = m.ActiveAlerts(Filter{})
	require.Len(t, active, 1)
	assert.Equal(t, alert.StatusOpen, active[0].Status)
	assert.Nil(t, active[0].SuppressedUntil)
}

func TestManager_ActiveAlertsFiltering(t *testing.T) {
	advance := setClocks(t, time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC))
	m := newTestManager(t)
	ctx := context.Background()

	entities := []string{"user-1", "user-2", "user-3"}
	severities := []alert.Severity{alert.SeverityLow, alert.SeverityMedium, alert.SeverityHigh}
	for i, id := range entities {
		require.NoError(t, m.Process(ctx, newAlert(t, id, severities[i])))
		advance(time.Minute)
	}

	t.Run("by severity", func(t *testing.T) {
		sev := alert.SeverityMedium
		got := m.ActiveAlerts(Filter{Severity: &sev})
		require.Len(t, got, 1)
		assert.Equal(t, "user-2", got[0].EntityID)
	})

	t.Run("by entity", func(t *testing.T) {
		got := m.ActiveAlerts(Filter{EntityID: "user-3"})
		require.Len(t, got, 1)
		assert.Equal(t, alert.SeverityHigh, got[0].Severity)
	})

	t.Run("newest first with limit", func(t *testing.T) {
		got := m.ActiveAlerts(Filter{Limit: 2})
		require.Len(t, got, 2)
		assert.Equal(t, "user-3", got[0].EntityID)
		assert.Equal(t, "user-2", got[1].EntityID)
	})
}

func TestDispatcher_DeliversToAllChannels(t *testing.T) {
	setClocks(t, time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC))

	good := &fakeChannel{name: "chat"}
	failing := &fakeChannel{name: "email", err: fmt.Errorf("smtp unreachable")}
	m := newTestManager(t, good, failing)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.dispatcher.Start(ctx)
	defer m.dispatcher.Stop()

	require.NoError(t, m.Process(ctx, newAlert(t, "user-1", alert.SeverityMedium)))

	// One channel failing never blocks or fails the other.
	assert.Eventually(t, func() bool {
		return len(good.delivered()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	got := good.delivered()
	assert.Equal(t, notify.KindNew, got[0].Kind)
	assert.Equal(t, "user-1", got[0].Notice.EntityID)
}

func TestDispatcher_ResolutionNoticeForHighSeverity(t *testing.T) {
	setClocks(t, time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC))

	ch := &fakeChannel{name: "chat"}
	m := newTestManager(t, ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.dispatcher.Start(ctx)
	defer m.dispatcher.Stop()

	high := newAlert(t, "user-1", alert.SeverityHigh)
	low := newAlert(t, "user-2", alert.SeverityLow)
	require.NoError(t, m.Process(ctx, high))
	require.NoError(t, m.Process(ctx, low))

	require.NoError(t, m.UpdateStatus(ctx, high.ID, alert.StatusResolved, "contained", ""))
	require.NoError(t, m.UpdateStatus(ctx, low.ID, alert.StatusResolved, "noise", ""))

	assert.Eventually(t, func() bool {
		for _, p := range ch.delivered() {
			if p.Kind == notify.KindResolution {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	var resolutions int
	for _, p := range ch.delivered() {
		if p.Kind == notify.KindResolution {
			resolutions++
			assert.Equal(t, "user-1", p.Notice.EntityID)
		}
	}
	// Low-severity resolutions are not announced.
	assert.Equal(t, 1, resolutions)
}

func TestDispatcher_EnqueueNeverBlocks(t *testing.T) {
	cfg := testAlertingConfig()
	cfg.DispatchQueueSize = 2
	d := NewDispatcher(cfg, nil, zaptest.NewLogger(t), nil)
	// Not started: the queue fills and further payloads drop.

	assert.True(t, d.Enqueue(notify.Payload{Kind: notify.KindNew}))
	assert.True(t, d.Enqueue(notify.Payload{Kind: notify.KindNew}))
	assert.False(t, d.Enqueue(notify.Payload{Kind: notify.KindNew}))
}

func TestDispatcher_StopDrains(t *testing.T) {
	ch := &fakeChannel{name: "chat"}
	d := NewDispatcher(testAlertingConfig(), []notify.Channel{ch}, zaptest.NewLogger(t), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)

	for i := 0; i < 5; i++ {
		require.True(t, d.Enqueue(notify.Payload{Kind: notify.KindNew}))
	}
	d.Stop()

	assert.Len(t, ch.delivered(), 5)
	assert.False(t, d.Enqueue(notify.Payload{Kind: notify.KindNew}))
}
