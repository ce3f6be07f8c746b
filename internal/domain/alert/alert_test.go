package alert

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinelops/ueba-backend/internal/domain/entity"
)

func testAlert(t *testing.T) *Alert {
	t.Helper()
	a, err := New("Suspicious login burst", "repeated failures from new location",
		SeverityMedium, "user-1", entity.TypeUser, 0.55)
	require.NoError(t, err)
	return a
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name      string
		title     string
		entityID  string
		riskScore float64
		wantErr   bool
	}{
		{"valid", "title", "user-1", 0.5, false},
		{"empty title", "", "user-1", 0.5, true},
		{"empty entity", "title", "", 0.5, true},
		{"score too high", "title", "user-1", 1.5, true},
		{"score negative", "title", "user-1", -0.1, true},
		{"boundary scores", "title", "user-1", 1.0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := New(tt.title, "", SeverityLow, tt.entityID, entity.TypeUser, tt.riskScore)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, StatusOpen, a.Status)
			assert.False(t, a.Escalated)
		})
	}
}

func TestAlert_TerminalStatesRejectTransitions(t *testing.T) {
	a := testAlert(t)
	require.NoError(t, a.Resolve("contained"))
	assert.Equal(t, StatusResolved, a.Status)
	assert.NotNil(t, a.ResolvedAt)

	assert.Error(t, a.UpdateStatus(StatusOpen))
	assert.Error(t, a.UpdateStatus(StatusInvestigating))
	assert.Error(t, a.MarkFalsePositive("too late"))

	b := testAlert(t)
	require.NoError(t, b.MarkFalsePositive(""))
	assert.Equal(t, StatusFalsePositive, b.Status)
	assert.True(t, b.FalsePositiveFeedback)
	assert.Equal(t, "Marked as false positive", b.ResolutionNotes)
	assert.Error(t, b.UpdateStatus(StatusOpen))
}

func TestSeverity_Escalate(t *testing.T) {
	assert.Equal(t, SeverityHigh, SeverityMedium.Escalate())
	assert.Equal(t, SeverityCritical, SeverityHigh.Escalate())
	// Low never auto-escalates; critical has no higher tier.
	assert.Equal(t, SeverityLow, SeverityLow.Escalate())
	assert.Equal(t, SeverityCritical, SeverityCritical.Escalate())
}

func TestAlert_MarkEscalated(t *testing.T) {
	a := testAlert(t)
	a.MarkEscalated()

	assert.True(t, a.Escalated)
	assert.NotNil(t, a.EscalatedAt)
	assert.Equal(t, SeverityHigh, a.Severity)
}

func TestAlert_Suppression(t *testing.T) {
	mockClock := &MockClock{CurrentTime: time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)}
	SetClock(mockClock)
	defer ResetClock()

	a := testAlert(t)

	t.Run("window must be in the future", func(t *testing.T) {
		err := a.Suppress(mockClock.Now().Add(-time.Hour), "too late")
		assert.Error(t, err)
	})

	t.Run("active window", func(t *testing.T) {
		require.NoError(t, a.Suppress(mockClock.Now().Add(2*time.Hour), "change window"))
		assert.Equal(t, StatusSuppressed, a.Status)
		assert.True(t, a.SuppressionActive())
	})

	t.Run("elapsed window", func(t *testing.T) {
		mockClock.Advance(3 * time.Hour)
		assert.False(t, a.SuppressionActive())
	})
}

func TestNotices(t *testing.T) {
	a := testAlert(t)
	a.Evidence["anomaly_count"] = 3

	n := NewNotice(a)
	assert.Equal(t, a.ID, n.AlertID)
	assert.Equal(t, a.Title, n.Title)
	assert.Equal(t, a.RiskScore, n.RiskScore)

	esc := EscalationNotice(a)
	assert.Equal(t, "[ESCALATED] "+a.Title, esc.Title)
	// The alert itself is untouched
	assert.Equal(t, "Suspicious login burst", a.Title)

	require.NoError(t, a.Resolve("handled"))
	res := ResolutionNotice(a)
	assert.Equal(t, "[RESOLVED] "+a.Title, res.Title)
	assert.Equal(t, SeverityLow, res.Severity)
	assert.Zero(t, res.RiskScore)
}
