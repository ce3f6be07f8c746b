package alert

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sentinelops/ueba-backend/internal/domain/entity"
)

// Notice is the notification payload derived from an alert. It is built
// fresh for each dispatch so the alert itself is never mutated to decorate
// a message.
type Notice struct {
	AlertID     uuid.UUID      `json:"alert_id"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Severity    Severity       `json:"severity"`
	EntityID    string         `json:"entity_id"`
	EntityType  entity.Type    `json:"entity_type"`
	RiskScore   float64        `json:"risk_score"`
	Evidence    map[string]any `json:"evidence,omitempty"`
	Mitigations []string       `json:"mitigation_suggestions,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// NewNotice builds the standard notification payload for an alert.
func NewNotice(a *Alert) Notice {
	return Notice{
		AlertID:     a.ID,
		Title:       a.Title,
		Description: a.Description,
		Severity:    a.Severity,
		EntityID:    a.EntityID,
		EntityType:  a.EntityType,
		RiskScore:   a.RiskScore,
		Evidence:    a.Evidence,
		Mitigations: a.Mitigations,
		CreatedAt:   a.CreatedAt,
	}
}

// EscalationNotice derives the re-dispatch payload for an escalated alert
// without touching the alert's own title or description.
func EscalationNotice(a *Alert) Notice {
	n := NewNotice(a)
	n.Title = fmt.Sprintf("[ESCALATED] %s", a.Title)
	n.Description = fmt.Sprintf("ESCALATED: %s", a.Description)
	return n
}

// ResolutionNotice derives the payload announcing a resolved alert.
func ResolutionNotice(a *Alert) Notice {
	n := NewNotice(a)
	n.Title = fmt.Sprintf("[RESOLVED] %s", a.Title)
	n.Description = fmt.Sprintf("Alert has been resolved: %s", a.ResolutionNotes)
	n.Severity = SeverityLow
	n.RiskScore = 0
	return n
}
