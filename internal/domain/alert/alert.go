package alert

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sentinelops/ueba-backend/internal/domain/entity"
)

// Alert is the aggregate driving the alert lifecycle. It is created open,
// mutated only through the transition methods below, and never deleted --
// terminal alerts simply stop accepting transitions.
type Alert struct {
	ID          uuid.UUID `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Severity    Severity  `json:"severity"`
	Status      Status    `json:"status"`

	EntityID   string      `json:"entity_id"`
	EntityType entity.Type `json:"entity_type"`

	RiskScore  float64            `json:"risk_score"`
	AnomalyIDs []uuid.UUID        `json:"anomaly_ids,omitempty"`
	Evidence   map[string]any     `json:"evidence,omitempty"`
	Mitigations []string          `json:"mitigation_suggestions,omitempty"`

	AssignedTo      string     `json:"assigned_to,omitempty"`
	ResolvedAt      *time.Time `json:"resolved_at,omitempty"`
	ResolutionNotes string     `json:"resolution_notes,omitempty"`

	FalsePositiveFeedback bool       `json:"false_positive_feedback"`
	Escalated             bool       `json:"escalated"`
	EscalatedAt           *time.Time `json:"escalated_at,omitempty"`
	SuppressedUntil       *time.Time `json:"suppressed_until,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Escalate returns the severity one tier up for medium and high. Low and
// critical stay where they are; severity never moves down automatically.
func (s Severity) Escalate() Severity {
	switch s {
	case SeverityMedium:
		return SeverityHigh
	case SeverityHigh:
		return SeverityCritical
	default:
		return s
	}
}

type Status int

const (
	StatusOpen Status = iota
	StatusInvestigating
	StatusResolved
	StatusFalsePositive
	StatusSuppressed
)

func (s Status) String() string {
	switch s {
	case StatusOpen:
		return "open"
	case StatusInvestigating:
		return "investigating"
	case StatusResolved:
		return "resolved"
	case StatusFalsePositive:
		return "false_positive"
	case StatusSuppressed:
		return "suppressed"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether the status accepts no further transitions.
func (s Status) IsTerminal() bool {
	return s == StatusResolved || s == StatusFalsePositive
}

func New(title, description string, severity Severity, entityID string, entityType entity.Type, riskScore float64) (*Alert, error) {
	if title == "" {
		return nil, fmt.Errorf("alert title cannot be empty")
	}
	if entityID == "" {
		return nil, fmt.Errorf("entity ID cannot be empty")
	}
	if riskScore < 0 || riskScore > 1 {
		return nil, fmt.Errorf("risk score %f outside [0,1]", riskScore)
	}

	now := clock.Now()
	return &Alert{
		ID:          uuid.New(),
		Title:       title,
		Description: description,
		Severity:    severity,
		Status:      StatusOpen,
		EntityID:    entityID,
		EntityType:  entityType,
		RiskScore:   riskScore,
		Evidence:    map[string]any{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// UpdateStatus applies a lifecycle transition. Terminal alerts reject all
// further transitions.
func (a *Alert) UpdateStatus(status Status) error {
	if a.Status.IsTerminal() {
		return fmt.Errorf("alert %s is %s and cannot transition to %s", a.ID, a.Status, status)
	}

	now := clock.Now()
	a.Status = status
	a.UpdatedAt = now

	if status == StatusResolved || status == StatusFalsePositive {
		a.ResolvedAt = &now
	}
	return nil
}

// Resolve closes the alert with optional notes.
func (a *Alert) Resolve(notes string) error {
	if notes != "" {
		a.ResolutionNotes = notes
	}
	return a.UpdateStatus(StatusResolved)
}

// MarkFalsePositive forces the terminal false-positive status and records
// analyst feedback for the learning hook.
func (a *Alert) MarkFalsePositive(notes string) error {
	a.FalsePositiveFeedback = true
	a.ResolutionNotes = notes
	if a.ResolutionNotes == "" {
		a.ResolutionNotes = "Marked as false positive"
	}
	return a.UpdateStatus(StatusFalsePositive)
}

// Suppress parks the alert until the given time. Suppression is not
// terminal: the alert returns to normal processing once the window elapses.
func (a *Alert) Suppress(until time.Time, reason string) error {
	if !until.After(clock.Now()) {
		return fmt.Errorf("suppression window must end in the future")
	}
	if err := a.UpdateStatus(StatusSuppressed); err != nil {
		return err
	}
	a.SuppressedUntil = &until
	a.ResolutionNotes = fmt.Sprintf("Suppressed: %s", reason)
	return nil
}

// SuppressionActive reports whether a suppression window is still in force.
func (a *Alert) SuppressionActive() bool {
	return a.Status == StatusSuppressed &&
		a.SuppressedUntil != nil &&
		clock.Now().Before(*a.SuppressedUntil)
}

// MarkEscalated bumps severity one tier and stamps the escalation.
// Severity only ever increases through this path.
func (a *Alert) MarkEscalated() {
	now := clock.Now()
	a.Severity = a.Severity.Escalate()
	a.Escalated = true
	a.EscalatedAt = &now
	a.UpdatedAt = now
}

// Assign hands the alert to an analyst.
func (a *Alert) Assign(assignee string) {
	a.AssignedTo = assignee
	a.UpdatedAt = clock.Now()
}
