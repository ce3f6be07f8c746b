package alerting

import (
	"context"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sentinelops/ueba-backend/internal/domain/alert"
	"github.com/sentinelops/ueba-backend/internal/domain/errors"
	"github.com/sentinelops/ueba-backend/internal/infrastructure/config"
	"github.com/sentinelops/ueba-backend/internal/metrics"
	"github.com/sentinelops/ueba-backend/internal/service/alerting/notify"
)

const alertShardCount = 16

type alertShard struct {
	mu        sync.RWMutex
	alerts    map[uuid.UUID]*alert.Alert
	cooldowns map[string]time.Time
}

// Manager owns the alert lifecycle: cooldown-based deduplication,
// escalation, notification fan-out, and lifecycle operations on stored
// alerts. Alerts for one entity always land in the same shard, so the
// escalation count is a single-shard scan.
type Manager struct {
	cfg        config.AlertingConfig
	dispatcher *Dispatcher
	logger     *zap.Logger
	registry   *metrics.Registry

	// Invoked after an analyst marks an alert as a false positive.
	// Typically invalidates the entity's baseline so it retrains.
	onFalsePositive func(entityID string)

	shards [alertShardCount]*alertShard
}

// NewManager creates an alert manager. The registry and the false-positive
// hook are optional.
func NewManager(
	cfg config.AlertingConfig,
	dispatcher *Dispatcher,
	logger *zap.Logger,
	registry *metrics.Registry,
	onFalsePositive func(entityID string),
) *Manager {
	m := &Manager{
		cfg:             cfg,
		dispatcher:      dispatcher,
		logger:          logger,
		registry:        registry,
		onFalsePositive: onFalsePositive,
	}
	for i := range m.shards {
		m.shards[i] = &alertShard{
			alerts:    make(map[uuid.UUID]*alert.Alert),
			cooldowns: make(map[string]time.Time),
		}
	}
	return m
}

func (m *Manager) shardFor(entityID string) *alertShard {
	h := fnv.New32a()
	h.Write([]byte(entityID))
	return m.shards[h.Sum32()%alertShardCount]
}

// Process runs a new alert through deduplication, storage, escalation and
// dispatch. An alert inside its cooldown window is dropped, not stored.
func (m *Manager) Process(ctx context.Context, a *alert.Alert) error {
	if a == nil {
		return errors.NewValidationError("INVALID_ALERT", "alert cannot be nil")
	}

	sh := m.shardFor(a.EntityID)
	key := cooldownKey(a.EntityID, a.Severity)
	now := clock.Now()

	sh.mu.Lock()
	if last, ok := sh.cooldowns[key]; ok && now.Sub(last) < m.cfg.Cooldown {
		sh.mu.Unlock()
		m.logger.Info("alert dropped by cooldown",
			zap.String("entity_id", a.EntityID),
			zap.String("severity", a.Severity.String()))
		if m.registry != nil {
			m.registry.RecordAlertSuppressed(ctx, a.Severity.String())
		}
		return nil
	}

	sh.alerts[a.ID] = a
	sh.cooldowns[key] = now

	// Escalation mutates the stored alert, so it happens under the shard
	// lock; only the derived notice payloads leave the critical section.
	escalated := m.shouldEscalateLocked(sh, a, now)
	var escalationNotice alert.Notice
	if escalated {
		a.MarkEscalated()
		escalationNotice = alert.EscalationNotice(a)
	}
	newNotice := alert.NewNotice(a)
	sh.mu.Unlock()

	if escalated {
		m.logger.Info("alert escalated",
			zap.String("alert_id", a.ID.String()),
			zap.String("entity_id", a.EntityID),
			zap.String("severity", escalationNotice.Severity.String()))
		m.dispatcher.Enqueue(notify.Payload{
			Kind:   notify.KindEscalation,
			Notice: escalationNotice,
		})
	}

	m.dispatcher.Enqueue(notify.Payload{
		Kind:   notify.KindNew,
		Notice: newNotice,
	})

	if m.registry != nil {
		m.registry.RecordAlertCreated(ctx, a.Severity.String(), a.Escalated)
	}

	m.logger.Info("alert processed",
		zap.String("alert_id", a.ID.String()),
		zap.String("entity_id", a.EntityID),
		zap.String("severity", a.Severity.String()),
		zap.Float64("risk_score", a.RiskScore))

	return nil
}

// shouldEscalateLocked evaluates the escalation rules. Critical alerts
// escalate immediately; otherwise repeated alerts for the same entity and
// severity inside the escalation window trip the threshold. Caller holds
// the shard lock.
func (m *Manager) shouldEscalateLocked(sh *alertShard, a *alert.Alert, now time.Time) bool {
	if a.Severity == alert.SeverityCritical {
		return true
	}

	windowStart := now.Add(-m.cfg.EscalationWindow)
	similar := 0
	for _, stored := range sh.alerts {
		if stored.EntityID == a.EntityID &&
			stored.Severity == a.Severity &&
			!stored.CreatedAt.Before(windowStart) {
			similar++
		}
	}
	return similar >= m.cfg.EscalationThreshold
}

// UpdateStatus applies a lifecycle transition to a stored alert. Unknown
// IDs are logged and ignored. Resolving a high or critical alert sends a
// resolution notice.
func (m *Manager) UpdateStatus(ctx context.Context, id uuid.UUID, status alert.Status, notes, assignee string) error {
	a, sh := m.find(id)
	if a == nil {
		m.logger.Warn("alert not found", zap.String("alert_id", id.String()))
		return nil
	}

	sh.mu.Lock()
	if notes != "" {
		a.ResolutionNotes = notes
	}
	if assignee != "" {
		a.Assign(assignee)
	}
	err := a.UpdateStatus(status)
	severity := a.Severity
	sh.mu.Unlock()

	if err != nil {
		return errors.NewValidationError("INVALID_TRANSITION", err.Error())
	}

	if status == alert.StatusResolved && severity >= alert.SeverityHigh {
		m.dispatcher.Enqueue(notify.Payload{
			Kind:   notify.KindResolution,
			Notice: alert.ResolutionNotice(a),
		})
	}

	m.logger.Info("alert status updated",
		zap.String("alert_id", id.String()),
		zap.String("status", status.String()))

	return nil
}

// MarkFalsePositive closes the alert as a false positive and feeds the
// learning hook.
func (m *Manager) MarkFalsePositive(ctx context.Context, id uuid.UUID, notes string) error {
	a, sh := m.find(id)
	if a == nil {
		m.logger.Warn("alert not found", zap.String("alert_id", id.String()))
		return nil
	}

	sh.mu.Lock()
	err := a.MarkFalsePositive(notes)
	entityID := a.EntityID
	sh.mu.Unlock()

	if err != nil {
		return errors.NewValidationError("INVALID_TRANSITION", err.Error())
	}

	if m.onFalsePositive != nil {
		m.onFalsePositive(entityID)
	}

	m.logger.Info("alert marked as false positive",
		zap.String("alert_id", id.String()),
		zap.String("entity_id", entityID))

	return nil
}

// SuppressAlert parks the alert until the given time.
func (m *Manager) SuppressAlert(ctx context.Context, id uuid.UUID, until time.Time, reason string) error {
	a, sh := m.find(id)
	if a == nil {
		m.logger.Warn("alert not found", zap.String("alert_id", id.String()))
		return nil
	}

	sh.mu.Lock()
	err := a.Suppress(until, reason)
	sh.mu.Unlock()

	if err != nil {
		return errors.NewValidationError("INVALID_SUPPRESSION", err.Error())
	}

	m.logger.Info("alert suppressed",
		zap.String("alert_id", id.String()),
		zap.Time("until", until))

	return nil
}

// ActiveAlerts returns stored alerts matching the filter, newest first.
// Expired suppression windows are reverted to open on the way out.
func (m *Manager) ActiveAlerts(filter Filter) []*alert.Alert {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultFilterLimit
	}

	var out []*alert.Alert
	for _, sh := range m.shards {
		sh.mu.Lock()
		for _, a := range sh.alerts {
			if a.Status == alert.StatusSuppressed && !a.SuppressionActive() {
				// Window elapsed, back to normal processing.
				a.Status = alert.StatusOpen
				a.SuppressedUntil = nil
			}
			if filter.Severity != nil && a.Severity != *filter.Severity {
				continue
			}
			if filter.EntityID != "" && a.EntityID != filter.EntityID {
				continue
			}
			out = append(out, a)
		}
		sh.mu.Unlock()
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// find locates an alert by ID across shards, returning its shard so the
// caller can lock around mutation.
func (m *Manager) find(id uuid.UUID) (*alert.Alert, *alertShard) {
	for _, sh := range m.shards {
		sh.mu.RLock()
		a, ok := sh.alerts[id]
		sh.mu.RUnlock()
		if ok {
			return a, sh
		}
	}
	return nil, nil
}
