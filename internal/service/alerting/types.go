package alerting

import (
	"github.com/sentinelops/ueba-backend/internal/domain/alert"
)

// Filter narrows ActiveAlerts results. Zero values mean "no constraint".
type Filter struct {
	Severity *alert.Severity
	EntityID string
	Limit    int
}

const defaultFilterLimit = 100

// cooldownKey identifies the dedup window an alert falls into. Alerts for
// the same entity at the same severity share one window.
func cooldownKey(entityID string, severity alert.Severity) string {
	return entityID + "_" + severity.String()
}
