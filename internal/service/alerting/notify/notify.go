// Package notify defines the notification boundary. Channel implementations
// (SMTP relays, chat webhooks, ticketing systems) live outside this module;
// the dispatcher only needs something that can deliver a payload.
package notify

import (
	"context"

	"github.com/sentinelops/ueba-backend/internal/domain/alert"
)

// Kind distinguishes why a payload is being delivered.
type Kind string

const (
	KindNew        Kind = "new"
	KindEscalation Kind = "escalation"
	KindResolution Kind = "resolution"
)

// Payload is one notification ready for delivery.
type Payload struct {
	Kind   Kind         `json:"kind"`
	Notice alert.Notice `json:"notice"`
}

// Channel delivers notification payloads to one destination.
type Channel interface {
	Name() string
	Send(ctx context.Context, payload Payload) error
}
