package entity

import (
	"fmt"
	"strings"
	"time"
)

// Entity is an identity under behavioral monitoring. It is owned by the
// identity directory; the analytics core only reads it and stamps baseline
// metadata.
type Entity struct {
	ID          string    `json:"id"`
	Type        Type      `json:"type"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`

	// Risk-relevant attributes
	Privileged bool `json:"privileged"`
	Trusted    bool `json:"trusted"`
	External   bool `json:"external"`

	// Baseline metadata
	BaselineEstablished bool       `json:"baseline_established"`
	BaselineCreatedAt   *time.Time `json:"baseline_created_at,omitempty"`

	LastActivity *time.Time        `json:"last_activity,omitempty"`
	Active       bool              `json:"active"`
	Attributes   map[string]string `json:"attributes,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Type int

const (
	TypeUser Type = iota
	TypeDevice
	TypeApplication
	TypeServiceAccount
	TypeNetworkResource
)

func (t Type) String() string {
	switch t {
	case TypeUser:
		return "user"
	case TypeDevice:
		return "device"
	case TypeApplication:
		return "application"
	case TypeServiceAccount:
		return "service_account"
	case TypeNetworkResource:
		return "network_resource"
	default:
		return "unknown"
	}
}

// ParseType maps a wire-format entity type string to its enum value.
func ParseType(s string) (Type, error) {
	switch strings.ToLower(s) {
	case "user":
		return TypeUser, nil
	case "device":
		return TypeDevice, nil
	case "application":
		return TypeApplication, nil
	case "service_account":
		return TypeServiceAccount, nil
	case "network_resource":
		return TypeNetworkResource, nil
	default:
		return 0, fmt.Errorf("unknown entity type %q", s)
	}
}

func New(id string, entityType Type, name string) (*Entity, error) {
	if id == "" {
		return nil, fmt.Errorf("entity ID cannot be empty")
	}

	switch entityType {
	case TypeUser, TypeDevice, TypeApplication, TypeServiceAccount, TypeNetworkResource:
	default:
		return nil, fmt.Errorf("invalid entity type")
	}

	now := clock.Now()
	return &Entity{
		ID:        id,
		Type:      entityType,
		Name:      name,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// MarkBaselineEstablished stamps the entity as eligible for baseline
// comparison. The policy deciding eligibility lives upstream.
func (e *Entity) MarkBaselineEstablished() {
	now := clock.Now()
	e.BaselineEstablished = true
	e.BaselineCreatedAt = &now
	e.UpdatedAt = now
}

// DormantFor reports how long the entity has been inactive as of now.
// Returns zero when no activity has ever been recorded.
func (e *Entity) DormantFor() time.Duration {
	if e.LastActivity == nil {
		return 0
	}
	return clock.Now().Sub(*e.LastActivity)
}

func (e *Entity) RecordActivity(at time.Time) {
	e.LastActivity = &at
	e.UpdatedAt = clock.Now()
}
