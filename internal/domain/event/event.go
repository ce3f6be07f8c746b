package event

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event is an immutable fact produced by a collector. The analytics core
// never mutates events; it only reads them.
type Event struct {
	ID        uuid.UUID `json:"id"`
	EntityID  string    `json:"entity_id"`
	Type      Type      `json:"type"`
	Timestamp time.Time `json:"timestamp"`

	// Source identifiers
	SourceIP  string    `json:"source_ip,omitempty"`
	Location  *Location `json:"location,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`

	// Authentication payload
	AuthMethod    string `json:"auth_method,omitempty"`
	AuthResult    Result `json:"auth_result,omitempty"`
	FailureReason string `json:"failure_reason,omitempty"`
	MFAUsed       bool   `json:"mfa_used,omitempty"`

	// Data-access payload
	ResourceID         string `json:"resource_id,omitempty"`
	ResourceType       string `json:"resource_type,omitempty"`
	Action             string `json:"action,omitempty"`
	DataClassification string `json:"data_classification,omitempty"`
	BytesAccessed      int64  `json:"bytes_accessed,omitempty"`

	// Network payload
	DestinationIP   string `json:"destination_ip,omitempty"`
	DestinationPort int    `json:"destination_port,omitempty"`
	Protocol        string `json:"protocol,omitempty"`
	BytesSent       int64  `json:"bytes_sent,omitempty"`
	BytesReceived   int64  `json:"bytes_received,omitempty"`
}

type Type int

const (
	TypeAuthentication Type = iota
	TypeAuthorization
	TypeDataAccess
	TypeNetworkAccess
	TypeApplicationUsage
	TypeFileAccess
	TypeAPICall
	TypeSystemEvent
)

func (t Type) String() string {
	switch t {
	case TypeAuthentication:
		return "authentication"
	case TypeAuthorization:
		return "authorization"
	case TypeDataAccess:
		return "data_access"
	case TypeNetworkAccess:
		return "network_access"
	case TypeApplicationUsage:
		return "application_usage"
	case TypeFileAccess:
		return "file_access"
	case TypeAPICall:
		return "api_call"
	case TypeSystemEvent:
		return "system_event"
	default:
		return "unknown"
	}
}

// AllTypes enumerates every event type, in wire order. Feature extraction
// emits one ratio per type so the list must stay stable.
func AllTypes() []Type {
	return []Type{
		TypeAuthentication,
		TypeAuthorization,
		TypeDataAccess,
		TypeNetworkAccess,
		TypeApplicationUsage,
		TypeFileAccess,
		TypeAPICall,
		TypeSystemEvent,
	}
}

// Result of an authentication or access attempt.
type Result int

const (
	ResultUnknown Result = iota
	ResultSuccess
	ResultFailure
	ResultTimeout
	ResultDenied
)

func (r Result) String() string {
	switch r {
	case ResultSuccess:
		return "success"
	case ResultFailure:
		return "failure"
	case ResultTimeout:
		return "timeout"
	case ResultDenied:
		return "denied"
	default:
		return "unknown"
	}
}

// Location is a geographic point attached to an event source.
type Location struct {
	Country   string  `json:"country,omitempty"`
	City      string  `json:"city,omitempty"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

func New(entityID string, eventType Type, timestamp time.Time) (*Event, error) {
	if entityID == "" {
		return nil, fmt.Errorf("entity ID cannot be empty")
	}
	if timestamp.IsZero() {
		return nil, fmt.Errorf("timestamp cannot be zero")
	}

	return &Event{
		ID:        uuid.New(),
		EntityID:  entityID,
		Type:      eventType,
		Timestamp: timestamp,
	}, nil
}

// DataVolume returns the number of bytes this event moved, whichever payload
// field carries it. Zero when the event has no volume dimension.
func (e *Event) DataVolume() int64 {
	switch {
	case e.BytesAccessed > 0:
		return e.BytesAccessed
	case e.BytesSent > 0:
		return e.BytesSent
	case e.BytesReceived > 0:
		return e.BytesReceived
	default:
		return 0
	}
}

// Session returns the session identifier, defaulting to "unknown" so that
// sessionless events still group deterministically.
func (e *Event) Session() string {
	if e.SessionID == "" {
		return "unknown"
	}
	return e.SessionID
}

// SensitiveClassifications are data classifications treated as sensitive for
// risk scoring.
var SensitiveClassifications = map[string]bool{
	"confidential": true,
	"secret":       true,
	"top_secret":   true,
}

func (e *Event) IsSensitiveAccess() bool {
	return SensitiveClassifications[e.DataClassification]
}
