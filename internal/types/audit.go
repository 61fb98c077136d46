package types

import "encoding/json"

// AuditLogEntry represents a single create/update event reported by the platform
type AuditLogEntry struct {
	LogID     string `json:"logId,omitempty"`
	EventType string `json:"eventType,omitempty"`
	Category  string `json:"category,omitempty"`
	EntityID  string `json:"entityId" validate:"required"`
	User      string `json:"user"`
	Timestamp int64  `json:"timestamp" validate:"min=0"`
}

// Validate performs validation of AuditLogEntry
func (e *AuditLogEntry) Validate() error {
	return validate.Struct(e)
}

// EntityReference identifies a configurable object on the platform
type EntityReference struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// String returns the reference in TYPE(ID) form
func (r EntityReference) String() string {
	return r.Type + "(" + r.ID + ")"
}

// ConfigSnapshot is the serialized configuration document of an entity
type ConfigSnapshot = json.RawMessage
