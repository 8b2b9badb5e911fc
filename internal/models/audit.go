package models

import "time"

// AuditEvent is an append-only operational event stored in ClickHouse.
type AuditEvent struct {
	EventType string            `json:"eventType" ch:"event_type"`
	UserID    string            `json:"userId" ch:"user_id"`
	Severity  string            `json:"severity" ch:"severity"`
	Details   map[string]string `json:"details,omitempty" ch:"details"`
	CreatedAt time.Time         `json:"createdAt" ch:"created_at"`
}

// Audit event severities.
const (
	SeverityInfo    = "INFO"
	SeverityWarning = "WARNING"
	SeverityError   = "ERROR"
)
