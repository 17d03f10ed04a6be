package models

import "time"

// AuditLog is a persisted copy of a broadcast event.
type AuditLog struct {
	ID         string    `db:"id" json:"id"`
	Seq        uint64    `db:"seq" json:"seq"`
	Kind       string    `db:"kind" json:"kind"`
	UserID     *string   `db:"user_id" json:"user_id,omitempty"`
	SessionID  *string   `db:"session_id" json:"session_id,omitempty"`
	Resource   string    `db:"resource" json:"resource"`
	Payload    []byte    `db:"payload" json:"payload,omitempty"`
	OccurredAt time.Time `db:"occurred_at" json:"occurred_at"`
}
