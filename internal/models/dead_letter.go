package models

import (
	"encoding/json"
	"time"
)

// DeadLetterStatus tracks whether a failed award has been handled.
type DeadLetterStatus string

const (
	DeadLetterPending  DeadLetterStatus = "PENDING"
	DeadLetterResolved DeadLetterStatus = "RESOLVED"
)

// DeadLetter records a point award that failed after all retries.
type DeadLetter struct {
	ID           string           `db:"id" json:"id"`
	Collaborator string           `db:"collaborator" json:"collaborator"`
	StudentID    string           `db:"student_id" json:"student_id"`
	Source       PointSource      `db:"source" json:"source"`
	SourceRef    *string          `db:"source_ref" json:"source_ref,omitempty"`
	Payload      json.RawMessage  `db:"payload" json:"payload"`
	LastError    string           `db:"last_error" json:"last_error"`
	Attempts     int              `db:"attempts" json:"attempts"`
	Status       DeadLetterStatus `db:"status" json:"status"`
	CreatedAt    time.Time        `db:"created_at" json:"created_at"`
	ResolvedAt   *time.Time       `db:"resolved_at" json:"resolved_at,omitempty"`
}

// DeadLetterFilter narrows dead-letter listings.
type DeadLetterFilter struct {
	Status    *DeadLetterStatus
	StudentID string
	Page      int
	PageSize  int
}
