package models

import "time"

// AuditAction constants represent actions to be logged.
const (
	AuditActionPolicyUpsert     = "POINTS_POLICY_UPSERT"
	AuditActionPolicyDelete     = "POINTS_POLICY_DELETE"
	AuditActionSchoolRuleUpsert = "POINTS_SCHOOL_RULE_UPSERT"
	AuditActionReversal         = "POINTS_REVERSAL"
	AuditActionDeadLetterReplay = "POINTS_DEAD_LETTER_REPLAY"
)

// AuditLog represents an audit trail record.
type AuditLog struct {
	ID         string    `db:"id" json:"id"`
	UserID     *string   `db:"user_id" json:"user_id,omitempty"`
	Action     string    `db:"action" json:"action"`
	Resource   string    `db:"resource" json:"resource"`
	ResourceID *string   `db:"resource_id" json:"resource_id,omitempty"`
	OldValues  []byte    `db:"old_values" json:"old_values,omitempty"`
	NewValues  []byte    `db:"new_values" json:"new_values,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}
