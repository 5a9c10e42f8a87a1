package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// TransactionKind describes the direction of a point movement.
type TransactionKind string

const (
	KindEarned   TransactionKind = "earned"
	KindSpent    TransactionKind = "spent"
	KindAdjusted TransactionKind = "adjusted"
)

// Valid reports whether the kind is one of the known kinds.
func (k TransactionKind) Valid() bool {
	switch k {
	case KindEarned, KindSpent, KindAdjusted:
		return true
	default:
		return false
	}
}

// PointSource identifies what produced a point movement.
type PointSource string

const (
	SourceTask             PointSource = "task"
	SourceAttendance       PointSource = "attendance"
	SourceBehavior         PointSource = "behavior"
	SourceBadge            PointSource = "badge"
	SourceRedemption       PointSource = "redemption"
	SourceManualAdjustment PointSource = "manual_adjustment"
)

// Metadata keys written by the ledger engine.
const (
	MetaSourceType            = "sourceType"
	MetaLimitApplied          = "limitApplied"
	MetaLimitType             = "limitType"
	MetaOriginalAmount        = "originalAmount"
	MetaReversedTransactionID = "reversedTransactionId"
	MetaOriginalType          = "originalType"
	MetaReason                = "reason"
)

// Metadata is an open key/value bag stored as JSONB.
type Metadata map[string]interface{}

// Value implements driver.Valuer.
func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	return marshalJSONValue(m)
}

// Scan implements sql.Scanner.
func (m *Metadata) Scan(src interface{}) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*m = Metadata{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("metadata: unsupported type %T", src)
	}
	out := Metadata{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			return fmt.Errorf("metadata: %w", err)
		}
	}
	*m = out
	return nil
}

// String returns the value stored under key when it is a string.
func (m Metadata) String(key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

// Clone returns a shallow copy safe for independent mutation.
func (m Metadata) Clone() Metadata {
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// LedgerEntry is an immutable record of a single point movement.
type LedgerEntry struct {
	ID           string          `db:"id" json:"id"`
	AccountID    string          `db:"account_id" json:"account_id"`
	StudentID    string          `db:"student_id" json:"student_id"`
	Amount       int             `db:"amount" json:"amount"`
	Kind         TransactionKind `db:"kind" json:"kind"`
	Source       PointSource     `db:"source" json:"source"`
	SourceRef    *string         `db:"source_ref" json:"source_ref,omitempty"`
	Description  string          `db:"description" json:"description"`
	AwardedBy    string          `db:"awarded_by" json:"awarded_by"`
	AwardedRole  string          `db:"awarded_by_role" json:"awarded_by_role"`
	BalanceAfter int             `db:"balance_after" json:"balance_after"`
	Metadata     Metadata        `db:"metadata" json:"metadata"`
	OccurredAt   time.Time       `db:"occurred_at" json:"occurred_at"`
	DayBucket    time.Time       `db:"day_bucket" json:"day_bucket"`
	WeekBucket   time.Time       `db:"week_bucket" json:"week_bucket"`
	MonthBucket  time.Time       `db:"month_bucket" json:"month_bucket"`
}

// StampBuckets derives the day, week and month buckets from OccurredAt in loc.
// Buckets are computed once at write time.
func (e *LedgerEntry) StampBuckets(loc *time.Location) {
	b := BucketsFor(e.OccurredAt, loc)
	e.DayBucket = b.Day
	e.WeekBucket = b.Week
	e.MonthBucket = b.Month
}

// LedgerEntryView decorates an entry with its reversal linkage.
type LedgerEntryView struct {
	LedgerEntry
	ReversalEntryID *string `db:"reversal_entry_id" json:"reversal_entry_id,omitempty"`
	Reversed        bool    `db:"reversed" json:"reversed"`
}

// LedgerReversal indexes a reversal by the id of the entry it reverses.
type LedgerReversal struct {
	OriginalEntryID string    `db:"original_entry_id" json:"original_entry_id"`
	ReversalEntryID string    `db:"reversal_entry_id" json:"reversal_entry_id"`
	StudentID       string    `db:"student_id" json:"student_id"`
	Reason          string    `db:"reason" json:"reason"`
	ReversedBy      string    `db:"reversed_by" json:"reversed_by"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
}

// LedgerFilter narrows ledger listings.
type LedgerFilter struct {
	StudentID string
	Kind      *TransactionKind
	Source    *PointSource
	From      *time.Time
	To        *time.Time
	Page      int
	PageSize  int
}

// QuotaQuery asks for the earned total inside one bucket of one window.
// Source is nil for the global windows.
type QuotaQuery struct {
	StudentID string
	Window    LimitWindow
	Bucket    time.Time
	Source    *PointSource
}
