package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// PolicyScope is the level a limit policy applies to.
type PolicyScope string

const (
	ScopeGlobal  PolicyScope = "global"
	ScopeSchool  PolicyScope = "school"
	ScopeStudent PolicyScope = "student"
)

// Valid reports whether the scope is known.
func (s PolicyScope) Valid() bool {
	switch s {
	case ScopeGlobal, ScopeSchool, ScopeStudent:
		return true
	default:
		return false
	}
}

// WindowLimit caps earned points inside one window.
type WindowLimit struct {
	Enabled   bool `json:"enabled"`
	MaxPoints int  `json:"maxPoints" validate:"gte=0"`
}

// WindowLimits groups the global windows.
type WindowLimits struct {
	Daily   WindowLimit `json:"daily"`
	Weekly  WindowLimit `json:"weekly"`
	Monthly WindowLimit `json:"monthly"`
}

// Get returns the limit configured for window.
func (w WindowLimits) Get(window LimitWindow) WindowLimit {
	switch window {
	case WindowDaily:
		return w.Daily
	case WindowWeekly:
		return w.Weekly
	case WindowMonthly:
		return w.Monthly
	default:
		return WindowLimit{}
	}
}

// Value implements driver.Valuer.
func (w WindowLimits) Value() (driver.Value, error) {
	return marshalJSONValue(w)
}

// Scan implements sql.Scanner.
func (w *WindowLimits) Scan(src interface{}) error {
	return scanJSON(src, w)
}

// SourceLimit caps earned points from a single source.
type SourceLimit struct {
	Daily WindowLimit `json:"daily"`
}

// SourceLimits maps a source to its sub-limit.
type SourceLimits map[PointSource]SourceLimit

// Value implements driver.Valuer.
func (s SourceLimits) Value() (driver.Value, error) {
	if s == nil {
		return "{}", nil
	}
	return marshalJSONValue(s)
}

// Scan implements sql.Scanner.
func (s *SourceLimits) Scan(src interface{}) error {
	out := SourceLimits{}
	if err := scanJSON(src, &out); err != nil {
		return err
	}
	*s = out
	return nil
}

// LimitPolicy is the rate-limit document for a scope.
type LimitPolicy struct {
	ID           string       `db:"id" json:"id"`
	Scope        PolicyScope  `db:"scope" json:"scope"`
	EntityID     *string      `db:"entity_id" json:"entity_id,omitempty"`
	Limits       WindowLimits `db:"limits" json:"limits"`
	SourceLimits SourceLimits `db:"source_limits" json:"source_limits"`
	UpdatedBy    *string      `db:"updated_by" json:"updated_by,omitempty"`
	CreatedAt    time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time    `db:"updated_at" json:"updated_at"`
}

// DefaultGlobalLimits returns the limits of an auto-created global policy.
func DefaultGlobalLimits() (WindowLimits, SourceLimits) {
	return WindowLimits{
			Daily:   WindowLimit{Enabled: true, MaxPoints: 100},
			Weekly:  WindowLimit{Enabled: true, MaxPoints: 500},
			Monthly: WindowLimit{Enabled: false, MaxPoints: 2000},
		}, SourceLimits{
			SourceAttendance: {Daily: WindowLimit{Enabled: true, MaxPoints: 10}},
			SourceTask:       {Daily: WindowLimit{Enabled: true, MaxPoints: 50}},
		}
}

// WindowStatus reports quota usage for a window.
type WindowStatus struct {
	Window    LimitWindow  `json:"window"`
	Source    *PointSource `json:"source,omitempty"`
	MaxPoints int          `json:"max_points"`
	Consumed  int          `json:"consumed"`
	Remaining int          `json:"remaining"`
	Bucket    time.Time    `json:"bucket"`
}

// LimitStatus is the quota snapshot of a student under the resolved policy.
type LimitStatus struct {
	StudentID   string         `json:"student_id"`
	PolicyScope PolicyScope    `json:"policy_scope"`
	Windows     []WindowStatus `json:"windows"`
}

// marshalJSONValue encodes v as a JSON string; lib/pq would send []byte as bytea.
func marshalJSONValue(v interface{}) (driver.Value, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}

func scanJSON(src interface{}, dest interface{}) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("scan json: unsupported type %T", src)
	}
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dest)
}
