package models

import (
	"database/sql/driver"
	"time"
)

// CategoryPoints maps a task category to its fixed point value.
type CategoryPoints map[string]int

// Value implements driver.Valuer.
func (c CategoryPoints) Value() (driver.Value, error) {
	if c == nil {
		return "{}", nil
	}
	return marshalJSONValue(c)
}

// Scan implements sql.Scanner.
func (c *CategoryPoints) Scan(src interface{}) error {
	out := CategoryPoints{}
	if err := scanJSON(src, &out); err != nil {
		return err
	}
	*c = out
	return nil
}

// SchoolPointRule holds per-school overrides applied before the ledger limits.
type SchoolPointRule struct {
	SchoolID           string         `db:"school_id" json:"school_id"`
	AttendancePoints   *int           `db:"attendance_points" json:"attendance_points,omitempty"`
	TaskCategoryPoints CategoryPoints `db:"task_category_points" json:"task_category_points"`
	DailyCap           *int           `db:"daily_cap" json:"daily_cap,omitempty"`
	UpdatedBy          *string        `db:"updated_by" json:"updated_by,omitempty"`
	UpdatedAt          time.Time      `db:"updated_at" json:"updated_at"`
}
