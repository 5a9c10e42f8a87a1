package models

import "time"

// LimitWindow names a rate-limit window.
type LimitWindow string

const (
	WindowDaily       LimitWindow = "daily"
	WindowWeekly      LimitWindow = "weekly"
	WindowMonthly     LimitWindow = "monthly"
	WindowSourceDaily LimitWindow = "source_daily"
	WindowSchoolDaily LimitWindow = "school_daily"
)

// Buckets holds the time buckets an instant falls into.
type Buckets struct {
	Day   time.Time
	Week  time.Time
	Month time.Time
}

// BucketsFor returns the buckets of t in loc. Weeks start on Sunday.
func BucketsFor(t time.Time, loc *time.Location) Buckets {
	if loc == nil {
		loc = time.Local
	}
	local := t.In(loc)
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	week := day.AddDate(0, 0, -int(day.Weekday()))
	month := time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, loc)
	return Buckets{Day: day, Week: week, Month: month}
}

// For returns the bucket matching window. Source windows are daily.
func (b Buckets) For(window LimitWindow) time.Time {
	switch window {
	case WindowWeekly:
		return b.Week
	case WindowMonthly:
		return b.Month
	default:
		return b.Day
	}
}
