package dto

import (
	"time"

	"github.com/noah-isme/sma-points-api/internal/models"
)

// ApplyPointsRequest asks the ledger to record a point movement.
// Amount is the nominal size; its sign is derived from Kind except for adjustments, which are signed.
type ApplyPointsRequest struct {
	StudentID     string                 `json:"student_id" validate:"required"`
	SchoolID      string                 `json:"school_id,omitempty"`
	Amount        int                    `json:"amount" validate:"required"`
	Kind          models.TransactionKind `json:"kind" validate:"required,point_kind"`
	Source        models.PointSource     `json:"source" validate:"required,point_source"`
	SourceRef     *string                `json:"source_ref,omitempty"`
	Category      string                 `json:"category,omitempty"`
	Description   string                 `json:"description" validate:"required"`
	AwardedBy     string                 `json:"-" validate:"required"`
	AwardedByRole string                 `json:"-" validate:"required"`
	Metadata      models.Metadata        `json:"metadata,omitempty"`
}

// ApplyPointsResult reports what the ledger actually recorded.
type ApplyPointsResult struct {
	EffectiveAmount int                 `json:"effective_amount"`
	BalanceAfter    int                 `json:"balance_after"`
	Capped          bool                `json:"capped"`
	Duplicate       bool                `json:"duplicate"`
	Entry           *models.LedgerEntry `json:"entry"`
}

// ReversePointsRequest asks for an entry to be undone.
type ReversePointsRequest struct {
	EntryID        string `json:"-" validate:"required"`
	Reason         string `json:"reason" validate:"required"`
	ReversedBy     string `json:"-" validate:"required"`
	ReversedByRole string `json:"-"`
}

// ReversePointsResult carries the compensating entry.
type ReversePointsResult struct {
	ReversalEntry *models.LedgerEntry `json:"reversal_entry"`
	BalanceAfter  int                 `json:"balance_after"`
}

// LedgerQuery mirrors supported listing filters.
type LedgerQuery struct {
	Kind     string    `form:"kind"`
	Source   string    `form:"source"`
	From     time.Time `form:"from" time_format:"2006-01-02T15:04:05Z07:00"`
	To       time.Time `form:"to" time_format:"2006-01-02T15:04:05Z07:00"`
	Page     int       `form:"page"`
	PageSize int       `form:"page_size"`
}

// AccountSummary is the account read model.
type AccountSummary struct {
	models.Account
	PointsToNextLevel int `json:"points_to_next_level"`
}

// UpsertLimitPolicyRequest replaces the policy of a scope.
type UpsertLimitPolicyRequest struct {
	Scope        models.PolicyScope  `json:"-" validate:"required"`
	EntityID     string              `json:"-"`
	Limits       models.WindowLimits `json:"limits"`
	SourceLimits models.SourceLimits `json:"source_limits"`
}

// UpsertSchoolRuleRequest replaces a school's point overrides.
type UpsertSchoolRuleRequest struct {
	SchoolID           string                `json:"-" validate:"required"`
	AttendancePoints   *int                  `json:"attendance_points,omitempty" validate:"omitempty,gt=0"`
	TaskCategoryPoints models.CategoryPoints `json:"task_category_points,omitempty" validate:"omitempty,dive,keys,required,endkeys,gt=0"`
	DailyCap           *int                  `json:"daily_cap,omitempty" validate:"omitempty,gt=0"`
}

// AttendanceCheckInRequest is sent by the attendance collaborator after a check-in.
type AttendanceCheckInRequest struct {
	StudentID          string    `json:"student_id" validate:"required"`
	SchoolID           string    `json:"school_id,omitempty"`
	AttendanceRecordID string    `json:"attendance_record_id" validate:"required"`
	SourceType         string    `json:"source_type" validate:"omitempty,oneof=daily_check_in perfect_week streak_bonus"`
	Streak             int       `json:"streak" validate:"gte=0"`
	Date               time.Time `json:"date"`
	Points             int       `json:"points,omitempty" validate:"gte=0"`
	AwardedBy          string    `json:"-"`
	AwardedByRole      string    `json:"-"`
}

// AttendanceCheckInResult tells the collaborator how many points to record on its check-in.
type AttendanceCheckInResult struct {
	PointsAwarded int    `json:"points_awarded"`
	Capped        bool   `json:"capped"`
	Deferred      bool   `json:"deferred"`
	Reason        string `json:"reason,omitempty"`
}

// BadgeBonusRequest is sent by the badge collaborator after awarding a badge.
type BadgeBonusRequest struct {
	StudentID        string `json:"student_id" validate:"required"`
	SchoolID         string `json:"school_id,omitempty"`
	BadgeID          string `json:"badge_id" validate:"required"`
	BadgeName        string `json:"badge_name" validate:"required"`
	BadgeDescription string `json:"badge_description"`
	SourceType       string `json:"source_type" validate:"omitempty,oneof=achievement_badge milestone_badge special_badge"`
	Points           int    `json:"points" validate:"required,gt=0"`
	AwardedBy        string `json:"-"`
	AwardedByRole    string `json:"-"`
}

// DeadLetterQuery mirrors dead-letter listing filters.
type DeadLetterQuery struct {
	Status    string `form:"status"`
	StudentID string `form:"student_id"`
	Page      int    `form:"page"`
	PageSize  int    `form:"page_size"`
}

// BadgeBonusResult tells the badge collaborator whether the bonus was queued.
type BadgeBonusResult struct {
	Queued bool   `json:"queued"`
	Points int    `json:"points"`
	Reason string `json:"reason,omitempty"`
}
