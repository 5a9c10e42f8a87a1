package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-points-api/internal/models"
)

// SchoolRuleRepository stores per-school point overrides.
type SchoolRuleRepository struct {
	db *sqlx.DB
}

// NewSchoolRuleRepository constructs the repository.
func NewSchoolRuleRepository(db *sqlx.DB) *SchoolRuleRepository {
	return &SchoolRuleRepository{db: db}
}

// Get returns the rule of a school or sql.ErrNoRows.
func (r *SchoolRuleRepository) Get(ctx context.Context, schoolID string) (*models.SchoolPointRule, error) {
	const query = `SELECT school_id, attendance_points, task_category_points, daily_cap, updated_by, updated_at
FROM points_school_rules WHERE school_id = $1`
	var rule models.SchoolPointRule
	if err := r.db.GetContext(ctx, &rule, query, schoolID); err != nil {
		return nil, err
	}
	return &rule, nil
}

// Upsert creates or replaces a school's rule.
func (r *SchoolRuleRepository) Upsert(ctx context.Context, rule *models.SchoolPointRule) error {
	rule.UpdatedAt = time.Now().UTC()
	const query = `INSERT INTO points_school_rules (school_id, attendance_points, task_category_points, daily_cap, updated_by, updated_at)
VALUES (:school_id, :attendance_points, :task_category_points, :daily_cap, :updated_by, :updated_at)
ON CONFLICT (school_id) DO UPDATE SET attendance_points = EXCLUDED.attendance_points,
task_category_points = EXCLUDED.task_category_points, daily_cap = EXCLUDED.daily_cap,
updated_by = EXCLUDED.updated_by, updated_at = EXCLUDED.updated_at`
	if _, err := r.db.NamedExecContext(ctx, query, rule); err != nil {
		return fmt.Errorf("upsert school rule: %w", err)
	}
	return nil
}
