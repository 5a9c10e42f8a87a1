package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-points-api/internal/models"
)

const policyColumns = `id, scope, entity_id, limits, source_limits, updated_by, created_at, updated_at`

// LimitPolicyRepository stores limit policies keyed by (scope, entity_id).
type LimitPolicyRepository struct {
	db *sqlx.DB
}

// NewLimitPolicyRepository constructs the repository.
func NewLimitPolicyRepository(db *sqlx.DB) *LimitPolicyRepository {
	return &LimitPolicyRepository{db: db}
}

// FindByScope returns the policy for scope/entityID. entityID is nil for the global policy.
func (r *LimitPolicyRepository) FindByScope(ctx context.Context, scope models.PolicyScope, entityID *string) (*models.LimitPolicy, error) {
	var policy models.LimitPolicy
	var err error
	if entityID == nil {
		query := `SELECT ` + policyColumns + ` FROM points_limit_policies WHERE scope = $1 AND entity_id IS NULL`
		err = r.db.GetContext(ctx, &policy, query, string(scope))
	} else {
		query := `SELECT ` + policyColumns + ` FROM points_limit_policies WHERE scope = $1 AND entity_id = $2`
		err = r.db.GetContext(ctx, &policy, query, string(scope), *entityID)
	}
	if err != nil {
		return nil, err
	}
	return &policy, nil
}

// EnsureGlobal inserts the global policy when absent and returns the stored row.
// Concurrent first callers converge on the same row through the unique index.
func (r *LimitPolicyRepository) EnsureGlobal(ctx context.Context, defaults *models.LimitPolicy) (*models.LimitPolicy, error) {
	if defaults.ID == "" {
		defaults.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	defaults.Scope = models.ScopeGlobal
	defaults.EntityID = nil
	defaults.CreatedAt = now
	defaults.UpdatedAt = now
	const query = `INSERT INTO points_limit_policies (` + policyColumns + `)
VALUES (:id, :scope, :entity_id, :limits, :source_limits, :updated_by, :created_at, :updated_at)
ON CONFLICT (scope, (COALESCE(entity_id, ''))) DO NOTHING`
	if _, err := r.db.NamedExecContext(ctx, query, defaults); err != nil {
		return nil, fmt.Errorf("ensure global policy: %w", err)
	}
	policy, err := r.FindByScope(ctx, models.ScopeGlobal, nil)
	if err != nil {
		return nil, fmt.Errorf("reload global policy: %w", err)
	}
	return policy, nil
}

// List returns policies, optionally filtered by scope.
func (r *LimitPolicyRepository) List(ctx context.Context, scope *models.PolicyScope) ([]models.LimitPolicy, error) {
	query := `SELECT ` + policyColumns + ` FROM points_limit_policies`
	args := []interface{}{}
	if scope != nil {
		query += ` WHERE scope = $1`
		args = append(args, string(*scope))
	}
	query += ` ORDER BY scope, entity_id NULLS FIRST`
	var policies []models.LimitPolicy
	if err := r.db.SelectContext(ctx, &policies, query, args...); err != nil {
		return nil, fmt.Errorf("list limit policies: %w", err)
	}
	return policies, nil
}

// Upsert creates or replaces the policy for its (scope, entity_id).
func (r *LimitPolicyRepository) Upsert(ctx context.Context, policy *models.LimitPolicy) error {
	if policy.ID == "" {
		policy.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if policy.CreatedAt.IsZero() {
		policy.CreatedAt = now
	}
	policy.UpdatedAt = now
	const query = `INSERT INTO points_limit_policies (` + policyColumns + `)
VALUES (:id, :scope, :entity_id, :limits, :source_limits, :updated_by, :created_at, :updated_at)
ON CONFLICT (scope, (COALESCE(entity_id, ''))) DO UPDATE SET limits = EXCLUDED.limits,
source_limits = EXCLUDED.source_limits, updated_by = EXCLUDED.updated_by, updated_at = EXCLUDED.updated_at
RETURNING id, created_at`
	rows, err := r.db.NamedQueryContext(ctx, query, policy)
	if err != nil {
		return fmt.Errorf("upsert limit policy: %w", err)
	}
	defer rows.Close()
	if rows.Next() {
		if err := rows.Scan(&policy.ID, &policy.CreatedAt); err != nil {
			return fmt.Errorf("upsert limit policy: %w", err)
		}
	}
	return rows.Err()
}

// Delete removes a non-global policy. It returns sql.ErrNoRows when nothing matched.
func (r *LimitPolicyRepository) Delete(ctx context.Context, scope models.PolicyScope, entityID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM points_limit_policies WHERE scope = $1 AND entity_id = $2`, string(scope), entityID)
	if err != nil {
		return fmt.Errorf("delete limit policy: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete limit policy: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// IsNotFound reports whether err means the row does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
