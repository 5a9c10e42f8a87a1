package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-points-api/internal/models"
)

const deadLetterColumns = `id, collaborator, student_id, source, source_ref, payload, last_error, attempts, status, created_at, resolved_at`

// DeadLetterRepository keeps awards that failed after every retry.
type DeadLetterRepository struct {
	db *sqlx.DB
}

// NewDeadLetterRepository constructs the repository.
func NewDeadLetterRepository(db *sqlx.DB) *DeadLetterRepository {
	return &DeadLetterRepository{db: db}
}

// Create stores a dead letter.
func (r *DeadLetterRepository) Create(ctx context.Context, letter *models.DeadLetter) error {
	prepareDeadLetter(letter)
	const query = `INSERT INTO points_dead_letters (` + deadLetterColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err := r.db.ExecContext(ctx, query, letter.ID, letter.Collaborator, letter.StudentID, string(letter.Source),
		letter.SourceRef, string(letter.Payload), letter.LastError, letter.Attempts, string(letter.Status),
		letter.CreatedAt, letter.ResolvedAt)
	if err != nil {
		return fmt.Errorf("create dead letter: %w", err)
	}
	return nil
}

// Get returns one dead letter or sql.ErrNoRows.
func (r *DeadLetterRepository) Get(ctx context.Context, id string) (*models.DeadLetter, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, sql.ErrNoRows
	}
	var letter models.DeadLetter
	if err := r.db.GetContext(ctx, &letter, `SELECT `+deadLetterColumns+` FROM points_dead_letters WHERE id = $1`, id); err != nil {
		return nil, err
	}
	return &letter, nil
}

// List returns dead letters newest first.
func (r *DeadLetterRepository) List(ctx context.Context, filter models.DeadLetterFilter) ([]models.DeadLetter, int, error) {
	where := []string{"1=1"}
	args := []interface{}{}
	if filter.Status != nil {
		args = append(args, string(*filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.StudentID != "" {
		args = append(args, filter.StudentID)
		where = append(where, fmt.Sprintf("student_id = $%d", len(args)))
	}
	whereClause := strings.Join(where, " AND ")
	page, size := normalisePage(filter.Page, filter.PageSize)

	query := fmt.Sprintf(`SELECT %s FROM points_dead_letters WHERE %s ORDER BY created_at DESC LIMIT %d OFFSET %d`,
		deadLetterColumns, whereClause, size, (page-1)*size)
	var letters []models.DeadLetter
	if err := r.db.SelectContext(ctx, &letters, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list dead letters: %w", err)
	}
	var total int
	if err := r.db.GetContext(ctx, &total, fmt.Sprintf(`SELECT COUNT(*) FROM points_dead_letters WHERE %s`, whereClause), args...); err != nil {
		return nil, 0, fmt.Errorf("count dead letters: %w", err)
	}
	return letters, total, nil
}

// MarkResolved flags a dead letter as handled.
func (r *DeadLetterRepository) MarkResolved(ctx context.Context, id string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE points_dead_letters SET status = $2, resolved_at = $3 WHERE id = $1 AND status = $4`,
		id, string(models.DeadLetterResolved), at, string(models.DeadLetterPending))
	if err != nil {
		return fmt.Errorf("resolve dead letter: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("resolve dead letter: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func prepareDeadLetter(letter *models.DeadLetter) {
	if letter.ID == "" {
		letter.ID = uuid.NewString()
	}
	if letter.CreatedAt.IsZero() {
		letter.CreatedAt = time.Now().UTC()
	}
	if letter.Status == "" {
		letter.Status = models.DeadLetterPending
	}
	if len(letter.Payload) == 0 {
		letter.Payload = []byte("{}")
	}
}
