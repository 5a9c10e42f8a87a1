package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/sma-points-api/internal/models"
	"github.com/noah-isme/sma-points-api/pkg/database"
)

// ErrVersionConflict is returned when an account row changed underneath a save.
var ErrVersionConflict = errors.New("account version conflict")

// ErrDuplicateSourceRef is returned when an earned entry for the same source reference exists.
var ErrDuplicateSourceRef = errors.New("duplicate earned source reference")

const uniqueViolation = "23505"

const entryColumns = `e.id, e.account_id, e.student_id, e.amount, e.kind, e.source, e.source_ref, e.description,
e.awarded_by, e.awarded_by_role, e.balance_after, e.metadata, e.occurred_at, e.day_bucket, e.week_bucket, e.month_bucket`

const accountColumns = `id, student_id, current_balance, total_earned, total_spent, level, version, created_at, updated_at`

// LedgerRepository persists accounts, ledger entries and the reversal index in PostgreSQL.
type LedgerRepository struct {
	db *sqlx.DB
}

// NewLedgerRepository constructs the repository.
func NewLedgerRepository(db *sqlx.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// WithinStudent runs fn in a transaction holding the student's advisory lock.
// Concurrent callers for the same student queue on the lock; other students proceed in parallel.
func (r *LedgerRepository) WithinStudent(ctx context.Context, studentID string, fn StudentFunc) error {
	return database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, "points:"+studentID); err != nil {
			return fmt.Errorf("lock student ledger: %w", err)
		}
		return fn(&pgLedgerTx{tx: tx, studentID: studentID})
	})
}

// GetAccount fetches a student's account.
func (r *LedgerRepository) GetAccount(ctx context.Context, studentID string) (*models.Account, error) {
	var account models.Account
	query := `SELECT ` + accountColumns + ` FROM points_accounts WHERE student_id = $1`
	if err := r.db.GetContext(ctx, &account, query, studentID); err != nil {
		return nil, err
	}
	return &account, nil
}

// GetEntry fetches one entry with its reversal annotation.
func (r *LedgerRepository) GetEntry(ctx context.Context, id string) (*models.LedgerEntryView, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, sql.ErrNoRows
	}
	query := `SELECT ` + entryColumns + `, r.reversal_entry_id, (r.reversal_entry_id IS NOT NULL) AS reversed
FROM points_ledger_entries e LEFT JOIN points_ledger_reversals r ON r.original_entry_id = e.id
WHERE e.id = $1`
	var view models.LedgerEntryView
	if err := r.db.GetContext(ctx, &view, query, id); err != nil {
		return nil, err
	}
	return &view, nil
}

// ListEntries returns a student's entries, newest first.
func (r *LedgerRepository) ListEntries(ctx context.Context, filter models.LedgerFilter) ([]models.LedgerEntryView, int, error) {
	where := []string{"e.student_id = $1"}
	args := []interface{}{filter.StudentID}
	if filter.Kind != nil {
		where = append(where, fmt.Sprintf("e.kind = $%d", len(args)+1))
		args = append(args, string(*filter.Kind))
	}
	if filter.Source != nil {
		where = append(where, fmt.Sprintf("e.source = $%d", len(args)+1))
		args = append(args, string(*filter.Source))
	}
	if filter.From != nil {
		where = append(where, fmt.Sprintf("e.occurred_at >= $%d", len(args)+1))
		args = append(args, *filter.From)
	}
	if filter.To != nil {
		where = append(where, fmt.Sprintf("e.occurred_at <= $%d", len(args)+1))
		args = append(args, *filter.To)
	}
	whereClause := strings.Join(where, " AND ")
	page, size := normalisePage(filter.Page, filter.PageSize)
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT %s, r.reversal_entry_id, (r.reversal_entry_id IS NOT NULL) AS reversed
FROM points_ledger_entries e LEFT JOIN points_ledger_reversals r ON r.original_entry_id = e.id
WHERE %s ORDER BY e.occurred_at DESC, e.id DESC LIMIT %d OFFSET %d`, entryColumns, whereClause, size, offset)
	var entries []models.LedgerEntryView
	if err := r.db.SelectContext(ctx, &entries, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list ledger entries: %w", err)
	}
	var total int
	if err := r.db.GetContext(ctx, &total, fmt.Sprintf("SELECT COUNT(*) FROM points_ledger_entries e WHERE %s", whereClause), args...); err != nil {
		return nil, 0, fmt.Errorf("count ledger entries: %w", err)
	}
	return entries, total, nil
}

// SumEarned totals earned points for a quota query without taking the student lock.
func (r *LedgerRepository) SumEarned(ctx context.Context, q models.QuotaQuery) (int, error) {
	return sumEarned(ctx, r.db, q)
}

type pgLedgerTx struct {
	tx        *sqlx.Tx
	studentID string
}

func (t *pgLedgerTx) Account(ctx context.Context) (*models.Account, error) {
	var account models.Account
	query := `SELECT ` + accountColumns + ` FROM points_accounts WHERE student_id = $1`
	if err := t.tx.GetContext(ctx, &account, query, t.studentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get account: %w", err)
	}
	return &account, nil
}

func (t *pgLedgerTx) CreateAccount(ctx context.Context, account *models.Account) error {
	if account.ID == "" {
		account.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	account.StudentID = t.studentID
	account.CreatedAt = now
	account.UpdatedAt = now
	if account.Level < 1 {
		account.Level = 1
	}
	const query = `INSERT INTO points_accounts (` + accountColumns + `)
VALUES (:id, :student_id, :current_balance, :total_earned, :total_spent, :level, :version, :created_at, :updated_at)`
	if _, err := t.tx.NamedExecContext(ctx, query, account); err != nil {
		return fmt.Errorf("create account: %w", err)
	}
	return nil
}

func (t *pgLedgerTx) SaveAccount(ctx context.Context, account *models.Account) error {
	account.UpdatedAt = time.Now().UTC()
	const query = `UPDATE points_accounts SET current_balance = :current_balance, total_earned = :total_earned,
total_spent = :total_spent, level = :level, version = version + 1, updated_at = :updated_at
WHERE id = :id AND version = :version`
	res, err := t.tx.NamedExecContext(ctx, query, account)
	if err != nil {
		return fmt.Errorf("save account: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("save account: %w", err)
	}
	if affected != 1 {
		return ErrVersionConflict
	}
	account.Version++
	return nil
}

func (t *pgLedgerTx) SumEarned(ctx context.Context, q models.QuotaQuery) (int, error) {
	q.StudentID = t.studentID
	return sumEarned(ctx, t.tx, q)
}

func (t *pgLedgerTx) FindEarnedBySourceRef(ctx context.Context, source models.PointSource, sourceRef string) (*models.LedgerEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM points_ledger_entries e
WHERE e.student_id = $1 AND e.source = $2 AND e.source_ref = $3 AND e.kind = 'earned'`
	var entry models.LedgerEntry
	if err := t.tx.GetContext(ctx, &entry, query, t.studentID, string(source), sourceRef); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find entry by source ref: %w", err)
	}
	return &entry, nil
}

func (t *pgLedgerTx) AppendEntry(ctx context.Context, entry *models.LedgerEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	entry.StudentID = t.studentID
	const query = `INSERT INTO points_ledger_entries (id, account_id, student_id, amount, kind, source, source_ref, description,
awarded_by, awarded_by_role, balance_after, metadata, occurred_at, day_bucket, week_bucket, month_bucket)
VALUES (:id, :account_id, :student_id, :amount, :kind, :source, :source_ref, :description,
:awarded_by, :awarded_by_role, :balance_after, :metadata, :occurred_at, :day_bucket, :week_bucket, :month_bucket)`
	if _, err := t.tx.NamedExecContext(ctx, query, entry); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return ErrDuplicateSourceRef
		}
		return fmt.Errorf("append ledger entry: %w", err)
	}
	return nil
}

func (t *pgLedgerTx) FindReversal(ctx context.Context, originalID string) (*models.LedgerReversal, error) {
	const query = `SELECT original_entry_id, reversal_entry_id, student_id, reason, reversed_by, created_at
FROM points_ledger_reversals WHERE original_entry_id = $1`
	var reversal models.LedgerReversal
	if err := t.tx.GetContext(ctx, &reversal, query, originalID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find reversal: %w", err)
	}
	return &reversal, nil
}

func (t *pgLedgerTx) RecordReversal(ctx context.Context, reversal *models.LedgerReversal) error {
	if reversal.CreatedAt.IsZero() {
		reversal.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO points_ledger_reversals (original_entry_id, reversal_entry_id, student_id, reason, reversed_by, created_at)
VALUES (:original_entry_id, :reversal_entry_id, :student_id, :reason, :reversed_by, :created_at)`
	if _, err := t.tx.NamedExecContext(ctx, query, reversal); err != nil {
		return fmt.Errorf("record reversal: %w", err)
	}
	return nil
}

func sumEarned(ctx context.Context, q sqlx.QueryerContext, query models.QuotaQuery) (int, error) {
	column := "day_bucket"
	switch query.Window {
	case models.WindowWeekly:
		column = "week_bucket"
	case models.WindowMonthly:
		column = "month_bucket"
	}
	stmt := fmt.Sprintf(`SELECT COALESCE(SUM(amount), 0) FROM points_ledger_entries
WHERE student_id = $1 AND kind = 'earned' AND %s = $2`, column)
	args := []interface{}{query.StudentID, query.Bucket}
	if query.Source != nil {
		stmt += " AND source = $3"
		args = append(args, string(*query.Source))
	}
	var total int
	if err := sqlx.GetContext(ctx, q, &total, stmt, args...); err != nil {
		return 0, fmt.Errorf("sum earned %s: %w", query.Window, err)
	}
	return total, nil
}

func normalisePage(page, size int) (int, int) {
	if page < 1 {
		page = 1
	}
	if size <= 0 || size > 200 {
		size = 50
	}
	return page, size
}
