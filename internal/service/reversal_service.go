package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-points-api/internal/dto"
	"github.com/noah-isme/sma-points-api/internal/models"
	"github.com/noah-isme/sma-points-api/internal/repository"
	appErrors "github.com/noah-isme/sma-points-api/pkg/errors"
)

type reversalLedger interface {
	WithinStudent(ctx context.Context, studentID string, fn repository.StudentFunc) error
	GetEntry(ctx context.Context, id string) (*models.LedgerEntryView, error)
}

// ReversalService undoes ledger entries with compensating adjustments.
type ReversalService struct {
	ledger    reversalLedger
	audit     auditLogger
	validator *validator.Validate
	logger    *zap.Logger
	metrics   *MetricsService
	cfg       LedgerConfig
}

// NewReversalService constructs the service. audit may be nil.
func NewReversalService(ledger reversalLedger, audit auditLogger, validate *validator.Validate, logger *zap.Logger, metrics *MetricsService, cfg LedgerConfig) *ReversalService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReversalService{
		ledger:    ledger,
		audit:     audit,
		validator: validate,
		logger:    logger,
		metrics:   metrics,
		cfg:       cfg.withDefaults(),
	}
}

// Reverse appends the inverse of an earned or spent entry and indexes it against the original.
func (s *ReversalService) Reverse(ctx context.Context, req dto.ReversePointsRequest) (*dto.ReversePointsResult, error) {
	req.Reason = strings.TrimSpace(req.Reason)
	if err := s.validator.Struct(req); err != nil {
		return nil, invalidPayload(err)
	}

	original, err := s.ledger.GetEntry(ctx, req.EntryID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "transaction not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load transaction")
	}
	if original.Kind != models.KindEarned && original.Kind != models.KindSpent {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("%s transactions cannot be reversed", original.Kind))
	}

	role := req.ReversedByRole
	if role == "" {
		role = string(models.RoleSystem)
	}
	var result *dto.ReversePointsResult
	err = s.ledger.WithinStudent(ctx, original.StudentID, func(tx repository.LedgerTx) error {
		occurredAt := s.cfg.Now()
		existing, err := tx.FindReversal(ctx, original.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			return appErrors.WithDetails(appErrors.ErrAlreadyReversed, "", map[string]interface{}{
				"reversal_entry_id": existing.ReversalEntryID,
			})
		}
		account, err := tx.Account(ctx)
		if err != nil {
			return err
		}
		if account == nil {
			return appErrors.Clone(appErrors.ErrAccountNotFound, fmt.Sprintf("no points account for student %s", original.StudentID))
		}

		reversalAmount := -original.Amount
		switch original.Kind {
		case models.KindEarned:
			if !account.CanDebit(original.Amount) {
				return appErrors.WithDetails(appErrors.ErrWouldGoNegative, "", map[string]interface{}{
					"balance":  account.CurrentBalance,
					"required": original.Amount,
				})
			}
			account.UndoCredit(original.Amount, s.cfg.LevelStep)
		case models.KindSpent:
			account.UndoDebit(reversalAmount, s.cfg.LevelStep)
		}
		if err := tx.SaveAccount(ctx, account); err != nil {
			return err
		}

		entry := &models.LedgerEntry{
			AccountID:    account.ID,
			StudentID:    original.StudentID,
			Amount:       reversalAmount,
			Kind:         models.KindAdjusted,
			Source:       models.SourceManualAdjustment,
			Description:  "Reversal: " + req.Reason,
			AwardedBy:    req.ReversedBy,
			AwardedRole:  role,
			BalanceAfter: account.CurrentBalance,
			Metadata: models.Metadata{
				models.MetaSourceType:            "correction",
				models.MetaReversedTransactionID: original.ID,
				models.MetaOriginalType:          string(original.Kind),
				models.MetaOriginalAmount:        original.Amount,
				models.MetaReason:                req.Reason,
			},
			OccurredAt: occurredAt,
		}
		entry.StampBuckets(s.cfg.Location)
		if err := tx.AppendEntry(ctx, entry); err != nil {
			return err
		}
		if err := tx.RecordReversal(ctx, &models.LedgerReversal{
			OriginalEntryID: original.ID,
			ReversalEntryID: entry.ID,
			StudentID:       original.StudentID,
			Reason:          req.Reason,
			ReversedBy:      req.ReversedBy,
		}); err != nil {
			return err
		}
		result = &dto.ReversePointsResult{ReversalEntry: entry, BalanceAfter: account.CurrentBalance}
		return nil
	})
	if err != nil {
		return nil, ledgerError(err, "failed to reverse transaction")
	}

	s.metrics.RecordReversal()
	s.logger.Info("transaction reversed",
		zap.String("student_id", original.StudentID),
		zap.String("original_entry_id", original.ID),
		zap.String("reversal_entry_id", result.ReversalEntry.ID),
		zap.Int("amount", result.ReversalEntry.Amount),
		zap.String("reversed_by", req.ReversedBy))
	if s.audit != nil {
		actor := &models.JWTClaims{UserID: req.ReversedBy}
		log := buildAudit(actor, models.AuditActionReversal, "points_ledger_entry", original.ID, original, result.ReversalEntry)
		if err := s.audit.CreateAuditLog(ctx, log); err != nil {
			s.logger.Warn("failed to record reversal audit", zap.Error(err))
		}
	}
	return result, nil
}
