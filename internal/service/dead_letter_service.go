package service

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-points-api/internal/dto"
	"github.com/noah-isme/sma-points-api/internal/models"
	"github.com/noah-isme/sma-points-api/internal/repository"
	appErrors "github.com/noah-isme/sma-points-api/pkg/errors"
)

type deadLetterStore interface {
	Get(ctx context.Context, id string) (*models.DeadLetter, error)
	List(ctx context.Context, filter models.DeadLetterFilter) ([]models.DeadLetter, int, error)
	MarkResolved(ctx context.Context, id string, at time.Time) error
}

// DeadLetterService lets administrators inspect and replay failed awards.
type DeadLetterService struct {
	store  deadLetterStore
	points pointsApplier
	audit  auditLogger
	logger *zap.Logger
}

// NewDeadLetterService constructs the service.
func NewDeadLetterService(store deadLetterStore, points pointsApplier, audit auditLogger, logger *zap.Logger) *DeadLetterService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DeadLetterService{store: store, points: points, audit: audit, logger: logger}
}

// List returns dead letters matching q.
func (s *DeadLetterService) List(ctx context.Context, q dto.DeadLetterQuery) ([]models.DeadLetter, *models.Pagination, error) {
	filter := models.DeadLetterFilter{StudentID: q.StudentID, Page: q.Page, PageSize: q.PageSize}
	if q.Status != "" {
		status := models.DeadLetterStatus(q.Status)
		if status != models.DeadLetterPending && status != models.DeadLetterResolved {
			return nil, nil, appErrors.Clone(appErrors.ErrValidation, "invalid status filter")
		}
		filter.Status = &status
	}
	letters, total, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list dead letters")
	}
	page, size := filter.Page, filter.PageSize
	if page < 1 {
		page = 1
	}
	if size <= 0 || size > 200 {
		size = 50
	}
	return letters, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Replay re-applies a pending dead letter once and marks it resolved on success.
// A duplicate result counts as success since the award already reached the ledger.
func (s *DeadLetterService) Replay(ctx context.Context, id string, actor *models.JWTClaims) (*dto.ApplyPointsResult, error) {
	letter, err := s.store.Get(ctx, id)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "dead letter not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load dead letter")
	}
	if letter.Status != models.DeadLetterPending {
		return nil, appErrors.Clone(appErrors.ErrConflict, "dead letter already resolved")
	}
	var payload awardPayload
	if err := json.Unmarshal(letter.Payload, &payload); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "dead letter payload is unreadable")
	}

	result, err := s.points.Apply(ctx, payload.request())
	if err != nil {
		s.logger.Warn("dead letter replay failed", zap.String("dead_letter_id", letter.ID), zap.Error(err))
		return nil, err
	}
	if err := s.store.MarkResolved(ctx, letter.ID, time.Now().UTC()); err != nil {
		if repository.IsNotFound(err) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "dead letter already resolved")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve dead letter")
	}
	if s.audit != nil {
		log := buildAudit(actor, models.AuditActionDeadLetterReplay, "points_dead_letter", letter.ID, letter, result)
		if err := s.audit.CreateAuditLog(ctx, log); err != nil {
			s.logger.Warn("failed to record replay audit", zap.Error(err))
		}
	}
	s.logger.Info("dead letter replayed",
		zap.String("dead_letter_id", letter.ID),
		zap.String("student_id", letter.StudentID),
		zap.Int("effective", result.EffectiveAmount),
		zap.Bool("duplicate", result.Duplicate))
	return result, nil
}
