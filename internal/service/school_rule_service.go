package service

import (
	"context"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-points-api/internal/dto"
	"github.com/noah-isme/sma-points-api/internal/models"
	"github.com/noah-isme/sma-points-api/internal/repository"
	appErrors "github.com/noah-isme/sma-points-api/pkg/errors"
)

type schoolRuleRepository interface {
	Get(ctx context.Context, schoolID string) (*models.SchoolPointRule, error)
	Upsert(ctx context.Context, rule *models.SchoolPointRule) error
}

type earnedQuotaReader interface {
	SumEarned(ctx context.Context, q models.QuotaQuery) (int, error)
}

// NominalAward is the amount a collaborator should submit after school overrides.
type NominalAward struct {
	Amount int
	// Capped is true when the school daily cap reduced the amount.
	Capped bool
}

// SchoolRuleService applies per-school point overrides ahead of the ledger limits.
type SchoolRuleService struct {
	repo      schoolRuleRepository
	quota     earnedQuotaReader
	audit     auditLogger
	validator *validator.Validate
	logger    *zap.Logger
	cfg       LedgerConfig
}

// NewSchoolRuleService constructs the service.
func NewSchoolRuleService(repo schoolRuleRepository, quota earnedQuotaReader, audit auditLogger, validate *validator.Validate, logger *zap.Logger, cfg LedgerConfig) *SchoolRuleService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SchoolRuleService{repo: repo, quota: quota, audit: audit, validator: validate, logger: logger, cfg: cfg.withDefaults()}
}

// NominalAmount returns the amount to request for an award after the school's overrides.
// category only matters for task awards.
func (s *SchoolRuleService) NominalAmount(ctx context.Context, schoolID, studentID string, source models.PointSource, category string, requested int) (NominalAward, error) {
	award := NominalAward{Amount: requested}
	if schoolID == "" {
		return award, nil
	}
	rule, err := s.repo.Get(ctx, schoolID)
	if err != nil {
		if repository.IsNotFound(err) {
			return award, nil
		}
		return award, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load school point rule")
	}

	switch source {
	case models.SourceAttendance:
		if rule.AttendancePoints != nil {
			award.Amount = *rule.AttendancePoints
		}
	case models.SourceTask:
		if points, ok := rule.TaskCategoryPoints[category]; ok && category != "" {
			award.Amount = points
		}
	}

	if rule.DailyCap == nil {
		return award, nil
	}
	day := models.BucketsFor(s.cfg.Now(), s.cfg.Location).Day
	consumed, err := s.quota.SumEarned(ctx, models.QuotaQuery{StudentID: studentID, Window: models.WindowDaily, Bucket: day})
	if err != nil {
		return award, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to compute school daily quota")
	}
	clamped, err := clampToWindow(models.WindowSchoolDaily, *rule.DailyCap, consumed, award.Amount)
	if err != nil {
		return award, err
	}
	if clamped < award.Amount {
		award.Amount = clamped
		award.Capped = true
	}
	return award, nil
}

// Get returns the rule for a school.
func (s *SchoolRuleService) Get(ctx context.Context, schoolID string) (*models.SchoolPointRule, error) {
	rule, err := s.repo.Get(ctx, schoolID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "school point rule not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load school point rule")
	}
	return rule, nil
}

// Upsert replaces a school's rule.
func (s *SchoolRuleService) Upsert(ctx context.Context, req dto.UpsertSchoolRuleRequest, actor *models.JWTClaims) (*models.SchoolPointRule, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, invalidPayload(err)
	}
	previous, err := s.repo.Get(ctx, req.SchoolID)
	if err != nil && !repository.IsNotFound(err) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load school point rule")
	}
	rule := &models.SchoolPointRule{
		SchoolID:           req.SchoolID,
		AttendancePoints:   req.AttendancePoints,
		TaskCategoryPoints: req.TaskCategoryPoints,
		DailyCap:           req.DailyCap,
		UpdatedBy:          userIDPtr(actor),
	}
	if rule.TaskCategoryPoints == nil {
		rule.TaskCategoryPoints = models.CategoryPoints{}
	}
	if err := s.repo.Upsert(ctx, rule); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save school point rule")
	}
	if s.audit != nil {
		log := buildAudit(actor, models.AuditActionSchoolRuleUpsert, "points_school_rule", rule.SchoolID, previous, rule)
		if err := s.audit.CreateAuditLog(ctx, log); err != nil {
			s.logger.Warn("failed to record school rule audit", zap.Error(err))
		}
	}
	return rule, nil
}
