package service

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-points-api/internal/dto"
	"github.com/noah-isme/sma-points-api/internal/models"
	"github.com/noah-isme/sma-points-api/internal/repository"
	"github.com/noah-isme/sma-points-api/pkg/cache"
	appErrors "github.com/noah-isme/sma-points-api/pkg/errors"
)

type limitPolicyRepository interface {
	FindByScope(ctx context.Context, scope models.PolicyScope, entityID *string) (*models.LimitPolicy, error)
	EnsureGlobal(ctx context.Context, defaults *models.LimitPolicy) (*models.LimitPolicy, error)
	List(ctx context.Context, scope *models.PolicyScope) ([]models.LimitPolicy, error)
	Upsert(ctx context.Context, policy *models.LimitPolicy) error
	Delete(ctx context.Context, scope models.PolicyScope, entityID string) error
}

type auditLogger interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// LimitPolicyService resolves the effective rate-limit policy and administers policy documents.
type LimitPolicyService struct {
	repo   limitPolicyRepository
	cache  *CacheService
	audit  auditLogger
	logger *zap.Logger
}

// NewLimitPolicyService constructs the service. cache and audit may be nil.
func NewLimitPolicyService(repo limitPolicyRepository, cacheSvc *CacheService, audit auditLogger, logger *zap.Logger) *LimitPolicyService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LimitPolicyService{repo: repo, cache: cacheSvc, audit: audit, logger: logger}
}

func resolvedPolicyKey(studentID, schoolID string) string {
	return cache.Key("policy", "resolved", studentID, schoolID)
}

// Resolve returns the first policy found for the student, then the school, then the global scope.
// The global policy is created with defaults when missing.
func (s *LimitPolicyService) Resolve(ctx context.Context, studentID, schoolID string) (*models.LimitPolicy, error) {
	key := resolvedPolicyKey(studentID, schoolID)
	var cached models.LimitPolicy
	if s.cache.Get(ctx, key, &cached) {
		return &cached, nil
	}

	policy, err := s.resolve(ctx, studentID, schoolID)
	if err != nil {
		return nil, err
	}
	s.cache.Set(ctx, key, policy)
	return policy, nil
}

func (s *LimitPolicyService) resolve(ctx context.Context, studentID, schoolID string) (*models.LimitPolicy, error) {
	candidates := []struct {
		scope models.PolicyScope
		id    string
	}{
		{models.ScopeStudent, studentID},
		{models.ScopeSchool, schoolID},
	}
	for _, c := range candidates {
		if c.id == "" {
			continue
		}
		id := c.id
		policy, err := s.repo.FindByScope(ctx, c.scope, &id)
		if err == nil {
			return policy, nil
		}
		if !repository.IsNotFound(err) {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load limit policy")
		}
	}

	policy, err := s.repo.FindByScope(ctx, models.ScopeGlobal, nil)
	if err == nil {
		return policy, nil
	}
	if !repository.IsNotFound(err) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load global limit policy")
	}
	limits, sources := models.DefaultGlobalLimits()
	policy, err = s.repo.EnsureGlobal(ctx, &models.LimitPolicy{Limits: limits, SourceLimits: sources})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create global limit policy")
	}
	s.logger.Info("global limit policy created with defaults", zap.String("policy_id", policy.ID))
	return policy, nil
}

// List returns stored policies, optionally for one scope.
func (s *LimitPolicyService) List(ctx context.Context, scope string) ([]models.LimitPolicy, error) {
	var filter *models.PolicyScope
	if scope != "" {
		parsed := models.PolicyScope(scope)
		if !parsed.Valid() {
			return nil, appErrors.Clone(appErrors.ErrValidation, "invalid policy scope")
		}
		filter = &parsed
	}
	policies, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list limit policies")
	}
	return policies, nil
}

// Get returns the policy stored for scope/entityID.
func (s *LimitPolicyService) Get(ctx context.Context, scope, entityID string) (*models.LimitPolicy, error) {
	parsed, id, err := parseScope(scope, entityID)
	if err != nil {
		return nil, err
	}
	policy, err := s.repo.FindByScope(ctx, parsed, id)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "limit policy not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load limit policy")
	}
	return policy, nil
}

// Upsert replaces the policy of a scope.
func (s *LimitPolicyService) Upsert(ctx context.Context, req dto.UpsertLimitPolicyRequest, actor *models.JWTClaims) (*models.LimitPolicy, error) {
	scope, id, err := parseScope(string(req.Scope), req.EntityID)
	if err != nil {
		return nil, err
	}
	if err := validatePolicyLimits(req.Limits, req.SourceLimits); err != nil {
		return nil, err
	}

	previous, err := s.repo.FindByScope(ctx, scope, id)
	if err != nil && !repository.IsNotFound(err) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load limit policy")
	}

	policy := &models.LimitPolicy{
		Scope:        scope,
		EntityID:     id,
		Limits:       req.Limits,
		SourceLimits: req.SourceLimits,
		UpdatedBy:    userIDPtr(actor),
	}
	if policy.SourceLimits == nil {
		policy.SourceLimits = models.SourceLimits{}
	}
	if previous != nil {
		policy.ID = previous.ID
		policy.CreatedAt = previous.CreatedAt
	}
	if err := s.repo.Upsert(ctx, policy); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save limit policy")
	}
	s.cache.Invalidate(ctx, cache.Key("policy", "*"))
	s.emitAudit(ctx, actor, models.AuditActionPolicyUpsert, policy.ID, previous, policy)
	s.logger.Info("limit policy saved", zap.String("scope", string(scope)), zap.Stringp("entity_id", id))
	return policy, nil
}

// Delete removes a school or student policy. The global policy cannot be deleted.
func (s *LimitPolicyService) Delete(ctx context.Context, scope, entityID string, actor *models.JWTClaims) error {
	parsed, id, err := parseScope(scope, entityID)
	if err != nil {
		return err
	}
	if parsed == models.ScopeGlobal {
		return appErrors.Clone(appErrors.ErrValidation, "global policy cannot be deleted")
	}
	previous, err := s.repo.FindByScope(ctx, parsed, id)
	if err != nil {
		if repository.IsNotFound(err) {
			return appErrors.Clone(appErrors.ErrNotFound, "limit policy not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load limit policy")
	}
	if err := s.repo.Delete(ctx, parsed, *id); err != nil {
		if repository.IsNotFound(err) {
			return appErrors.Clone(appErrors.ErrNotFound, "limit policy not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete limit policy")
	}
	s.cache.Invalidate(ctx, cache.Key("policy", "*"))
	s.emitAudit(ctx, actor, models.AuditActionPolicyDelete, previous.ID, previous, nil)
	return nil
}

func parseScope(scope, entityID string) (models.PolicyScope, *string, error) {
	parsed := models.PolicyScope(scope)
	if !parsed.Valid() {
		return "", nil, appErrors.Clone(appErrors.ErrValidation, "invalid policy scope")
	}
	if parsed == models.ScopeGlobal {
		if entityID != "" {
			return "", nil, appErrors.Clone(appErrors.ErrValidation, "global policy does not take an entity id")
		}
		return parsed, nil, nil
	}
	if entityID == "" {
		return "", nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("%s policy requires an entity id", parsed))
	}
	return parsed, &entityID, nil
}

func validatePolicyLimits(limits models.WindowLimits, sources models.SourceLimits) error {
	for _, window := range []models.LimitWindow{models.WindowDaily, models.WindowWeekly, models.WindowMonthly} {
		if limit := limits.Get(window); limit.MaxPoints < 0 || (limit.Enabled && limit.MaxPoints == 0) {
			return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("%s limit must have a positive maxPoints when enabled", window))
		}
	}
	for source, limit := range sources {
		spec, ok := lookupSource(source)
		if !ok || !spec.dailySubLimit {
			return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("source %q does not support a daily sub-limit", source))
		}
		if limit.Daily.MaxPoints < 0 || (limit.Daily.Enabled && limit.Daily.MaxPoints == 0) {
			return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("%s daily sub-limit must have a positive maxPoints when enabled", source))
		}
	}
	return nil
}

func (s *LimitPolicyService) emitAudit(ctx context.Context, actor *models.JWTClaims, action, resourceID string, before, after interface{}) {
	if s.audit == nil {
		return
	}
	if err := s.audit.CreateAuditLog(ctx, buildAudit(actor, action, "points_limit_policy", resourceID, before, after)); err != nil {
		s.logger.Warn("failed to record policy audit", zap.Error(err))
	}
}

func buildAudit(actor *models.JWTClaims, action, resource, resourceID string, before, after interface{}) *models.AuditLog {
	log := &models.AuditLog{
		UserID:   userIDPtr(actor),
		Action:   action,
		Resource: resource,
	}
	if resourceID != "" {
		log.ResourceID = &resourceID
	}
	log.OldValues = marshalAuditValue(before)
	log.NewValues = marshalAuditValue(after)
	return log
}

func marshalAuditValue(v interface{}) []byte {
	if v == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil || string(raw) == "null" {
		return nil
	}
	return raw
}

func userIDPtr(actor *models.JWTClaims) *string {
	if actor == nil || actor.UserID == "" {
		return nil
	}
	id := actor.UserID
	return &id
}
