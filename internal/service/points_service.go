package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-points-api/internal/dto"
	"github.com/noah-isme/sma-points-api/internal/models"
	"github.com/noah-isme/sma-points-api/internal/repository"
	appErrors "github.com/noah-isme/sma-points-api/pkg/errors"
)

type ledgerStore interface {
	WithinStudent(ctx context.Context, studentID string, fn repository.StudentFunc) error
	GetAccount(ctx context.Context, studentID string) (*models.Account, error)
	GetEntry(ctx context.Context, id string) (*models.LedgerEntryView, error)
	ListEntries(ctx context.Context, filter models.LedgerFilter) ([]models.LedgerEntryView, int, error)
	SumEarned(ctx context.Context, q models.QuotaQuery) (int, error)
}

type policyResolver interface {
	Resolve(ctx context.Context, studentID, schoolID string) (*models.LimitPolicy, error)
}

// globalWindows is the evaluation order of the policy windows; each clamp feeds the next.
var globalWindows = []models.LimitWindow{models.WindowDaily, models.WindowWeekly, models.WindowMonthly}

// LedgerConfig tunes bucket and level arithmetic shared by the ledger services.
type LedgerConfig struct {
	Location  *time.Location
	LevelStep int
	Now       func() time.Time
}

func (c LedgerConfig) withDefaults() LedgerConfig {
	if c.Location == nil {
		c.Location = time.Local
	}
	if c.LevelStep <= 0 {
		c.LevelStep = models.DefaultLevelStep
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// PointsService records point movements against student accounts and enforces limit policies.
type PointsService struct {
	ledger    ledgerStore
	policies  policyResolver
	validator *validator.Validate
	logger    *zap.Logger
	metrics   *MetricsService
	cfg       LedgerConfig
}

// NewPointsService constructs the service.
func NewPointsService(ledger ledgerStore, policies policyResolver, validate *validator.Validate, logger *zap.Logger, metrics *MetricsService, cfg LedgerConfig) *PointsService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	registerPointValidations(validate)
	return &PointsService{
		ledger:    ledger,
		policies:  policies,
		validator: validate,
		logger:    logger,
		metrics:   metrics,
		cfg:       cfg.withDefaults(),
	}
}

// Apply records a transaction and returns the amount actually applied.
func (s *PointsService) Apply(ctx context.Context, req dto.ApplyPointsRequest) (*dto.ApplyPointsResult, error) {
	started := time.Now()
	if req.SourceRef != nil && strings.TrimSpace(*req.SourceRef) == "" {
		req.SourceRef = nil
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, invalidPayload(err)
	}
	spec, err := checkApplyRequest(req)
	if err != nil {
		return nil, err
	}

	var policy *models.LimitPolicy
	if req.Kind == models.KindEarned {
		policy, err = s.policies.Resolve(ctx, req.StudentID, req.SchoolID)
		if err != nil {
			return nil, err
		}
	}

	var result *dto.ApplyPointsResult
	err = s.ledger.WithinStudent(ctx, req.StudentID, func(tx repository.LedgerTx) error {
		// The clock is read under the lock so entries land in buckets in commit order.
		res, err := s.applyLocked(ctx, tx, req, spec, policy, s.cfg.Now())
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		appErr := ledgerError(err, "failed to record points transaction")
		if errors.Is(appErr, appErrors.ErrLimitReached) {
			window, _ := appErr.Details["window"].(string)
			s.metrics.RecordLimitRejection(models.LimitWindow(window))
			s.logger.Info("points award rejected by limit",
				zap.String("student_id", req.StudentID),
				zap.String("source", string(req.Source)),
				zap.String("window", window),
				zap.Int("requested", req.Amount))
		}
		return nil, appErr
	}

	if result.Duplicate {
		s.logger.Info("duplicate points award ignored",
			zap.String("student_id", req.StudentID),
			zap.String("source", string(req.Source)),
			zap.Stringp("source_ref", req.SourceRef))
		return result, nil
	}
	s.metrics.ObserveApply(req.Kind, req.Source, result.EffectiveAmount, time.Since(started))
	if result.Capped {
		window := models.LimitWindow(result.Entry.Metadata.String(models.MetaLimitType))
		s.metrics.RecordCapped(window)
		s.logger.Info("points award capped",
			zap.String("student_id", req.StudentID),
			zap.String("source", string(req.Source)),
			zap.String("window", string(window)),
			zap.Int("requested", req.Amount),
			zap.Int("effective", result.EffectiveAmount))
	}
	return result, nil
}

func (s *PointsService) applyLocked(ctx context.Context, tx repository.LedgerTx, req dto.ApplyPointsRequest, spec sourceSpec, policy *models.LimitPolicy, occurredAt time.Time) (*dto.ApplyPointsResult, error) {
	account, err := tx.Account(ctx)
	if err != nil {
		return nil, err
	}
	isNew := account == nil
	if isNew {
		if req.Kind != models.KindEarned {
			return nil, appErrors.Clone(appErrors.ErrAccountNotFound, fmt.Sprintf("no points account for student %s", req.StudentID))
		}
		account = &models.Account{Level: 1}
	}

	if req.Kind == models.KindEarned && req.SourceRef != nil && !isNew {
		prior, err := tx.FindEarnedBySourceRef(ctx, req.Source, *req.SourceRef)
		if err != nil {
			return nil, err
		}
		if prior != nil {
			capped, _ := prior.Metadata[models.MetaLimitApplied].(bool)
			return &dto.ApplyPointsResult{
				EffectiveAmount: prior.Amount,
				BalanceAfter:    prior.BalanceAfter,
				Capped:          capped,
				Duplicate:       true,
				Entry:           prior,
			}, nil
		}
	}

	buckets := models.BucketsFor(occurredAt, s.cfg.Location)
	metadata := req.Metadata.Clone()
	var amount int
	capped := false

	switch {
	case req.Kind == models.KindEarned:
		effective, window, err := enforceLimits(ctx, tx, policy, spec, req.Source, req.Amount, buckets)
		if err != nil {
			return nil, err
		}
		if effective < req.Amount {
			capped = true
			metadata[models.MetaLimitApplied] = true
			metadata[models.MetaLimitType] = string(window)
			metadata[models.MetaOriginalAmount] = req.Amount
		}
		account.Credit(effective, s.cfg.LevelStep)
		amount = effective
	case req.Kind == models.KindSpent || req.Amount < 0:
		requested := req.Amount
		if requested < 0 {
			requested = -requested
		}
		if !account.CanDebit(requested) {
			return nil, appErrors.WithDetails(appErrors.ErrInsufficientPoints, "", map[string]interface{}{
				"requested": requested,
				"balance":   account.CurrentBalance,
			})
		}
		account.Debit(requested, s.cfg.LevelStep)
		amount = -requested
	default:
		account.Credit(req.Amount, s.cfg.LevelStep)
		amount = req.Amount
	}

	if isNew {
		err = tx.CreateAccount(ctx, account)
	} else {
		err = tx.SaveAccount(ctx, account)
	}
	if err != nil {
		return nil, err
	}

	entry := &models.LedgerEntry{
		AccountID:    account.ID,
		StudentID:    req.StudentID,
		Amount:       amount,
		Kind:         req.Kind,
		Source:       req.Source,
		SourceRef:    req.SourceRef,
		Description:  req.Description,
		AwardedBy:    req.AwardedBy,
		AwardedRole:  req.AwardedByRole,
		BalanceAfter: account.CurrentBalance,
		Metadata:     metadata,
		OccurredAt:   occurredAt,
	}
	entry.StampBuckets(s.cfg.Location)
	if err := tx.AppendEntry(ctx, entry); err != nil {
		return nil, err
	}

	effective := amount
	if effective < 0 {
		effective = -effective
	}
	return &dto.ApplyPointsResult{
		EffectiveAmount: effective,
		BalanceAfter:    account.CurrentBalance,
		Capped:          capped,
		Entry:           entry,
	}, nil
}

// checkApplyRequest enforces the per-kind amount sign and the source catalog rules.
func checkApplyRequest(req dto.ApplyPointsRequest) (sourceSpec, error) {
	spec, ok := lookupSource(req.Source)
	if !ok {
		return sourceSpec{}, appErrors.Clone(appErrors.ErrValidation, "unknown point source")
	}
	if req.Kind != models.KindAdjusted && req.Amount <= 0 {
		return sourceSpec{}, appErrors.Clone(appErrors.ErrValidation, "amount must be positive")
	}
	if raw, present := req.Metadata[models.MetaSourceType]; present {
		sourceType, isString := raw.(string)
		if !isString || !spec.allowsType(sourceType) {
			return sourceSpec{}, appErrors.Clone(appErrors.ErrInvalidSourceType, fmt.Sprintf("source type %v is not allowed for %s", raw, req.Source))
		}
	}
	if req.SourceRef != nil && !spec.acceptsRef(*req.SourceRef) {
		return sourceSpec{}, appErrors.Clone(appErrors.ErrInvalidSourceRef, fmt.Sprintf("%s source reference must be a 24 character hex id", req.Source))
	}
	return spec, nil
}

// enforceLimits runs daily, weekly, monthly and then the source daily window, each on the
// output of the previous one. It returns the clamped amount and the last window that clamped.
func enforceLimits(ctx context.Context, tx repository.LedgerTx, policy *models.LimitPolicy, spec sourceSpec, source models.PointSource, amount int, buckets models.Buckets) (int, models.LimitWindow, error) {
	if policy == nil {
		return amount, "", nil
	}
	candidate := amount
	var clampedBy models.LimitWindow

	check := func(window models.LimitWindow, limit models.WindowLimit, q models.QuotaQuery) error {
		consumed, err := tx.SumEarned(ctx, q)
		if err != nil {
			return err
		}
		next, err := clampToWindow(window, limit.MaxPoints, consumed, candidate)
		if err != nil {
			return err
		}
		if next < candidate {
			clampedBy = window
		}
		candidate = next
		return nil
	}

	for _, window := range globalWindows {
		limit := policy.Limits.Get(window)
		if !limit.Enabled {
			continue
		}
		if err := check(window, limit, models.QuotaQuery{Window: window, Bucket: buckets.For(window)}); err != nil {
			return 0, "", err
		}
	}
	if spec.dailySubLimit {
		if sub, ok := policy.SourceLimits[source]; ok && sub.Daily.Enabled {
			src := source
			q := models.QuotaQuery{Window: models.WindowSourceDaily, Bucket: buckets.Day, Source: &src}
			if err := check(models.WindowSourceDaily, sub.Daily, q); err != nil {
				return 0, "", err
			}
		}
	}
	return candidate, clampedBy, nil
}

func clampToWindow(window models.LimitWindow, maxPoints, consumed, candidate int) (int, error) {
	if consumed+candidate <= maxPoints {
		return candidate, nil
	}
	remaining := maxPoints - consumed
	if remaining <= 0 {
		return 0, limitReached(window, maxPoints, consumed)
	}
	return remaining, nil
}

func limitReached(window models.LimitWindow, maxPoints, consumed int) error {
	return appErrors.WithDetails(appErrors.ErrLimitReached, fmt.Sprintf("%s points limit reached", window), map[string]interface{}{
		"window":     string(window),
		"max_points": maxPoints,
		"consumed":   consumed,
	})
}

// ledgerError maps storage failures to typed errors and passes typed errors through.
func ledgerError(err error, message string) *appErrors.Error {
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		return appErr
	}
	switch {
	case errors.Is(err, repository.ErrVersionConflict):
		return appErrors.Wrap(err, appErrors.ErrUnavailable.Code, appErrors.ErrUnavailable.Status, "account was modified concurrently")
	case errors.Is(err, repository.ErrDuplicateSourceRef):
		return appErrors.Wrap(err, appErrors.ErrConflict.Code, appErrors.ErrConflict.Status, "duplicate source reference")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return appErrors.Wrap(err, appErrors.ErrUnavailable.Code, appErrors.ErrUnavailable.Status, message)
	default:
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, message)
	}
}

// GetAccount returns the account of a student.
func (s *PointsService) GetAccount(ctx context.Context, studentID string) (*dto.AccountSummary, error) {
	account, err := s.ledger.GetAccount(ctx, studentID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, appErrors.Clone(appErrors.ErrAccountNotFound, fmt.Sprintf("no points account for student %s", studentID))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load points account")
	}
	earned := account.TotalEarned
	if earned < 0 {
		earned = 0
	}
	return &dto.AccountSummary{
		Account:           *account,
		PointsToNextLevel: s.cfg.LevelStep - earned%s.cfg.LevelStep,
	}, nil
}

// GetEntry returns a single ledger entry with its reversal state.
func (s *PointsService) GetEntry(ctx context.Context, id string) (*models.LedgerEntryView, error) {
	entry, err := s.ledger.GetEntry(ctx, id)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "transaction not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load transaction")
	}
	return entry, nil
}

// ListEntries pages through a student's ledger, newest first.
func (s *PointsService) ListEntries(ctx context.Context, studentID string, q dto.LedgerQuery) ([]models.LedgerEntryView, *models.Pagination, error) {
	filter := models.LedgerFilter{StudentID: studentID, Page: q.Page, PageSize: q.PageSize}
	if q.Kind != "" {
		kind := models.TransactionKind(q.Kind)
		if !kind.Valid() {
			return nil, nil, appErrors.Clone(appErrors.ErrValidation, "invalid kind filter")
		}
		filter.Kind = &kind
	}
	if q.Source != "" {
		source := models.PointSource(q.Source)
		if _, ok := lookupSource(source); !ok {
			return nil, nil, appErrors.Clone(appErrors.ErrValidation, "invalid source filter")
		}
		filter.Source = &source
	}
	if !q.From.IsZero() {
		from := q.From
		filter.From = &from
	}
	if !q.To.IsZero() {
		to := q.To
		filter.To = &to
	}
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "to must not be before from")
	}

	entries, total, err := s.ledger.ListEntries(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list transactions")
	}
	page, size := filter.Page, filter.PageSize
	if page < 1 {
		page = 1
	}
	if size <= 0 || size > 200 {
		size = 50
	}
	return entries, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// LimitStatus reports consumed and remaining quota for every enabled window of the resolved policy.
func (s *PointsService) LimitStatus(ctx context.Context, studentID, schoolID string) (*models.LimitStatus, error) {
	policy, err := s.policies.Resolve(ctx, studentID, schoolID)
	if err != nil {
		return nil, err
	}
	buckets := models.BucketsFor(s.cfg.Now(), s.cfg.Location)
	status := &models.LimitStatus{StudentID: studentID, PolicyScope: policy.Scope, Windows: []models.WindowStatus{}}

	add := func(window models.LimitWindow, limit models.WindowLimit, source *models.PointSource) error {
		q := models.QuotaQuery{StudentID: studentID, Window: window, Bucket: buckets.For(window), Source: source}
		consumed, err := s.ledger.SumEarned(ctx, q)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to compute consumed quota")
		}
		remaining := limit.MaxPoints - consumed
		if remaining < 0 {
			remaining = 0
		}
		status.Windows = append(status.Windows, models.WindowStatus{
			Window:    window,
			Source:    source,
			MaxPoints: limit.MaxPoints,
			Consumed:  consumed,
			Remaining: remaining,
			Bucket:    q.Bucket,
		})
		return nil
	}

	for _, window := range globalWindows {
		if limit := policy.Limits.Get(window); limit.Enabled {
			if err := add(window, limit, nil); err != nil {
				return nil, err
			}
		}
	}
	sources := make([]string, 0, len(policy.SourceLimits))
	for source := range policy.SourceLimits {
		sources = append(sources, string(source))
	}
	sort.Strings(sources)
	for _, name := range sources {
		source := models.PointSource(name)
		spec, ok := lookupSource(source)
		sub := policy.SourceLimits[source]
		if !ok || !spec.dailySubLimit || !sub.Daily.Enabled {
			continue
		}
		if err := add(models.WindowSourceDaily, sub.Daily, &source); err != nil {
			return nil, err
		}
	}
	return status, nil
}
