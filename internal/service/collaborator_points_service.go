package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-points-api/internal/dto"
	"github.com/noah-isme/sma-points-api/internal/models"
	appErrors "github.com/noah-isme/sma-points-api/pkg/errors"
)

const (
	collaboratorAttendance = "attendance"
	collaboratorBadge      = "badge"
)

type nominalAmounter interface {
	NominalAmount(ctx context.Context, schoolID, studentID string, source models.PointSource, category string, requested int) (NominalAward, error)
}

type syncDispatcher interface {
	Dispatch(ctx context.Context, collaborator string, req dto.ApplyPointsRequest) (*dto.ApplyPointsResult, error)
}

type asyncDispatcher interface {
	Enqueue(collaborator string, req dto.ApplyPointsRequest) error
}

// AttendancePointsService awards check-in points for the attendance collaborator.
// The check-in itself never fails because of points; failures yield zero points.
type AttendancePointsService struct {
	rules      nominalAmounter
	dispatcher syncDispatcher
	validator  *validator.Validate
	logger     *zap.Logger
}

// NewAttendancePointsService constructs the service.
func NewAttendancePointsService(rules nominalAmounter, dispatcher syncDispatcher, validate *validator.Validate, logger *zap.Logger) *AttendancePointsService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AttendancePointsService{rules: rules, dispatcher: dispatcher, validator: validate, logger: logger}
}

// AwardCheckIn applies the check-in award and reports how many points to store on the record.
func (s *AttendancePointsService) AwardCheckIn(ctx context.Context, req dto.AttendanceCheckInRequest) (*dto.AttendanceCheckInResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, invalidPayload(err)
	}
	if req.SourceType == "" {
		req.SourceType = "daily_check_in"
	}
	requested := req.Points
	if requested <= 0 {
		requested = 1
	}

	nominal, err := s.rules.NominalAmount(ctx, req.SchoolID, req.StudentID, models.SourceAttendance, "", requested)
	if err != nil {
		if appErrors.IsBusiness(err) {
			return rejectedCheckIn(err), nil
		}
		s.logger.Warn("school rule lookup failed, using requested amount", zap.String("school_id", req.SchoolID), zap.Error(err))
		nominal = NominalAward{Amount: requested}
	}

	metadata := models.Metadata{
		models.MetaSourceType: req.SourceType,
		"streak":              req.Streak,
	}
	if !req.Date.IsZero() {
		metadata["date"] = req.Date.Format("2006-01-02")
	}
	ref := req.AttendanceRecordID
	apply := dto.ApplyPointsRequest{
		StudentID:     req.StudentID,
		SchoolID:      req.SchoolID,
		Amount:        nominal.Amount,
		Kind:          models.KindEarned,
		Source:        models.SourceAttendance,
		SourceRef:     &ref,
		Description:   checkInDescription(req.SourceType, req.Streak),
		AwardedBy:     defaultString(req.AwardedBy, "attendance-service"),
		AwardedByRole: defaultString(req.AwardedByRole, string(models.RoleSystem)),
		Metadata:      metadata,
	}

	result, err := s.dispatcher.Dispatch(ctx, collaboratorAttendance, apply)
	if err != nil {
		if errors.Is(err, ErrDeadLettered) {
			return &dto.AttendanceCheckInResult{Deferred: true, Reason: "points could not be awarded right now"}, nil
		}
		return rejectedCheckIn(err), nil
	}
	return &dto.AttendanceCheckInResult{
		PointsAwarded: result.EffectiveAmount,
		Capped:        result.Capped || nominal.Capped,
	}, nil
}

func rejectedCheckIn(err error) *dto.AttendanceCheckInResult {
	appErr := appErrors.FromError(err)
	return &dto.AttendanceCheckInResult{Reason: appErr.Message}
}

func checkInDescription(sourceType string, streak int) string {
	switch sourceType {
	case "perfect_week":
		return "Perfect attendance week"
	case "streak_bonus":
		return fmt.Sprintf("Attendance streak bonus (%d days)", streak)
	default:
		return "Daily check-in"
	}
}

// BadgePointsService queues bonus points after the badge collaborator awards a badge.
// The badge award is never rolled back by a points failure.
type BadgePointsService struct {
	rules      nominalAmounter
	dispatcher asyncDispatcher
	validator  *validator.Validate
	logger     *zap.Logger
}

// NewBadgePointsService constructs the service.
func NewBadgePointsService(rules nominalAmounter, dispatcher asyncDispatcher, validate *validator.Validate, logger *zap.Logger) *BadgePointsService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BadgePointsService{rules: rules, dispatcher: dispatcher, validator: validate, logger: logger}
}

// AwardBonus validates the bonus and hands it to the background dispatcher.
func (s *BadgePointsService) AwardBonus(ctx context.Context, req dto.BadgeBonusRequest) (*dto.BadgeBonusResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, invalidPayload(err)
	}
	if spec, _ := lookupSource(models.SourceBadge); !spec.acceptsRef(req.BadgeID) {
		return nil, appErrors.Clone(appErrors.ErrInvalidSourceRef, "badge id must be a 24 character hex id")
	}
	if req.SourceType == "" {
		req.SourceType = "achievement_badge"
	}

	nominal, err := s.rules.NominalAmount(ctx, req.SchoolID, req.StudentID, models.SourceBadge, "", req.Points)
	if err != nil {
		if appErrors.IsBusiness(err) {
			return &dto.BadgeBonusResult{Reason: appErrors.FromError(err).Message}, nil
		}
		s.logger.Warn("school rule lookup failed, using requested amount", zap.String("school_id", req.SchoolID), zap.Error(err))
		nominal = NominalAward{Amount: req.Points}
	}

	ref := req.BadgeID
	apply := dto.ApplyPointsRequest{
		StudentID:     req.StudentID,
		SchoolID:      req.SchoolID,
		Amount:        nominal.Amount,
		Kind:          models.KindEarned,
		Source:        models.SourceBadge,
		SourceRef:     &ref,
		Description:   "Badge bonus: " + req.BadgeName,
		AwardedBy:     defaultString(req.AwardedBy, "badge-service"),
		AwardedByRole: defaultString(req.AwardedByRole, string(models.RoleSystem)),
		Metadata: models.Metadata{
			models.MetaSourceType: req.SourceType,
			"badgeName":           req.BadgeName,
			"badgeDescription":    req.BadgeDescription,
		},
	}
	if err := s.dispatcher.Enqueue(collaboratorBadge, apply); err != nil {
		s.logger.Error("failed to queue badge bonus", zap.String("student_id", req.StudentID), zap.Error(err))
		return nil, appErrors.Wrap(err, appErrors.ErrUnavailable.Code, appErrors.ErrUnavailable.Status, "badge bonus could not be queued")
	}
	return &dto.BadgeBonusResult{Queued: true, Points: nominal.Amount}, nil
}

func defaultString(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
