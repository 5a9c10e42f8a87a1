package handler

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/sma-points-api/internal/dto"
	"github.com/noah-isme/sma-points-api/internal/models"
	appErrors "github.com/noah-isme/sma-points-api/pkg/errors"
)

type policyServiceMock struct {
	upsertReq dto.UpsertLimitPolicyRequest
	deleteErr error
}

func (m *policyServiceMock) List(ctx context.Context, scope string) ([]models.LimitPolicy, error) {
	return []models.LimitPolicy{}, nil
}

func (m *policyServiceMock) Get(ctx context.Context, scope, entityID string) (*models.LimitPolicy, error) {
	return &models.LimitPolicy{Scope: models.PolicyScope(scope)}, nil
}

func (m *policyServiceMock) Upsert(ctx context.Context, req dto.UpsertLimitPolicyRequest, actor *models.JWTClaims) (*models.LimitPolicy, error) {
	m.upsertReq = req
	return &models.LimitPolicy{Scope: req.Scope, Limits: req.Limits}, nil
}

func (m *policyServiceMock) Delete(ctx context.Context, scope, entityID string, actor *models.JWTClaims) error {
	return m.deleteErr
}

func TestPolicyHandlerUpsertTakesScopeFromPath(t *testing.T) {
	svc := &policyServiceMock{}
	handler := NewPolicyHandler(svc)
	c, w := newTestContext(http.MethodPut, "/points/policies/school/school-1", []byte(`{"limits":{"daily":{"enabled":true,"maxPoints":60}}}`))
	c.Params = gin.Params{{Key: "scope", Value: "school"}, {Key: "entityId", Value: "school-1"}}

	handler.Upsert(c)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.ScopeSchool, svc.upsertReq.Scope)
	assert.Equal(t, "school-1", svc.upsertReq.EntityID)
	assert.Equal(t, 60, svc.upsertReq.Limits.Daily.MaxPoints)
}

func TestPolicyHandlerDeleteGlobalRejected(t *testing.T) {
	handler := NewPolicyHandler(&policyServiceMock{deleteErr: appErrors.Clone(appErrors.ErrValidation, "global policy cannot be deleted")})
	c, w := newTestContext(http.MethodDelete, "/points/policies/global", nil)
	c.Params = gin.Params{{Key: "scope", Value: "global"}}

	handler.Delete(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPolicyHandlerDelete(t *testing.T) {
	handler := NewPolicyHandler(&policyServiceMock{})
	c, w := newTestContext(http.MethodDelete, "/points/policies/student/stu-1", nil)
	c.Params = gin.Params{{Key: "scope", Value: "student"}, {Key: "entityId", Value: "stu-1"}}

	handler.Delete(c)
	c.Writer.WriteHeaderNow()
	assert.Equal(t, http.StatusNoContent, w.Code)
}

type attendanceServiceMock struct{ req dto.AttendanceCheckInRequest }

func (m *attendanceServiceMock) AwardCheckIn(ctx context.Context, req dto.AttendanceCheckInRequest) (*dto.AttendanceCheckInResult, error) {
	m.req = req
	return &dto.AttendanceCheckInResult{PointsAwarded: 1}, nil
}

type badgeServiceMock struct{ queued bool }

func (m *badgeServiceMock) AwardBonus(ctx context.Context, req dto.BadgeBonusRequest) (*dto.BadgeBonusResult, error) {
	return &dto.BadgeBonusResult{Queued: m.queued, Points: req.Points}, nil
}

func TestCollaboratorHandlerCheckIn(t *testing.T) {
	attendance := &attendanceServiceMock{}
	handler := NewCollaboratorHandler(attendance, &badgeServiceMock{})
	c, w := newTestContext(http.MethodPost, "/points/attendance/check-in", []byte(`{"student_id":"stu-1","attendance_record_id":"rec-1","streak":2}`))

	handler.CheckIn(c)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "rec-1", attendance.req.AttendanceRecordID)
	assert.Equal(t, "teacher-1", attendance.req.AwardedBy)
}

func TestCollaboratorHandlerBadgeBonusAccepted(t *testing.T) {
	handler := NewCollaboratorHandler(&attendanceServiceMock{}, &badgeServiceMock{queued: true})
	c, w := newTestContext(http.MethodPost, "/points/badges/bonus", []byte(`{"student_id":"stu-1","badge_id":"65f1a2b3c4d5e6f7a8b9c0d1","badge_name":"Early Bird","points":25}`))

	handler.BadgeBonus(c)
	assert.Equal(t, http.StatusAccepted, w.Code)
}

type deadLetterServiceMock struct{ replayErr error }

func (m *deadLetterServiceMock) List(ctx context.Context, q dto.DeadLetterQuery) ([]models.DeadLetter, *models.Pagination, error) {
	return []models.DeadLetter{}, &models.Pagination{Page: 1, PageSize: 50}, nil
}

func (m *deadLetterServiceMock) Replay(ctx context.Context, id string, actor *models.JWTClaims) (*dto.ApplyPointsResult, error) {
	if m.replayErr != nil {
		return nil, m.replayErr
	}
	return &dto.ApplyPointsResult{EffectiveAmount: 5}, nil
}

func TestDeadLetterHandlerReplayConflict(t *testing.T) {
	handler := NewDeadLetterHandler(&deadLetterServiceMock{replayErr: appErrors.Clone(appErrors.ErrConflict, "dead letter already resolved")})
	c, w := newTestContext(http.MethodPost, "/points/dead-letters/dl-1/replay", nil)
	c.Params = gin.Params{{Key: "id", Value: "dl-1"}}

	handler.Replay(c)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestSchoolRuleHandlerUpsertRejectsBadBody(t *testing.T) {
	handler := NewSchoolRuleHandler(nil)
	c, w := newTestContext(http.MethodPut, "/points/school-rules/school-1", []byte(`{"daily_cap":"many"}`))
	c.Params = gin.Params{{Key: "schoolId", Value: "school-1"}}

	handler.Upsert(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMetricsHandlerReady(t *testing.T) {
	handler := NewMetricsHandler(nil, map[string]ReadinessCheck{
		"database": func(ctx context.Context) error { return nil },
	})
	c, w := newTestContext(http.MethodGet, "/ready", nil)
	handler.Ready(c)
	assert.Equal(t, http.StatusOK, w.Code)

	handler = NewMetricsHandler(nil, map[string]ReadinessCheck{
		"redis": func(ctx context.Context) error { return errors.New("connection refused") },
	})
	c, w = newTestContext(http.MethodGet, "/ready", nil)
	handler.Ready(c)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "connection refused")
}
