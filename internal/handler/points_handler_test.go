package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-points-api/internal/dto"
	"github.com/noah-isme/sma-points-api/internal/middleware"
	"github.com/noah-isme/sma-points-api/internal/models"
	"github.com/noah-isme/sma-points-api/internal/repository"
	"github.com/noah-isme/sma-points-api/internal/service"
	appErrors "github.com/noah-isme/sma-points-api/pkg/errors"
	"github.com/noah-isme/sma-points-api/pkg/response"
)

type pointsServiceMock struct {
	applyReq    dto.ApplyPointsRequest
	applyResp   *dto.ApplyPointsResult
	applyErr    error
	limitSchool string
	listQuery   dto.LedgerQuery
}

func (m *pointsServiceMock) Apply(ctx context.Context, req dto.ApplyPointsRequest) (*dto.ApplyPointsResult, error) {
	m.applyReq = req
	return m.applyResp, m.applyErr
}

func (m *pointsServiceMock) GetAccount(ctx context.Context, studentID string) (*dto.AccountSummary, error) {
	if studentID != "stu-1" {
		return nil, appErrors.Clone(appErrors.ErrAccountNotFound, "no points account")
	}
	return &dto.AccountSummary{Account: models.Account{StudentID: studentID, CurrentBalance: 40}}, nil
}

func (m *pointsServiceMock) GetEntry(ctx context.Context, id string) (*models.LedgerEntryView, error) {
	return &models.LedgerEntryView{LedgerEntry: models.LedgerEntry{ID: id}}, nil
}

func (m *pointsServiceMock) ListEntries(ctx context.Context, studentID string, q dto.LedgerQuery) ([]models.LedgerEntryView, *models.Pagination, error) {
	m.listQuery = q
	return []models.LedgerEntryView{}, &models.Pagination{Page: 1, PageSize: 50}, nil
}

func (m *pointsServiceMock) LimitStatus(ctx context.Context, studentID, schoolID string) (*models.LimitStatus, error) {
	m.limitSchool = schoolID
	return &models.LimitStatus{StudentID: studentID}, nil
}

type reversalServiceMock struct {
	req dto.ReversePointsRequest
	err error
}

func (m *reversalServiceMock) Reverse(ctx context.Context, req dto.ReversePointsRequest) (*dto.ReversePointsResult, error) {
	m.req = req
	if m.err != nil {
		return nil, m.err
	}
	return &dto.ReversePointsResult{ReversalEntry: &models.LedgerEntry{ID: "rev-1"}}, nil
}

var teacherClaims = &models.JWTClaims{UserID: "teacher-1", Role: models.RoleTeacher, SchoolID: "school-7"}

func newTestContext(method, path string, body []byte) (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	c.Set(middleware.ContextUserKey, teacherClaims)
	return c, w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) *appErrors.Error {
	t.Helper()
	var envelope response.Envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	require.NotNil(t, envelope.Error)
	return envelope.Error
}

func TestPointsHandlerApplyUsesCaller(t *testing.T) {
	svc := &pointsServiceMock{applyResp: &dto.ApplyPointsResult{EffectiveAmount: 10}}
	handler := NewPointsHandler(svc, &reversalServiceMock{}, nil)
	body := []byte(`{"student_id":"stu-1","amount":10,"kind":"earned","source":"behavior","description":"helped"}`)
	c, w := newTestContext(http.MethodPost, "/points/transactions", body)

	handler.Apply(c)
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "teacher-1", svc.applyReq.AwardedBy)
	assert.Equal(t, "TEACHER", svc.applyReq.AwardedByRole)
	assert.Equal(t, models.SourceBehavior, svc.applyReq.Source)
}

func newSchoolRules(t *testing.T, rule models.SchoolPointRule) *service.SchoolRuleService {
	t.Helper()
	store := repository.NewMemorySchoolRuleStore()
	require.NoError(t, store.Upsert(context.Background(), &rule))
	return service.NewSchoolRuleService(store, repository.NewMemoryLedgerStore(), nil, nil, nil, service.LedgerConfig{})
}

func TestPointsHandlerApplyUsesTaskCategoryPoints(t *testing.T) {
	rules := newSchoolRules(t, models.SchoolPointRule{SchoolID: "school-7", TaskCategoryPoints: models.CategoryPoints{"lab_report": 15}})
	svc := &pointsServiceMock{applyResp: &dto.ApplyPointsResult{EffectiveAmount: 15}}
	handler := NewPointsHandler(svc, &reversalServiceMock{}, rules)
	body := []byte(`{"student_id":"stu-1","school_id":"school-7","amount":5,"kind":"earned","source":"task","category":"lab_report","description":"lab"}`)
	c, w := newTestContext(http.MethodPost, "/points/transactions", body)

	handler.Apply(c)
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, 15, svc.applyReq.Amount)
	assert.Equal(t, "lab_report", svc.applyReq.Category)
}

func TestPointsHandlerApplyUnknownCategoryKeepsAmount(t *testing.T) {
	rules := newSchoolRules(t, models.SchoolPointRule{SchoolID: "school-7", TaskCategoryPoints: models.CategoryPoints{"lab_report": 15}})
	svc := &pointsServiceMock{applyResp: &dto.ApplyPointsResult{EffectiveAmount: 5}}
	handler := NewPointsHandler(svc, &reversalServiceMock{}, rules)
	body := []byte(`{"student_id":"stu-1","school_id":"school-7","amount":5,"kind":"earned","source":"task","category":"essay","description":"essay"}`)
	c, w := newTestContext(http.MethodPost, "/points/transactions", body)

	handler.Apply(c)
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, 5, svc.applyReq.Amount)
}

func TestPointsHandlerApplySkipsSchoolRulesForSpend(t *testing.T) {
	rules := newSchoolRules(t, models.SchoolPointRule{SchoolID: "school-7", TaskCategoryPoints: models.CategoryPoints{"lab_report": 15}})
	svc := &pointsServiceMock{applyResp: &dto.ApplyPointsResult{EffectiveAmount: -5}}
	handler := NewPointsHandler(svc, &reversalServiceMock{}, rules)
	body := []byte(`{"student_id":"stu-1","school_id":"school-7","amount":5,"kind":"spent","source":"task","category":"lab_report","description":"reward"}`)
	c, w := newTestContext(http.MethodPost, "/points/transactions", body)

	handler.Apply(c)
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, 5, svc.applyReq.Amount)
}

func TestPointsHandlerApplyDuplicateIsOK(t *testing.T) {
	svc := &pointsServiceMock{applyResp: &dto.ApplyPointsResult{EffectiveAmount: 10, Duplicate: true}}
	handler := NewPointsHandler(svc, &reversalServiceMock{}, nil)
	c, w := newTestContext(http.MethodPost, "/points/transactions", []byte(`{"student_id":"stu-1","amount":10,"kind":"earned","source":"task"}`))

	handler.Apply(c)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestPointsHandlerApplyLimitReached(t *testing.T) {
	limitErr := appErrors.WithDetails(appErrors.ErrLimitReached, "daily points limit reached", map[string]interface{}{
		"window": "daily", "max_points": 100, "consumed": 100,
	})
	handler := NewPointsHandler(&pointsServiceMock{applyErr: limitErr}, &reversalServiceMock{}, nil)
	c, w := newTestContext(http.MethodPost, "/points/transactions", []byte(`{"student_id":"stu-1","amount":5,"kind":"earned","source":"behavior"}`))

	handler.Apply(c)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	appErr := decodeError(t, w)
	assert.Equal(t, "LIMIT_REACHED", appErr.Code)
	assert.Equal(t, "daily", appErr.Details["window"])
}

func TestPointsHandlerApplyInvalidBody(t *testing.T) {
	handler := NewPointsHandler(&pointsServiceMock{}, &reversalServiceMock{}, nil)
	c, w := newTestContext(http.MethodPost, "/points/transactions", []byte(`{"amount":"ten"}`))

	handler.Apply(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPointsHandlerReverse(t *testing.T) {
	reversal := &reversalServiceMock{}
	handler := NewPointsHandler(&pointsServiceMock{}, reversal, nil)
	c, w := newTestContext(http.MethodPost, "/points/transactions/entry-1/reverse", []byte(`{"reason":"duplicate award"}`))
	c.Params = gin.Params{{Key: "id", Value: "entry-1"}}

	handler.Reverse(c)
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "entry-1", reversal.req.EntryID)
	assert.Equal(t, "teacher-1", reversal.req.ReversedBy)
	assert.Equal(t, "duplicate award", reversal.req.Reason)
}

func TestPointsHandlerReverseConflict(t *testing.T) {
	handler := NewPointsHandler(&pointsServiceMock{}, &reversalServiceMock{err: appErrors.Clone(appErrors.ErrAlreadyReversed, "")}, nil)
	c, w := newTestContext(http.MethodPost, "/points/transactions/entry-1/reverse", []byte(`{"reason":"again"}`))
	c.Params = gin.Params{{Key: "id", Value: "entry-1"}}

	handler.Reverse(c)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "ALREADY_REVERSED", decodeError(t, w).Code)
}

func TestPointsHandlerAccountNotFound(t *testing.T) {
	handler := NewPointsHandler(&pointsServiceMock{}, &reversalServiceMock{}, nil)
	c, w := newTestContext(http.MethodGet, "/points/accounts/stu-9", nil)
	c.Params = gin.Params{{Key: "studentId", Value: "stu-9"}}

	handler.Account(c)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPointsHandlerTransactionsBindsQuery(t *testing.T) {
	svc := &pointsServiceMock{}
	handler := NewPointsHandler(svc, &reversalServiceMock{}, nil)
	c, w := newTestContext(http.MethodGet, "/points/accounts/stu-1/transactions?kind=earned&page=2&page_size=10&from=2024-03-01T00:00:00Z", nil)
	c.Params = gin.Params{{Key: "studentId", Value: "stu-1"}}

	handler.Transactions(c)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "earned", svc.listQuery.Kind)
	assert.Equal(t, 2, svc.listQuery.Page)
	assert.Equal(t, 10, svc.listQuery.PageSize)
	assert.Equal(t, 2024, svc.listQuery.From.Year())
}

func TestPointsHandlerLimitsDefaultsToCallerSchool(t *testing.T) {
	svc := &pointsServiceMock{}
	handler := NewPointsHandler(svc, &reversalServiceMock{}, nil)

	c, w := newTestContext(http.MethodGet, "/points/accounts/stu-1/limits", nil)
	c.Params = gin.Params{{Key: "studentId", Value: "stu-1"}}
	handler.Limits(c)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "school-7", svc.limitSchool)

	c, _ = newTestContext(http.MethodGet, "/points/accounts/stu-1/limits?school_id=school-2", nil)
	c.Params = gin.Params{{Key: "studentId", Value: "stu-1"}}
	handler.Limits(c)
	assert.Equal(t, "school-2", svc.limitSchool)
}

func TestResponseErrorMapsUnknownToInternal(t *testing.T) {
	c, w := newTestContext(http.MethodGet, "/", nil)
	response.Error(c, errors.New("boom"))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
