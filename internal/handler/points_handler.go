package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-points-api/internal/dto"
	"github.com/noah-isme/sma-points-api/internal/models"
	"github.com/noah-isme/sma-points-api/internal/service"
	appErrors "github.com/noah-isme/sma-points-api/pkg/errors"
	"github.com/noah-isme/sma-points-api/pkg/response"
)

type pointsService interface {
	Apply(ctx context.Context, req dto.ApplyPointsRequest) (*dto.ApplyPointsResult, error)
	GetAccount(ctx context.Context, studentID string) (*dto.AccountSummary, error)
	GetEntry(ctx context.Context, id string) (*models.LedgerEntryView, error)
	ListEntries(ctx context.Context, studentID string, q dto.LedgerQuery) ([]models.LedgerEntryView, *models.Pagination, error)
	LimitStatus(ctx context.Context, studentID, schoolID string) (*models.LimitStatus, error)
}

type reversalService interface {
	Reverse(ctx context.Context, req dto.ReversePointsRequest) (*dto.ReversePointsResult, error)
}

type nominalShaper interface {
	NominalAmount(ctx context.Context, schoolID, studentID string, source models.PointSource, category string, requested int) (service.NominalAward, error)
}

// PointsHandler exposes ledger endpoints.
type PointsHandler struct {
	points   pointsService
	reversal reversalService
	rules    nominalShaper
}

// NewPointsHandler builds a new handler. rules may be nil, in which case school overrides are skipped.
func NewPointsHandler(points pointsService, reversal reversalService, rules nominalShaper) *PointsHandler {
	return &PointsHandler{points: points, reversal: reversal, rules: rules}
}

// Apply godoc
// @Summary Record a points transaction
// @Description Earned awards for a school are first shaped by its point rule (attendance points, task category table, school daily cap), then clamped to the resolved limit policy. A repeated earned award with the same source reference returns the original result.
// @Tags Points
// @Accept json
// @Produce json
// @Param payload body dto.ApplyPointsRequest true "Transaction payload"
// @Success 201 {object} response.Envelope
// @Success 200 {object} response.Envelope "duplicate award"
// @Failure 429 {object} response.Envelope
// @Router /points/transactions [post]
func (h *PointsHandler) Apply(c *gin.Context) {
	var req dto.ApplyPointsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid transaction payload"))
		return
	}
	req.AwardedBy, req.AwardedByRole = actorFromContext(c)

	if h.rules != nil && req.Kind == models.KindEarned && req.SchoolID != "" {
		award, err := h.rules.NominalAmount(c.Request.Context(), req.SchoolID, req.StudentID, req.Source, req.Category, req.Amount)
		if err != nil {
			response.Error(c, err)
			return
		}
		req.Amount = award.Amount
	}

	result, err := h.points.Apply(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	if result.Duplicate {
		response.JSON(c, http.StatusOK, result, nil)
		return
	}
	response.Created(c, result)
}

// Reverse godoc
// @Summary Reverse a transaction
// @Tags Points
// @Accept json
// @Produce json
// @Param id path string true "Ledger entry ID"
// @Param payload body reverseBody true "Reversal reason"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /points/transactions/{id}/reverse [post]
func (h *PointsHandler) Reverse(c *gin.Context) {
	var body reverseBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid reversal payload"))
		return
	}
	actor, role := actorFromContext(c)
	result, err := h.reversal.Reverse(c.Request.Context(), dto.ReversePointsRequest{
		EntryID:        c.Param("id"),
		Reason:         body.Reason,
		ReversedBy:     actor,
		ReversedByRole: role,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}

type reverseBody struct {
	Reason string `json:"reason"`
}

// GetTransaction godoc
// @Summary Get a transaction
// @Tags Points
// @Produce json
// @Param id path string true "Ledger entry ID"
// @Success 200 {object} response.Envelope
// @Router /points/transactions/{id} [get]
func (h *PointsHandler) GetTransaction(c *gin.Context) {
	entry, err := h.points.GetEntry(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entry, nil)
}

// Account godoc
// @Summary Get a student's points account
// @Tags Points
// @Produce json
// @Param studentId path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /points/accounts/{studentId} [get]
func (h *PointsHandler) Account(c *gin.Context) {
	account, err := h.points.GetAccount(c.Request.Context(), c.Param("studentId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, account, nil)
}

// Transactions godoc
// @Summary List a student's transactions
// @Tags Points
// @Produce json
// @Param studentId path string true "Student ID"
// @Param kind query string false "earned, spent or adjusted"
// @Param source query string false "Point source"
// @Param from query string false "RFC3339 lower bound"
// @Param to query string false "RFC3339 upper bound"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /points/accounts/{studentId}/transactions [get]
func (h *PointsHandler) Transactions(c *gin.Context) {
	var q dto.LedgerQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid query parameters"))
		return
	}
	entries, pagination, err := h.points.ListEntries(c.Request.Context(), c.Param("studentId"), q)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entries, pagination)
}

// Limits godoc
// @Summary Show remaining quota per limit window
// @Tags Points
// @Produce json
// @Param studentId path string true "Student ID"
// @Param school_id query string false "School ID, defaults to the caller's school"
// @Success 200 {object} response.Envelope
// @Router /points/accounts/{studentId}/limits [get]
func (h *PointsHandler) Limits(c *gin.Context) {
	schoolID := c.Query("school_id")
	if schoolID == "" {
		if claims := claimsFromContext(c); claims != nil {
			schoolID = claims.SchoolID
		}
	}
	status, err := h.points.LimitStatus(c.Request.Context(), c.Param("studentId"), schoolID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, status, nil)
}
