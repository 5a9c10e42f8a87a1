package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-points-api/internal/dto"
	"github.com/noah-isme/sma-points-api/internal/models"
	appErrors "github.com/noah-isme/sma-points-api/pkg/errors"
	"github.com/noah-isme/sma-points-api/pkg/response"
)

type schoolRuleService interface {
	Get(ctx context.Context, schoolID string) (*models.SchoolPointRule, error)
	Upsert(ctx context.Context, req dto.UpsertSchoolRuleRequest, actor *models.JWTClaims) (*models.SchoolPointRule, error)
}

// SchoolRuleHandler administers per-school point overrides.
type SchoolRuleHandler struct {
	service schoolRuleService
}

// NewSchoolRuleHandler builds a new handler.
func NewSchoolRuleHandler(service schoolRuleService) *SchoolRuleHandler {
	return &SchoolRuleHandler{service: service}
}

// Get godoc
// @Summary Get a school's point rule
// @Tags SchoolRules
// @Produce json
// @Param schoolId path string true "School ID"
// @Success 200 {object} response.Envelope
// @Router /points/school-rules/{schoolId} [get]
func (h *SchoolRuleHandler) Get(c *gin.Context) {
	rule, err := h.service.Get(c.Request.Context(), c.Param("schoolId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rule, nil)
}

// Upsert godoc
// @Summary Replace a school's point rule
// @Tags SchoolRules
// @Accept json
// @Produce json
// @Param schoolId path string true "School ID"
// @Param payload body dto.UpsertSchoolRuleRequest true "Rule payload"
// @Success 200 {object} response.Envelope
// @Router /points/school-rules/{schoolId} [put]
func (h *SchoolRuleHandler) Upsert(c *gin.Context) {
	var req dto.UpsertSchoolRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid school rule payload"))
		return
	}
	req.SchoolID = c.Param("schoolId")
	rule, err := h.service.Upsert(c.Request.Context(), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rule, nil)
}
