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

type limitPolicyService interface {
	List(ctx context.Context, scope string) ([]models.LimitPolicy, error)
	Get(ctx context.Context, scope, entityID string) (*models.LimitPolicy, error)
	Upsert(ctx context.Context, req dto.UpsertLimitPolicyRequest, actor *models.JWTClaims) (*models.LimitPolicy, error)
	Delete(ctx context.Context, scope, entityID string, actor *models.JWTClaims) error
}

// PolicyHandler administers limit policies.
type PolicyHandler struct {
	service limitPolicyService
}

// NewPolicyHandler builds a new handler.
func NewPolicyHandler(service limitPolicyService) *PolicyHandler {
	return &PolicyHandler{service: service}
}

// List godoc
// @Summary List limit policies
// @Tags Policies
// @Produce json
// @Param scope query string false "global, school or student"
// @Success 200 {object} response.Envelope
// @Router /points/policies [get]
func (h *PolicyHandler) List(c *gin.Context) {
	policies, err := h.service.List(c.Request.Context(), c.Query("scope"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, policies, nil)
}

// Get godoc
// @Summary Get a limit policy
// @Tags Policies
// @Produce json
// @Param scope path string true "global, school or student"
// @Param entityId path string false "School or student ID"
// @Success 200 {object} response.Envelope
// @Router /points/policies/{scope}/{entityId} [get]
func (h *PolicyHandler) Get(c *gin.Context) {
	policy, err := h.service.Get(c.Request.Context(), c.Param("scope"), c.Param("entityId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, policy, nil)
}

// Upsert godoc
// @Summary Create or replace a limit policy
// @Tags Policies
// @Accept json
// @Produce json
// @Param scope path string true "global, school or student"
// @Param entityId path string false "School or student ID"
// @Param payload body dto.UpsertLimitPolicyRequest true "Policy payload"
// @Success 200 {object} response.Envelope
// @Router /points/policies/{scope}/{entityId} [put]
func (h *PolicyHandler) Upsert(c *gin.Context) {
	var req dto.UpsertLimitPolicyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid policy payload"))
		return
	}
	req.Scope = models.PolicyScope(c.Param("scope"))
	req.EntityID = c.Param("entityId")
	policy, err := h.service.Upsert(c.Request.Context(), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, policy, nil)
}

// Delete godoc
// @Summary Delete a school or student limit policy
// @Tags Policies
// @Param scope path string true "school or student"
// @Param entityId path string true "School or student ID"
// @Success 204
// @Router /points/policies/{scope}/{entityId} [delete]
func (h *PolicyHandler) Delete(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), c.Param("scope"), c.Param("entityId"), claimsFromContext(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
