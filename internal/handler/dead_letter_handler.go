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

type deadLetterService interface {
	List(ctx context.Context, q dto.DeadLetterQuery) ([]models.DeadLetter, *models.Pagination, error)
	Replay(ctx context.Context, id string, actor *models.JWTClaims) (*dto.ApplyPointsResult, error)
}

// DeadLetterHandler exposes failed collaborator awards to administrators.
type DeadLetterHandler struct {
	service deadLetterService
}

// NewDeadLetterHandler builds a new handler.
func NewDeadLetterHandler(service deadLetterService) *DeadLetterHandler {
	return &DeadLetterHandler{service: service}
}

// List godoc
// @Summary List dead-lettered awards
// @Tags DeadLetters
// @Produce json
// @Param status query string false "PENDING or RESOLVED"
// @Param student_id query string false "Student ID"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /points/dead-letters [get]
func (h *DeadLetterHandler) List(c *gin.Context) {
	var q dto.DeadLetterQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid query parameters"))
		return
	}
	letters, pagination, err := h.service.List(c.Request.Context(), q)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, letters, pagination)
}

// Replay godoc
// @Summary Replay a dead-lettered award
// @Tags DeadLetters
// @Produce json
// @Param id path string true "Dead letter ID"
// @Success 200 {object} response.Envelope
// @Router /points/dead-letters/{id}/replay [post]
func (h *DeadLetterHandler) Replay(c *gin.Context) {
	result, err := h.service.Replay(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}
