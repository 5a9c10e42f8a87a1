package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-points-api/internal/dto"
	appErrors "github.com/noah-isme/sma-points-api/pkg/errors"
	"github.com/noah-isme/sma-points-api/pkg/response"
)

type attendancePointsService interface {
	AwardCheckIn(ctx context.Context, req dto.AttendanceCheckInRequest) (*dto.AttendanceCheckInResult, error)
}

type badgePointsService interface {
	AwardBonus(ctx context.Context, req dto.BadgeBonusRequest) (*dto.BadgeBonusResult, error)
}

// CollaboratorHandler receives awards from the attendance and badge services.
type CollaboratorHandler struct {
	attendance attendancePointsService
	badges     badgePointsService
}

// NewCollaboratorHandler builds a new handler.
func NewCollaboratorHandler(attendance attendancePointsService, badges badgePointsService) *CollaboratorHandler {
	return &CollaboratorHandler{attendance: attendance, badges: badges}
}

// CheckIn godoc
// @Summary Award attendance check-in points
// @Description Always answers 200 for a valid payload; points_awarded is 0 when the award was rejected or deferred.
// @Tags Collaborators
// @Accept json
// @Produce json
// @Param payload body dto.AttendanceCheckInRequest true "Check-in payload"
// @Success 200 {object} response.Envelope
// @Router /points/attendance/check-in [post]
func (h *CollaboratorHandler) CheckIn(c *gin.Context) {
	var req dto.AttendanceCheckInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid check-in payload"))
		return
	}
	req.AwardedBy, req.AwardedByRole = actorFromContext(c)
	result, err := h.attendance.AwardCheckIn(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// BadgeBonus godoc
// @Summary Queue badge bonus points
// @Tags Collaborators
// @Accept json
// @Produce json
// @Param payload body dto.BadgeBonusRequest true "Badge bonus payload"
// @Success 202 {object} response.Envelope
// @Router /points/badges/bonus [post]
func (h *CollaboratorHandler) BadgeBonus(c *gin.Context) {
	var req dto.BadgeBonusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid badge bonus payload"))
		return
	}
	req.AwardedBy, req.AwardedByRole = actorFromContext(c)
	result, err := h.badges.AwardBonus(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	if !result.Queued {
		response.JSON(c, http.StatusOK, result, nil)
		return
	}
	response.Accepted(c, result)
}
