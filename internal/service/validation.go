package service

import (
	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/sma-points-api/internal/models"
	appErrors "github.com/noah-isme/sma-points-api/pkg/errors"
)

func registerPointValidations(v *validator.Validate) {
	_ = v.RegisterValidation("point_kind", func(fl validator.FieldLevel) bool {
		return models.TransactionKind(fl.Field().String()).Valid()
	})
	_ = v.RegisterValidation("point_source", func(fl validator.FieldLevel) bool {
		_, ok := lookupSource(models.PointSource(fl.Field().String()))
		return ok
	})
}

func invalidPayload(err error) error {
	return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload")
}
