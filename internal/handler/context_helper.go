package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/sma-timetable-sync/internal/middleware"
	"github.com/noah-isme/sma-timetable-sync/internal/models"
	appErrors "github.com/noah-isme/sma-timetable-sync/pkg/errors"
)

var queryValidator = validator.New()

func claimsFromContext(c *gin.Context) *models.JWTClaims {
	claims, ok := middleware.Claims(c)
	if !ok {
		return nil
	}
	return claims
}

func actorFromContext(c *gin.Context) (models.Actor, error) {
	actor, ok := middleware.Actor(c)
	if !ok {
		return models.Actor{}, appErrors.ErrSessionNotConnected
	}
	return actor, nil
}

// bindQuery binds and validates query parameters.
func bindQuery(c *gin.Context, dest interface{}, message string) error {
	if err := c.ShouldBindQuery(dest); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, message)
	}
	if err := queryValidator.Struct(dest); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, message)
	}
	return nil
}

func int64Param(c *gin.Context, name string) (int64, error) {
	value, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || value <= 0 {
		return 0, appErrors.WithDetails(appErrors.ErrValidation, name+" must be a positive integer", map[string]interface{}{"field": name})
	}
	return value, nil
}
