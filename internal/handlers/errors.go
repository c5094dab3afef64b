package handlers

import (
	"errors"

	apperrors "caredit/internal/errors"
	"caredit/internal/models"
	"caredit/internal/utils"
	"caredit/internal/utils/response"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// extractUserClaims is a helper function to reduce duplication
func extractUserClaims(c *fiber.Ctx) (*models.UserClaims, error) {
	claims, err := utils.GetUserClaims(c)
	if err != nil || claims == nil {
		return nil, fiber.ErrUnauthorized
	}
	return claims, nil
}

// writeError maps a domain error to its HTTP status and envelope. data,
// when non-nil, is the state the operation left behind.
func writeError(c *fiber.Ctx, logger *zap.Logger, err error, data interface{}) error {
	var (
		validation   *apperrors.ValidationError
		exceeded     *apperrors.LimitExceededError
		insufficient *apperrors.InsufficientBalanceError
		illegal      *apperrors.IllegalTransitionError
	)

	switch {
	case errors.As(err, &validation):
		return response.Coded(c, fiber.StatusBadRequest, "VALIDATION_ERROR", validation.Error(),
			fiber.Map{"field": validation.Field, "reason": validation.Reason}, nil)

	case errors.As(err, &exceeded):
		return response.Coded(c, fiber.StatusUnprocessableEntity, "LIMIT_EXCEEDED", exceeded.Error(), fiber.Map{
			"scope":     exceeded.Scope,
			"window":    exceeded.Window,
			"limit":     exceeded.Limit,
			"usage":     exceeded.Usage,
			"requested": exceeded.Requested,
			"remaining": exceeded.Remaining(),
		}, nil)

	case errors.As(err, &insufficient):
		return response.Coded(c, fiber.StatusUnprocessableEntity, "INSUFFICIENT_BALANCE", insufficient.Error(), fiber.Map{
			"balance":   insufficient.Balance,
			"required":  insufficient.Required,
			"shortfall": insufficient.Shortfall,
		}, nil)

	case errors.As(err, &illegal):
		return response.Coded(c, fiber.StatusConflict, "ILLEGAL_TRANSITION", illegal.Error(),
			fiber.Map{"current": illegal.Current, "target": illegal.Target}, data)

	case errors.Is(err, apperrors.ErrNotFound):
		return response.Coded(c, fiber.StatusNotFound, "NOT_FOUND", "resource not found", nil, nil)

	case errors.Is(err, apperrors.ErrDuplicateReference):
		return response.Coded(c, fiber.StatusConflict, "DUPLICATE_REFERENCE", "reference already used", nil, nil)

	case errors.Is(err, apperrors.ErrForbidden):
		return response.Coded(c, fiber.StatusForbidden, "FORBIDDEN", "forbidden", nil, nil)

	case errors.Is(err, apperrors.ErrInvalidSignature):
		return response.Coded(c, fiber.StatusUnauthorized, "INVALID_SIGNATURE", "invalid signature", nil, nil)

	case errors.Is(err, apperrors.ErrGatewayTimeout), errors.Is(err, apperrors.ErrGatewayUnreachable):
		if data != nil {
			return response.Status(c, fiber.StatusAccepted, "awaiting gateway confirmation", data)
		}
		return response.Coded(c, fiber.StatusServiceUnavailable, "GATEWAY_UNAVAILABLE", "payment gateway unavailable", nil, nil)

	case errors.Is(err, apperrors.ErrGatewayRejected):
		return response.Coded(c, fiber.StatusBadGateway, "GATEWAY_REJECTED", err.Error(), nil, data)
	}

	logger.Error("request failed",
		zap.String("method", c.Method()),
		zap.String("path", c.Path()),
		zap.Error(err),
	)
	return response.Coded(c, fiber.StatusInternalServerError, "INTERNAL", "internal error", nil, nil)
}
