package handlers

import (
	"caredit/internal/repositories"
	"caredit/internal/services/limits"
	"caredit/internal/utils/response"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// LimitsHandler exposes user and card spending limits.
type LimitsHandler struct {
	service *limits.Service
	logger  *zap.Logger
}

func NewLimitsHandler(s *limits.Service, logger *zap.Logger) *LimitsHandler {
	return &LimitsHandler{service: s, logger: logger.Named("http")}
}

// Get handles GET /limits, with an optional ?card_id= for card usage.
func (h *LimitsHandler) Get(c *fiber.Ctx) error {
	claims, err := extractUserClaims(c)
	if err != nil {
		return response.Unauthorized(c)
	}

	var cardID *uint
	if raw := c.QueryInt("card_id", 0); raw > 0 {
		id := uint(raw)
		cardID = &id
	}

	view, err := h.service.Get(c.UserContext(), claims.UserID, cardID)
	if err != nil {
		return writeError(c, h.logger, err, nil)
	}
	return response.Success(c, "limits retrieved", view)
}

func (h *LimitsHandler) Set(c *fiber.Ctx) error {
	claims, err := extractUserClaims(c)
	if err != nil {
		return response.Unauthorized(c)
	}

	var req struct {
		DailyLimit             decimal.Decimal `json:"daily_limit"`
		MonthlyLimit           decimal.Decimal `json:"monthly_limit"`
		SingleTransactionLimit decimal.Decimal `json:"single_transaction_limit"`
	}
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "invalid request")
	}

	updated, err := h.service.SetLimits(c.UserContext(), repositories.SetLimits{
		UserID:                 claims.UserID,
		DailyLimit:             req.DailyLimit,
		MonthlyLimit:           req.MonthlyLimit,
		SingleTransactionLimit: req.SingleTransactionLimit,
	})
	if err != nil {
		return writeError(c, h.logger, err, nil)
	}
	return response.Success(c, "limits updated", updated)
}

// SetCard handles PUT /cards/:id/limits.
func (h *LimitsHandler) SetCard(c *fiber.Ctx) error {
	claims, err := extractUserClaims(c)
	if err != nil {
		return response.Unauthorized(c)
	}
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return response.BadRequest(c, "invalid card id")
	}

	var req struct {
		DailyLimit   decimal.Decimal `json:"daily_limit"`
		MonthlyLimit decimal.Decimal `json:"monthly_limit"`
	}
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "invalid request")
	}

	card, err := h.service.SetCardLimits(c.UserContext(), claims.UserID, repositories.SetCardLimits{
		CardID:       uint(id),
		DailyLimit:   req.DailyLimit,
		MonthlyLimit: req.MonthlyLimit,
	})
	if err != nil {
		return writeError(c, h.logger, err, nil)
	}
	return response.Success(c, "card limits updated", card)
}
