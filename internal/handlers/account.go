package handlers

import (
	"caredit/internal/services/transaction"
	"caredit/internal/utils/response"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type AccountHandler struct {
	service *transaction.Service
	logger  *zap.Logger
}

func NewAccountHandler(s *transaction.Service, logger *zap.Logger) *AccountHandler {
	return &AccountHandler{service: s, logger: logger.Named("http")}
}

func (h *AccountHandler) Get(c *fiber.Ctx) error {
	claims, err := extractUserClaims(c)
	if err != nil {
		return response.Unauthorized(c)
	}
	account, err := h.service.Balance(c.UserContext(), claims.UserID)
	if err != nil {
		return writeError(c, h.logger, err, nil)
	}
	return response.Success(c, "account retrieved", account)
}

// Open creates the caller's account; opening twice returns the existing one.
func (h *AccountHandler) Open(c *fiber.Ctx) error {
	claims, err := extractUserClaims(c)
	if err != nil {
		return response.Unauthorized(c)
	}
	var req struct {
		Currency string `json:"currency"`
	}
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return response.BadRequest(c, "invalid request")
		}
	}
	account, err := h.service.OpenAccount(c.UserContext(), claims.UserID, req.Currency)
	if err != nil {
		return writeError(c, h.logger, err, nil)
	}
	return response.Created(c, "account ready", account)
}
