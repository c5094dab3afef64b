package handlers

import (
	"caredit/internal/services/reconciliation"
	"caredit/internal/utils/response"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// VerifyHandler lets a user ask the gateway for a pending transaction's
// status instead of waiting for the webhook.
type VerifyHandler struct {
	worker *reconciliation.Worker
	logger *zap.Logger
}

func NewVerifyHandler(worker *reconciliation.Worker, logger *zap.Logger) *VerifyHandler {
	return &VerifyHandler{worker: worker, logger: logger.Named("http")}
}

// Verify handles POST /transactions/:id/verify.
func (h *VerifyHandler) Verify(c *fiber.Ctx) error {
	claims, err := extractUserClaims(c)
	if err != nil {
		return response.Unauthorized(c)
	}
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return response.BadRequest(c, "invalid transaction id")
	}

	v, err := h.worker.Verify(c.UserContext(), uint(id), claims.UserID)
	if err != nil {
		return writeError(c, h.logger, err, nil)
	}
	if v.Outcome == reconciliation.OutcomePending {
		return response.Status(c, fiber.StatusAccepted, "awaiting gateway confirmation", v)
	}
	return response.Success(c, "transaction "+string(v.Transaction.Status), v)
}
