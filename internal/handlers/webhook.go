package handlers

import (
	"errors"

	apperrors "caredit/internal/errors"
	"caredit/internal/services/reconciliation"
	"caredit/internal/utils/response"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// WebhookHandler receives gateway callbacks. It is not behind JWT auth:
// the signature header authenticates the sender.
type WebhookHandler struct {
	worker          *reconciliation.Worker
	signatureHeader string
	logger          *zap.Logger
}

func NewWebhookHandler(worker *reconciliation.Worker, signatureHeader string, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{worker: worker, signatureHeader: signatureHeader, logger: logger.Named("webhook")}
}

func (h *WebhookHandler) Handle(c *fiber.Ctx) error {
	// fiber reuses the body buffer after the handler returns
	payload := append([]byte(nil), c.Body()...)

	ack, err := h.worker.HandleWebhook(c.UserContext(), payload, c.Get(h.signatureHeader))
	if err != nil {
		if errors.Is(err, apperrors.ErrInvalidSignature) {
			return response.Error(c, fiber.StatusUnauthorized, "invalid signature")
		}
		h.logger.Error("webhook processing failed", zap.Error(err))
		return response.ServerError(c, "webhook not processed")
	}
	return response.Success(c, "received", ack)
}
