package handlers

import (
	"strings"

	"caredit/internal/models"
	"caredit/internal/services/gateway"
	"caredit/internal/services/transaction"
	"caredit/internal/utils/response"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// IdempotencyHeader carries a client reference for debit and deposit
// requests.
const IdempotencyHeader = "Idempotency-Key"

// TransactionHandler exposes debit, lookup, cancel and summary endpoints.
type TransactionHandler struct {
	service *transaction.Service
	logger  *zap.Logger
}

func NewTransactionHandler(s *transaction.Service, logger *zap.Logger) *TransactionHandler {
	return &TransactionHandler{service: s, logger: logger.Named("http")}
}

type debitRequest struct {
	Amount         decimal.Decimal            `json:"amount"`
	CardID         *uint                      `json:"card_id"`
	Currency       string                     `json:"currency"`
	Recipient      string                     `json:"recipient"`
	RecipientPhone string                     `json:"recipient_phone"`
	Provider       string                     `json:"provider"`
	ServiceType    string                     `json:"service_type"`
	Description    string                     `json:"description"`
	Payout         *gateway.PayoutDestination `json:"payout"`
	Metadata       models.JSON                `json:"metadata"`
}

func (h *TransactionHandler) Transfer(c *fiber.Ctx) error {
	return h.debit(c, models.TransactionTypeTransfer)
}

func (h *TransactionHandler) Payment(c *fiber.Ctx) error {
	return h.debit(c, models.TransactionTypePayment)
}

func (h *TransactionHandler) BillPayment(c *fiber.Ctx) error {
	return h.debit(c, models.TransactionTypeBillPayment)
}

func (h *TransactionHandler) Withdrawal(c *fiber.Ctx) error {
	return h.debit(c, models.TransactionTypeWithdrawal)
}

func (h *TransactionHandler) debit(c *fiber.Ctx, t models.TransactionType) error {
	claims, err := extractUserClaims(c)
	if err != nil {
		return response.Unauthorized(c)
	}

	var req debitRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "invalid request")
	}

	res, err := h.service.Execute(c.UserContext(), transaction.DebitIntent{
		UserID:         claims.UserID,
		CardID:         req.CardID,
		Type:           t,
		Amount:         req.Amount,
		Currency:       req.Currency,
		Reference:      strings.TrimSpace(c.Get(IdempotencyHeader)),
		Recipient:      req.Recipient,
		RecipientPhone: req.RecipientPhone,
		Provider:       req.Provider,
		ServiceType:    req.ServiceType,
		Description:    req.Description,
		Payout:         req.Payout,
		Metadata:       req.Metadata,
	})
	return h.writeResult(c, res, err)
}

func (h *TransactionHandler) writeResult(c *fiber.Ctx, res *transaction.Result, err error) error {
	if err != nil {
		var data interface{}
		if res != nil {
			data = res
		}
		return writeError(c, h.logger, err, data)
	}
	switch {
	case res.Replayed:
		return response.Success(c, "transaction already processed", res)
	case res.Transaction.Status == models.StatusPending:
		return response.Status(c, fiber.StatusAccepted, "awaiting gateway confirmation", res)
	default:
		return response.Created(c, "transaction "+string(res.Transaction.Status), res)
	}
}

// Get handles GET /transactions/:id.
func (h *TransactionHandler) Get(c *fiber.Ctx) error {
	claims, err := extractUserClaims(c)
	if err != nil {
		return response.Unauthorized(c)
	}
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return response.BadRequest(c, "invalid transaction id")
	}

	tx, err := h.service.Get(c.UserContext(), uint(id), claims.UserID)
	if err != nil {
		return writeError(c, h.logger, err, nil)
	}
	return response.Success(c, "transaction retrieved", tx)
}

// Cancel handles POST /transactions/:id/cancel. Cancelling an already
// cancelled transaction answers 200 with its current state.
func (h *TransactionHandler) Cancel(c *fiber.Ctx) error {
	claims, err := extractUserClaims(c)
	if err != nil {
		return response.Unauthorized(c)
	}
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return response.BadRequest(c, "invalid transaction id")
	}

	var req struct {
		Reason string `json:"reason"`
	}
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return response.BadRequest(c, "invalid request")
		}
	}

	res, err := h.service.Cancel(c.UserContext(), uint(id), claims.UserID, req.Reason)
	if err != nil {
		if transaction.IsIdempotentRepeat(err, models.StatusCancelled) {
			return response.Success(c, "transaction already cancelled", res)
		}
		var data interface{}
		if res != nil {
			data = res
		}
		return writeError(c, h.logger, err, data)
	}
	return response.Success(c, "transaction cancelled", res)
}

// Summary handles GET /transactions/summary?period=day|week|month|year.
func (h *TransactionHandler) Summary(c *fiber.Ctx) error {
	claims, err := extractUserClaims(c)
	if err != nil {
		return response.Unauthorized(c)
	}
	sum, err := h.service.Summary(c.UserContext(), claims.UserID, c.Query("period", "month"))
	if err != nil {
		return writeError(c, h.logger, err, nil)
	}
	return response.Success(c, "summary retrieved", sum)
}

type depositRequest struct {
	Type           models.TransactionType `json:"type"`
	Amount         decimal.Decimal        `json:"amount"`
	Currency       string                 `json:"currency"`
	Email          string                 `json:"email"`
	Phone          string                 `json:"phone"`
	Name           string                 `json:"name"`
	RedirectURL    string                 `json:"redirect_url"`
	Provider       string                 `json:"provider"`
	RecipientPhone string                 `json:"recipient_phone"`
	Description    string                 `json:"description"`
}

// Deposit handles POST /deposits. The response carries the hosted payment
// link; the balance moves only when the gateway confirms.
func (h *TransactionHandler) Deposit(c *fiber.Ctx) error {
	claims, err := extractUserClaims(c)
	if err != nil {
		return response.Unauthorized(c)
	}

	var req depositRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "invalid request")
	}
	if req.Type == "" {
		req.Type = models.TransactionTypeDeposit
	}
	if req.Email == "" {
		req.Email = claims.Email
	}

	res, err := h.service.Execute(c.UserContext(), transaction.DepositIntent{
		UserID:         claims.UserID,
		Type:           req.Type,
		Amount:         req.Amount,
		Currency:       req.Currency,
		Reference:      strings.TrimSpace(c.Get(IdempotencyHeader)),
		Email:          req.Email,
		Phone:          req.Phone,
		Name:           req.Name,
		RedirectURL:    req.RedirectURL,
		Provider:       req.Provider,
		RecipientPhone: req.RecipientPhone,
		Description:    req.Description,
	})
	return h.writeResult(c, res, err)
}
