// Package routes defines the API routing configuration.
package routes

import (
	"caredit/internal/handlers"
	"caredit/internal/middleware"
	"caredit/internal/models"

	"github.com/gofiber/fiber/v2"
)

// Handlers groups everything SetupRoutes mounts.
type Handlers struct {
	Auth         *middleware.AuthMiddleware
	Health       *handlers.HealthHandler
	Account      *handlers.AccountHandler
	Transactions *handlers.TransactionHandler
	Limits       *handlers.LimitsHandler
	Webhooks     *handlers.WebhookHandler
	Verify       *handlers.VerifyHandler
}

// SetupRoutes configures all application routes.
func SetupRoutes(app *fiber.App, h Handlers) {
	app.Get("/health", h.Health.Check)

	api := app.Group("/api")

	// Gateway callbacks authenticate by signature, not JWT.
	if h.Webhooks != nil {
		api.Post("/webhooks/gateway", h.Webhooks.Handle)
	}

	authenticated := api.Group("", h.Auth.Handler)

	read := middleware.HasPermission(models.PermissionAccountRead)
	authenticated.Get("/account", read, h.Account.Get)
	authenticated.Post("/account", read, h.Account.Open)

	txRead := middleware.HasPermission(models.PermissionTransactionRead)
	txWrite := middleware.HasPermission(models.PermissionTransactionWrite)
	tx := authenticated.Group("/transactions")
	tx.Post("/transfer", txWrite, h.Transactions.Transfer)
	tx.Post("/payment", txWrite, h.Transactions.Payment)
	tx.Post("/bill-payment", txWrite, h.Transactions.BillPayment)
	tx.Post("/withdrawal", txWrite, h.Transactions.Withdrawal)
	tx.Get("/summary", txRead, h.Transactions.Summary)
	tx.Get("/:id", txRead, h.Transactions.Get)
	tx.Post("/:id/cancel", txWrite, h.Transactions.Cancel)
	if h.Verify != nil {
		tx.Post("/:id/verify", txWrite, h.Verify.Verify)
	}

	authenticated.Post("/deposits", txWrite, h.Transactions.Deposit)

	authenticated.Get("/limits", read, h.Limits.Get)
	authenticated.Put("/limits", middleware.HasPermission(models.PermissionLimitsWrite), h.Limits.Set)
	authenticated.Put("/cards/:id/limits", middleware.HasPermission(models.PermissionCardWrite), h.Limits.SetCard)
}
