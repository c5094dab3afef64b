package response

import (
	"github.com/gofiber/fiber/v2"
)

func Success(c *fiber.Ctx, message string, data interface{}) error {
	return Status(c, fiber.StatusOK, message, data)
}

func Created(c *fiber.Ctx, message string, data interface{}) error {
	return Status(c, fiber.StatusCreated, message, data)
}

// Status sends the success envelope with an explicit code, e.g. 202 for a
// transaction still waiting on the gateway.
func Status(c *fiber.Ctx, status int, message string, data interface{}) error {
	return c.Status(status).JSON(fiber.Map{
		"message": message,
		"data":    data,
	})
}

func Error(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(fiber.Map{
		"error": message,
	})
}

// Coded is the error envelope carrying a stable machine code. details and
// data are omitted when nil.
func Coded(c *fiber.Ctx, status int, code, message string, details, data interface{}) error {
	body := fiber.Map{
		"error": message,
		"code":  code,
	}
	if details != nil {
		body["details"] = details
	}
	if data != nil {
		body["data"] = data
	}
	return c.Status(status).JSON(body)
}

func BadRequest(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusBadRequest, message)
}

func ServerError(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusInternalServerError, message)
}

func Unauthorized(c *fiber.Ctx) error {
	return Error(c, fiber.StatusUnauthorized, "Unauthorized")
}

func Forbidden(c *fiber.Ctx) error {
	return Error(c, fiber.StatusForbidden, "Insufficient permissions")
}
