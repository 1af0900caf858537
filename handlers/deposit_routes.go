// handlers/deposit_routes.go
package handlers

import (
	"errors"
	"log"

	"number-shop-system/middleware"
	"number-shop-system/services"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
)

// SetupDepositRoutes wires the invoice-open flow. Middleware is attached per
// route; only the open endpoint mutates state and goes through admission.
func SetupDepositRoutes(app *fiber.App, deposits *services.DepositService, limiter *middleware.RateLimiter) {
	userCtx := middleware.UserContextMiddleware()
	admit := middleware.RateAdmissionMiddleware(limiter)

	app.Post("/user/deposits", admit, userCtx, func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(int64)

		var req struct {
			Amount decimal.Decimal `json:"amount"`
			Asset  string          `json:"asset"`
		}
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
		}

		intent, payURL, err := deposits.Open(c.Context(), userID, req.Amount, req.Asset)
		if err != nil {
			if errors.Is(err, services.ErrInvalidAmount) {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Deposit amount must be positive"})
			}
			if errors.Is(err, services.ErrPriceUnavailable) {
				return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "Price quote unavailable, try again shortly"})
			}
			log.Printf("Failed to open deposit for user %d: %v", userID, err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to create invoice"})
		}

		return c.Status(fiber.StatusCreated).JSON(fiber.Map{
			"invoice_id":    intent.InvoiceID,
			"pay_url":       payURL,
			"amount":        intent.ExpectedFiat,
			"asset":         intent.Asset,
			"crypto_amount": intent.QuotedCrypto,
			"bonus":         intent.BonusAmount,
			"free_numbers":  intent.FreeNumbers,
			"total_credit":  intent.ExpectedFiat.Add(intent.BonusAmount),
		})
	})

	app.Get("/user/deposits/:invoice_id", userCtx, func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(int64)

		intent, err := deposits.Lookup(c.Params("invoice_id"))
		if err != nil {
			if errors.Is(err, services.ErrIntentNotFound) {
				return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Invoice not found"})
			}
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "DB error"})
		}
		if intent.UserID != userID {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Invoice not found"})
		}
		return c.JSON(intent)
	})
}
