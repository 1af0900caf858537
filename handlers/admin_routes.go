// handlers/admin_routes.go
package handlers

import (
	"errors"
	"log"
	"strconv"

	"number-shop-system/middleware"
	"number-shop-system/services"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
)

// SetupAdminRoutes wires the operator surface: force-confirm a deposit and
// grant balance / bonus / free numbers. Everything maps straight onto ledger
// operations; validation errors change no state.
func SetupAdminRoutes(app *fiber.App, ledger *services.LedgerService, reconciler *services.ReconcilerService, deposits *services.DepositService) {
	adminGroup := app.Group("/s/admin", middleware.UserContextMiddleware(), middleware.RequireAdmin())

	// Manual override for payments the reconciler parked (or that arrived
	// outside the provider). Runs the full credit unit, referral cascade
	// included.
	adminGroup.Post("/deposits/confirm", func(c *fiber.Ctx) error {
		var req struct {
			UserID int64           `json:"user_id"`
			Amount decimal.Decimal `json:"amount"`
		}
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
		}

		credit, err := reconciler.ConfirmManual(req.UserID, req.Amount)
		if err != nil {
			if errors.Is(err, services.ErrInvalidAmount) {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Amount must be positive"})
			}
			if errors.Is(err, services.ErrAccountNotFound) {
				return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "User not found"})
			}
			log.Printf("DB Error confirming deposit for user %d: %v", req.UserID, err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to confirm deposit"})
		}

		return c.JSON(fiber.Map{
			"message":           "Payment confirmed",
			"user_id":           req.UserID,
			"principal":         credit.Principal,
			"bonus":             credit.Bonus,
			"free_numbers":      credit.FreeNumbers,
			"referral_rewarded": credit.ReferralRewarded,
		})
	})

	adminGroup.Post("/balance/grant", func(c *fiber.Ctx) error {
		var req struct {
			UserID int64           `json:"user_id"`
			Amount decimal.Decimal `json:"amount"`
		}
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
		}
		if !req.Amount.IsPositive() {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Amount must be positive"})
		}

		if err := ledger.ApplyDeposit(req.UserID, req.Amount, decimal.Zero); err != nil {
			if errors.Is(err, services.ErrAccountNotFound) {
				return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "User not found"})
			}
			log.Printf("DB Error granting balance to user %d: %v", req.UserID, err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to grant balance"})
		}
		return c.JSON(fiber.Map{"message": "Balance granted", "user_id": req.UserID, "amount": req.Amount})
	})

	adminGroup.Post("/bonus/grant", func(c *fiber.Ctx) error {
		var req struct {
			UserID int64           `json:"user_id"`
			Amount decimal.Decimal `json:"amount"`
		}
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
		}
		if !req.Amount.IsPositive() {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Amount must be positive"})
		}

		if err := ledger.GrantBonus(req.UserID, req.Amount); err != nil {
			if errors.Is(err, services.ErrAccountNotFound) {
				return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "User not found"})
			}
			log.Printf("DB Error granting bonus to user %d: %v", req.UserID, err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to grant bonus"})
		}
		return c.JSON(fiber.Map{"message": "Bonus granted", "user_id": req.UserID, "amount": req.Amount})
	})

	adminGroup.Post("/numbers/grant", func(c *fiber.Ctx) error {
		var req struct {
			UserID int64 `json:"user_id"`
			Count  int   `json:"count"`
		}
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
		}
		if req.Count <= 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Count must be positive"})
		}

		if err := ledger.GrantFreeNumbers(req.UserID, req.Count); err != nil {
			if errors.Is(err, services.ErrAccountNotFound) {
				return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "User not found"})
			}
			log.Printf("DB Error granting numbers to user %d: %v", req.UserID, err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to grant numbers"})
		}
		return c.JSON(fiber.Map{"message": "Free numbers granted", "user_id": req.UserID, "count": req.Count})
	})

	// Audit view over recent intents, mismatches included.
	adminGroup.Get("/deposits", func(c *fiber.Ctx) error {
		limit, _ := strconv.Atoi(c.Query("limit", "50"))
		intents, err := deposits.ListRecent(limit)
		if err != nil {
			log.Printf("DB Error fetching intents: %v", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to fetch deposits"})
		}
		return c.JSON(intents)
	})
}
