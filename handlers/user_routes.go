// handlers/user_routes.go
package handlers

import (
	"errors"
	"fmt"
	"log"
	"os"

	"number-shop-system/middleware"
	"number-shop-system/services"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
)

// SetupUserRoutes wires the balance / account / referral / spend surface the
// chat gateway calls on behalf of users. Middleware is attached per route so
// nothing leaks onto the webhook or health endpoints; mutating routes go
// through rate admission first, then user context, reads skip the limiter.
func SetupUserRoutes(app *fiber.App, ledger *services.LedgerService, referrals *services.ReferralService, limiter *middleware.RateLimiter) {
	userCtx := middleware.UserContextMiddleware()
	admit := middleware.RateAdmissionMiddleware(limiter)

	// Called on /start: create the account if new, resolving an optional
	// referral code into the permanent referrer link.
	app.Post("/user/account", admit, userCtx, func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(int64)

		var req struct {
			Username     string `json:"username"`
			FirstName    string `json:"first_name"`
			ReferralCode string `json:"referral_code"`
		}
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
		}

		var referrerID *int64
		if req.ReferralCode != "" {
			ownerID, err := referrals.ResolveCode(req.ReferralCode)
			if err != nil {
				if !errors.Is(err, services.ErrCodeNotFound) {
					return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "DB error"})
				}
				log.Printf("[USER] unknown referral code %q from user %d — ignoring", req.ReferralCode, userID)
			} else {
				referrerID = &ownerID
			}
		}

		created, err := ledger.CreateAccount(userID, req.Username, req.FirstName, referrerID)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to create account"})
		}

		balance, err := ledger.GetBalance(userID)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "DB error"})
		}
		return c.JSON(fiber.Map{
			"created": created,
			"balance": balance,
		})
	})

	app.Get("/user/balance", userCtx, func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(int64)

		acct, err := ledger.GetAccount(userID)
		if err != nil {
			if errors.Is(err, services.ErrAccountNotFound) {
				return c.JSON(fiber.Map{
					"balance":         decimal.Zero,
					"bonus":           decimal.Zero,
					"free_numbers":    0,
					"total_deposited": decimal.Zero,
				})
			}
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "DB error"})
		}

		return c.JSON(fiber.Map{
			"balance":         acct.SpendableTotal(),
			"bonus":           acct.BonusBalance,
			"free_numbers":    acct.FreeNumbers,
			"total_deposited": acct.TotalDeposited,
		})
	})

	// Deduction for a number purchase; the vendor flow lives in the gateway.
	app.Post("/user/spend", admit, userCtx, func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(int64)

		var req struct {
			Amount decimal.Decimal `json:"amount"`
		}
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
		}
		if !req.Amount.IsPositive() {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Amount must be positive"})
		}

		ok, err := ledger.Spend(userID, req.Amount)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to spend"})
		}
		if !ok {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "❌ Insufficient balance"})
		}

		balance, err := ledger.GetBalance(userID)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "DB error"})
		}
		return c.JSON(fiber.Map{
			"spent":   req.Amount,
			"balance": balance,
		})
	})

	app.Get("/user/referral", userCtx, func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(int64)

		code, err := referrals.GetOrCreateCode(userID)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to get referral code"})
		}

		validReferrals, freeNumbers := 0, 0
		if acct, err := ledger.GetAccount(userID); err == nil {
			validReferrals = acct.ValidReferrals
			freeNumbers = acct.FreeNumbers
		}

		return c.JSON(fiber.Map{
			"code":            code,
			"link":            fmt.Sprintf("%s%s", os.Getenv("REFERRAL_LINK_BASE"), code),
			"valid_referrals": validReferrals,
			"free_numbers":    freeNumbers,
		})
	})
}
