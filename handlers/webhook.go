// handlers/webhook.go
package handlers

import (
	"errors"
	"log"
	"strconv"

	"number-shop-system/services"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
)

// SetupWebhookRoutes registers the payment-provider callback endpoint. The
// provider retries until it sees 200, so anything retryable (oracle down,
// storage failure) answers non-2xx and everything already settled answers OK.
func SetupWebhookRoutes(app *fiber.App, reconciler *services.ReconcilerService) {
	app.Post("/webhook", func(c *fiber.Ctx) error {
		var update struct {
			UpdateType string `json:"update_type"`
			Payload    struct {
				InvoiceID int64           `json:"invoice_id"`
				Amount    decimal.Decimal `json:"amount"`
				Asset     string          `json:"asset"`
			} `json:"payload"`
		}
		if err := c.BodyParser(&update); err != nil {
			log.Printf("❌ [WEBHOOK] unparseable payload: %v", err)
			return c.Status(fiber.StatusBadRequest).SendString("ERROR")
		}

		if update.UpdateType != "invoice_paid" {
			return c.SendString("OK")
		}
		if update.Payload.InvoiceID == 0 || !update.Payload.Amount.IsPositive() {
			log.Printf("❌ [WEBHOOK] invalid invoice_paid payload: %+v", update.Payload)
			return c.Status(fiber.StatusBadRequest).SendString("ERROR")
		}

		event := services.PaymentEvent{
			InvoiceID:  strconv.FormatInt(update.Payload.InvoiceID, 10),
			PaidAmount: update.Payload.Amount,
			PaidAsset:  update.Payload.Asset,
		}
		if err := reconciler.HandlePaymentEvent(c.Context(), event); err != nil {
			if errors.Is(err, services.ErrPriceUnavailable) {
				log.Printf("⏳ [WEBHOOK] invoice %s deferred, oracle unavailable", event.InvoiceID)
				return c.Status(fiber.StatusServiceUnavailable).SendString("RETRY")
			}
			log.Printf("❌ [WEBHOOK] failed to process invoice %s: %v", event.InvoiceID, err)
			return c.Status(fiber.StatusInternalServerError).SendString("ERROR")
		}
		return c.SendString("OK")
	})
}
