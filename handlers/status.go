// handlers/status.go
package handlers

import (
	"time"

	"number-shop-system/models"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// SetupStatusRoutes registers the unauthenticated health endpoints used by
// uptime monitors.
func SetupStatusRoutes(app *fiber.App, db *gorm.DB) {
	status := func(c *fiber.Ctx) error {
		var totalUsers int64
		if err := db.Model(&models.Account{}).Count(&totalUsers).Error; err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"status":  "error",
				"message": err.Error(),
			})
		}
		return c.JSON(fiber.Map{
			"status":    "healthy",
			"service":   "Number Shop System",
			"users":     totalUsers,
			"timestamp": time.Now().Format(time.RFC3339),
		})
	}

	app.Get("/status", status)
	app.Get("/", status)

	app.Get("/uptime", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":    "online",
			"service":   "Number Shop System",
			"timestamp": time.Now().Format(time.RFC3339),
		})
	})
}
