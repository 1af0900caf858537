package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"number-shop-system/handlers"
	"number-shop-system/middleware"
	"number-shop-system/models"
	"number-shop-system/services"
	"number-shop-system/utils"
	"number-shop-system/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}

	app := fiber.New(fiber.Config{})

	// 🔐 GLOBAL: only Gateway requests allowed (webhook/status exempt).
	app.Use(middleware.GatewayAuthMiddleware())

	allowedOriginsEnv := os.Getenv("ALLOWED_ORIGINS")
	if allowedOriginsEnv == "" {
		log.Println("⚠️  ALLOWED_ORIGINS environment variable not set, using default: http://localhost:3000")
		allowedOriginsEnv = "http://localhost:3000"
	}
	allowedOriginsList := strings.Split(allowedOriginsEnv, ",")
	for i, origin := range allowedOriginsList {
		allowedOriginsList[i] = strings.TrimSpace(origin)
	}
	allowedOriginsString := strings.Join(allowedOriginsList, ",")

	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOriginsString,
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH,HEAD",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, User-Agent, Cache-Control, X-Service-Token, X-User-ID, X-User-Roles",
		ExposeHeaders:    "Content-Length, Content-Type, Authorization, X-Request-ID",
		AllowCredentials: true,
		MaxAge:           86400, // 24 hours
	}))

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL environment variable not set")
	}

	if err := utils.InitR2(); err != nil {
		log.Fatal("failed to initialize R2 client:", err)
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatal("failed to connect to database:", err)
	}

	if err := db.AutoMigrate(
		&models.Account{},
		&models.DepositIntent{},
		&models.ReferralLink{},
	); err != nil {
		log.Fatal("failed to migrate database:", err)
	}

	clock := clockwork.NewRealClock()

	oracle := services.NewCoinGeckoOracle(clock)
	cryptoPay := services.NewCryptoPayClient(oracle)
	notifier := services.NewGatewayNotifier()

	ledgerService := services.NewLedgerService(db)
	referralService := services.NewReferralService(db)
	depositService := services.NewDepositService(db, cryptoPay)
	reconcilerService := services.NewReconcilerService(db, depositService, oracle, notifier)

	limiter := middleware.NewRateLimiter(clock)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go workers.PollRates(ctx, oracle, 5*time.Minute)

	depositService.StartMaintenanceScheduler()

	handlers.SetupUserRoutes(app, ledgerService, referralService, limiter)
	handlers.SetupDepositRoutes(app, depositService, limiter)
	handlers.SetupWebhookRoutes(app, reconcilerService)
	handlers.SetupAdminRoutes(app, ledgerService, reconcilerService, depositService)
	handlers.SetupStatusRoutes(app, db)

	go func() {
		if err := app.Listen(":5300"); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	log.Println("✅ Server running on http://localhost:5300")
	log.Println("✅ Exchange-rate polling running (every 5m)")
	log.Println("✅ Intent maintenance scheduler running")
	log.Println("✅ GatewayAuthMiddleware enforced — webhook and status endpoints exempt")
	log.Printf("✅ CORS configured for origins: %s", allowedOriginsString)

	<-ctx.Done()
	log.Println("Shutting down server...")
}
