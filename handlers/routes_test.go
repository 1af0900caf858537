package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"number-shop-system/middleware"
	"number-shop-system/models"
	"number-shop-system/services"

	"github.com/gofiber/fiber/v2"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const testGatewayToken = "test-gateway-token"

// Rate of 5 fiat per crypto unit, matching the fake invoicer's quotes.
type fakeOracle struct{}

func (fakeOracle) Convert(_ context.Context, fiatAmount decimal.Decimal, _ string) (decimal.Decimal, error) {
	return fiatAmount.Div(decimal.NewFromInt(5)).Round(8), nil
}

type fakeNotifier struct{}

func (fakeNotifier) NotifyUser(int64, string) error { return nil }
func (fakeNotifier) NotifyAdmin(string) error       { return nil }

type fakeInvoicer struct{ next int64 }

func (f *fakeInvoicer) CreateInvoice(_ context.Context, _ int64, fiatAmount decimal.Decimal, asset string) (*services.Invoice, error) {
	f.next++
	return &services.Invoice{
		ID:           fmt.Sprintf("%d", 88000+f.next),
		PayURL:       fmt.Sprintf("https://pay.example/invoice/%d", 88000+f.next),
		CryptoAmount: fiatAmount.Div(decimal.NewFromInt(5)).Round(8),
		Asset:        asset,
	}, nil
}

// newTestApp assembles the full route stack the way main does: global gateway
// auth in front, then every Setup*Routes registration, backed by an in-memory
// database and fakes for the external services.
func newTestApp(t *testing.T, clock clockwork.Clock) (*fiber.App, *services.LedgerService) {
	t.Helper()
	t.Setenv("NUMBER_SERVICE_TOKEN", testGatewayToken)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	if err := db.AutoMigrate(&models.Account{}, &models.DepositIntent{}, &models.ReferralLink{}); err != nil {
		t.Fatalf("failed to migrate test db: %v", err)
	}

	ledger := services.NewLedgerService(db)
	referrals := services.NewReferralService(db)
	deposits := services.NewDepositService(db, &fakeInvoicer{})
	reconciler := services.NewReconcilerService(db, deposits, fakeOracle{}, fakeNotifier{})
	limiter := middleware.NewRateLimiter(clock)

	app := fiber.New()
	app.Use(middleware.GatewayAuthMiddleware())
	SetupUserRoutes(app, ledger, referrals, limiter)
	SetupDepositRoutes(app, deposits, limiter)
	SetupWebhookRoutes(app, reconciler)
	SetupAdminRoutes(app, ledger, reconciler, deposits)
	SetupStatusRoutes(app, db)
	return app, ledger
}

// doJSON sends a request through the assembled app. A non-empty userID adds
// the gateway auth and identity headers; an empty one sends a bare request
// the way the payment provider or an uptime monitor would.
func doJSON(t *testing.T, app *fiber.App, method, path string, body interface{}, userID string) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal request body: %v", err)
		}
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+testGatewayToken)
		req.Header.Set("X-User-ID", userID)
	}
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	return resp
}

func TestHealthAndWebhookNeedNoIdentity(t *testing.T) {
	app, _ := newTestApp(t, clockwork.NewFakeClock())

	for _, path := range []string{"/status", "/uptime", "/"} {
		resp := doJSON(t, app, fiber.MethodGet, path, nil, "")
		if resp.StatusCode != fiber.StatusOK {
			t.Errorf("GET %s without headers: expected 200, got %d", path, resp.StatusCode)
		}
	}

	// Provider callbacks carry neither gateway auth nor identity headers.
	// An unknown invoice is absorbed with OK so the provider stops retrying.
	resp := doJSON(t, app, fiber.MethodPost, "/webhook", fiber.Map{
		"update_type": "invoice_paid",
		"payload":     fiber.Map{"invoice_id": 999999, "amount": 1, "asset": "USDT"},
	}, "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("POST /webhook without headers: expected 200, got %d", resp.StatusCode)
	}
}

func TestDepositOpenAdmittedOnceThenBurstDropped(t *testing.T) {
	clock := clockwork.NewFakeClock()
	app, _ := newTestApp(t, clock)

	resp := doJSON(t, app, fiber.MethodPost, "/user/account", fiber.Map{
		"username": "u", "first_name": "U",
	}, "55")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("account create: expected 200, got %d", resp.StatusCode)
	}

	clock.Advance(600 * time.Millisecond)
	open := fiber.Map{"amount": 40, "asset": "USDT"}

	resp = doJSON(t, app, fiber.MethodPost, "/user/deposits", open, "55")
	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("first deposit open: expected 201, got %d", resp.StatusCode)
	}

	// Immediate repeat is a double-tap and trips the burst gate exactly once.
	resp = doJSON(t, app, fiber.MethodPost, "/user/deposits", open, "55")
	if resp.StatusCode != fiber.StatusTooManyRequests {
		t.Fatalf("immediate repeat: expected 429, got %d", resp.StatusCode)
	}

	clock.Advance(600 * time.Millisecond)
	resp = doJSON(t, app, fiber.MethodPost, "/user/deposits", open, "55")
	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("deposit open after cooldown: expected 201, got %d", resp.StatusCode)
	}
}

func TestReadsBypassRateAdmission(t *testing.T) {
	app, _ := newTestApp(t, clockwork.NewFakeClock())

	// Back-to-back reads with no clock movement must all pass.
	for i := 0; i < 5; i++ {
		resp := doJSON(t, app, fiber.MethodGet, "/user/balance", nil, "77")
		if resp.StatusCode != fiber.StatusOK {
			t.Fatalf("read %d: expected 200, got %d", i+1, resp.StatusCode)
		}
	}
	resp := doJSON(t, app, fiber.MethodGet, "/user/referral", nil, "77")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("GET /user/referral: expected 200, got %d", resp.StatusCode)
	}
}

func TestWebhookConfirmsDepositThroughFullStack(t *testing.T) {
	clock := clockwork.NewFakeClock()
	app, ledger := newTestApp(t, clock)

	resp := doJSON(t, app, fiber.MethodPost, "/user/account", fiber.Map{
		"username": "u", "first_name": "U",
	}, "9")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("account create: expected 200, got %d", resp.StatusCode)
	}

	clock.Advance(600 * time.Millisecond)
	resp = doJSON(t, app, fiber.MethodPost, "/user/deposits", fiber.Map{
		"amount": 100, "asset": "USDT",
	}, "9")
	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("deposit open: expected 201, got %d", resp.StatusCode)
	}
	var opened struct {
		InvoiceID string `json:"invoice_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&opened); err != nil {
		t.Fatalf("failed to decode open response: %v", err)
	}
	var invoiceID int64
	if _, err := fmt.Sscanf(opened.InvoiceID, "%d", &invoiceID); err != nil {
		t.Fatalf("unexpected invoice id %q: %v", opened.InvoiceID, err)
	}

	// 100 fiat at rate 5 is 20 crypto, exactly what the oracle expects.
	resp = doJSON(t, app, fiber.MethodPost, "/webhook", fiber.Map{
		"update_type": "invoice_paid",
		"payload":     fiber.Map{"invoice_id": invoiceID, "amount": 20, "asset": "USDT"},
	}, "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("webhook: expected 200, got %d", resp.StatusCode)
	}

	acct, err := ledger.GetAccount(9)
	if err != nil {
		t.Fatalf("expected account, got %v", err)
	}
	if !acct.BaseBalance.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("expected base 100 after webhook, got %s", acct.BaseBalance)
	}
	if acct.FreeNumbers != 10 {
		t.Fatalf("expected 10 free numbers from the 100 tier, got %d", acct.FreeNumbers)
	}
}
