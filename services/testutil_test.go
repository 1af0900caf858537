package services

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"number-shop-system/models"

	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// newTestDB opens a per-test in-memory sqlite database with the full schema.
// The DSN is keyed by test name so parallel tests never share state.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
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
	return db
}

// fakeOracle converts at a fixed fiat-per-unit rate, or fails.
type fakeOracle struct {
	rate decimal.Decimal
	err  error
}

func (o *fakeOracle) Convert(_ context.Context, fiatAmount decimal.Decimal, _ string) (decimal.Decimal, error) {
	if o.err != nil {
		return decimal.Zero, o.err
	}
	return fiatAmount.Div(o.rate).Round(8), nil
}

// fakeNotifier records every message so tests can assert on delivery counts.
type fakeNotifier struct {
	userMsgs  map[int64][]string
	adminMsgs []string
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{userMsgs: make(map[int64][]string)}
}

func (n *fakeNotifier) NotifyUser(userID int64, text string) error {
	n.userMsgs[userID] = append(n.userMsgs[userID], text)
	return nil
}

func (n *fakeNotifier) NotifyAdmin(text string) error {
	n.adminMsgs = append(n.adminMsgs, text)
	return nil
}

// fakeInvoicer hands out sequential invoice IDs without touching the network.
type fakeInvoicer struct {
	next int64
	err  error
}

func (f *fakeInvoicer) CreateInvoice(_ context.Context, _ int64, fiatAmount decimal.Decimal, asset string) (*Invoice, error) {
	if f.err != nil {
		return nil, f.err
	}
	id := atomic.AddInt64(&f.next, 1)
	return &Invoice{
		ID:           fmt.Sprintf("%d", 77000+id),
		PayURL:       fmt.Sprintf("https://pay.example/invoice/%d", 77000+id),
		CryptoAmount: fiatAmount.Div(decimal.NewFromInt(5)).Round(8),
		Asset:        asset,
	}, nil
}

func mustDec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("bad decimal literal %q: %v", s, err)
	}
	return d
}
