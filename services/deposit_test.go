package services

import (
	"context"
	"testing"
	"time"

	"number-shop-system/models"

	"github.com/shopspring/decimal"
)

func TestOpenFreezesPolicyOutputs(t *testing.T) {
	deposits := NewDepositService(newTestDB(t), &fakeInvoicer{})

	intent, payURL, err := deposits.Open(context.Background(), 1, decimal.NewFromInt(100), "USDT")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if payURL == "" {
		t.Fatal("expected a pay URL")
	}
	if intent.Status != models.IntentStatusPending {
		t.Fatalf("expected pending status, got %s", intent.Status)
	}
	if !intent.BonusAmount.Equal(decimal.NewFromInt(20)) {
		t.Fatalf("expected frozen bonus 20, got %s", intent.BonusAmount)
	}
	if intent.FreeNumbers != 10 {
		t.Fatalf("expected frozen free numbers 10, got %d", intent.FreeNumbers)
	}

	got, err := deposits.Lookup(intent.InvoiceID)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if got.UserID != 1 || !got.ExpectedFiat.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("unexpected intent round trip: %+v", got)
	}
}

func TestOpenRejectsNonPositiveAmount(t *testing.T) {
	deposits := NewDepositService(newTestDB(t), &fakeInvoicer{})

	if _, _, err := deposits.Open(context.Background(), 1, decimal.Zero, "USDT"); err != ErrInvalidAmount {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if _, _, err := deposits.Open(context.Background(), 1, decimal.NewFromInt(-5), "USDT"); err != ErrInvalidAmount {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestLookupUnknownInvoice(t *testing.T) {
	deposits := NewDepositService(newTestDB(t), &fakeInvoicer{})

	if _, err := deposits.Lookup("does-not-exist"); err != ErrIntentNotFound {
		t.Fatalf("expected ErrIntentNotFound, got %v", err)
	}
}

func TestMarkConfirmedIsOneShot(t *testing.T) {
	deposits := NewDepositService(newTestDB(t), &fakeInvoicer{})

	intent, _, err := deposits.Open(context.Background(), 1, decimal.NewFromInt(50), "TON")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	applied, err := deposits.MarkConfirmed(intent.InvoiceID, mustDec(t, "10.0"), "TON")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !applied {
		t.Fatal("expected first transition to apply")
	}

	applied, err = deposits.MarkConfirmed(intent.InvoiceID, mustDec(t, "10.0"), "TON")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if applied {
		t.Fatal("expected replayed transition to be a no-op")
	}

	// A confirmed intent cannot flip to mismatch either.
	applied, err = deposits.MarkMismatch(intent.InvoiceID, mustDec(t, "1.0"), "late replay")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if applied {
		t.Fatal("expected mismatch on confirmed intent to be a no-op")
	}

	got, _ := deposits.Lookup(intent.InvoiceID)
	if got.Status != models.IntentStatusConfirmed {
		t.Fatalf("expected confirmed, got %s", got.Status)
	}
	if got.ConfirmedAt == nil {
		t.Fatal("expected confirmedAt to be set")
	}
}

func TestMarkMismatchRecordsNote(t *testing.T) {
	deposits := NewDepositService(newTestDB(t), &fakeInvoicer{})

	intent, _, err := deposits.Open(context.Background(), 1, decimal.NewFromInt(50), "BTC")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	applied, err := deposits.MarkMismatch(intent.InvoiceID, mustDec(t, "0.0001"), "expected 0.0002, received 0.0001")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !applied {
		t.Fatal("expected mismatch transition to apply")
	}

	got, _ := deposits.Lookup(intent.InvoiceID)
	if got.Status != models.IntentStatusMismatch {
		t.Fatalf("expected amount_mismatch, got %s", got.Status)
	}
	if got.Note == "" {
		t.Fatal("expected a diagnostic note")
	}
	if got.PaidAmount == nil || !got.PaidAmount.Equal(mustDec(t, "0.0001")) {
		t.Fatalf("expected paid amount recorded, got %v", got.PaidAmount)
	}
}

func TestExpireStaleOnlyTouchesOldPendings(t *testing.T) {
	db := newTestDB(t)
	deposits := NewDepositService(db, &fakeInvoicer{})

	stale, _, err := deposits.Open(context.Background(), 1, decimal.NewFromInt(20), "USDT")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	fresh, _, err := deposits.Open(context.Background(), 1, decimal.NewFromInt(20), "USDT")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	// Age the first intent past the TTL.
	old := time.Now().Add(-2 * time.Hour)
	if err := db.Model(&models.DepositIntent{}).
		Where("invoice_id = ?", stale.InvoiceID).
		Update("created_at", old).Error; err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	expired, err := deposits.ExpireStale(InvoiceExpiresIn)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if expired != 1 {
		t.Fatalf("expected 1 expired intent, got %d", expired)
	}

	gotStale, _ := deposits.Lookup(stale.InvoiceID)
	if gotStale.Status != models.IntentStatusExpired {
		t.Fatalf("expected expired, got %s", gotStale.Status)
	}
	gotFresh, _ := deposits.Lookup(fresh.InvoiceID)
	if gotFresh.Status != models.IntentStatusPending {
		t.Fatalf("expected fresh intent to stay pending, got %s", gotFresh.Status)
	}
}
