package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"number-shop-system/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var (
	ErrIntentNotFound = errors.New("deposit intent not found")
	ErrInvalidAmount  = errors.New("deposit amount must be positive")
)

// DepositService is the intent registry: it opens pending intents when a user
// commits to a deposit and owns their one-way status transitions. Terminal
// rows are kept forever for audit.
type DepositService struct {
	DB  *gorm.DB
	Pay InvoiceCreator
}

func NewDepositService(db *gorm.DB, pay InvoiceCreator) *DepositService {
	return &DepositService{DB: db, Pay: pay}
}

// Open creates a provider invoice for the fiat amount in the chosen asset and
// records a pending intent under the provider's invoice ID. The bonus-policy
// outputs are frozen on the row so confirmation never recomputes them.
func (s *DepositService) Open(ctx context.Context, userID int64, fiatAmount decimal.Decimal, asset string) (*models.DepositIntent, string, error) {
	if !fiatAmount.IsPositive() {
		return nil, "", ErrInvalidAmount
	}

	invoice, err := s.Pay.CreateInvoice(ctx, userID, fiatAmount, asset)
	if err != nil {
		return nil, "", err
	}

	policy := CalcDepositBonus(fiatAmount)
	intent := models.DepositIntent{
		ID:           uuid.NewString(),
		InvoiceID:    invoice.ID,
		UserID:       userID,
		ExpectedFiat: fiatAmount,
		Asset:        asset,
		QuotedCrypto: invoice.CryptoAmount,
		BonusAmount:  policy.Bonus,
		FreeNumbers:  policy.FreeNumbers,
		Status:       models.IntentStatusPending,
	}
	if err := s.DB.Create(&intent).Error; err != nil {
		return nil, "", err
	}
	return &intent, invoice.PayURL, nil
}

// Lookup fetches an intent by its provider invoice ID.
func (s *DepositService) Lookup(invoiceID string) (*models.DepositIntent, error) {
	var intent models.DepositIntent
	if err := s.DB.First(&intent, "invoice_id = ?", invoiceID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrIntentNotFound
		}
		return nil, err
	}
	return &intent, nil
}

// MarkConfirmed transitions pending -> confirmed. Returns false when the
// intent was no longer pending, which callers treat as "already processed".
func (s *DepositService) MarkConfirmed(invoiceID string, paidAmount decimal.Decimal, paidAsset string) (bool, error) {
	return markConfirmedTx(s.DB, invoiceID, paidAmount, paidAsset)
}

// MarkMismatch transitions pending -> amount_mismatch with a diagnostic note.
// Same one-shot semantics as MarkConfirmed.
func (s *DepositService) MarkMismatch(invoiceID string, paidAmount decimal.Decimal, note string) (bool, error) {
	return markMismatchTx(s.DB, invoiceID, paidAmount, note)
}

func markConfirmedTx(tx *gorm.DB, invoiceID string, paidAmount decimal.Decimal, paidAsset string) (bool, error) {
	now := time.Now()
	res := tx.Model(&models.DepositIntent{}).
		Where("invoice_id = ? AND status = ?", invoiceID, models.IntentStatusPending).
		Updates(map[string]interface{}{
			"status":       models.IntentStatusConfirmed,
			"paid_amount":  paidAmount,
			"paid_asset":   paidAsset,
			"confirmed_at": now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func markMismatchTx(tx *gorm.DB, invoiceID string, paidAmount decimal.Decimal, note string) (bool, error) {
	res := tx.Model(&models.DepositIntent{}).
		Where("invoice_id = ? AND status = ?", invoiceID, models.IntentStatusPending).
		Updates(map[string]interface{}{
			"status":      models.IntentStatusMismatch,
			"paid_amount": paidAmount,
			"note":        note,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ExpireStale sweeps pendings older than the invoice TTL into the expired
// state and reports how many rows moved.
func (s *DepositService) ExpireStale(olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	res := s.DB.Model(&models.DepositIntent{}).
		Where("status = ? AND created_at < ?", models.IntentStatusPending, cutoff).
		Update("status", models.IntentStatusExpired)
	return res.RowsAffected, res.Error
}

// ListRecent returns the newest intents for the admin audit view.
func (s *DepositService) ListRecent(limit int) ([]models.DepositIntent, error) {
	if limit < 1 || limit > 500 {
		limit = 50
	}
	var intents []models.DepositIntent
	err := s.DB.Order("created_at DESC").Limit(limit).Find(&intents).Error
	return intents, err
}

// IntentsUpdatedSince returns intents touched after the cutoff, oldest first.
// Feeds the daily audit archive export.
func (s *DepositService) IntentsUpdatedSince(since time.Time) ([]models.DepositIntent, error) {
	var intents []models.DepositIntent
	err := s.DB.Where("updated_at >= ?", since).
		Order("updated_at ASC").
		Find(&intents).Error
	if err != nil {
		return nil, fmt.Errorf("fetch intents for audit export: %w", err)
	}
	return intents, nil
}
