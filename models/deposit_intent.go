package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// IntentStatus is the lifecycle state of a deposit intent. The only legal
// transitions are pending -> confirmed | amount_mismatch | expired, each
// applied exactly once via a conditional update on the pending row.
type IntentStatus string

const (
	IntentStatusPending    IntentStatus = "pending"
	IntentStatusConfirmed  IntentStatus = "confirmed"
	IntentStatusMismatch   IntentStatus = "amount_mismatch"
	IntentStatusExpired    IntentStatus = "expired"
)

// DepositIntent records one invoice issued for a deposit attempt. Rows are
// never deleted; terminal states are kept for audit and exported off-site.
type DepositIntent struct {
	ID        string `gorm:"primaryKey;type:uuid" json:"id"`
	InvoiceID string `gorm:"uniqueIndex;not null" json:"invoice_id"` // provider-issued
	UserID    int64  `gorm:"index;not null" json:"user_id"`

	ExpectedFiat decimal.Decimal `gorm:"type:decimal(15,2);not null" json:"expected_fiat"`
	Asset        string          `gorm:"type:varchar(16);not null" json:"asset"`

	// Crypto amount quoted to the user when the invoice was created. Kept for
	// operator diffs; confirmation re-derives the expected amount live.
	QuotedCrypto decimal.Decimal `gorm:"type:decimal(30,8);not null" json:"quoted_crypto"`

	// Bonus policy outputs frozen at open time so the reconciler never has to
	// recompute business rules, only the amount validation.
	BonusAmount decimal.Decimal `gorm:"type:decimal(15,2);not null;default:0" json:"bonus_amount"`
	FreeNumbers int             `gorm:"not null;default:0" json:"free_numbers"`

	Status IntentStatus `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`

	PaidAmount  *decimal.Decimal `gorm:"type:decimal(30,8)" json:"paid_amount,omitempty"`
	PaidAsset   *string          `gorm:"type:varchar(16)" json:"paid_asset,omitempty"`
	Note        string           `gorm:"type:text" json:"note,omitempty"` // mismatch detail
	ConfirmedAt *time.Time       `json:"confirmed_at,omitempty"`

	Timestamps
}
