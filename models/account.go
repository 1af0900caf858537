package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account holds a user's spendable funds, split into a base balance (real
// deposits) and a bonus balance (promotional credit). Users only ever see the
// sum; the split exists so bonus money is spent before principal.
// Balance fields are written exclusively by the ledger/reconciler services.
type Account struct {
	UserID    int64  `gorm:"primaryKey" json:"user_id"` // Telegram user ID from the gateway
	Username  string `json:"username,omitempty"`
	FirstName string `json:"first_name,omitempty"`

	BaseBalance    decimal.Decimal `gorm:"type:decimal(15,2);not null;default:0" json:"base_balance"`
	BonusBalance   decimal.Decimal `gorm:"type:decimal(15,2);not null;default:0" json:"bonus_balance"`
	TotalDeposited decimal.Decimal `gorm:"type:decimal(15,2);not null;default:0" json:"total_deposited"`

	// Non-monetary entitlement, consumed by the number-purchase flow.
	FreeNumbers int `gorm:"not null;default:0" json:"free_numbers"`

	// Set once at account creation, immutable afterwards.
	ReferrerID *int64 `gorm:"index" json:"referrer_id,omitempty"`

	// Incremented when a referred account's first qualifying deposit confirms.
	ValidReferrals int `gorm:"not null;default:0" json:"valid_referrals"`

	// Guards the one-time referral reward for this account's own deposits.
	ReferralRewarded bool `gorm:"not null;default:false" json:"referral_rewarded"`

	Timestamps
}

// SpendableTotal is the only balance figure exposed to users.
func (a *Account) SpendableTotal() decimal.Decimal {
	return a.BaseBalance.Add(a.BonusBalance)
}

// Timestamps adds GORM auto-times
type Timestamps struct {
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}
