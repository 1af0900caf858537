package services

import (
	"errors"
	"fmt"
	"log"

	"number-shop-system/models"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Credited to the bonus balance of every newly created account.
var WelcomeBonus = decimal.RequireFromString("0.50")

// Free numbers granted to both sides when a referred account's first
// qualifying deposit confirms.
const ReferralFreeNumbers = 2

var (
	ErrAccountNotFound     = errors.New("account not found")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrNegativeAmount      = errors.New("amount must not be negative")
)

// LedgerService owns all balance state. Every mutation runs inside a
// transaction with the account row locked (SELECT ... FOR UPDATE), so
// concurrent mutations on one account serialize while different accounts
// proceed independently.
type LedgerService struct {
	DB *gorm.DB
}

func NewLedgerService(db *gorm.DB) *LedgerService {
	return &LedgerService{DB: db}
}

// CreateAccount inserts the account if it does not exist yet and reports
// whether it was created. New accounts get the welcome bonus and, if a
// referrer is given, a permanent referrer link. Existing accounts are left
// untouched; in particular a referrer can never be attached later.
func (s *LedgerService) CreateAccount(userID int64, username, firstName string, referrerID *int64) (bool, error) {
	if referrerID != nil && *referrerID == userID {
		referrerID = nil // self-referral is ignored, not an error
	}

	acct := models.Account{
		UserID:         userID,
		Username:       username,
		FirstName:      firstName,
		BaseBalance:    decimal.Zero,
		BonusBalance:   WelcomeBonus,
		TotalDeposited: decimal.Zero,
		ReferrerID:     referrerID,
	}

	res := s.DB.Clauses(clause.OnConflict{DoNothing: true}).Create(&acct)
	if res.Error != nil {
		return false, res.Error
	}
	created := res.RowsAffected == 1
	if created {
		log.Printf("🆕 Account created: user=%d referrer=%v", userID, referrerID)
	}
	return created, nil
}

// GetBalance returns the spendable total. A non-existent account is simply a
// zero balance, never an error.
func (s *LedgerService) GetBalance(userID int64) (decimal.Decimal, error) {
	var acct models.Account
	if err := s.DB.First(&acct, "user_id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return decimal.Zero, nil
		}
		return decimal.Zero, err
	}
	return acct.SpendableTotal(), nil
}

// GetAccount fetches the full account row.
func (s *LedgerService) GetAccount(userID int64) (*models.Account, error) {
	var acct models.Account
	if err := s.DB.First(&acct, "user_id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &acct, nil
}

// ApplyDeposit credits a confirmed deposit: principal to the base balance,
// bonus to the bonus balance, principal to the lifetime total. All three move
// together or not at all.
func (s *LedgerService) ApplyDeposit(userID int64, principal, bonus decimal.Decimal) error {
	if principal.IsNegative() || bonus.IsNegative() {
		return ErrNegativeAmount
	}
	return s.DB.Transaction(func(tx *gorm.DB) error {
		return applyDepositTx(tx, userID, principal, bonus)
	})
}

func applyDepositTx(tx *gorm.DB, userID int64, principal, bonus decimal.Decimal) error {
	acct, err := lockAccount(tx, userID)
	if err != nil {
		return err
	}
	acct.BaseBalance = acct.BaseBalance.Add(principal)
	acct.BonusBalance = acct.BonusBalance.Add(bonus)
	acct.TotalDeposited = acct.TotalDeposited.Add(principal)
	return tx.Save(acct).Error
}

// Spend deducts amount from the account, bonus balance first and only the
// remainder from the base balance. Returns false with no mutation when the
// spendable total does not cover the amount, a normal outcome rather than an error.
func (s *LedgerService) Spend(userID int64, amount decimal.Decimal) (bool, error) {
	if amount.IsNegative() {
		return false, ErrNegativeAmount
	}
	ok := false
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		acct, err := lockAccount(tx, userID)
		if err != nil {
			if errors.Is(err, ErrAccountNotFound) {
				return nil // no account, nothing spendable
			}
			return err
		}
		if acct.SpendableTotal().LessThan(amount) {
			return nil
		}

		if acct.BonusBalance.GreaterThanOrEqual(amount) {
			acct.BonusBalance = acct.BonusBalance.Sub(amount)
		} else {
			remainder := amount.Sub(acct.BonusBalance)
			acct.BonusBalance = decimal.Zero
			acct.BaseBalance = acct.BaseBalance.Sub(remainder)
		}
		if err := tx.Save(acct).Error; err != nil {
			return err
		}
		ok = true
		return nil
	})
	return ok, err
}

// GrantBonus adds promotional credit only; the base balance and lifetime
// deposit total are untouched.
func (s *LedgerService) GrantBonus(userID int64, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return ErrNegativeAmount
	}
	return s.DB.Transaction(func(tx *gorm.DB) error {
		acct, err := lockAccount(tx, userID)
		if err != nil {
			return err
		}
		acct.BonusBalance = acct.BonusBalance.Add(amount)
		return tx.Save(acct).Error
	})
}

// GrantFreeNumbers adds free-number credits, independent of any balance.
func (s *LedgerService) GrantFreeNumbers(userID int64, count int) error {
	if count < 0 {
		return ErrNegativeAmount
	}
	res := s.DB.Model(&models.Account{}).
		Where("user_id = ?", userID).
		UpdateColumn("free_numbers", gorm.Expr("free_numbers + ?", count))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// DepositCredit describes everything a confirmed deposit produced, so callers
// can build user/referrer notifications after the transaction commits.
type DepositCredit struct {
	Principal        decimal.Decimal
	Bonus            decimal.Decimal
	FreeNumbers      int
	ReferralRewarded bool
	ReferrerID       int64
}

// creditConfirmedDeposit runs the full credit unit for a confirmed deposit
// inside the caller's transaction: balance credit, tier free numbers, and the
// one-time referral cascade. Shared by the webhook reconciler and the admin
// force-confirm path.
func creditConfirmedDeposit(tx *gorm.DB, userID int64, principal decimal.Decimal, bonus DepositBonus) (DepositCredit, error) {
	credit := DepositCredit{
		Principal:   principal,
		Bonus:       bonus.Bonus,
		FreeNumbers: bonus.FreeNumbers,
	}

	acct, err := lockAccount(tx, userID)
	if err != nil {
		return credit, err
	}

	acct.BaseBalance = acct.BaseBalance.Add(principal)
	acct.BonusBalance = acct.BonusBalance.Add(bonus.Bonus)
	acct.TotalDeposited = acct.TotalDeposited.Add(principal)
	if bonus.FreeNumbers > 0 {
		acct.FreeNumbers += bonus.FreeNumbers
	}

	if ReferralEligible(principal) && acct.ReferrerID != nil && !acct.ReferralRewarded {
		acct.FreeNumbers += ReferralFreeNumbers
		acct.ReferralRewarded = true

		// Atomic increments on the referrer row; no second lock needed.
		res := tx.Model(&models.Account{}).
			Where("user_id = ?", *acct.ReferrerID).
			UpdateColumns(map[string]interface{}{
				"free_numbers":    gorm.Expr("free_numbers + ?", ReferralFreeNumbers),
				"valid_referrals": gorm.Expr("valid_referrals + ?", 1),
			})
		if res.Error != nil {
			return credit, res.Error
		}
		if res.RowsAffected == 0 {
			return credit, fmt.Errorf("referrer account %d missing: %w", *acct.ReferrerID, ErrAccountNotFound)
		}
		credit.ReferralRewarded = true
		credit.ReferrerID = *acct.ReferrerID
	}

	if err := tx.Save(acct).Error; err != nil {
		return credit, err
	}
	return credit, nil
}

func lockAccount(tx *gorm.DB, userID int64) (*models.Account, error) {
	var acct models.Account
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&acct, "user_id = ?", userID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &acct, nil
}
