package services

import (
	"context"
	"fmt"
	"log"

	"number-shop-system/models"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Allowed drift between the expected and the received crypto amount (1%).
// Absorbs oracle price movement between invoice creation and payment.
var toleranceEpsilon = decimal.RequireFromString("0.01")

// PaymentEvent is one provider webhook callback. The provider retries
// delivery until acknowledged, so the same event may arrive many times.
type PaymentEvent struct {
	InvoiceID  string
	PaidAmount decimal.Decimal
	PaidAsset  string
}

// ReconcilerService matches provider callbacks to pending intents, validates
// the paid amount against a live re-derivation of the expected crypto amount,
// and credits the ledger exactly once per invoice.
type ReconcilerService struct {
	DB       *gorm.DB
	Intents  *DepositService
	Oracle   PriceOracle
	Notifier Notifier
}

func NewReconcilerService(db *gorm.DB, intents *DepositService, oracle PriceOracle, notifier Notifier) *ReconcilerService {
	return &ReconcilerService{DB: db, Intents: intents, Oracle: oracle, Notifier: notifier}
}

// HandlePaymentEvent drives the per-invoice state machine:
//
//	pending -> confirmed         paid amount inside the tolerance band
//	pending -> amount_mismatch   paid amount outside the band (no credit)
//
// Unknown or already-settled invoices are absorbed silently. An unavailable
// oracle returns an error so the caller leaves the intent pending and the
// provider retries; it is never treated as a mismatch.
func (s *ReconcilerService) HandlePaymentEvent(ctx context.Context, event PaymentEvent) error {
	intent, err := s.Intents.Lookup(event.InvoiceID)
	if err != nil {
		if err == ErrIntentNotFound {
			log.Printf("[RECONCILER] ignoring callback for unknown invoice %s", event.InvoiceID)
			return nil
		}
		return err
	}
	if intent.Status != models.IntentStatusPending {
		log.Printf("[RECONCILER] invoice %s already %s — duplicate callback absorbed", intent.InvoiceID, intent.Status)
		return nil
	}

	// Price check happens before any ledger mutation and outside any lock.
	expected, err := s.Oracle.Convert(ctx, intent.ExpectedFiat, intent.Asset)
	if err != nil {
		return fmt.Errorf("cannot verify invoice %s: %w", intent.InvoiceID, err)
	}

	lower := expected.Mul(decimal.NewFromInt(1).Sub(toleranceEpsilon))
	upper := expected.Mul(decimal.NewFromInt(1).Add(toleranceEpsilon))

	if event.PaidAmount.LessThan(lower) || event.PaidAmount.GreaterThan(upper) {
		return s.settleMismatch(intent, event, expected)
	}
	return s.settleConfirmed(intent, event, expected)
}

// settleMismatch parks the invoice for manual review. Fail-closed: neither
// underpayment nor overpayment is ever credited automatically.
func (s *ReconcilerService) settleMismatch(intent *models.DepositIntent, event PaymentEvent, expected decimal.Decimal) error {
	note := fmt.Sprintf("expected %s %s, received %s %s", expected, intent.Asset, event.PaidAmount, event.PaidAsset)
	applied, err := s.Intents.MarkMismatch(intent.InvoiceID, event.PaidAmount, note)
	if err != nil {
		return err
	}
	if !applied {
		return nil // lost the race to another delivery
	}

	log.Printf("🚫 [RECONCILER] amount mismatch on invoice %s: %s", intent.InvoiceID, note)
	diffPct := event.PaidAmount.Sub(expected).Div(expected).Mul(decimal.NewFromInt(100))
	alert := fmt.Sprintf(
		"🚫 PAYMENT AMOUNT MISMATCH!\n\n"+
			"👤 User: %d\n"+
			"🆔 Invoice: %s\n"+
			"💰 Expected: %s %s\n"+
			"💳 Received: %s %s\n"+
			"📊 Difference: %s%%\n\n"+
			"⚠️ Payment was NOT credited — manual review required.",
		intent.UserID, intent.InvoiceID,
		expected, intent.Asset,
		event.PaidAmount, event.PaidAsset,
		diffPct.StringFixed(2),
	)
	if err := s.Notifier.NotifyAdmin(alert); err != nil {
		log.Printf("[RECONCILER] failed to alert admin about invoice %s: %v", intent.InvoiceID, err)
	}
	return nil
}

// settleConfirmed flips the intent to confirmed and applies the full credit
// unit in one transaction. The conditional status update is the idempotency
// barrier: whichever delivery wins the flip also owns the credit.
func (s *ReconcilerService) settleConfirmed(intent *models.DepositIntent, event PaymentEvent, expected decimal.Decimal) error {
	var credit DepositCredit
	applied := false

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		ok, err := markConfirmedTx(tx, intent.InvoiceID, event.PaidAmount, event.PaidAsset)
		if err != nil {
			return err
		}
		if !ok {
			return nil // already settled by a concurrent delivery
		}
		applied = true

		bonus := DepositBonus{Bonus: intent.BonusAmount, FreeNumbers: intent.FreeNumbers}
		credit, err = creditConfirmedDeposit(tx, intent.UserID, intent.ExpectedFiat, bonus)
		return err
	})
	if err != nil {
		return err
	}
	if !applied {
		return nil
	}

	log.Printf("✅ [RECONCILER] invoice %s confirmed: user=%d principal=%s bonus=%s (paid %s %s, expected %s)",
		intent.InvoiceID, intent.UserID, credit.Principal, credit.Bonus, event.PaidAmount, event.PaidAsset, expected)
	s.notifyCredited(intent.UserID, credit)
	return nil
}

// ConfirmManual is the admin override: credit a deposit for a user without a
// provider invoice, running the same credit unit as the webhook path.
func (s *ReconcilerService) ConfirmManual(userID int64, principal decimal.Decimal) (DepositCredit, error) {
	if !principal.IsPositive() {
		return DepositCredit{}, ErrInvalidAmount
	}

	var credit DepositCredit
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var err error
		credit, err = creditConfirmedDeposit(tx, userID, principal, CalcDepositBonus(principal))
		return err
	})
	if err != nil {
		return DepositCredit{}, err
	}

	log.Printf("✅ [RECONCILER] manual confirmation: user=%d principal=%s bonus=%s", userID, credit.Principal, credit.Bonus)
	s.notifyCredited(userID, credit)
	return credit, nil
}

func (s *ReconcilerService) notifyCredited(userID int64, credit DepositCredit) {
	msg := fmt.Sprintf(
		"✅ PAYMENT CONFIRMED!\n\n"+
			"💰 Amount paid: %s\n"+
			"🎁 Recharge bonus: %s\n"+
			"📊 Total credited: %s\n",
		credit.Principal.StringFixed(2),
		credit.Bonus.StringFixed(2),
		credit.Principal.Add(credit.Bonus).StringFixed(2),
	)
	if credit.FreeNumbers > 0 {
		msg += fmt.Sprintf("🎯 Free numbers: %d\n", credit.FreeNumbers)
	}
	if credit.ReferralRewarded {
		msg += fmt.Sprintf("🎁 EXTRA: +%d free numbers for joining through a referral!\n", ReferralFreeNumbers)
	}
	msg += "\n🚀 Your balance has been updated!"

	if err := s.Notifier.NotifyUser(userID, msg); err != nil {
		log.Printf("[RECONCILER] failed to notify user %d: %v", userID, err)
	}

	if credit.ReferralRewarded {
		reward := fmt.Sprintf(
			"🎉 REFERRAL REWARD!\n\n"+
				"💰 Your referral deposited %s!\n"+
				"🎁 You earned %d FREE numbers!",
			credit.Principal.StringFixed(2), ReferralFreeNumbers,
		)
		if err := s.Notifier.NotifyUser(credit.ReferrerID, reward); err != nil {
			log.Printf("[RECONCILER] failed to notify referrer %d: %v", credit.ReferrerID, err)
		}
	}
}
