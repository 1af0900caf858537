package services

import "github.com/shopspring/decimal"

// Recharge bonus tiers, keyed on the fiat principal. Tier thresholds and the
// referral threshold are product policy and deliberately hard-coded.
var (
	tier200 = decimal.NewFromInt(200)
	tier100 = decimal.NewFromInt(100)
	tier50  = decimal.NewFromInt(50)

	// Minimum principal for a deposit to count toward referral rewards.
	// Independent of the bonus tiers above.
	ReferralThreshold = decimal.NewFromInt(20)
)

// DepositBonus is what a confirmed deposit earns on top of its principal.
type DepositBonus struct {
	Bonus       decimal.Decimal
	FreeNumbers int
}

// CalcDepositBonus returns the promotional credit and free-number grant for a
// given principal. Deterministic; used at invoice-open time and by the admin
// force-confirm path so both always agree.
func CalcDepositBonus(principal decimal.Decimal) DepositBonus {
	switch {
	case principal.GreaterThanOrEqual(tier200):
		return DepositBonus{Bonus: decimal.NewFromInt(50), FreeNumbers: 20}
	case principal.GreaterThanOrEqual(tier100):
		return DepositBonus{Bonus: decimal.NewFromInt(20), FreeNumbers: 10}
	case principal.GreaterThanOrEqual(tier50):
		return DepositBonus{Bonus: decimal.NewFromInt(8), FreeNumbers: 5}
	default:
		return DepositBonus{Bonus: decimal.Zero, FreeNumbers: 0}
	}
}

// ReferralEligible reports whether a deposit of this principal can trigger
// the referral reward cascade.
func ReferralEligible(principal decimal.Decimal) bool {
	return principal.GreaterThanOrEqual(ReferralThreshold)
}
