package coupon

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Ineligibility reasons reported by Evaluate. These describe expected
// negative outcomes, so they travel in the Verdict rather than as errors.
const (
	ReasonInactive     = "coupon is inactive"
	ReasonExpired      = "coupon has expired"
	ReasonUsageLimit   = "coupon usage limit reached"
	ReasonBelowMinimum = "order subtotal below coupon minimum"
)

// Verdict is the structured outcome of an eligibility check.
type Verdict struct {
	Eligible bool
	Reason   string
}

// Evaluate checks whether a rule may be applied to an order with the given
// subtotal at the given instant. All conditions must hold: the coupon is
// active, not expired, its usage limit is not exhausted, and the subtotal
// meets the minimum order (zero minimum always passes).
func Evaluate(rule *Rule, subtotal decimal.Decimal, now time.Time) Verdict {
	switch {
	case !rule.Active:
		return Verdict{Reason: ReasonInactive}
	case rule.ExpiresAt != nil && !now.Before(*rule.ExpiresAt):
		return Verdict{Reason: ReasonExpired}
	case rule.UsageLimit > 0 && rule.UsedCount >= rule.UsageLimit:
		return Verdict{Reason: ReasonUsageLimit}
	case subtotal.LessThan(rule.MinimumOrder):
		return Verdict{Reason: ReasonBelowMinimum}
	}
	return Verdict{Eligible: true}
}

// Apply calculates the discount for an eligible rule against the subtotal.
// Percentage discounts take value% of the subtotal; fixed discounts subtract
// the value directly. Either way the amount is capped at the subtotal so the
// discount can never exceed it (a percentage value over 100 would otherwise
// price the order negative), floored at zero, and rounded to 2 decimal
// places.
func Apply(rule *Rule, subtotal decimal.Decimal) (Discount, error) {
	var amount decimal.Decimal
	switch rule.DiscountType {
	case DiscountPercentage:
		amount = decimal.Min(subtotal.Mul(rule.Value).Div(hundred), subtotal)
	case DiscountFixed:
		amount = decimal.Min(rule.Value, subtotal)
	default:
		return Discount{}, errors.Errorf("unsupported discount type: %q", rule.DiscountType)
	}

	if amount.IsNegative() {
		amount = decimal.Zero
	}

	return Discount{
		Amount:      amount.Round(2),
		Description: rule.Description,
	}, nil
}
