package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// DiscountType enumerates the supported coupon discount strategies.
type DiscountType string

const (
	// DiscountPercentage applies a percentage-based discount to the subtotal.
	DiscountPercentage DiscountType = "percentage"
	// DiscountFixed applies a fixed monetary discount capped at the subtotal.
	DiscountFixed DiscountType = "fixed"
)

var (
	// ErrNotFound is returned when no active coupon exists for a code.
	ErrNotFound = errors.New("coupon not found")
	// ErrUsageExhausted is returned when a guarded usage-counter increment
	// finds the coupon's usage limit already reached.
	ErrUsageExhausted = errors.New("coupon usage limit reached")
)

// Rule defines a coupon's discount behaviour and eligibility constraints.
// A zero MinimumOrder means no minimum; a zero UsageLimit means unlimited use.
type Rule struct {
	ID           string
	Code         string
	DiscountType DiscountType
	Value        decimal.Decimal
	MinimumOrder decimal.Decimal
	UsageLimit   int
	UsedCount    int
	ExpiresAt    *time.Time
	Active       bool
	Description  string
}

// Discount holds the computed discount amount and a human-readable description.
type Discount struct {
	Amount      decimal.Decimal
	Description string
}

// Repository provides lookup of coupon rules. Usage counters are only ever
// mutated inside order transactions, so they have no standalone method here.
type Repository interface {
	// FindByCode looks up an active coupon by code (case-insensitive).
	// Returns ErrNotFound when no matching active coupon exists.
	FindByCode(ctx context.Context, code string) (*Rule, error)
}
