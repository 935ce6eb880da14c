package coupon

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluate(t *testing.T) {
	fixedNow := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	pastTime := fixedNow.Add(-24 * time.Hour)
	futureTime := fixedNow.Add(24 * time.Hour)

	tests := []struct {
		name       string
		rule       Rule
		subtotal   decimal.Decimal
		wantReason string
	}{
		{
			name: "active coupon with no constraints is eligible",
			rule: Rule{
				Code:         "SAVE10",
				DiscountType: DiscountPercentage,
				Value:        decimal.NewFromInt(10),
				Active:       true,
			},
			subtotal: decimal.NewFromInt(100),
		},
		{
			name: "inactive coupon",
			rule: Rule{
				Code:   "DISABLED",
				Active: false,
			},
			subtotal:   decimal.NewFromInt(100),
			wantReason: ReasonInactive,
		},
		{
			name: "expired coupon",
			rule: Rule{
				Code:      "OLD",
				Active:    true,
				ExpiresAt: &pastTime,
			},
			subtotal:   decimal.NewFromInt(100),
			wantReason: ReasonExpired,
		},
		{
			name: "coupon expiring exactly now is expired",
			rule: Rule{
				Code:      "EDGE",
				Active:    true,
				ExpiresAt: &fixedNow,
			},
			subtotal:   decimal.NewFromInt(100),
			wantReason: ReasonExpired,
		},
		{
			name: "coupon expiring in the future is eligible",
			rule: Rule{
				Code:      "FRESH",
				Active:    true,
				ExpiresAt: &futureTime,
			},
			subtotal: decimal.NewFromInt(100),
		},
		{
			name: "usage limit reached",
			rule: Rule{
				Code:       "LIMITED",
				Active:     true,
				UsageLimit: 100,
				UsedCount:  100,
			},
			subtotal:   decimal.NewFromInt(100),
			wantReason: ReasonUsageLimit,
		},
		{
			name: "usage under limit is eligible",
			rule: Rule{
				Code:       "HASROOM",
				Active:     true,
				UsageLimit: 100,
				UsedCount:  99,
			},
			subtotal: decimal.NewFromInt(100),
		},
		{
			name: "zero usage limit means unlimited",
			rule: Rule{
				Code:      "UNLIMITED",
				Active:    true,
				UsedCount: 9999,
			},
			subtotal: decimal.NewFromInt(100),
		},
		{
			name: "subtotal one cent below minimum",
			rule: Rule{
				Code:         "MIN50",
				Active:       true,
				MinimumOrder: decimal.NewFromInt(50),
			},
			subtotal:   decimal.RequireFromString("49.99"),
			wantReason: ReasonBelowMinimum,
		},
		{
			name: "subtotal exactly at minimum is eligible",
			rule: Rule{
				Code:         "MIN50",
				Active:       true,
				MinimumOrder: decimal.NewFromInt(50),
			},
			subtotal: decimal.RequireFromString("50.00"),
		},
		{
			name: "inactive takes priority over other failures",
			rule: Rule{
				Code:         "MULTI",
				Active:       false,
				ExpiresAt:    &pastTime,
				UsageLimit:   1,
				UsedCount:    1,
				MinimumOrder: decimal.NewFromInt(500),
			},
			subtotal:   decimal.NewFromInt(1),
			wantReason: ReasonInactive,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Evaluate(&tt.rule, tt.subtotal, fixedNow)

			if tt.wantReason != "" {
				assert.False(t, got.Eligible)
				assert.Equal(t, tt.wantReason, got.Reason)
				return
			}
			assert.True(t, got.Eligible)
			assert.Empty(t, got.Reason)
		})
	}
}

func TestApply(t *testing.T) {
	tests := []struct {
		name       string
		rule       Rule
		subtotal   decimal.Decimal
		wantAmount string
		wantErr    bool
	}{
		{
			name: "percentage discount",
			rule: Rule{
				DiscountType: DiscountPercentage,
				Value:        decimal.NewFromInt(20),
			},
			subtotal:   decimal.RequireFromString("199.98"),
			wantAmount: "40.00",
		},
		{
			name: "percentage rounds to two decimal places",
			rule: Rule{
				DiscountType: DiscountPercentage,
				Value:        decimal.NewFromInt(10),
			},
			subtotal:   decimal.RequireFromString("33.33"),
			wantAmount: "3.33",
		},
		{
			name: "percentage over 100 capped at subtotal",
			rule: Rule{
				DiscountType: DiscountPercentage,
				Value:        decimal.NewFromInt(150),
			},
			subtotal:   decimal.RequireFromString("199.98"),
			wantAmount: "199.98",
		},
		{
			name: "fixed discount below subtotal",
			rule: Rule{
				DiscountType: DiscountFixed,
				Value:        decimal.NewFromInt(5),
			},
			subtotal:   decimal.NewFromInt(100),
			wantAmount: "5.00",
		},
		{
			name: "fixed discount capped at subtotal",
			rule: Rule{
				DiscountType: DiscountFixed,
				Value:        decimal.NewFromInt(50),
			},
			subtotal:   decimal.RequireFromString("29.99"),
			wantAmount: "29.99",
		},
		{
			name: "unknown discount type errors",
			rule: Rule{
				DiscountType: DiscountType("bogus"),
				Value:        decimal.NewFromInt(5),
			},
			subtotal: decimal.NewFromInt(100),
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Apply(&tt.rule, tt.subtotal)

			if tt.wantErr {
				require.Error(t, err)
				return
			}

			require.NoError(t, err)
			want := decimal.RequireFromString(tt.wantAmount)
			assert.True(t, want.Equal(got.Amount),
				"expected discount %s, got %s", want, got.Amount)
		})
	}
}
