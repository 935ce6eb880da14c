package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/vendkit/storefront/internal/domain/coupon"
)

const (
	getCouponByCodeSQL = `SELECT id, code, discount_type, value, minimum_order, usage_limit,
		used_count, expires_at, active, description
		FROM coupons WHERE UPPER(code) = UPPER($1) AND active = TRUE`

	incrementCouponUsesSQL = `UPDATE coupons SET used_count = used_count + 1
		WHERE id = $1 AND (usage_limit = 0 OR used_count < usage_limit)`
)

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository implements coupon.Repository backed by PostgreSQL.
type CouponRepository struct {
	pool *pgxpool.Pool
}

// NewCouponRepository returns a CouponRepository that uses the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

// FindByCode looks up an active coupon by its code (case-insensitive).
// Returns coupon.ErrNotFound when no matching active coupon exists.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (*coupon.Rule, error) {
	rows, err := r.pool.Query(ctx, getCouponByCodeSQL, code)
	if err != nil {
		return nil, fmt.Errorf("finding coupon by code %q: %w", code, err)
	}

	rule, err := pgx.CollectExactlyOneRow(rows, scanCouponRule)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrNotFound
		}
		return nil, fmt.Errorf("finding coupon by code %q: %w", code, err)
	}
	return &rule, nil
}

// incrementCouponUses bumps a coupon's usage counter inside tx, guarded
// against exceeding the usage limit. The guard makes concurrent checkouts
// serialize on the row; the loser sees coupon.ErrUsageExhausted.
func incrementCouponUses(ctx context.Context, tx pgx.Tx, couponID string) error {
	tag, err := tx.Exec(ctx, incrementCouponUsesSQL, couponID)
	if err != nil {
		return errors.Wrap(err, "increment coupon uses")
	}
	if tag.RowsAffected() == 0 {
		return coupon.ErrUsageExhausted
	}
	return nil
}

func scanCouponRule(row pgx.CollectableRow) (coupon.Rule, error) {
	var (
		rule         coupon.Rule
		discountType string
		value        decimal.Decimal
		minimum      decimal.Decimal
		usageLimit   int32
		usedCount    int32
		expiresAt    *time.Time
	)
	err := row.Scan(
		&rule.ID, &rule.Code, &discountType, &value, &minimum,
		&usageLimit, &usedCount, &expiresAt, &rule.Active, &rule.Description,
	)
	rule.DiscountType = coupon.DiscountType(discountType)
	rule.Value = value
	rule.MinimumOrder = minimum
	rule.UsageLimit = int(usageLimit)
	rule.UsedCount = int(usedCount)
	rule.ExpiresAt = expiresAt
	return rule, err
}
