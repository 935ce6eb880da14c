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
	"github.com/vendkit/storefront/internal/domain/order"
)

const (
	insertOrderSQL = `INSERT INTO orders (id, user_id, order_number, status, subtotal, tax_amount,
		discount_amount, total_amount, coupon_id, payment_method, payment_reference, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, '', '', $10, $10)`

	insertOrderItemSQL = `INSERT INTO order_items (id, order_id, product_id, quantity, unit_price, total_price)
		VALUES ($1, $2, $3, $4, $5, $6)`

	// The stock guard is the authoritative check: zero rows affected means
	// the product cannot cover the ordered quantity right now.
	decrementStockSQL = `UPDATE products SET stock_quantity = stock_quantity - $2
		WHERE id = $1 AND stock_quantity >= $2`

	restoreStockSQL = `UPDATE products SET stock_quantity = stock_quantity + $2 WHERE id = $1`

	getOrderSQL = `SELECT id, user_id, order_number, status, subtotal, tax_amount, discount_amount,
		total_amount, coupon_id, payment_method, payment_reference, created_at, updated_at
		FROM orders WHERE id = $1`

	listOrderItemsSQL = `SELECT id, order_id, product_id, quantity, unit_price, total_price,
		license_key, download_expires_at
		FROM order_items WHERE order_id = $1 ORDER BY id`

	updateStatusSQL = `UPDATE orders SET status = $3, updated_at = now()
		WHERE id = $1 AND status = $2`

	recordPaymentSQL = `UPDATE orders SET status = 'paid', payment_method = $2,
		payment_reference = $3, updated_at = now()
		WHERE id = $1 AND status = 'pending'`

	setItemLicenseSQL = `UPDATE order_items SET license_key = $2, download_expires_at = $3
		WHERE id = $1 AND license_key IS NULL`

	markRefundedSQL = `UPDATE orders SET status = 'refunded', updated_at = now()
		WHERE id = $1 AND status IN ('paid', 'completed')`

	revokeLicensesSQL = `UPDATE order_items SET license_key = NULL, download_expires_at = NULL
		WHERE order_id = $1`

	refundItemsSQL = `SELECT product_id, quantity FROM order_items WHERE order_id = $1`

	applyCouponSQL = `UPDATE orders SET coupon_id = $2, discount_amount = $3, tax_amount = $4,
		total_amount = $5, updated_at = now()
		WHERE id = $1 AND status = 'pending'`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create inserts the order and its items, decrements product stock with the
// conditional guard, and bumps the coupon counter when a coupon was applied.
// Everything runs in one transaction: any failure rolls all of it back.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order, items []order.Item) error {
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var couponID *string
		if o.CouponID != "" {
			couponID = &o.CouponID
		}

		_, err := tx.Exec(ctx, insertOrderSQL,
			o.ID, o.UserID, o.Number, string(o.Status),
			o.Subtotal, o.TaxAmount, o.DiscountAmount, o.TotalAmount,
			couponID, o.CreatedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return order.ErrNumberConflict
			}
			return errors.Wrap(err, "insert order")
		}

		for _, item := range items {
			_, err := tx.Exec(ctx, insertOrderItemSQL,
				item.ID, item.OrderID, item.ProductID,
				item.Quantity, item.UnitPrice, item.TotalPrice,
			)
			if err != nil {
				return errors.Wrapf(err, "insert item for product %s", item.ProductID)
			}
		}

		if o.CouponID != "" {
			if err := incrementCouponUses(ctx, tx, o.CouponID); err != nil {
				return err
			}
		}

		for _, item := range items {
			tag, err := tx.Exec(ctx, decrementStockSQL, item.ProductID, item.Quantity)
			if err != nil {
				return errors.Wrapf(err, "decrement stock for product %s", item.ProductID)
			}
			if tag.RowsAffected() == 0 {
				return &order.InsufficientStockError{ProductID: item.ProductID}
			}
		}

		return nil
	})
	if err != nil {
		return err
	}
	return nil
}

// GetByID returns a single order by its identifier.
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*order.Order, error) {
	rows, err := r.pool.Query(ctx, getOrderSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}

	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}
	return &o, nil
}

// ItemsByOrder returns the order's line items.
func (r *OrderRepository) ItemsByOrder(ctx context.Context, orderID string) ([]order.Item, error) {
	rows, err := r.pool.Query(ctx, listOrderItemsSQL, orderID)
	if err != nil {
		return nil, fmt.Errorf("listing items for order %q: %w", orderID, err)
	}
	return pgx.CollectRows(rows, scanOrderItem)
}

// UpdateStatus moves the order to next, guarded on the current status.
func (r *OrderRepository) UpdateStatus(ctx context.Context, id string, current, next order.Status) error {
	tag, err := r.pool.Exec(ctx, updateStatusSQL, id, string(current), string(next))
	if err != nil {
		return fmt.Errorf("updating status of order %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrStatusChanged
	}
	return nil
}

// RecordPayment marks a pending order paid and stores its payment metadata.
func (r *OrderRepository) RecordPayment(ctx context.Context, id, method, reference string) error {
	tag, err := r.pool.Exec(ctx, recordPaymentSQL, id, method, reference)
	if err != nil {
		return fmt.Errorf("recording payment for order %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrStatusChanged
	}
	return nil
}

// SetItemLicense assigns a license key to an item that does not have one.
// A zero-row match means the item already holds a key, which is fine.
func (r *OrderRepository) SetItemLicense(ctx context.Context, itemID, key string, expiresAt time.Time) error {
	_, err := r.pool.Exec(ctx, setItemLicenseSQL, itemID, key, expiresAt)
	if err != nil {
		return fmt.Errorf("setting license for item %q: %w", itemID, err)
	}
	return nil
}

// Refund marks the order refunded, revokes all license keys, and restores
// each product's stock, committing the three effects together or not at all.
func (r *OrderRepository) Refund(ctx context.Context, id string) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, markRefundedSQL, id)
		if err != nil {
			return errors.Wrap(err, "mark refunded")
		}
		if tag.RowsAffected() == 0 {
			return order.ErrStatusChanged
		}

		rows, err := tx.Query(ctx, refundItemsSQL, id)
		if err != nil {
			return errors.Wrap(err, "load refund items")
		}
		type line struct {
			productID string
			quantity  int
		}
		lines, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (line, error) {
			var l line
			err := row.Scan(&l.productID, &l.quantity)
			return l, err
		})
		if err != nil {
			return errors.Wrap(err, "collect refund items")
		}

		if _, err := tx.Exec(ctx, revokeLicensesSQL, id); err != nil {
			return errors.Wrap(err, "revoke licenses")
		}

		for _, l := range lines {
			if _, err := tx.Exec(ctx, restoreStockSQL, l.productID, l.quantity); err != nil {
				return errors.Wrapf(err, "restore stock for product %s", l.productID)
			}
		}
		return nil
	})
}

// ApplyCoupon bumps the coupon's guarded usage counter and rewrites the
// order's coupon reference and pricing in one transaction.
func (r *OrderRepository) ApplyCoupon(
	ctx context.Context,
	id string,
	rule *coupon.Rule,
	discount, tax, total decimal.Decimal,
) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if err := incrementCouponUses(ctx, tx, rule.ID); err != nil {
			return err
		}

		tag, err := tx.Exec(ctx, applyCouponSQL, id, rule.ID, discount, tax, total)
		if err != nil {
			return errors.Wrap(err, "rewrite order pricing")
		}
		if tag.RowsAffected() == 0 {
			return order.ErrStatusChanged
		}
		return nil
	})
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o        order.Order
		status   string
		couponID *string
	)
	err := row.Scan(
		&o.ID, &o.UserID, &o.Number, &status,
		&o.Subtotal, &o.TaxAmount, &o.DiscountAmount, &o.TotalAmount,
		&couponID, &o.PaymentMethod, &o.PaymentReference,
		&o.CreatedAt, &o.UpdatedAt,
	)
	o.Status = order.Status(status)
	if couponID != nil {
		o.CouponID = *couponID
	}
	return o, err
}

func scanOrderItem(row pgx.CollectableRow) (order.Item, error) {
	var (
		item       order.Item
		licenseKey *string
	)
	err := row.Scan(
		&item.ID, &item.OrderID, &item.ProductID,
		&item.Quantity, &item.UnitPrice, &item.TotalPrice,
		&licenseKey, &item.DownloadExpiresAt,
	)
	if licenseKey != nil {
		item.LicenseKey = *licenseKey
	}
	return item, err
}
