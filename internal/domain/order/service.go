package order

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vendkit/storefront/internal/domain/coupon"
	"github.com/vendkit/storefront/internal/domain/product"
	"github.com/vendkit/storefront/internal/domain/user"
)

// numberAttempts bounds the retry loop when a generated order number
// collides with an existing one.
const numberAttempts = 3

// ServiceConfig holds the workflow policy knobs.
type ServiceConfig struct {
	// TaxRate is the fraction of the discounted subtotal charged as tax,
	// e.g. 0.10 for 10%.
	TaxRate decimal.Decimal
	// LicenseTTL is how long issued download links stay valid.
	// Defaults to 30 days.
	LicenseTTL time.Duration
	// Now overrides the clock, for tests. Defaults to time.Now.
	Now func() time.Time
}

// Service is the order workflow engine: it prices and creates orders, drives
// status transitions, issues license keys, and compensates stock on refund.
type Service struct {
	cfg      ServiceConfig
	users    user.Repository
	products product.Repository
	coupons  coupon.Repository
	orders   Repository
}

// NewService creates the workflow engine with its injected collaborators.
func NewService(
	cfg ServiceConfig,
	users user.Repository,
	products product.Repository,
	coupons coupon.Repository,
	orders Repository,
) *Service {
	if cfg.LicenseTTL <= 0 {
		cfg.LicenseTTL = 30 * 24 * time.Hour
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Service{
		cfg:      cfg,
		users:    users,
		products: products,
		coupons:  coupons,
		orders:   orders,
	}
}

// CreateItem is a requested order line.
type CreateItem struct {
	ProductID string
	Quantity  int
}

// CreateRequest holds the input for placing an order.
type CreateRequest struct {
	UserID     string
	Items      []CreateItem
	CouponCode string
}

// Create runs the checkout pipeline: it resolves the user and the active
// products in one batch, verifies stock, prices the order (subtotal, coupon
// discount, tax, total), and persists the order with its items atomically.
// The storage layer decrements stock and bumps the coupon counter inside the
// same transaction, so a failure at any step leaves nothing behind.
//
// An ineligible or unknown coupon code is silently ignored: the order is
// placed without a discount.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Order, error) {
	if len(req.Items) == 0 {
		return nil, ErrEmptyItems
	}

	if _, err := s.users.GetByID(ctx, req.UserID); err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return nil, user.ErrNotFound
		}
		return nil, errors.Wrap(err, "get user")
	}

	// Validate quantities and collect product IDs.
	ids := make([]string, len(req.Items))
	for i, item := range req.Items {
		if item.Quantity <= 0 {
			return nil, &InvalidQuantityError{ProductID: item.ProductID}
		}
		ids[i] = item.ProductID
	}

	// Batch fetch the active products in a single query.
	fetched, err := s.products.GetActiveByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get products")
	}

	productMap := make(map[string]product.Product, len(fetched))
	for _, p := range fetched {
		productMap[p.ID] = p
	}

	// Every requested product must be in the active set, with enough stock.
	// The stock check here fails fast; the authoritative guard is the
	// conditional decrement inside the create transaction.
	subtotal := decimal.Zero
	for _, item := range req.Items {
		p, ok := productMap[item.ProductID]
		if !ok {
			return nil, &InactiveProductError{ProductID: item.ProductID}
		}
		if p.StockQuantity < item.Quantity {
			return nil, &InsufficientStockError{ProductID: item.ProductID}
		}
		subtotal = subtotal.Add(p.Price.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}

	// Coupon: silently ignored unless every eligibility condition holds.
	discount := decimal.Zero
	couponID := ""
	if req.CouponCode != "" {
		rule, err := s.coupons.FindByCode(ctx, req.CouponCode)
		switch {
		case errors.Is(err, coupon.ErrNotFound):
			// Unknown code: proceed without discount.
		case err != nil:
			return nil, errors.Wrap(err, "find coupon")
		default:
			if v := coupon.Evaluate(rule, subtotal, s.cfg.Now()); v.Eligible {
				d, err := coupon.Apply(rule, subtotal)
				if err != nil {
					return nil, errors.Wrap(err, "apply coupon")
				}
				discount = d.Amount
				couponID = rule.ID
			}
		}
	}

	tax, total := s.price(subtotal, discount)

	now := s.cfg.Now()
	o := &Order{
		ID:             uuid.New().String(),
		UserID:         req.UserID,
		Status:         StatusPending,
		Subtotal:       subtotal,
		TaxAmount:      tax,
		DiscountAmount: discount,
		TotalAmount:    total,
		CouponID:       couponID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	items := make([]Item, len(req.Items))
	for i, item := range req.Items {
		p := productMap[item.ProductID]
		items[i] = Item{
			ID:         uuid.New().String(),
			OrderID:    o.ID,
			ProductID:  item.ProductID,
			Quantity:   item.Quantity,
			UnitPrice:  p.Price,
			TotalPrice: p.Price.Mul(decimal.NewFromInt(int64(item.Quantity))),
		}
	}

	// Number collisions are the unique constraint's responsibility; retry
	// with a fresh suffix on conflict. Losing the guarded coupon increment
	// to a concurrent checkout resolves like the pre-check: the coupon is
	// dropped and the order retried undiscounted.
	for attempt := 0; attempt < numberAttempts; attempt++ {
		o.Number = newOrderNumber(now)
		err := s.orders.Create(ctx, o, items)
		switch {
		case errors.Is(err, ErrNumberConflict):
			continue
		case errors.Is(err, coupon.ErrUsageExhausted) && o.CouponID != "":
			zctx.From(ctx).Info("coupon exhausted during checkout, proceeding without discount",
				zap.String("coupon_id", o.CouponID),
			)
			o.CouponID = ""
			o.DiscountAmount = decimal.Zero
			o.TaxAmount, o.TotalAmount = s.price(subtotal, decimal.Zero)
			continue
		case err != nil:
			return nil, err
		}
		return o, nil
	}
	return nil, errors.Wrap(ErrNumberConflict, "create order")
}

// UpdateStatus moves an order to a new status, rejecting transitions the
// table does not allow. Entering paid issues license keys inline.
func (s *Service) UpdateStatus(ctx context.Context, id string, next Status) (*Order, error) {
	if !next.Valid() {
		return nil, ErrInvalidStatus
	}

	o, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !o.Status.CanTransitionTo(next) {
		return nil, &IllegalTransitionError{From: o.Status, To: next}
	}

	if err := s.orders.UpdateStatus(ctx, id, o.Status, next); err != nil {
		return nil, err
	}

	if next == StatusPaid {
		if err := s.IssueLicenses(ctx, id); err != nil {
			return nil, errors.Wrap(err, "issue licenses")
		}
	}

	return s.orders.GetByID(ctx, id)
}

// PaymentResult is the structured outcome of a payment attempt. Business-rule
// rejections set Success=false with a reason; only storage faults surface as
// errors.
type PaymentResult struct {
	Success bool
	Reason  string
	Order   *Order
}

// ProcessPayment captures payment for a pending order: it stores the payment
// metadata, marks the order paid, and issues license keys for its items.
func (s *Service) ProcessPayment(ctx context.Context, id, method, reference string) (*PaymentResult, error) {
	o, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.Status != StatusPending {
		return &PaymentResult{Reason: "order is not pending payment"}, nil
	}

	if err := s.orders.RecordPayment(ctx, id, method, reference); err != nil {
		if errors.Is(err, ErrStatusChanged) {
			return &PaymentResult{Reason: "order is not pending payment"}, nil
		}
		return nil, errors.Wrap(err, "record payment")
	}

	if err := s.IssueLicenses(ctx, id); err != nil {
		return nil, errors.Wrap(err, "issue licenses")
	}

	o, err = s.orders.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return &PaymentResult{Success: true, Order: o}, nil
}

// IssueLicenses assigns a fresh license key and download expiry to every item
// of the order that does not have one yet. Each assignment is independent, so
// re-invocation only touches items still missing a key; an order with no such
// items is a successful no-op.
func (s *Service) IssueLicenses(ctx context.Context, orderID string) error {
	if _, err := s.orders.GetByID(ctx, orderID); err != nil {
		return err
	}

	items, err := s.orders.ItemsByOrder(ctx, orderID)
	if err != nil {
		return errors.Wrap(err, "list items")
	}

	expiresAt := s.cfg.Now().Add(s.cfg.LicenseTTL)
	for _, item := range items {
		if item.LicenseKey != "" {
			continue
		}
		if err := s.orders.SetItemLicense(ctx, item.ID, newLicenseKey(), expiresAt); err != nil {
			return errors.Wrapf(err, "license item %s", item.ID)
		}
	}
	return nil
}

// Refund reverses a paid or completed order: the status becomes refunded,
// every license key is revoked, and each product's stock is restored by the
// ordered quantity, all in one transaction.
func (s *Service) Refund(ctx context.Context, id, reason string) error {
	o, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !o.Status.Refundable() {
		return ErrNotRefundable
	}

	if err := s.orders.Refund(ctx, id); err != nil {
		if errors.Is(err, ErrStatusChanged) {
			return ErrNotRefundable
		}
		return errors.Wrap(err, "refund order")
	}

	zctx.From(ctx).Info("order refunded",
		zap.String("order_id", id),
		zap.String("reason", reason),
	)
	return nil
}

// ApplyCoupon applies a coupon to an existing pending order, re-validating it
// against the order's current subtotal. On success the coupon's usage counter
// and the order's pricing are rewritten atomically.
func (s *Service) ApplyCoupon(ctx context.Context, code, orderID string) (*coupon.Discount, error) {
	o, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.Status != StatusPending {
		return nil, &CouponIneligibleError{Code: code, Reason: "order is not pending"}
	}

	rule, err := s.coupons.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, coupon.ErrNotFound) {
			return nil, coupon.ErrNotFound
		}
		return nil, errors.Wrap(err, "find coupon")
	}

	if v := coupon.Evaluate(rule, o.Subtotal, s.cfg.Now()); !v.Eligible {
		return nil, &CouponIneligibleError{Code: code, Reason: v.Reason}
	}

	d, err := coupon.Apply(rule, o.Subtotal)
	if err != nil {
		return nil, errors.Wrap(err, "apply coupon")
	}
	tax, total := s.price(o.Subtotal, d.Amount)

	if err := s.orders.ApplyCoupon(ctx, orderID, rule, d.Amount, tax, total); err != nil {
		switch {
		case errors.Is(err, coupon.ErrUsageExhausted):
			return nil, &CouponIneligibleError{Code: code, Reason: coupon.ReasonUsageLimit}
		case errors.Is(err, ErrStatusChanged):
			return nil, &CouponIneligibleError{Code: code, Reason: "order is not pending"}
		}
		return nil, errors.Wrap(err, "apply coupon")
	}
	return &d, nil
}

// CouponCheck is the structured result of a read-only coupon validation.
type CouponCheck struct {
	Valid    bool
	Reason   string
	Discount decimal.Decimal
	Rule     *coupon.Rule
}

// ValidateCoupon checks a code against an order total without mutating
// anything. Negative outcomes are expected, so they come back in the result
// rather than as errors.
func (s *Service) ValidateCoupon(ctx context.Context, code string, orderTotal decimal.Decimal) (*CouponCheck, error) {
	rule, err := s.coupons.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, coupon.ErrNotFound) {
			return &CouponCheck{Reason: "coupon not found"}, nil
		}
		return nil, errors.Wrap(err, "find coupon")
	}

	if v := coupon.Evaluate(rule, orderTotal, s.cfg.Now()); !v.Eligible {
		return &CouponCheck{Reason: v.Reason}, nil
	}

	d, err := coupon.Apply(rule, orderTotal)
	if err != nil {
		return nil, errors.Wrap(err, "apply coupon")
	}
	return &CouponCheck{Valid: true, Discount: d.Amount, Rule: rule}, nil
}

// GetWithItems fetches an order together with its line items.
func (s *Service) GetWithItems(ctx context.Context, id string) (*Order, []Item, error) {
	o, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	items, err := s.orders.ItemsByOrder(ctx, id)
	if err != nil {
		return nil, nil, errors.Wrap(err, "list items")
	}
	return o, items, nil
}

// price computes tax on the discounted subtotal and the resulting total.
// Discount is already rounded to 2dp, tax is rounded here, and the total is
// derived from the rounded components so the pricing identity
// total == subtotal + tax - discount holds exactly.
func (s *Service) price(subtotal, discount decimal.Decimal) (tax, total decimal.Decimal) {
	tax = subtotal.Sub(discount).Mul(s.cfg.TaxRate).Round(2)
	total = subtotal.Add(tax).Sub(discount)
	return tax, total
}

// newOrderNumber builds a human-readable order number, ORD-<year>-<suffix>.
// Uniqueness is enforced by the database; callers retry on conflict.
func newOrderNumber(now time.Time) string {
	return fmt.Sprintf("ORD-%d-%06d", now.Year(), rand.IntN(1_000_000))
}

// newLicenseKey builds a download license token, LIC-<uppercase uuid>.
func newLicenseKey() string {
	return "LIC-" + strings.ToUpper(uuid.New().String())
}
