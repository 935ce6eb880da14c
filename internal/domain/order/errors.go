package order

import (
	"fmt"

	"github.com/go-faster/errors"
)

// Sentinel errors for order workflow validation.
var (
	ErrEmptyItems     = errors.New("items required")
	ErrNotFound       = errors.New("order not found")
	ErrInvalidStatus  = errors.New("invalid order status")
	ErrNotRefundable  = errors.New("order cannot be refunded")
	ErrNumberConflict = errors.New("order number already exists")
	// ErrStatusChanged is returned by guarded status updates when the order
	// was no longer in the expected status at write time.
	ErrStatusChanged = errors.New("order status changed concurrently")
)

// InvalidQuantityError indicates a line item has a non-positive quantity.
type InvalidQuantityError struct {
	ProductID string
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity must be greater than 0 for product %s", e.ProductID)
}

// InactiveProductError indicates a requested product is missing from the
// active catalog: it either does not exist or has been deactivated.
type InactiveProductError struct {
	ProductID string
}

func (e *InactiveProductError) Error() string {
	return fmt.Sprintf("product %s not found or inactive", e.ProductID)
}

// InsufficientStockError indicates a product cannot cover the ordered quantity.
type InsufficientStockError struct {
	ProductID string
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s", e.ProductID)
}

// IllegalTransitionError indicates a status change the transition table
// does not allow.
type IllegalTransitionError struct {
	From Status
	To   Status
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal status transition from %s to %s", e.From, e.To)
}

// CouponIneligibleError indicates a coupon failed an eligibility check during
// an explicit apply operation (checkout silently ignores ineligible coupons).
type CouponIneligibleError struct {
	Code   string
	Reason string
}

func (e *CouponIneligibleError) Error() string {
	return fmt.Sprintf("coupon %s cannot be applied: %s", e.Code, e.Reason)
}
