package order

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vendkit/storefront/internal/domain/coupon"
)

// Status is the lifecycle state of an order.
type Status string

const (
	StatusPending   Status = "pending"
	StatusPaid      Status = "paid"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusRefunded  Status = "refunded"
)

// transitions is the table of legal status transitions. Cancelled and
// refunded are terminal; nothing leaves them.
var transitions = map[Status][]Status{
	StatusPending:   {StatusPaid, StatusCancelled},
	StatusPaid:      {StatusCompleted, StatusRefunded},
	StatusCompleted: {StatusRefunded},
}

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusPaid, StatusCompleted, StatusCancelled, StatusRefunded:
		return true
	}
	return false
}

// CanTransitionTo reports whether moving from s to next is legal.
func (s Status) CanTransitionTo(next Status) bool {
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// Refundable reports whether an order in this status may be refunded.
func (s Status) Refundable() bool {
	return s == StatusPaid || s == StatusCompleted
}

// Order identifies a checkout. Monetary fields satisfy
// TotalAmount == Subtotal + TaxAmount - DiscountAmount at all times, and
// DiscountAmount never exceeds Subtotal. Orders are never physically deleted;
// only status transitions and payment/refund operations mutate them.
type Order struct {
	ID               string
	UserID           string
	Number           string
	Status           Status
	Subtotal         decimal.Decimal
	TaxAmount        decimal.Decimal
	DiscountAmount   decimal.Decimal
	TotalAmount      decimal.Decimal
	CouponID         string
	PaymentMethod    string
	PaymentReference string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Item is a priced order line. TotalPrice == UnitPrice * Quantity.
// LicenseKey and DownloadExpiresAt are populated when the order reaches paid
// and cleared again on refund.
type Item struct {
	ID                string
	OrderID           string
	ProductID         string
	Quantity          int
	UnitPrice         decimal.Decimal
	TotalPrice        decimal.Decimal
	LicenseKey        string
	DownloadExpiresAt *time.Time
}

// Repository defines persistence for orders. Methods that touch multiple
// rows (order + items + stock + coupon counter) execute inside a single
// database transaction; any failure rolls the whole mutation back.
type Repository interface {
	// Create persists the order and its items, decrements product stock with
	// a conditional guard, and when o.CouponID is set increments the coupon's
	// usage counter. Returns ErrNumberConflict on a duplicate order number so
	// the caller can retry with a fresh one, an InsufficientStockError when a
	// guarded decrement matches no row, and coupon.ErrUsageExhausted when the
	// coupon counter guard fails.
	Create(ctx context.Context, o *Order, items []Item) error

	GetByID(ctx context.Context, id string) (*Order, error)
	ItemsByOrder(ctx context.Context, orderID string) ([]Item, error)

	// UpdateStatus moves the order from its current status to next, guarded
	// on the current value to stay correct under concurrent transitions.
	// Returns ErrStatusChanged when the guard matches no row.
	UpdateStatus(ctx context.Context, id string, current, next Status) error

	// RecordPayment sets status to paid and stores payment metadata, guarded
	// on the order still being pending. Returns ErrStatusChanged when the
	// guard matches no row.
	RecordPayment(ctx context.Context, id, method, reference string) error

	// SetItemLicense assigns a license key and download expiry to a single
	// item, guarded on the item not already having a key. Assignments are
	// independent per item; a no-op match is not an error.
	SetItemLicense(ctx context.Context, itemID, key string, expiresAt time.Time) error

	// Refund atomically sets the order to refunded (guarded on a refundable
	// status), revokes every item's license key and download expiry, and
	// restores each product's stock by the ordered quantity. Returns
	// ErrStatusChanged when the status guard matches no row.
	Refund(ctx context.Context, id string) error

	// ApplyCoupon atomically increments the coupon's guarded usage counter
	// and rewrites the order's coupon reference and pricing, guarded on the
	// order still being pending.
	ApplyCoupon(ctx context.Context, id string, rule *coupon.Rule, discount, tax, total decimal.Decimal) error
}
