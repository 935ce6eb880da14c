package product

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = errors.New("product not found")

// Product represents a digital good available for purchase. The catalog owns
// the row; the order workflow only has update rights on the stock counter.
type Product struct {
	ID            string
	Name          string
	Price         decimal.Decimal
	StockQuantity int
	Active        bool
	Category      string
}

// Repository defines read operations for the product catalog. Stock mutation
// is not exposed here: decrements and restorations happen inside order
// workflow transactions in the storage layer.
type Repository interface {
	List(ctx context.Context) ([]Product, error)
	GetByID(ctx context.Context, id string) (*Product, error)
	// GetActiveByIDs returns the active products matching the given IDs in a
	// single batch query. Missing or inactive IDs are simply absent from the
	// result.
	GetActiveByIDs(ctx context.Context, ids []string) ([]Product, error)
}
