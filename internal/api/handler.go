// Package api exposes the order workflow as JSON-over-HTTP RPC procedures.
//
// Request and response bodies are encoded with go-faster/jx. Domain errors
// are mapped to an {code, message} envelope; storage errors never cross the
// boundary raw.
package api

import (
	"net/http"

	"github.com/vendkit/storefront/internal/domain/order"
	"github.com/vendkit/storefront/internal/domain/product"
)

// Handler binds the RPC procedures to the order workflow service and the
// product catalog.
type Handler struct {
	products product.Repository
	orders   *order.Service
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(products product.Repository, orders *order.Service) *Handler {
	return &Handler{
		products: products,
		orders:   orders,
	}
}

// Routes returns the RPC route table.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /rpc/orders.create", h.createOrder)
	mux.HandleFunc("POST /rpc/orders.get", h.getOrder)
	mux.HandleFunc("POST /rpc/orders.updateStatus", h.updateOrderStatus)
	mux.HandleFunc("POST /rpc/orders.processPayment", h.processPayment)
	mux.HandleFunc("POST /rpc/orders.generateLicenseKeys", h.generateLicenseKeys)
	mux.HandleFunc("POST /rpc/orders.refund", h.refundOrder)
	mux.HandleFunc("POST /rpc/coupons.validate", h.validateCoupon)
	mux.HandleFunc("POST /rpc/coupons.apply", h.applyCoupon)
	mux.HandleFunc("GET /rpc/products.list", h.listProducts)
	return mux
}
