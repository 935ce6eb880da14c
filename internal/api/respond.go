package api

import (
	"io"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/vendkit/storefront/internal/domain/coupon"
	"github.com/vendkit/storefront/internal/domain/order"
	"github.com/vendkit/storefront/internal/domain/user"
)

// maxBodySize caps RPC request bodies at 1 MiB.
const maxBodySize = 1 << 20

// readBody reads and returns the request body, bounded by maxBodySize.
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "cannot read request body")
		return nil, false
	}
	return data, true
}

// writeJSON sends the encoder's buffer as a JSON response.
func writeJSON(w http.ResponseWriter, status int, e *jx.Encoder) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

// writeError sends the {code, message} error envelope.
func writeError(w http.ResponseWriter, status int, message string) {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("code")
	e.Int(status)
	e.FieldStart("message")
	e.Str(message)
	e.ObjEnd()
	writeJSON(w, status, &e)
}

// writeDomainError maps a workflow error to its HTTP representation.
// Unrecognized errors are logged server-side and masked as 500.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		iqErr *order.InvalidQuantityError
		ipErr *order.InactiveProductError
		isErr *order.InsufficientStockError
		itErr *order.IllegalTransitionError
		ciErr *order.CouponIneligibleError
	)

	switch {
	case errors.Is(err, order.ErrEmptyItems), errors.Is(err, order.ErrInvalidStatus):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &iqErr), errors.As(err, &ipErr):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, user.ErrNotFound),
		errors.Is(err, order.ErrNotFound),
		errors.Is(err, coupon.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &isErr),
		errors.As(err, &itErr),
		errors.As(err, &ciErr),
		errors.Is(err, order.ErrNotRefundable),
		errors.Is(err, coupon.ErrUsageExhausted):
		writeError(w, http.StatusConflict, err.Error())
	default:
		zctx.From(r.Context()).Error("internal error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// encodeOrder writes an order object into e.
func encodeOrder(e *jx.Encoder, o *order.Order) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(o.ID)
	e.FieldStart("userId")
	e.Str(o.UserID)
	e.FieldStart("orderNumber")
	e.Str(o.Number)
	e.FieldStart("status")
	e.Str(string(o.Status))
	e.FieldStart("subtotal")
	e.Float64(o.Subtotal.InexactFloat64())
	e.FieldStart("taxAmount")
	e.Float64(o.TaxAmount.InexactFloat64())
	e.FieldStart("discountAmount")
	e.Float64(o.DiscountAmount.InexactFloat64())
	e.FieldStart("totalAmount")
	e.Float64(o.TotalAmount.InexactFloat64())
	if o.CouponID != "" {
		e.FieldStart("couponId")
		e.Str(o.CouponID)
	}
	if o.PaymentMethod != "" {
		e.FieldStart("paymentMethod")
		e.Str(o.PaymentMethod)
	}
	if o.PaymentReference != "" {
		e.FieldStart("paymentReference")
		e.Str(o.PaymentReference)
	}
	e.FieldStart("createdAt")
	e.Str(o.CreatedAt.UTC().Format(time.RFC3339))
	e.ObjEnd()
}

// encodeOrderItem writes an order line into e.
func encodeOrderItem(e *jx.Encoder, item order.Item) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(item.ID)
	e.FieldStart("productId")
	e.Str(item.ProductID)
	e.FieldStart("quantity")
	e.Int(item.Quantity)
	e.FieldStart("unitPrice")
	e.Float64(item.UnitPrice.InexactFloat64())
	e.FieldStart("totalPrice")
	e.Float64(item.TotalPrice.InexactFloat64())
	if item.LicenseKey != "" {
		e.FieldStart("licenseKey")
		e.Str(item.LicenseKey)
	}
	if item.DownloadExpiresAt != nil {
		e.FieldStart("downloadExpiresAt")
		e.Str(item.DownloadExpiresAt.UTC().Format(time.RFC3339))
	}
	e.ObjEnd()
}
