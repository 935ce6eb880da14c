package api

import (
	"net/http"

	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
)

func (h *Handler) validateCoupon(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}

	var (
		code       string
		orderTotal float64
	)
	d := jx.DecodeBytes(body)
	if err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "code":
			code, err = d.Str()
		case "orderTotal":
			orderTotal, err = d.Float64()
		default:
			err = d.Skip()
		}
		return err
	}); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	check, err := h.orders.ValidateCoupon(r.Context(), code, decimal.NewFromFloat(orderTotal))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("isValid")
	e.Bool(check.Valid)
	if check.Valid {
		e.FieldStart("coupon")
		e.ObjStart()
		e.FieldStart("code")
		e.Str(check.Rule.Code)
		e.FieldStart("discountType")
		e.Str(string(check.Rule.DiscountType))
		e.FieldStart("value")
		e.Float64(check.Rule.Value.InexactFloat64())
		e.ObjEnd()
		e.FieldStart("discount")
		e.Float64(check.Discount.InexactFloat64())
	} else {
		e.FieldStart("error")
		e.Str(check.Reason)
	}
	e.ObjEnd()
	writeJSON(w, http.StatusOK, &e)
}

func (h *Handler) applyCoupon(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}

	var code, orderID string
	d := jx.DecodeBytes(body)
	if err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "code":
			code, err = d.Str()
		case "orderId":
			orderID, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	}); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	discount, err := h.orders.ApplyCoupon(r.Context(), code, orderID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("success")
	e.Bool(true)
	e.FieldStart("discount")
	e.Float64(discount.Amount.InexactFloat64())
	e.ObjEnd()
	writeJSON(w, http.StatusOK, &e)
}
