package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/checkout-engine/internal/domain/auth"
	"github.com/xenking/checkout-engine/internal/domain/catalog"
	"github.com/xenking/checkout-engine/internal/domain/order"
	"github.com/xenking/checkout-engine/internal/domain/voucher"
	"github.com/xenking/checkout-engine/pkg/httpmiddleware"
)

// errorMapping pairs a domain error with its HTTP representation.
type errorMapping struct {
	target  error
	status  int
	code    string
	message string
}

// orderErrors is checked in order; the first match wins.
var orderErrors = []errorMapping{
	{auth.ErrUnauthorized, http.StatusUnauthorized, "UNAUTHORIZED", "invalid or expired token"},
	{catalog.ErrItemNotFound, http.StatusUnprocessableEntity, "ITEM_NOT_FOUND", "catalog item not found"},
	{catalog.ErrInvalidQuantity, http.StatusBadRequest, "VALIDATION_ERROR", "item quantity must be positive"},
	{voucher.ErrNotFound, http.StatusUnprocessableEntity, "VOUCHER_NOT_FOUND", "voucher code not found"},
	{voucher.ErrExpired, http.StatusUnprocessableEntity, "VOUCHER_EXPIRED", "voucher is not valid at this time"},
	{voucher.ErrMinAmountNotMet, http.StatusUnprocessableEntity, "VOUCHER_MIN_AMOUNT", "order amount is below the voucher minimum"},
	{voucher.ErrMinQuantityNotMet, http.StatusUnprocessableEntity, "VOUCHER_MIN_QUANTITY", "item quantity is below the voucher minimum"},
	{voucher.ErrCategoryMismatch, http.StatusUnprocessableEntity, "VOUCHER_CATEGORY", "voucher does not apply to these items"},
	{voucher.ErrExhausted, http.StatusConflict, "VOUCHER_EXHAUSTED", "voucher usage limit reached"},
}

// PlaceOrder decodes the request, attaches the authenticated owner if any,
// and commits the order.
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	p, err := h.principal(ctx, r)
	if err != nil {
		h.writeOrderError(w, r, err)
		return
	}

	d := jx.Decode(http.MaxBytesReader(w, r.Body, maxBodySize), 4096)
	req, err := decodePlaceOrder(d)
	if err != nil {
		var verr *order.ValidationError
		if errors.As(err, &verr) {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", verr.Error())
			return
		}
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "request body is not a valid order")
		return
	}
	if p != nil {
		req.UserID = &p.UserID
	}
	req.ClientIP = httpmiddleware.ClientIP(r)

	res, err := h.orders.PlaceOrder(ctx, req)
	if err != nil {
		h.writeOrderError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) {
		encodeOrderResult(e, res)
	})
}

func (h *Handler) writeOrderError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		verr *order.ValidationError
		nf   *catalog.ItemNotFoundError
	)
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", verr.Error())
		return
	case errors.As(err, &nf):
		writeError(w, http.StatusUnprocessableEntity, "ITEM_NOT_FOUND", nf.Error())
		return
	}

	for _, m := range orderErrors {
		if !errors.Is(err, m.target) {
			continue
		}
		zctx.From(r.Context()).Debug("Order rejected", zap.String("reason", m.code), zap.Error(err))
		writeError(w, m.status, m.code, m.message)
		return
	}

	writeInternalError(r.Context(), w, err, "Place order failed")
}
