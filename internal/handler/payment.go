package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/checkout-engine/internal/domain/payment"
)

// Acknowledgement codes understood by the gateway.
const (
	ackConfirmed        = "00"
	ackOrderNotFound    = "01"
	ackInvalidAmount    = "04"
	ackInvalidSignature = "97"
	ackRetry            = "99"
)

// ack is the body returned to a gateway notification.
type ack struct {
	Code    string
	Message string
}

func ackFor(err error) ack {
	switch {
	case err == nil:
		return ack{ackConfirmed, "Confirm Success"}
	case errors.Is(err, payment.ErrSignatureInvalid):
		return ack{ackInvalidSignature, "Invalid signature"}
	case errors.Is(err, payment.ErrOrderNotFound):
		return ack{ackOrderNotFound, "Order not found"}
	case errors.Is(err, payment.ErrAmountMismatch):
		return ack{ackInvalidAmount, "Invalid amount"}
	default:
		return ack{ackRetry, "Unknown error"}
	}
}

// GatewayIPN handles the server-to-server payment notification. The gateway
// reads the outcome from the body, so the HTTP status is always 200.
func (h *Handler) GatewayIPN(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	lg := zctx.From(ctx)

	res, err := h.payments.Reconcile(ctx, r.URL.Query())
	a := ackFor(err)
	switch {
	case err == nil:
		lg.Info("Gateway notification processed",
			zap.Stringer("order_id", res.OrderID),
			zap.String("outcome", string(res.Outcome)),
		)
	case a.Code == ackRetry:
		lg.Error("Gateway notification failed", zap.Error(err), zap.String("query", r.URL.RawQuery))
	default:
		lg.Warn("Gateway notification rejected", zap.String("rsp_code", a.Code), zap.Error(err))
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("RspCode")
		e.Str(a.Code)
		e.FieldStart("Message")
		e.Str(a.Message)
		e.ObjEnd()
	})
}

// GatewayReturn reports the customer redirect for display. It never changes
// payment state.
func (h *Handler) GatewayReturn(w http.ResponseWriter, r *http.Request) {
	view, err := h.payments.InspectReturn(r.Context(), r.URL.Query())
	if err != nil {
		writeInternalError(r.Context(), w, err, "Inspect gateway return failed")
		return
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("verified")
		e.Bool(view.Verified)
		e.FieldStart("orderId")
		e.Str(view.OrderRef)
		e.FieldStart("success")
		e.Bool(view.GatewaySuccess)
		e.FieldStart("paymentStatus")
		if view.Status == "" {
			e.Null()
		} else {
			e.Str(string(view.Status))
		}
		e.ObjEnd()
	})
}
