// Package handler exposes order placement and gateway callbacks over HTTP.
package handler

import (
	"context"
	"net/http"
	"net/url"

	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/checkout-engine/internal/domain/auth"
	"github.com/xenking/checkout-engine/internal/domain/order"
	"github.com/xenking/checkout-engine/internal/domain/payment"
)

// maxBodySize bounds request bodies.
const maxBodySize = 1 << 20

// OrderPlacer places orders.
type OrderPlacer interface {
	PlaceOrder(ctx context.Context, req order.PlaceOrderRequest) (*order.PlaceOrderResult, error)
}

// PaymentReconciler applies gateway callbacks.
type PaymentReconciler interface {
	Reconcile(ctx context.Context, values url.Values) (*payment.Result, error)
	InspectReturn(ctx context.Context, values url.Values) (*payment.ReturnView, error)
}

// Authenticator resolves bearer tokens.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*auth.Principal, error)
}

// Handler serves the checkout API.
type Handler struct {
	orders   OrderPlacer
	payments PaymentReconciler
	authn    Authenticator
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(orders OrderPlacer, payments PaymentReconciler, authn Authenticator) *Handler {
	return &Handler{
		orders:   orders,
		payments: payments,
		authn:    authn,
	}
}

// Register mounts the API routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/orders", h.PlaceOrder)
	mux.HandleFunc("GET /api/payments/gateway/ipn", h.GatewayIPN)
	mux.HandleFunc("GET /api/payments/gateway/return", h.GatewayReturn)
}

// writeJSON encodes a response body with fn and writes it with status.
func writeJSON(w http.ResponseWriter, status int, fn func(e *jx.Encoder)) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	fn(e)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

// writeError writes the error envelope.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("code", func(e *jx.Encoder) { e.Int(status) })
			e.Field("error", func(e *jx.Encoder) { e.Str(code) })
			e.Field("message", func(e *jx.Encoder) { e.Str(message) })
		})
	})
}

func writeInternalError(ctx context.Context, w http.ResponseWriter, err error, msg string) {
	zctx.From(ctx).Error(msg, zap.Error(err))
	writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
}
