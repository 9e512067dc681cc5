// Package payment reconciles gateway notifications with stored payments.
package payment

import (
	"context"
	"net/url"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/checkout-engine/internal/domain/money"
	"github.com/xenking/checkout-engine/internal/gateway"
)

// Outcome describes what a notification did.
type Outcome string

const (
	OutcomePaid      Outcome = "paid"
	OutcomeFailed    Outcome = "failed"
	OutcomeDuplicate Outcome = "duplicate"
)

// Verifier checks notification signatures.
type Verifier interface {
	Verify(values url.Values) bool
}

// Config holds reconciliation parameters.
type Config struct {
	// AmountScale is the number of gateway minor units per major unit.
	AmountScale int64
	// Tolerance is the largest accepted difference from the order total.
	Tolerance decimal.Decimal
	// SuccessCode is the gateway response code meaning "paid".
	SuccessCode string
}

// Result is the outcome of one processed notification.
type Result struct {
	OrderID uuid.UUID
	Outcome Outcome
	Status  Status
}

// ReturnView is what the customer-facing redirect is allowed to show.
type ReturnView struct {
	Verified       bool
	OrderRef       string
	GatewaySuccess bool
	// Status is the stored payment status, empty when unknown.
	Status Status
}

// Reconciler applies gateway notifications to payments exactly once.
type Reconciler struct {
	store    Store
	verifier Verifier
	cfg      Config
	now      func() time.Time

	tracer        trace.Tracer
	notifications metric.Int64Counter
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithClock overrides the time source used for paidAt.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

// WithTracerProvider sets the tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(r *Reconciler) { r.tracer = tp.Tracer("checkout/payment") }
}

// WithMeterProvider sets the meter provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(r *Reconciler) {
		r.notifications = newNotificationCounter(mp.Meter("checkout/payment"))
	}
}

func newNotificationCounter(m metric.Meter) metric.Int64Counter {
	c, err := m.Int64Counter("payment.notifications",
		metric.WithDescription("Gateway notifications by outcome"),
	)
	if err != nil {
		c, _ = metricnoop.NewMeterProvider().Meter("").Int64Counter("payment.notifications")
	}
	return c
}

// NewReconciler creates a Reconciler.
func NewReconciler(store Store, verifier Verifier, cfg Config, opts ...Option) (*Reconciler, error) {
	if cfg.AmountScale <= 0 {
		return nil, errors.Errorf("invalid amount scale %d", cfg.AmountScale)
	}
	if cfg.Tolerance.IsNegative() {
		return nil, errors.Errorf("negative tolerance %s", cfg.Tolerance)
	}
	if cfg.SuccessCode == "" {
		return nil, errors.New("success code is required")
	}

	r := &Reconciler{
		store:    store,
		verifier: verifier,
		cfg:      cfg,
		now:      time.Now,
		tracer:   tracenoop.NewTracerProvider().Tracer(""),
	}
	r.notifications = newNotificationCounter(metricnoop.NewMeterProvider().Meter(""))
	for _, o := range opts {
		o(r)
	}
	return r, nil
}

// Reconcile processes one server-to-server notification. Redeliveries of an
// already settled payment report OutcomeDuplicate and change nothing.
func (r *Reconciler) Reconcile(ctx context.Context, values url.Values) (_ *Result, rerr error) {
	ctx, span := r.tracer.Start(ctx, "payment.Reconcile")
	defer func() {
		if rerr != nil {
			span.RecordError(rerr)
			span.SetStatus(codes.Error, rerr.Error())
		}
		span.End()
	}()

	if !r.verifier.Verify(values) {
		r.count(ctx, "rejected_signature")
		return nil, ErrSignatureInvalid
	}

	n := gateway.ParseNotification(values)
	orderID, err := uuid.Parse(n.OrderRef)
	if err != nil {
		r.count(ctx, "rejected_order")
		return nil, ErrOrderNotFound
	}
	span.SetAttributes(attribute.String("order.id", orderID.String()))

	var res *Result
	err = r.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		rec, err := tx.LockByOrder(ctx, orderID)
		if err != nil {
			if errors.Is(err, ErrOrderNotFound) {
				return ErrOrderNotFound
			}
			return errors.Wrap(err, "lock payment")
		}

		if err := r.checkAmount(n, rec.OrderTotal); err != nil {
			return err
		}

		if rec.Status != StatusPending {
			res = &Result{OrderID: orderID, Outcome: OutcomeDuplicate, Status: rec.Status}
			return nil
		}

		c := Confirmation{
			TransactionRef: n.TransactionNo,
			ResponseCode:   n.ResponseCode,
			At:             r.now().UTC(),
		}
		if n.ResponseCode == r.cfg.SuccessCode {
			if err := tx.MarkPaid(ctx, rec, c); err != nil {
				return errors.Wrap(err, "mark paid")
			}
			res = &Result{OrderID: orderID, Outcome: OutcomePaid, Status: StatusSuccess}
			return nil
		}

		if err := tx.MarkFailed(ctx, rec, c); err != nil {
			return errors.Wrap(err, "mark failed")
		}
		res = &Result{OrderID: orderID, Outcome: OutcomeFailed, Status: StatusFailed}
		return nil
	})
	switch {
	case err == nil:
	case errors.Is(err, ErrOrderNotFound):
		r.count(ctx, "rejected_order")
		return nil, ErrOrderNotFound
	case errors.Is(err, ErrAmountMismatch):
		r.count(ctx, "rejected_amount")
		zctx.From(ctx).Warn("Gateway amount mismatch",
			zap.Stringer("order_id", orderID),
			zap.String("amount", n.Amount),
		)
		return nil, err
	default:
		r.count(ctx, "error")
		return nil, errors.Wrap(err, "reconcile payment")
	}

	r.count(ctx, string(res.Outcome))
	zctx.From(ctx).Info("Gateway notification processed",
		zap.Stringer("order_id", orderID),
		zap.String("outcome", string(res.Outcome)),
		zap.String("response_code", n.ResponseCode),
		zap.String("transaction_no", n.TransactionNo),
	)
	return res, nil
}

func (r *Reconciler) checkAmount(n gateway.Notification, total decimal.Decimal) error {
	minor, err := n.AmountMinor()
	if err != nil {
		return errors.Wrap(ErrAmountMismatch, err.Error())
	}
	got, err := money.FromMinor(minor, r.cfg.AmountScale)
	if err != nil {
		return err
	}
	if !money.WithinTolerance(got, total, r.cfg.Tolerance) {
		return errors.Wrapf(ErrAmountMismatch, "got %s, want %s", got, total)
	}
	return nil
}

// InspectReturn checks a customer redirect for display. It never changes
// any state, whatever the redirect claims.
func (r *Reconciler) InspectReturn(ctx context.Context, values url.Values) (*ReturnView, error) {
	n := gateway.ParseNotification(values)
	view := &ReturnView{
		Verified: r.verifier.Verify(values),
		OrderRef: n.OrderRef,
	}
	if !view.Verified {
		return view, nil
	}
	view.GatewaySuccess = n.ResponseCode == r.cfg.SuccessCode

	orderID, err := uuid.Parse(n.OrderRef)
	if err != nil {
		return view, nil
	}
	rec, err := r.store.FindByOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return view, nil
		}
		return nil, errors.Wrap(err, "find payment")
	}
	view.Status = rec.Status
	return view, nil
}

func (r *Reconciler) count(ctx context.Context, outcome string) {
	r.notifications.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
