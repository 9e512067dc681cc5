package order

import (
	"context"
	"fmt"
	"math"
	"net/mail"
	"strings"
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

	"github.com/xenking/checkout-engine/internal/domain/catalog"
	"github.com/xenking/checkout-engine/internal/domain/money"
	"github.com/xenking/checkout-engine/internal/domain/payment"
	"github.com/xenking/checkout-engine/internal/domain/voucher"
	"github.com/xenking/checkout-engine/internal/gateway"
)

// MaxQuantity bounds a single merged line, matching the INTEGER column.
const MaxQuantity = math.MaxInt32

// ErrValidation is matched by every ValidationError.
var ErrValidation = errors.New("invalid order request")

// ValidationError describes a malformed request field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// PlaceOrderRequest holds the input for placing an order.
type PlaceOrderRequest struct {
	// UserID is nil for guest checkouts.
	UserID  *uuid.UUID
	Contact Contact
	Address Address
	Note    string
	Items   []catalog.Line

	VoucherCode string
	// ShippingFee overrides the configured default when set.
	ShippingFee   *decimal.Decimal
	PaymentMethod payment.Method
	ClientIP      string
}

// PlaceOrderResult holds the output of a successfully placed order.
type PlaceOrderResult struct {
	Order   *Order
	Payment *payment.Payment
	// PaymentURL is set for gateway payments.
	PaymentURL string
}

// PaymentLinker builds the gateway URL for an online payment.
type PaymentLinker interface {
	PaymentURL(req gateway.PaymentRequest) (string, error)
}

// Config holds order placement settings.
type Config struct {
	DefaultShippingFee decimal.Decimal
}

// Service places orders.
type Service struct {
	ledger Ledger
	linker PaymentLinker
	cfg    Config
	now    func() time.Time

	tracer trace.Tracer
	placed metric.Int64Counter
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithTracerProvider sets the tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Service) { s.tracer = tp.Tracer("checkout/order") }
}

// WithMeterProvider sets the meter provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(s *Service) { s.placed = newPlacedCounter(mp.Meter("checkout/order")) }
}

func newPlacedCounter(m metric.Meter) metric.Int64Counter {
	c, err := m.Int64Counter("orders.placed",
		metric.WithDescription("Committed orders by payment method"),
	)
	if err != nil {
		c, _ = metricnoop.NewMeterProvider().Meter("").Int64Counter("orders.placed")
	}
	return c
}

// NewService creates an order Service. linker may be nil when online
// payments are disabled.
func NewService(ledger Ledger, linker PaymentLinker, cfg Config, opts ...Option) *Service {
	s := &Service{
		ledger: ledger,
		linker: linker,
		cfg:    cfg,
		now:    time.Now,
		tracer: tracenoop.NewTracerProvider().Tracer(""),
		placed: newPlacedCounter(metricnoop.NewMeterProvider().Meter("")),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// PlaceOrder validates req, then prices, discounts and persists the order in
// a single transaction. A client retry places a new order.
func (s *Service) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (_ *PlaceOrderResult, rerr error) {
	ctx, span := s.tracer.Start(ctx, "order.PlaceOrder")
	defer func() {
		if rerr != nil {
			span.RecordError(rerr)
			span.SetStatus(codes.Error, rerr.Error())
		}
		span.End()
	}()

	req, err := s.normalize(req)
	if err != nil {
		return nil, err
	}
	if req.PaymentMethod == payment.MethodGateway && s.linker == nil {
		return nil, invalid("paymentMethod", "online payment is not available")
	}

	var res *PlaceOrderResult
	err = s.ledger.Commit(ctx, func(ctx context.Context, tx Tx) error {
		r, err := s.commit(ctx, tx, req)
		if err != nil {
			return err
		}
		res = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.placed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("payment_method", string(req.PaymentMethod)),
		attribute.Bool("voucher", res.Order.VoucherCode != ""),
	))
	span.SetAttributes(attribute.String("order.id", res.Order.ID.String()))
	zctx.From(ctx).Info("Order placed",
		zap.Stringer("order_id", res.Order.ID),
		zap.String("total", money.Format(res.Order.TotalPrice)),
		zap.String("voucher", res.Order.VoucherCode),
		zap.String("payment_method", string(req.PaymentMethod)),
	)

	return res, nil
}

func (s *Service) commit(ctx context.Context, tx Tx, req PlaceOrderRequest) (*PlaceOrderResult, error) {
	snap, err := catalog.Resolve(ctx, tx, req.Items)
	if err != nil {
		return nil, err
	}

	shipping := s.cfg.DefaultShippingFee
	if req.ShippingFee != nil {
		shipping = *req.ShippingFee
	}

	now := s.now().UTC()

	var discount *voucher.Discount
	if code, ok := voucher.NormalizeCode(req.VoucherCode); ok {
		discount, err = voucher.NewRedeemer(tx, func() time.Time { return now }).Redeem(ctx, code, voucher.Cart{
			ItemsTotal: snap.ItemsTotal,
			Quantity:   snap.Quantity,
			Categories: snap.Categories,
		}, shipping)
		if err != nil {
			return nil, err
		}
	}

	totals := ComputeTotals(snap.ItemsTotal, shipping, discount)
	if !totals.Balanced() || totals.TotalPrice.IsNegative() {
		return nil, errors.Errorf("unbalanced totals: %+v", totals)
	}
	if money.ExceedsMax(totals.ItemsTotal) || money.ExceedsMax(totals.TotalPrice) {
		return nil, invalid("items", "order total exceeds "+money.Format(money.MaxAmount))
	}
	if req.PaymentMethod == payment.MethodGateway && !totals.TotalPrice.IsPositive() {
		return nil, invalid("paymentMethod", "order total is zero, online payment is not applicable")
	}

	o := &Order{
		ID:            uuid.New(),
		UserID:        req.UserID,
		Contact:       req.Contact,
		Address:       req.Address,
		Note:          req.Note,
		Items:         make([]Item, len(snap.Lines)),
		Totals:        totals,
		Status:        StatusPending,
		PaymentStatus: PaymentPending,
		PaymentMethod: req.PaymentMethod,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	for i, l := range snap.Lines {
		o.Items[i] = Item{
			ItemID:    l.ItemID,
			Name:      l.Name,
			Category:  l.Category,
			Quantity:  l.Quantity,
			UnitPrice: l.UnitPrice,
			LineTotal: l.LineTotal,
		}
	}
	if discount != nil {
		o.VoucherCode = discount.Code
	}

	if err := tx.InsertOrder(ctx, o); err != nil {
		return nil, errors.Wrap(err, "insert order")
	}

	if discount != nil {
		if err := tx.InsertRedemption(ctx, &Redemption{
			OrderID:   o.ID,
			VoucherID: discount.VoucherID,
			Code:      discount.Code,
			Type:      discount.Type,
			Amount:    discount.Applied(),
			CreatedAt: now,
		}); err != nil {
			return nil, errors.Wrap(err, "insert voucher redemption")
		}
	}

	p := &payment.Payment{
		ID:        uuid.New(),
		OrderID:   o.ID,
		Amount:    o.TotalPrice,
		Method:    req.PaymentMethod,
		Status:    payment.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := tx.InsertPayment(ctx, p); err != nil {
		return nil, errors.Wrap(err, "insert payment")
	}

	if req.UserID != nil {
		if err := tx.ConsumeCart(ctx, *req.UserID); err != nil {
			return nil, errors.Wrap(err, "consume cart")
		}
	}

	res := &PlaceOrderResult{Order: o, Payment: p}
	if req.PaymentMethod == payment.MethodGateway {
		res.PaymentURL, err = s.linker.PaymentURL(gateway.PaymentRequest{
			OrderRef:  o.ID.String(),
			Amount:    o.TotalPrice,
			OrderInfo: "Payment for order " + o.ID.String(),
			ClientIP:  req.ClientIP,
			CreatedAt: now,
		})
		if err != nil {
			return nil, errors.Wrap(err, "build payment url")
		}
	}

	return res, nil
}

// normalize trims req and rejects malformed input before any storage access.
func (s *Service) normalize(req PlaceOrderRequest) (PlaceOrderRequest, error) {
	if len(req.Items) == 0 {
		return req, invalid("items", "at least one item is required")
	}
	for i, it := range req.Items {
		if it.ItemID <= 0 {
			return req, invalid(fmt.Sprintf("items[%d].itemId", i), "must be a positive id")
		}
		if it.Quantity < 1 {
			return req, invalid(fmt.Sprintf("items[%d].quantity", i), "must be at least 1")
		}
		if it.Quantity > MaxQuantity {
			return req, invalid(fmt.Sprintf("items[%d].quantity", i), fmt.Sprintf("must be at most %d", MaxQuantity))
		}
	}
	var merged int64
	seen := make(map[int64]int64, len(req.Items))
	for _, it := range req.Items {
		seen[it.ItemID] += int64(it.Quantity)
		merged = max(merged, seen[it.ItemID])
	}
	if merged > MaxQuantity {
		return req, invalid("items", fmt.Sprintf("combined quantity of one item must be at most %d", MaxQuantity))
	}

	req.Contact.FullName = strings.TrimSpace(req.Contact.FullName)
	req.Contact.Email = strings.TrimSpace(req.Contact.Email)
	req.Contact.Phone = strings.TrimSpace(req.Contact.Phone)
	req.Address.Line = strings.TrimSpace(req.Address.Line)
	req.Address.Ward = strings.TrimSpace(req.Address.Ward)
	req.Address.District = strings.TrimSpace(req.Address.District)
	req.Address.City = strings.TrimSpace(req.Address.City)
	req.Note = strings.TrimSpace(req.Note)

	switch {
	case req.Contact.FullName == "":
		return req, invalid("fullName", "is required")
	case req.Contact.Phone == "":
		return req, invalid("phone", "is required")
	case req.Address.Line == "":
		return req, invalid("address.line", "is required")
	}
	if req.Contact.Email != "" {
		if _, err := mail.ParseAddress(req.Contact.Email); err != nil {
			return req, invalid("email", "is not a valid address")
		}
	}

	if req.ShippingFee != nil {
		if req.ShippingFee.IsNegative() {
			return req, invalid("shippingFee", "must not be negative")
		}
		if !req.ShippingFee.Equal(req.ShippingFee.Truncate(money.Places)) {
			return req, invalid("shippingFee", "has too many decimal places")
		}
		if money.ExceedsMax(*req.ShippingFee) {
			return req, invalid("shippingFee", "must be at most "+money.Format(money.MaxAmount))
		}
	}

	if req.PaymentMethod == "" {
		req.PaymentMethod = payment.MethodCOD
	}
	if !req.PaymentMethod.Valid() {
		return req, invalid("paymentMethod", "must be COD or GATEWAY")
	}

	return req, nil
}
