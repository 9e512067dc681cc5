//go:build integration

package postgres

import (
	"context"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/checkout-engine/internal/domain/auth"
	"github.com/xenking/checkout-engine/internal/domain/catalog"
	"github.com/xenking/checkout-engine/internal/domain/order"
	"github.com/xenking/checkout-engine/internal/domain/payment"
	"github.com/xenking/checkout-engine/internal/domain/voucher"
	"github.com/xenking/checkout-engine/internal/gateway"
)

const gatewaySecret = "integration-secret"

// --- Helpers ---

func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("checkout"),
		tcpostgres.WithUsername("postgres"),
		tcpostgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = testcontainers.TerminateContainer(container) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := NewPool(ctx, dsn, DefaultPoolConfig())
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, RunMigrations(ctx, pool))

	_, err = pool.Exec(ctx, `INSERT INTO catalog_items (id, name, price, category) VALUES
		(1, 'Tee', 10.00, 'apparel'),
		(2, 'Mug', 5.00, 'kitchen')`)
	require.NoError(t, err)

	return pool
}

func d(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func insertVoucher(t *testing.T, pool *pgxpool.Pool, code, typ, value string, usageLimit *int) {
	t.Helper()
	_, err := pool.Exec(context.Background(),
		`INSERT INTO vouchers (code, discount_type, value, usage_limit) VALUES ($1, $2, $3, $4)`,
		code, typ, d(value), usageLimit,
	)
	require.NoError(t, err)
}

func insertCart(t *testing.T, pool *pgxpool.Pool, userID uuid.UUID) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	cartID := uuid.New()
	_, err := pool.Exec(ctx, `INSERT INTO carts (id, user_id) VALUES ($1, $2)`, cartID, userID)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `INSERT INTO cart_items (cart_id, item_id, quantity) VALUES ($1, 1, 2), ($1, 2, 1)`, cartID)
	require.NoError(t, err)
	return cartID
}

func count(t *testing.T, pool *pgxpool.Pool, query string, args ...any) int {
	t.Helper()
	var n int
	require.NoError(t, pool.QueryRow(context.Background(), query, args...).Scan(&n))
	return n
}

func request(code string) order.PlaceOrderRequest {
	return order.PlaceOrderRequest{
		Contact:     order.Contact{FullName: "Jane Doe", Phone: "0900000000"},
		Address:     order.Address{Line: "1 Main St", City: "Hanoi"},
		Items:       []catalog.Line{{ItemID: 1, Quantity: 2}, {ItemID: 2, Quantity: 1}},
		VoucherCode: code,
	}
}

func newService(pool *pgxpool.Pool) *order.Service {
	return order.NewService(NewLedger(pool), nil, order.Config{DefaultShippingFee: d("5.00")})
}

func newReconciler(t *testing.T, pool *pgxpool.Pool) *payment.Reconciler {
	t.Helper()
	r, err := payment.NewReconciler(NewPaymentStore(pool), gateway.NewSigner(gatewaySecret), payment.Config{
		AmountScale: 100,
		Tolerance:   d("0.01"),
		SuccessCode: "00",
	})
	require.NoError(t, err)
	return r
}

func notification(orderID uuid.UUID, total decimal.Decimal, code string) url.Values {
	v := url.Values{}
	v.Set(gateway.ParamTxnRef, orderID.String())
	v.Set(gateway.ParamAmount, strconv.FormatInt(total.Mul(decimal.NewFromInt(100)).IntPart(), 10))
	v.Set(gateway.ParamResponseCode, code)
	v.Set(gateway.ParamTransactionNo, "9001")
	v.Set(gateway.ParamSecureHash, gateway.NewSigner(gatewaySecret).Sign(v))
	return v
}

// --- Tests ---

func TestOrderLifecycle(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	insertVoucher(t, pool, "SAVE10", "PERCENTAGE", "10", nil)
	owner := uuid.New()
	cartID := insertCart(t, pool, owner)

	req := request("save10")
	req.UserID = &owner

	res, err := newService(pool).PlaceOrder(ctx, req)
	require.NoError(t, err)
	id := res.Order.ID

	var itemsTotal, discount, shipping, total decimal.Decimal
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT items_total, discount_total, shipping_fee, total_price FROM orders WHERE id = $1`, id,
	).Scan(&itemsTotal, &discount, &shipping, &total))
	assert.Equal(t, "25.00", itemsTotal.StringFixed(2))
	assert.Equal(t, "2.50", discount.StringFixed(2))
	assert.Equal(t, "5.00", shipping.StringFixed(2))
	assert.Equal(t, "27.50", total.StringFixed(2))

	assert.Equal(t, 2, count(t, pool, `SELECT count(*) FROM order_items WHERE order_id = $1`, id))
	assert.Equal(t, 1, count(t, pool, `SELECT count(*) FROM order_voucher_redemptions WHERE order_id = $1 AND amount = 2.50`, id))
	assert.Equal(t, 1, count(t, pool, `SELECT used_count FROM vouchers WHERE code = 'SAVE10'`))
	assert.Equal(t, 0, count(t, pool, `SELECT count(*) FROM cart_items WHERE cart_id = $1`, cartID))
	assert.Equal(t, 1, count(t, pool, `SELECT count(*) FROM carts WHERE id = $1 AND status = 'CONSUMED'`, cartID))

	// Snapshot prices survive catalog changes.
	_, err = pool.Exec(ctx, `UPDATE catalog_items SET price = 99.00 WHERE id = 1`)
	require.NoError(t, err)
	assert.Equal(t, 1, count(t, pool, `SELECT count(*) FROM order_items WHERE order_id = $1 AND item_id = 1 AND unit_price = 10.00`, id))

	r := newReconciler(t, pool)
	out, err := r.Reconcile(ctx, notification(id, res.Order.TotalPrice, "00"))
	require.NoError(t, err)
	assert.Equal(t, payment.OutcomePaid, out.Outcome)

	var status, payStatus, pStatus string
	var paidAt *time.Time
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT o.status, o.payment_status, p.status, p.paid_at FROM orders o JOIN payments p ON p.order_id = o.id WHERE o.id = $1`, id,
	).Scan(&status, &payStatus, &pStatus, &paidAt))
	assert.Equal(t, "PAID", status)
	assert.Equal(t, "PAID", payStatus)
	assert.Equal(t, "SUCCESS", pStatus)
	require.NotNil(t, paidAt)

	again, err := r.Reconcile(ctx, notification(id, res.Order.TotalPrice, "00"))
	require.NoError(t, err)
	assert.Equal(t, payment.OutcomeDuplicate, again.Outcome)

	var paidAtAfter *time.Time
	require.NoError(t, pool.QueryRow(ctx, `SELECT paid_at FROM payments WHERE order_id = $1`, id).Scan(&paidAtAfter))
	assert.True(t, paidAt.Equal(*paidAtAfter))
}

func TestExhaustedVoucherCreatesNothing(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	zero := 0
	insertVoucher(t, pool, "EMPTY", "PERCENTAGE", "10", &zero)
	owner := uuid.New()
	cartID := insertCart(t, pool, owner)

	req := request("EMPTY")
	req.UserID = &owner

	_, err := newService(pool).PlaceOrder(ctx, req)
	require.ErrorIs(t, err, voucher.ErrExhausted)

	assert.Zero(t, count(t, pool, `SELECT count(*) FROM orders`))
	assert.Zero(t, count(t, pool, `SELECT count(*) FROM payments`))
	assert.Equal(t, 2, count(t, pool, `SELECT count(*) FROM cart_items WHERE cart_id = $1`, cartID))
	assert.Equal(t, 1, count(t, pool, `SELECT count(*) FROM carts WHERE id = $1 AND status = 'ACTIVE'`, cartID))
}

func TestUnknownItemRollsBackVoucherUsage(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	insertVoucher(t, pool, "FIVE", "FIXED_AMOUNT", "5", nil)

	req := request("FIVE")
	req.Items = append(req.Items, catalog.Line{ItemID: 404, Quantity: 1})

	_, err := newService(pool).PlaceOrder(ctx, req)
	require.ErrorIs(t, err, catalog.ErrItemNotFound)

	assert.Zero(t, count(t, pool, `SELECT count(*) FROM orders`))
	assert.Zero(t, count(t, pool, `SELECT used_count FROM vouchers WHERE code = 'FIVE'`))
}

func TestConcurrentRedemptionOfLimitedVoucher(t *testing.T) {
	pool := setupTestDB(t)
	const (
		limit    = 3
		attempts = 12
	)
	l := limit
	insertVoucher(t, pool, "RACE", "FIXED_AMOUNT", "1", &l)
	svc := newService(pool)

	var (
		mu        sync.Mutex
		ok        int
		exhausted int
	)
	start := make(chan struct{})

	var g errgroup.Group
	for range attempts {
		g.Go(func() error {
			<-start
			_, err := svc.PlaceOrder(context.Background(), request("RACE"))

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, voucher.ErrExhausted):
				exhausted++
			default:
				return err
			}
			return nil
		})
	}
	close(start)
	require.NoError(t, g.Wait())

	assert.Equal(t, limit, ok)
	assert.Equal(t, attempts-limit, exhausted)
	assert.Equal(t, limit, count(t, pool, `SELECT used_count FROM vouchers WHERE code = 'RACE'`))
	assert.Equal(t, limit, count(t, pool, `SELECT count(*) FROM orders`))
	assert.Equal(t, limit, count(t, pool, `SELECT count(*) FROM order_voucher_redemptions`))
}

func TestConcurrentDuplicateNotifications(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()

	res, err := newService(pool).PlaceOrder(ctx, request(""))
	require.NoError(t, err)
	r := newReconciler(t, pool)
	n := notification(res.Order.ID, res.Order.TotalPrice, "00")

	const deliveries = 6
	outcomes := make([]payment.Outcome, deliveries)

	var g errgroup.Group
	for i := range deliveries {
		g.Go(func() error {
			out, err := r.Reconcile(ctx, n)
			if err != nil {
				return err
			}
			outcomes[i] = out.Outcome
			return nil
		})
	}
	require.NoError(t, g.Wait())

	paid := 0
	for _, o := range outcomes {
		if o == payment.OutcomePaid {
			paid++
		} else {
			assert.Equal(t, payment.OutcomeDuplicate, o)
		}
	}
	assert.Equal(t, 1, paid)
}

func TestNotificationRejections(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()

	res, err := newService(pool).PlaceOrder(ctx, request(""))
	require.NoError(t, err)
	r := newReconciler(t, pool)

	_, err = r.Reconcile(ctx, notification(res.Order.ID, d("1.00"), "00"))
	require.ErrorIs(t, err, payment.ErrAmountMismatch)

	tampered := notification(res.Order.ID, res.Order.TotalPrice, "24")
	tampered.Set(gateway.ParamResponseCode, "00")
	_, err = r.Reconcile(ctx, tampered)
	require.ErrorIs(t, err, payment.ErrSignatureInvalid)

	_, err = r.Reconcile(ctx, notification(uuid.New(), res.Order.TotalPrice, "00"))
	require.ErrorIs(t, err, payment.ErrOrderNotFound)

	assert.Equal(t, 1, count(t, pool, `SELECT count(*) FROM payments WHERE order_id = $1 AND status = 'PENDING'`, res.Order.ID))
	assert.Equal(t, 1, count(t, pool, `SELECT count(*) FROM orders WHERE id = $1 AND status = 'PENDING'`, res.Order.ID))

	out, err := r.Reconcile(ctx, notification(res.Order.ID, res.Order.TotalPrice, "24"))
	require.NoError(t, err)
	assert.Equal(t, payment.OutcomeFailed, out.Outcome)
	assert.Equal(t, 1, count(t, pool, `SELECT count(*) FROM orders WHERE id = $1 AND status = 'PENDING' AND payment_status = 'FAILED'`, res.Order.ID))
}

func TestSessionRepository_FindByHash(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	user := uuid.New()
	hash := auth.HashToken([]byte("pepper"), "token")

	_, err := pool.Exec(ctx, `INSERT INTO sessions (token_hash, user_id, expires_at) VALUES ($1, $2, $3)`,
		hash, user, time.Now().Add(time.Hour))
	require.NoError(t, err)

	repo := NewSessionRepository(pool)
	s, err := repo.FindByHash(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, user, s.UserID)

	_, err = repo.FindByHash(ctx, "missing")
	require.ErrorIs(t, err, auth.ErrSessionNotFound)

	p, err := auth.NewAuthenticator(repo, []byte("pepper")).Authenticate(ctx, "token")
	require.NoError(t, err)
	assert.Equal(t, user, p.UserID)
}
