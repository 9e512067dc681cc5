package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/checkout-engine/internal/domain/catalog"
	"github.com/xenking/checkout-engine/internal/domain/order"
	"github.com/xenking/checkout-engine/internal/domain/payment"
)

const (
	findCatalogItemsSQL = `SELECT id, name, price, category, active
		FROM catalog_items WHERE id = ANY($1)`

	insertOrderSQL = `INSERT INTO orders (
		id, user_id, full_name, email, phone, address_line, ward, district, city, note,
		items_total, discount_total, shipping_fee, shipping_discount, total_price,
		status, payment_status, payment_method, voucher_code, created_at, updated_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)`

	insertOrderItemSQL = `INSERT INTO order_items (order_id, item_id, name, category, quantity, unit_price, line_total)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	insertRedemptionSQL = `INSERT INTO order_voucher_redemptions (order_id, voucher_id, code, discount_type, amount, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	insertPaymentSQL = `INSERT INTO payments (id, order_id, amount, method, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
)

var _ order.Ledger = (*Ledger)(nil)

// Ledger commits orders in PostgreSQL transactions.
type Ledger struct {
	pool *pgxpool.Pool
}

// NewLedger returns a Ledger that uses the given pool.
func NewLedger(pool *pgxpool.Pool) *Ledger {
	return &Ledger{pool: pool}
}

// Commit runs fn in a single transaction.
func (l *Ledger) Commit(ctx context.Context, fn func(ctx context.Context, tx order.Tx) error) error {
	return inTx(ctx, l.pool, func(tx pgx.Tx) error {
		return fn(ctx, &ledgerTx{tx: tx})
	})
}

var _ order.Tx = (*ledgerTx)(nil)

// ledgerTx binds the order commit operations to one pgx transaction.
type ledgerTx struct {
	tx pgx.Tx
}

// FindByIDs reads catalog items on the transaction's connection.
func (t *ledgerTx) FindByIDs(ctx context.Context, ids []int64) ([]catalog.Item, error) {
	rows, err := t.tx.Query(ctx, findCatalogItemsSQL, ids)
	if err != nil {
		return nil, errors.Wrap(err, "query catalog items")
	}
	items, err := pgx.CollectRows(rows, scanCatalogItem)
	if err != nil {
		return nil, errors.Wrap(err, "scan catalog items")
	}
	return items, nil
}

func scanCatalogItem(row pgx.CollectableRow) (catalog.Item, error) {
	var it catalog.Item
	err := row.Scan(&it.ID, &it.Name, &it.Price, &it.Category, &it.Active)
	return it, err
}

// InsertOrder stores the header and batch-inserts the items.
func (t *ledgerTx) InsertOrder(ctx context.Context, o *order.Order) error {
	var voucherCode *string
	if o.VoucherCode != "" {
		voucherCode = &o.VoucherCode
	}

	if _, err := t.tx.Exec(ctx, insertOrderSQL,
		o.ID, o.UserID,
		o.Contact.FullName, o.Contact.Email, o.Contact.Phone,
		o.Address.Line, o.Address.Ward, o.Address.District, o.Address.City, o.Note,
		o.ItemsTotal, o.DiscountTotal, o.ShippingFee, o.ShippingDiscount, o.TotalPrice,
		string(o.Status), string(o.PaymentStatus), string(o.PaymentMethod), voucherCode,
		o.CreatedAt, o.UpdatedAt,
	); err != nil {
		return errors.Wrapf(err, "insert order %s", o.ID)
	}

	batch := &pgx.Batch{}
	for _, it := range o.Items {
		batch.Queue(insertOrderItemSQL,
			o.ID, it.ItemID, it.Name, it.Category, it.Quantity, it.UnitPrice, it.LineTotal,
		)
	}

	br := t.tx.SendBatch(ctx, batch)
	for range o.Items {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return errors.Wrapf(err, "insert items of order %s", o.ID)
		}
	}
	if err := br.Close(); err != nil {
		return errors.Wrap(err, "close item batch")
	}

	return nil
}

// InsertRedemption stores the voucher ledger entry of an order.
func (t *ledgerTx) InsertRedemption(ctx context.Context, r *order.Redemption) error {
	if _, err := t.tx.Exec(ctx, insertRedemptionSQL,
		r.OrderID, r.VoucherID, r.Code, string(r.Type), r.Amount, r.CreatedAt,
	); err != nil {
		return errors.Wrapf(err, "insert redemption for order %s", r.OrderID)
	}
	return nil
}

// InsertPayment stores the initial payment record.
func (t *ledgerTx) InsertPayment(ctx context.Context, p *payment.Payment) error {
	if _, err := t.tx.Exec(ctx, insertPaymentSQL,
		p.ID, p.OrderID, p.Amount, string(p.Method), string(p.Status), p.CreatedAt, p.UpdatedAt,
	); err != nil {
		return errors.Wrapf(err, "insert payment for order %s", p.OrderID)
	}
	return nil
}
