package postgres

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/xenking/checkout-engine/internal/domain/voucher"
)

const (
	lockVoucherByCodeSQL = `SELECT id, code, discount_type, value, max_discount, min_order_amount,
		min_quantity, applicable_categories, valid_from, valid_to, usage_limit, used_count
		FROM vouchers WHERE UPPER(code) = UPPER($1) AND active = TRUE
		FOR UPDATE`

	// Consumes a slot only while one remains; zero affected rows means the
	// voucher is exhausted.
	incrementVoucherUsageSQL = `UPDATE vouchers SET used_count = used_count + 1, updated_at = now()
		WHERE id = $1 AND (usage_limit IS NULL OR used_count < usage_limit)`
)

var _ voucher.Repository = (*ledgerTx)(nil)

// LockByCode reads an active voucher and holds its row lock until the
// transaction ends.
func (t *ledgerTx) LockByCode(ctx context.Context, code string) (*voucher.Voucher, error) {
	rows, err := t.tx.Query(ctx, lockVoucherByCodeSQL, code)
	if err != nil {
		return nil, errors.Wrapf(err, "lock voucher %q", code)
	}

	v, err := pgx.CollectExactlyOneRow(rows, scanVoucher)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, voucher.ErrNotFound
		}
		return nil, errors.Wrapf(err, "lock voucher %q", code)
	}
	return &v, nil
}

// IncrementUsage consumes one usage slot.
func (t *ledgerTx) IncrementUsage(ctx context.Context, id int64) error {
	tag, err := t.tx.Exec(ctx, incrementVoucherUsageSQL, id)
	if err != nil {
		return errors.Wrapf(err, "increment usage of voucher %d", id)
	}
	if tag.RowsAffected() == 0 {
		return voucher.ErrExhausted
	}
	return nil
}

func scanVoucher(row pgx.CollectableRow) (voucher.Voucher, error) {
	var (
		v            voucher.Voucher
		discountType string
		minQuantity  int32
		usageLimit   *int32
		usedCount    int32
		validFrom    *time.Time
		validTo      *time.Time
		maxDiscount  decimal.NullDecimal
		minOrder     decimal.NullDecimal
	)

	if err := row.Scan(
		&v.ID, &v.Code, &discountType, &v.Value, &maxDiscount, &minOrder,
		&minQuantity, &v.ApplicableCategories, &validFrom, &validTo, &usageLimit, &usedCount,
	); err != nil {
		return voucher.Voucher{}, err
	}

	v.Type = voucher.Type(discountType)
	v.MaxDiscount = maxDiscount
	v.MinOrderAmount = minOrder
	v.MinQuantity = int(minQuantity)
	v.ValidFrom = validFrom
	v.ValidTo = validTo
	v.UsedCount = int(usedCount)
	if usageLimit != nil {
		limit := int(*usageLimit)
		v.UsageLimit = &limit
	}

	return v, nil
}
