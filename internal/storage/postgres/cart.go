package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
)

const (
	clearActiveCartItemsSQL = `DELETE FROM cart_items
		WHERE cart_id IN (SELECT id FROM carts WHERE user_id = $1 AND status = 'ACTIVE')`

	consumeActiveCartSQL = `UPDATE carts SET status = 'CONSUMED', updated_at = now()
		WHERE user_id = $1 AND status = 'ACTIVE'`
)

// ConsumeCart clears the owner's active cart and marks it consumed.
func (t *ledgerTx) ConsumeCart(ctx context.Context, userID uuid.UUID) error {
	if _, err := t.tx.Exec(ctx, clearActiveCartItemsSQL, userID); err != nil {
		return errors.Wrapf(err, "clear cart of user %s", userID)
	}
	if _, err := t.tx.Exec(ctx, consumeActiveCartSQL, userID); err != nil {
		return errors.Wrapf(err, "consume cart of user %s", userID)
	}
	return nil
}
