package catalog

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrItemNotFound is matched by every ItemNotFoundError.
	ErrItemNotFound = errors.New("catalog item not found")
	// ErrInvalidQuantity is matched by every InvalidQuantityError.
	ErrInvalidQuantity = errors.New("invalid quantity")
)

// ItemNotFoundError indicates a requested catalog id did not resolve to an
// active item.
type ItemNotFoundError struct {
	ID int64
}

func (e *ItemNotFoundError) Error() string {
	return fmt.Sprintf("catalog item %d not found", e.ID)
}

func (e *ItemNotFoundError) Unwrap() error { return ErrItemNotFound }

// InvalidQuantityError reports a line whose merged quantity is not positive.
type InvalidQuantityError struct {
	ID       int64
	Quantity int
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("catalog item %d: quantity %d must be positive", e.ID, e.Quantity)
}

func (e *InvalidQuantityError) Unwrap() error { return ErrInvalidQuantity }

// Item is the current catalog state of a purchasable item.
type Item struct {
	ID       int64
	Name     string
	Price    decimal.Decimal
	Category string
	Active   bool
}

// Repository resolves catalog items by id. Implementations must read the
// current price, not a cached copy.
type Repository interface {
	FindByIDs(ctx context.Context, ids []int64) ([]Item, error)
}
