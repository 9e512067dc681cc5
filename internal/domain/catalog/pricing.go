package catalog

import (
	"context"
	"slices"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNoLines is returned when there is nothing to price.
var ErrNoLines = errors.New("no lines to price")

// Line is a requested catalog id and quantity.
type Line struct {
	ItemID   int64
	Quantity int
}

// PricedLine is a line frozen at the catalog price observed during pricing.
type PricedLine struct {
	ItemID    int64
	Name      string
	Category  string
	Quantity  int
	UnitPrice decimal.Decimal
	LineTotal decimal.Decimal
}

// Snapshot is the priced view of a request.
type Snapshot struct {
	Lines      []PricedLine
	ItemsTotal decimal.Decimal
	Quantity   int
	// Categories is sorted and holds each category once.
	Categories []string
}

// Merge sums the quantities of duplicate ids, keeping first-seen order.
func Merge(lines []Line) []Line {
	merged := make([]Line, 0, len(lines))
	pos := make(map[int64]int, len(lines))
	for _, l := range lines {
		if i, ok := pos[l.ItemID]; ok {
			merged[i].Quantity += l.Quantity
			continue
		}
		pos[l.ItemID] = len(merged)
		merged = append(merged, l)
	}
	return merged
}

// Resolve prices lines against repo. Unit prices always come from the
// catalog; any id that does not resolve aborts the whole snapshot.
func Resolve(ctx context.Context, repo Repository, lines []Line) (*Snapshot, error) {
	if len(lines) == 0 {
		return nil, ErrNoLines
	}

	merged := Merge(lines)
	ids := make([]int64, len(merged))
	for i, l := range merged {
		if l.Quantity <= 0 {
			return nil, &InvalidQuantityError{ID: l.ItemID, Quantity: l.Quantity}
		}
		ids[i] = l.ItemID
	}

	items, err := repo.FindByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "find catalog items")
	}

	byID := make(map[int64]Item, len(items))
	for _, it := range items {
		byID[it.ID] = it
	}

	snap := &Snapshot{
		Lines:      make([]PricedLine, 0, len(merged)),
		ItemsTotal: decimal.Zero,
	}
	seen := make(map[string]struct{})
	for _, l := range merged {
		it, ok := byID[l.ItemID]
		if !ok || !it.Active {
			return nil, &ItemNotFoundError{ID: l.ItemID}
		}

		lineTotal := it.Price.Mul(decimal.NewFromInt(int64(l.Quantity)))
		snap.Lines = append(snap.Lines, PricedLine{
			ItemID:    it.ID,
			Name:      it.Name,
			Category:  it.Category,
			Quantity:  l.Quantity,
			UnitPrice: it.Price,
			LineTotal: lineTotal,
		})
		snap.ItemsTotal = snap.ItemsTotal.Add(lineTotal)
		snap.Quantity += l.Quantity

		if _, dup := seen[it.Category]; !dup && it.Category != "" {
			seen[it.Category] = struct{}{}
			snap.Categories = append(snap.Categories, it.Category)
		}
	}
	slices.Sort(snap.Categories)

	return snap, nil
}
