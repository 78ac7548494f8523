// Package catalog exposes the menu as read-only snapshots for the order engine.
package catalog

import (
	"context"
	"fmt"

	"github.com/comanda-app/api/internal/database"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

// MenuItem is a catalog entry. A nil Stock means unlimited.
type MenuItem struct {
	ID              uuid.UUID
	Name            string
	Category        string
	UnitPrice       decimal.Decimal
	Stock           *int32
	Available       bool
	DiscountPercent *decimal.Decimal
}

// HasStock reports whether the item tracks inventory.
func (m MenuItem) HasStock() bool {
	return m.Stock != nil
}

// Snapshot is a point-in-time view of the catalog keyed by item ID.
type Snapshot map[uuid.UUID]MenuItem

// Store defines the DB methods needed to read the catalog.
type Store interface {
	ListMenuItemsByIDs(ctx context.Context, ids []uuid.UUID) ([]database.MenuItem, error)
}

// Load reads the given items from the store. Missing IDs are simply absent
// from the returned snapshot.
func Load(ctx context.Context, store Store, ids []uuid.UUID) (Snapshot, error) {
	rows, err := store.ListMenuItemsByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("list menu items: %w", err)
	}
	snap := make(Snapshot, len(rows))
	for _, row := range rows {
		snap[row.ID] = FromRow(row)
	}
	return snap, nil
}

// FromRow converts a database row into a MenuItem.
func FromRow(row database.MenuItem) MenuItem {
	item := MenuItem{
		ID:        row.ID,
		Name:      row.Name,
		Category:  row.Category,
		UnitPrice: NumericToDecimal(row.UnitPrice),
		Available: row.Available,
	}
	if row.Stock.Valid {
		s := row.Stock.Int32
		item.Stock = &s
	}
	if row.DiscountPercent.Valid {
		d := NumericToDecimal(row.DiscountPercent)
		item.DiscountPercent = &d
	}
	return item
}

// EffectivePrice is the unit price after the item-level discount, if any.
func (m MenuItem) EffectivePrice() decimal.Decimal {
	if m.DiscountPercent == nil || !m.DiscountPercent.IsPositive() {
		return m.UnitPrice
	}
	off := m.UnitPrice.Mul(*m.DiscountPercent).Div(decimal.NewFromInt(100))
	return m.UnitPrice.Sub(off).Round(2)
}

// NumericToDecimal converts a pgtype.Numeric; invalid values become zero.
func NumericToDecimal(n pgtype.Numeric) decimal.Decimal {
	if !n.Valid {
		return decimal.Zero
	}
	val, err := n.Value()
	if err != nil || val == nil {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(val.(string))
	if err != nil {
		return decimal.Zero
	}
	return d
}

// DecimalToNumeric converts a decimal to a 2dp pgtype.Numeric.
func DecimalToNumeric(d decimal.Decimal) pgtype.Numeric {
	var n pgtype.Numeric
	_ = n.Scan(d.StringFixed(2))
	return n
}
