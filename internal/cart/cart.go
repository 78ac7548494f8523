// Package cart holds the customer's pre-checkout selections.
package cart

import (
	"github.com/comanda-app/api/internal/catalog"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Line is a single menu selection. Name, Price and Category are copied from
// the catalog when the item is first added.
type Line struct {
	MenuItemID uuid.UUID
	Name       string
	Price      decimal.Decimal
	Category   string
	Quantity   int32
}

// Subtotal is Price × Quantity.
func (l Line) Subtotal() decimal.Decimal {
	return l.Price.Mul(decimal.NewFromInt32(l.Quantity))
}

// Cart has at most one line per menu item. It is not safe for concurrent use;
// each customer session owns its own Cart.
type Cart struct {
	lines map[uuid.UUID]*Line
	order []uuid.UUID
}

// New creates an empty Cart.
func New() *Cart {
	return &Cart{lines: make(map[uuid.UUID]*Line)}
}

// Add merges qty of item into the cart. A qty below 1 is treated as 1.
func (c *Cart) Add(item catalog.MenuItem, qty int32) {
	if qty < 1 {
		qty = 1
	}
	if l, ok := c.lines[item.ID]; ok {
		l.Quantity += qty
		return
	}
	c.lines[item.ID] = &Line{
		MenuItemID: item.ID,
		Name:       item.Name,
		Price:      item.EffectivePrice(),
		Category:   item.Category,
		Quantity:   qty,
	}
	c.order = append(c.order, item.ID)
}

// Remove drops the line for id. Removing an absent item is a no-op.
func (c *Cart) Remove(id uuid.UUID) {
	if _, ok := c.lines[id]; !ok {
		return
	}
	delete(c.lines, id)
	for i, oid := range c.order {
		if oid == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// SetQuantity overwrites the quantity of an existing line. qty <= 0 removes it.
// Items not in the cart are ignored.
func (c *Cart) SetQuantity(id uuid.UUID, qty int32) {
	if qty <= 0 {
		c.Remove(id)
		return
	}
	if l, ok := c.lines[id]; ok {
		l.Quantity = qty
	}
}

// Quantity returns the quantity of id currently in the cart (0 if absent).
func (c *Cart) Quantity(id uuid.UUID) int32 {
	if l, ok := c.lines[id]; ok {
		return l.Quantity
	}
	return 0
}

// Subtotal is recomputed from the lines on every call.
func (c *Cart) Subtotal() decimal.Decimal {
	total := decimal.Zero
	for _, l := range c.lines {
		total = total.Add(l.Subtotal())
	}
	return total
}

func (c *Cart) LineCount() int {
	return len(c.lines)
}

func (c *Cart) IsEmpty() bool {
	return len(c.lines) == 0
}

// Lines returns copies of the lines in insertion order.
func (c *Cart) Lines() []Line {
	out := make([]Line, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, *c.lines[id])
	}
	return out
}

// ItemIDs returns the menu item IDs in insertion order.
func (c *Cart) ItemIDs() []uuid.UUID {
	ids := make([]uuid.UUID, len(c.order))
	copy(ids, c.order)
	return ids
}

func (c *Cart) Clear() {
	c.lines = make(map[uuid.UUID]*Line)
	c.order = nil
}
