package service

import (
	"github.com/comanda-app/api/internal/cart"
	"github.com/comanda-app/api/internal/catalog"
)

// StockGuard checks cart quantities against menu stock. It holds no state.
type StockGuard struct{}

// CanAdd reports whether one more unit of item fits within its stock given
// what is already in the cart. Items without stock tracking always fit.
func (StockGuard) CanAdd(item catalog.MenuItem, c *cart.Cart) bool {
	if !item.Available {
		return false
	}
	if !item.HasStock() {
		return true
	}
	available := *item.Stock - c.Quantity(item.ID)
	return available > 0
}

// ValidateCart is the checkout gate. It fails on the first line that the
// catalog cannot satisfy and performs no writes.
func (StockGuard) ValidateCart(c *cart.Cart, snap catalog.Snapshot) error {
	for _, line := range c.Lines() {
		item, ok := snap[line.MenuItemID]
		if !ok {
			return &LinkedEntityNotFoundError{Entity: "menu_item", ID: line.MenuItemID}
		}
		if !item.Available {
			return &StockInsufficientError{ItemID: item.ID, Name: item.Name, Available: 0}
		}
		if item.HasStock() && line.Quantity > *item.Stock {
			return &StockInsufficientError{ItemID: item.ID, Name: item.Name, Available: *item.Stock}
		}
	}
	return nil
}
