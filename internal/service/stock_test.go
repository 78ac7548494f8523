package service

import (
	"errors"
	"testing"

	"github.com/comanda-app/api/internal/cart"
	"github.com/comanda-app/api/internal/catalog"
	"github.com/google/uuid"
)

func TestStockGuard_CanAdd(t *testing.T) {
	guard := StockGuard{}

	t.Run("untracked stock always fits", func(t *testing.T) {
		item := menuItem("Water", "drinks", "1.00", nil)
		c := cart.New()
		c.Add(item, 500)
		if !guard.CanAdd(item, c) {
			t.Error("expected item without stock to always fit")
		}
	})

	t.Run("fits below stock", func(t *testing.T) {
		item := menuItem("Pie", "dessert", "4.00", int32Ptr(3))
		c := cart.New()
		c.Add(item, 2)
		if !guard.CanAdd(item, c) {
			t.Error("expected third unit to fit in stock of 3")
		}
	})

	t.Run("rejects at stock", func(t *testing.T) {
		item := menuItem("Pie", "dessert", "4.00", int32Ptr(3))
		c := cart.New()
		c.Add(item, 3)
		if guard.CanAdd(item, c) {
			t.Error("expected fourth unit to be rejected")
		}
	})

	t.Run("rejects zero stock", func(t *testing.T) {
		item := menuItem("Pie", "dessert", "4.00", int32Ptr(0))
		if guard.CanAdd(item, cart.New()) {
			t.Error("expected out-of-stock item to be rejected")
		}
	})

	t.Run("rejects unavailable", func(t *testing.T) {
		item := menuItem("Soup", "food", "6.00", nil)
		item.Available = false
		if guard.CanAdd(item, cart.New()) {
			t.Error("expected unavailable item to be rejected")
		}
	})
}

func TestStockGuard_ValidateCart(t *testing.T) {
	guard := StockGuard{}
	burger := menuItem("Burger", "food", "10.00", int32Ptr(2))
	cola := menuItem("Cola", "drinks", "2.50", nil)
	snap := catalog.Snapshot{burger.ID: burger, cola.ID: cola}

	t.Run("passes within stock", func(t *testing.T) {
		c := cart.New()
		c.Add(burger, 2)
		c.Add(cola, 10)
		if err := guard.ValidateCart(c, snap); err != nil {
			t.Fatalf("expected no error, got: %v", err)
		}
	})

	t.Run("names first offending line", func(t *testing.T) {
		c := cart.New()
		c.Add(cola, 1)
		c.Add(burger, 3)
		err := guard.ValidateCart(c, snap)
		var se *StockInsufficientError
		if !errors.As(err, &se) {
			t.Fatalf("expected *StockInsufficientError, got: %v", err)
		}
		if se.ItemID != burger.ID {
			t.Errorf("expected item %s, got %s", burger.ID, se.ItemID)
		}
		if se.Available != 2 {
			t.Errorf("expected available 2, got %d", se.Available)
		}
	})

	t.Run("stock decreased since add", func(t *testing.T) {
		c := cart.New()
		c.Add(burger, 2)
		live := menuItem("Burger", "food", "10.00", int32Ptr(1))
		live.ID = burger.ID
		err := guard.ValidateCart(c, catalog.Snapshot{burger.ID: live})
		var se *StockInsufficientError
		if !errors.As(err, &se) {
			t.Fatalf("expected *StockInsufficientError, got: %v", err)
		}
		if se.Available != 1 {
			t.Errorf("expected available 1, got %d", se.Available)
		}
	})

	t.Run("missing item", func(t *testing.T) {
		c := cart.New()
		ghost := menuItem("Ghost", "food", "1.00", nil)
		c.Add(ghost, 1)
		err := guard.ValidateCart(c, snap)
		var le *LinkedEntityNotFoundError
		if !errors.As(err, &le) {
			t.Fatalf("expected *LinkedEntityNotFoundError, got: %v", err)
		}
		if le.Entity != "menu_item" || le.ID != ghost.ID {
			t.Errorf("unexpected error fields: %+v", le)
		}
	})

	t.Run("unavailable item", func(t *testing.T) {
		soup := menuItem("Soup", "food", "6.00", nil)
		soup.Available = false
		c := cart.New()
		c.Add(soup, 1)
		err := guard.ValidateCart(c, catalog.Snapshot{soup.ID: soup})
		var se *StockInsufficientError
		if !errors.As(err, &se) {
			t.Fatalf("expected *StockInsufficientError, got: %v", err)
		}
		if se.Available != 0 {
			t.Errorf("expected available 0, got %d", se.Available)
		}
	})

	t.Run("empty cart passes", func(t *testing.T) {
		if err := guard.ValidateCart(cart.New(), catalog.Snapshot{uuid.New(): cola}); err != nil {
			t.Fatalf("expected no error, got: %v", err)
		}
	})
}
