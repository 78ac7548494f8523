package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/comanda-app/api/internal/cart"
	"github.com/comanda-app/api/internal/catalog"
	"github.com/comanda-app/api/internal/database"
	"github.com/comanda-app/api/internal/enum"
	"github.com/comanda-app/api/internal/events"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

// newTestCheckout creates a CheckoutService whose pool and tx stores are both store.
func newTestCheckout(store *mockStore) (*CheckoutService, *mockTx, *recordingPublisher) {
	tx := &mockTx{}
	pool := &mockTxBeginner{tx: tx}
	pub := &recordingPublisher{}
	promos, _ := newTestPromotionService(store)
	promos.publisher = pub
	newStore := func(db database.DBTX) CheckoutStore { return store }
	svc := NewCheckoutService(store, pool, newStore, promos, pub, DefaultReservationFee)
	svc.backoff = noRetry
	return svc, tx, pub
}

// checkoutStore returns a mockStore that serves items from the catalog and
// echoes every write.
func checkoutStore(items ...catalog.MenuItem) *mockStore {
	return &mockStore{
		listMenuItemsByIDsFn: func(ctx context.Context, ids []uuid.UUID) ([]database.MenuItem, error) {
			var rows []database.MenuItem
			for _, id := range ids {
				for _, it := range items {
					if it.ID == id {
						rows = append(rows, menuRow(it))
					}
				}
			}
			return rows, nil
		},
		createOrderFn: func(ctx context.Context, arg database.CreateOrderParams) (database.Order, error) {
			return database.Order{
				ID:             uuid.New(),
				Status:         enum.OrderStatusPending,
				Subtotal:       arg.Subtotal,
				DiscountAmount: arg.DiscountAmount,
				ReservationFee: arg.ReservationFee,
				FinalTotal:     arg.FinalTotal,
				PromotionID:    arg.PromotionID,
				PromotionCode:  arg.PromotionCode,
				PromotionKind:  arg.PromotionKind,
				PromotionValue: arg.PromotionValue,
				PaymentMethod:  arg.PaymentMethod,
				Notes:          arg.Notes,
				TableID:        arg.TableID,
				CustomerID:     arg.CustomerID,
				ReservationID:  arg.ReservationID,
				CreatedBy:      arg.CreatedBy,
			}, nil
		},
		createOrderLineFn: func(ctx context.Context, arg database.CreateOrderLineParams) (database.OrderLine, error) {
			return database.OrderLine{
				ID:         uuid.New(),
				OrderID:    arg.OrderID,
				MenuItemID: arg.MenuItemID,
				Name:       arg.Name,
				Category:   arg.Category,
				Price:      arg.Price,
				Quantity:   arg.Quantity,
				Subtotal:   arg.Subtotal,
			}, nil
		},
		createPaymentFn: func(ctx context.Context, arg database.CreatePaymentParams) (database.Payment, error) {
			return database.Payment{
				ID:      uuid.New(),
				OrderID: arg.OrderID,
				Method:  arg.Method,
				Amount:  arg.Amount,
				Status:  enum.PaymentStatusPending,
			}, nil
		},
	}
}

func tableOpts() CheckoutOptions {
	return CheckoutOptions{TableID: "T4", PaymentMethod: enum.PaymentMethodCash}
}

// =====================
// Validation tests
// =====================

func TestCreateOrder_Validation(t *testing.T) {
	burger := menuItem("Burger", "food", "10.00", nil)
	full := cart.New()
	full.Add(burger, 1)
	someone := uuid.New()

	tests := []struct {
		name  string
		actor Actor
		cart  *cart.Cart
		opts  CheckoutOptions
		want  error
	}{
		{"empty cart", staff(), cart.New(), tableOpts(), ErrEmptyCart},
		{"nil cart", staff(), nil, tableOpts(), ErrEmptyCart},
		{"no owner", staff(), full, CheckoutOptions{PaymentMethod: "CASH"}, ErrNoOwner},
		{"both owners", staff(), full, CheckoutOptions{TableID: "T1", CustomerID: &someone, PaymentMethod: "CASH"}, ErrAmbiguousOwner},
		{"bad payment method", staff(), full, CheckoutOptions{TableID: "T1", PaymentMethod: "CHEQUE"}, ErrInvalidPaymentMethod},
		{"customer ordering for another", customer(), full, CheckoutOptions{CustomerID: &someone, PaymentMethod: "CARD"}, ErrForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Empty store: any read or write panics.
			svc, _, pub := newTestCheckout(&mockStore{})
			_, err := svc.CreateOrder(context.Background(), tt.actor, tt.cart, tt.opts)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got: %v", tt.want, err)
			}
			if len(pub.types()) != 0 {
				t.Errorf("expected no events, got %v", pub.types())
			}
		})
	}
}

func TestCreateOrder_ValidationErrorsWrapSentinel(t *testing.T) {
	for _, err := range []error{ErrEmptyCart, ErrNoOwner, ErrAmbiguousOwner, ErrInvalidPaymentMethod, ErrReservationUnavailable} {
		if !errors.Is(err, ErrValidation) {
			t.Errorf("expected %v to wrap ErrValidation", err)
		}
	}
}

func TestCreateOrder_StockFailureWritesNothing(t *testing.T) {
	pie := menuItem("Pie", "dessert", "4.00", int32Ptr(1))
	store := checkoutStore(pie)
	store.createOrderFn = nil
	store.createOrderLineFn = nil
	store.createPaymentFn = nil

	c := cart.New()
	c.Add(pie, 2)

	svc, tx, pub := newTestCheckout(store)
	_, err := svc.CreateOrder(context.Background(), staff(), c, tableOpts())

	var se *StockInsufficientError
	if !errors.As(err, &se) {
		t.Fatalf("expected *StockInsufficientError, got: %v", err)
	}
	if se.ItemID != pie.ID || se.Available != 1 {
		t.Errorf("unexpected error fields: %+v", se)
	}
	if tx.committed {
		t.Error("expected no commit")
	}
	if len(pub.types()) != 0 {
		t.Errorf("expected no events, got %v", pub.types())
	}
}

func TestCreateOrder_UnknownMenuItem(t *testing.T) {
	store := checkoutStore()
	c := cart.New()
	c.Add(menuItem("Ghost", "food", "1.00", nil), 1)

	svc, _, _ := newTestCheckout(store)
	_, err := svc.CreateOrder(context.Background(), staff(), c, tableOpts())

	var le *LinkedEntityNotFoundError
	if !errors.As(err, &le) {
		t.Fatalf("expected *LinkedEntityNotFoundError, got: %v", err)
	}
}

// =====================
// Happy paths
// =====================

func TestCreateOrder_WithPercentagePromotion(t *testing.T) {
	burger := menuItem("Burger", "food", "10.00", nil)
	lemonade := menuItem("Lemonade", "drinks", "5.00", nil)
	promo := promoRow("SAVE10", "PERCENTAGE", "10")

	store := checkoutStore(burger, lemonade)
	store.getPromotionByCodeFn = storeWithPromotion(promo).getPromotionByCodeFn
	redeemed := 0
	store.redeemPromotionFn = func(ctx context.Context, id uuid.UUID) (database.Promotion, error) {
		if id != promo.ID {
			t.Errorf("expected redeem of %s, got %s", promo.ID, id)
		}
		redeemed++
		p := promo
		p.UsesSoFar++
		return p, nil
	}

	c := cart.New()
	c.Add(burger, 2)
	c.Add(lemonade, 1)
	opts := tableOpts()
	opts.PromotionCode = "save10"
	opts.Notes = "  no onions "

	svc, tx, pub := newTestCheckout(store)
	res, err := svc.CreateOrder(context.Background(), staff(), c, opts)
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if !numericEquals(res.Order.Subtotal, "25.00") {
		t.Errorf("expected subtotal 25.00, got %v", res.Order.Subtotal)
	}
	if !numericEquals(res.Order.DiscountAmount, "2.50") {
		t.Errorf("expected discount 2.50, got %v", res.Order.DiscountAmount)
	}
	if !numericEquals(res.Order.FinalTotal, "22.50") {
		t.Errorf("expected final 22.50, got %v", res.Order.FinalTotal)
	}
	if res.Order.PromotionCode.String != "SAVE10" || res.Order.PromotionKind.String != "PERCENTAGE" {
		t.Errorf("expected promotion snapshot SAVE10/PERCENTAGE, got %q/%q", res.Order.PromotionCode.String, res.Order.PromotionKind.String)
	}
	if res.Order.Notes.String != "no onions" {
		t.Errorf("expected trimmed notes, got %q", res.Order.Notes.String)
	}
	if res.Order.Status != enum.OrderStatusPending {
		t.Errorf("expected PENDING, got %s", res.Order.Status)
	}
	if redeemed != 1 {
		t.Errorf("expected 1 redemption, got %d", redeemed)
	}
	if len(res.Lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(res.Lines))
	}
	if res.Lines[0].Name != "Burger" || res.Lines[0].Quantity != 2 || !numericEquals(res.Lines[0].Subtotal, "20.00") {
		t.Errorf("unexpected first line: %+v", res.Lines[0])
	}
	if !numericEquals(res.Payment.Amount, "22.50") || res.Payment.Status != enum.PaymentStatusPending {
		t.Errorf("expected pending payment of 22.50, got %+v", res.Payment)
	}
	if !tx.committed {
		t.Error("expected commit")
	}
	types := pub.types()
	if len(types) != 2 || types[0] != events.TypeOrderCreated || types[1] != events.TypePromotionUpdated {
		t.Errorf("expected [order.created promotion.updated], got %v", types)
	}
}

func TestCreateOrder_CustomerOwnsOrder(t *testing.T) {
	burger := menuItem("Burger", "food", "10.00", nil)
	store := checkoutStore(burger)
	c := cart.New()
	c.Add(burger, 1)

	actor := customer()
	svc, _, _ := newTestCheckout(store)
	res, err := svc.CreateOrder(context.Background(), actor, c, CheckoutOptions{
		CustomerID:    &actor.ID,
		PaymentMethod: enum.PaymentMethodCard,
	})
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if !res.Order.CustomerID.Valid || uuid.UUID(res.Order.CustomerID.Bytes) != actor.ID {
		t.Errorf("expected customer owner %s", actor.ID)
	}
	if res.Order.TableID.Valid {
		t.Error("expected no table owner")
	}
}

func TestCreateOrder_RedeemRaceRollsBack(t *testing.T) {
	burger := menuItem("Burger", "food", "10.00", nil)
	promo := promoRow("LAST", "FIXED_AMOUNT", "3")
	promo.MaxUses = 1

	store := checkoutStore(burger)
	store.getPromotionByCodeFn = storeWithPromotion(promo).getPromotionByCodeFn
	// Another checkout took the last use between validation and redemption.
	store.redeemPromotionFn = func(ctx context.Context, id uuid.UUID) (database.Promotion, error) {
		return database.Promotion{}, pgx.ErrNoRows
	}
	store.createPaymentFn = nil

	c := cart.New()
	c.Add(burger, 1)
	opts := tableOpts()
	opts.PromotionCode = "LAST"

	svc, tx, pub := newTestCheckout(store)
	_, err := svc.CreateOrder(context.Background(), staff(), c, opts)

	var pe *PromotionInvalidError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *PromotionInvalidError, got: %v", err)
	}
	if pe.Reason != PromotionExhausted {
		t.Errorf("expected exhausted, got %s", pe.Reason)
	}
	if tx.committed {
		t.Error("expected rollback, got commit")
	}
	if len(pub.types()) != 0 {
		t.Errorf("expected no events, got %v", pub.types())
	}
}

func TestCreateOrder_PromotionExpiredBeforeRedeem(t *testing.T) {
	burger := menuItem("Burger", "food", "10.00", nil)
	promo := promoRow("LUNCH", "FIXED_AMOUNT", "3")
	promo.ExpiresAt = pgtype.Timestamptz{Time: fixedNow.Add(time.Minute), Valid: true}

	expired := promo
	expired.ExpiresAt = pgtype.Timestamptz{Time: fixedNow.Add(-time.Second), Valid: true}

	store := checkoutStore(burger)
	lookups := 0
	store.getPromotionByCodeFn = func(ctx context.Context, code string) (database.Promotion, error) {
		lookups++
		if lookups == 1 {
			return promo, nil
		}
		return expired, nil
	}
	// The guarded update no longer matches once the promotion has expired.
	store.redeemPromotionFn = func(ctx context.Context, id uuid.UUID) (database.Promotion, error) {
		return database.Promotion{}, pgx.ErrNoRows
	}
	store.createPaymentFn = nil

	c := cart.New()
	c.Add(burger, 1)
	opts := tableOpts()
	opts.PromotionCode = "LUNCH"

	svc, tx, pub := newTestCheckout(store)
	_, err := svc.CreateOrder(context.Background(), staff(), c, opts)

	var pe *PromotionInvalidError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *PromotionInvalidError, got: %v", err)
	}
	if pe.Reason != PromotionExpired {
		t.Errorf("expected expired, got %s", pe.Reason)
	}
	if lookups != 2 {
		t.Errorf("expected promotion re-read after failed redeem, got %d lookups", lookups)
	}
	if tx.committed {
		t.Error("expected rollback, got commit")
	}
	if len(pub.types()) != 0 {
		t.Errorf("expected no events, got %v", pub.types())
	}
}

func TestCreateOrder_InvalidPromotionAbortsBeforeWrites(t *testing.T) {
	burger := menuItem("Burger", "food", "10.00", nil)
	promo := promoRow("OFF", "PERCENTAGE", "10")
	promo.Active = false

	store := checkoutStore(burger)
	store.getPromotionByCodeFn = storeWithPromotion(promo).getPromotionByCodeFn
	store.createOrderFn = nil

	c := cart.New()
	c.Add(burger, 1)
	opts := tableOpts()
	opts.PromotionCode = "OFF"

	svc, _, _ := newTestCheckout(store)
	_, err := svc.CreateOrder(context.Background(), staff(), c, opts)

	var pe *PromotionInvalidError
	if !errors.As(err, &pe) || pe.Reason != PromotionInactive {
		t.Fatalf("expected inactive promotion error, got: %v", err)
	}
}

// =====================
// Reservations
// =====================

func TestCreateOrder_WithReservation(t *testing.T) {
	burger := menuItem("Burger", "food", "10.00", nil)
	lemonade := menuItem("Lemonade", "drinks", "5.00", nil)
	resID := uuid.New()
	reservation := database.Reservation{ID: resID, TableID: "T9", Status: enum.ReservationStatusPending, PartySize: 2}

	store := checkoutStore(burger, lemonade)
	store.getReservationFn = func(ctx context.Context, id uuid.UUID) (database.Reservation, error) {
		if id != resID {
			return database.Reservation{}, pgx.ErrNoRows
		}
		return reservation, nil
	}
	var linkArg database.LinkReservationOrderParams
	store.linkReservationOrderFn = func(ctx context.Context, arg database.LinkReservationOrderParams) (database.Reservation, error) {
		linkArg = arg
		r := reservation
		r.HasMenu = true
		r.Status = enum.ReservationStatusPendingConfirmation
		r.LinkedOrderID = pgtype.UUID{Bytes: arg.OrderID, Valid: true}
		r.BaseFee = arg.BaseFee
		return r, nil
	}

	c := cart.New()
	c.Add(burger, 2)
	c.Add(lemonade, 1)
	opts := tableOpts()
	opts.ReservationID = &resID

	svc, _, pub := newTestCheckout(store)
	res, err := svc.CreateOrder(context.Background(), staff(), c, opts)
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if !numericEquals(res.Order.ReservationFee, "5.00") {
		t.Errorf("expected fee 5.00, got %v", res.Order.ReservationFee)
	}
	if !numericEquals(res.Order.FinalTotal, "30.00") {
		t.Errorf("expected final 30.00, got %v", res.Order.FinalTotal)
	}
	if linkArg.ID != resID || linkArg.OrderID != res.Order.ID {
		t.Errorf("unexpected link args: %+v", linkArg)
	}
	if !numericEquals(linkArg.BaseFee, "5.00") {
		t.Errorf("expected base fee 5.00, got %v", linkArg.BaseFee)
	}
	if res.Reservation == nil || !res.Reservation.HasMenu || res.Reservation.Status != enum.ReservationStatusPendingConfirmation {
		t.Errorf("expected linked reservation, got %+v", res.Reservation)
	}
	types := pub.types()
	if len(types) != 2 || types[1] != events.TypeReservationUpdated {
		t.Errorf("expected order.created then reservation.updated, got %v", types)
	}
}

func TestCreateOrder_ReservationProblems(t *testing.T) {
	burger := menuItem("Burger", "food", "10.00", nil)
	resID := uuid.New()

	tests := []struct {
		name   string
		getRes func(ctx context.Context, id uuid.UUID) (database.Reservation, error)
		check  func(t *testing.T, err error)
	}{
		{
			name: "missing",
			getRes: func(ctx context.Context, id uuid.UUID) (database.Reservation, error) {
				return database.Reservation{}, pgx.ErrNoRows
			},
			check: func(t *testing.T, err error) {
				var le *LinkedEntityNotFoundError
				if !errors.As(err, &le) || le.Entity != "reservation" {
					t.Fatalf("expected reservation LinkedEntityNotFoundError, got: %v", err)
				}
			},
		},
		{
			name: "cancelled",
			getRes: func(ctx context.Context, id uuid.UUID) (database.Reservation, error) {
				return database.Reservation{ID: id, Status: enum.ReservationStatusCancelled}, nil
			},
			check: func(t *testing.T, err error) {
				if !errors.Is(err, ErrReservationUnavailable) {
					t.Fatalf("expected ErrReservationUnavailable, got: %v", err)
				}
			},
		},
		{
			name: "linked elsewhere",
			getRes: func(ctx context.Context, id uuid.UUID) (database.Reservation, error) {
				return database.Reservation{
					ID:            id,
					Status:        enum.ReservationStatusPendingConfirmation,
					LinkedOrderID: pgtype.UUID{Bytes: uuid.New(), Valid: true},
				}, nil
			},
			check: func(t *testing.T, err error) {
				if !errors.Is(err, ErrReservationUnavailable) {
					t.Fatalf("expected ErrReservationUnavailable, got: %v", err)
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := checkoutStore(burger)
			store.getReservationFn = tt.getRes
			store.createOrderFn = nil

			c := cart.New()
			c.Add(burger, 1)
			opts := tableOpts()
			opts.ReservationID = &resID

			svc, _, _ := newTestCheckout(store)
			_, err := svc.CreateOrder(context.Background(), staff(), c, opts)
			tt.check(t, err)
		})
	}
}

func TestCreateOrder_PersistenceFailure(t *testing.T) {
	burger := menuItem("Burger", "food", "10.00", nil)
	store := checkoutStore(burger)
	store.createOrderFn = func(ctx context.Context, arg database.CreateOrderParams) (database.Order, error) {
		return database.Order{}, errors.New("connection reset")
	}
	c := cart.New()
	c.Add(burger, 1)

	svc, tx, _ := newTestCheckout(store)
	_, err := svc.CreateOrder(context.Background(), staff(), c, tableOpts())

	var pe *PersistenceError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *PersistenceError, got: %v", err)
	}
	if tx.committed {
		t.Error("expected no commit")
	}
}

// =====================
// Quote
// =====================

func TestQuote_PreviewsWithoutRedeeming(t *testing.T) {
	burger := menuItem("Burger", "food", "10.00", nil)
	lemonade := menuItem("Lemonade", "drinks", "5.00", nil)
	promo := promoRow("SAVE10", "PERCENTAGE", "10")
	store := checkoutStore(burger, lemonade)
	store.getPromotionByCodeFn = storeWithPromotion(promo).getPromotionByCodeFn
	store.createOrderFn = nil

	c := cart.New()
	c.Add(burger, 2)
	c.Add(lemonade, 1)

	svc, _, _ := newTestCheckout(store)
	q, err := svc.Quote(context.Background(), c, "SAVE10", true)
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if !q.DiscountAmount.Equal(dec("2.50")) {
		t.Errorf("expected discount 2.50, got %s", q.DiscountAmount)
	}
	if !q.FinalTotal.Equal(dec("27.50")) {
		t.Errorf("expected final 27.50, got %s", q.FinalTotal)
	}
}

func TestCartFromCatalog(t *testing.T) {
	burger := menuItem("Burger", "food", "10.00", nil)
	snap := catalog.Snapshot{burger.ID: burger}

	t.Run("merges duplicate items", func(t *testing.T) {
		c, err := CartFromCatalog(snap, []CartItem{{burger.ID, 1}, {burger.ID, 2}})
		if err != nil {
			t.Fatalf("expected no error, got: %v", err)
		}
		if c.LineCount() != 1 || c.Quantity(burger.ID) != 3 {
			t.Errorf("expected one line of 3, got %d lines qty %d", c.LineCount(), c.Quantity(burger.ID))
		}
	})

	t.Run("rejects zero quantity", func(t *testing.T) {
		_, err := CartFromCatalog(snap, []CartItem{{burger.ID, 0}})
		if !errors.Is(err, ErrInvalidQuantity) {
			t.Fatalf("expected ErrInvalidQuantity, got: %v", err)
		}
	})

	t.Run("rejects unknown item", func(t *testing.T) {
		_, err := CartFromCatalog(snap, []CartItem{{uuid.New(), 1}})
		var le *LinkedEntityNotFoundError
		if !errors.As(err, &le) {
			t.Fatalf("expected *LinkedEntityNotFoundError, got: %v", err)
		}
	})

	t.Run("rejects empty", func(t *testing.T) {
		_, err := CartFromCatalog(snap, nil)
		if !errors.Is(err, ErrEmptyCart) {
			t.Fatalf("expected ErrEmptyCart, got: %v", err)
		}
	})
}
