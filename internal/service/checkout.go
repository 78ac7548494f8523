package service

import (
	"context"
	"errors"
	"strings"

	"github.com/comanda-app/api/internal/cart"
	"github.com/comanda-app/api/internal/catalog"
	"github.com/comanda-app/api/internal/database"
	"github.com/comanda-app/api/internal/events"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

// CheckoutStore defines the DB methods needed to turn a cart into an order.
// Satisfied by *database.Queries (and its WithTx variant).
type CheckoutStore interface {
	catalog.Store
	PromotionLookup
	reservationLinkStore
	RedeemPromotion(ctx context.Context, id uuid.UUID) (database.Promotion, error)
	CreateOrder(ctx context.Context, arg database.CreateOrderParams) (database.Order, error)
	CreateOrderLine(ctx context.Context, arg database.CreateOrderLineParams) (database.OrderLine, error)
	CreatePayment(ctx context.Context, arg database.CreatePaymentParams) (database.Payment, error)
}

// NewCheckoutStore creates a CheckoutStore from a DBTX (pool or tx).
type NewCheckoutStore func(db database.DBTX) CheckoutStore

// CheckoutOptions carries everything besides the cart that shapes an order.
// Exactly one of TableID and CustomerID must be set.
type CheckoutOptions struct {
	PromotionCode string
	ReservationID *uuid.UUID
	PaymentMethod string
	Notes         string
	TableID       string
	CustomerID    *uuid.UUID
}

// CheckoutResult is a committed order with its frozen lines and pending payment.
type CheckoutResult struct {
	Order       database.Order
	Lines       []database.OrderLine
	Payment     database.Payment
	Reservation *database.Reservation
}

// Quote is a priced cart before anything is written.
type Quote struct {
	Lines          []cart.Line
	Subtotal       decimal.Decimal
	Promotion      *Promotion
	DiscountAmount decimal.Decimal
	ReservationFee decimal.Decimal
	FinalTotal     decimal.Decimal
}

// CheckoutService validates a cart and commits it as a PENDING order.
type CheckoutService struct {
	store      CheckoutStore
	pool       TxBeginner
	newStore   NewCheckoutStore
	promotions *PromotionService
	stock      StockGuard
	publisher  EventPublisher
	fee        decimal.Decimal
	backoff    ReadBackOff
}

// NewCheckoutService creates a new CheckoutService.
func NewCheckoutService(store CheckoutStore, pool TxBeginner, newStore NewCheckoutStore, promotions *PromotionService, publisher EventPublisher, fee decimal.Decimal) *CheckoutService {
	return &CheckoutService{
		store:      store,
		pool:       pool,
		newStore:   newStore,
		promotions: promotions,
		publisher:  publisher,
		fee:        fee,
	}
}

// LoadCatalog reads the menu items referenced by ids.
func (s *CheckoutService) LoadCatalog(ctx context.Context, ids []uuid.UUID) (catalog.Snapshot, error) {
	return retryRead(ctx, s.backoff, "load catalog", func() (catalog.Snapshot, error) {
		return catalog.Load(ctx, s.store, ids)
	})
}

// Quote validates stock and previews a promotion against c. The promotion
// is not redeemed.
func (s *CheckoutService) Quote(ctx context.Context, c *cart.Cart, code string, withReservation bool) (*Quote, error) {
	if c.IsEmpty() {
		return nil, ErrEmptyCart
	}
	snap, err := s.LoadCatalog(ctx, c.ItemIDs())
	if err != nil {
		return nil, err
	}
	if err := s.stock.ValidateCart(c, snap); err != nil {
		return nil, err
	}

	q := &Quote{Lines: c.Lines(), Subtotal: c.Subtotal()}
	if strings.TrimSpace(code) != "" {
		pq, err := s.promotions.applyCode(ctx, s.store, code, c)
		if err != nil {
			return nil, err
		}
		q.Promotion = &pq.Promotion
		q.DiscountAmount = pq.DiscountAmount
	}
	if withReservation {
		q.ReservationFee = s.fee
	}
	q.FinalTotal = q.Subtotal.Sub(q.DiscountAmount).Add(q.ReservationFee)
	return q, nil
}

// CreateOrder validates c and commits it as a PENDING order. The order, its
// lines, the promotion redemption, the reservation link and the pending
// payment are written in one transaction; any failure leaves nothing behind.
func (s *CheckoutService) CreateOrder(ctx context.Context, actor Actor, c *cart.Cart, opts CheckoutOptions) (*CheckoutResult, error) {
	if c == nil || c.IsEmpty() {
		return nil, ErrEmptyCart
	}
	tableID := strings.TrimSpace(opts.TableID)
	switch {
	case tableID == "" && opts.CustomerID == nil:
		return nil, ErrNoOwner
	case tableID != "" && opts.CustomerID != nil:
		return nil, ErrAmbiguousOwner
	}
	if opts.CustomerID != nil && !actor.IsStaff() && *opts.CustomerID != actor.ID {
		return nil, ErrForbidden
	}
	if !IsValidPaymentMethod(opts.PaymentMethod) {
		return nil, ErrInvalidPaymentMethod
	}

	snap, err := s.LoadCatalog(ctx, c.ItemIDs())
	if err != nil {
		return nil, err
	}
	if err := s.stock.ValidateCart(c, snap); err != nil {
		return nil, err
	}

	var quote *PromotionQuote
	if strings.TrimSpace(opts.PromotionCode) != "" {
		quote, err = s.promotions.applyCode(ctx, s.store, opts.PromotionCode, c)
		if err != nil {
			return nil, err
		}
	}

	if opts.ReservationID != nil {
		if err := s.checkReservation(ctx, actor, *opts.ReservationID); err != nil {
			return nil, err
		}
	}

	subtotal := c.Subtotal()
	discount := decimal.Zero
	if quote != nil {
		discount = quote.DiscountAmount
	}
	fee := decimal.Zero
	if opts.ReservationID != nil {
		fee = s.fee
	}
	final := subtotal.Sub(discount).Add(fee)

	params := database.CreateOrderParams{
		Subtotal:       catalog.DecimalToNumeric(subtotal),
		DiscountAmount: catalog.DecimalToNumeric(discount),
		ReservationFee: catalog.DecimalToNumeric(fee),
		FinalTotal:     catalog.DecimalToNumeric(final),
		PaymentMethod:  opts.PaymentMethod,
		CreatedBy:      actor.ID,
	}
	if quote != nil {
		params.PromotionID = pgtype.UUID{Bytes: quote.Promotion.ID, Valid: true}
		params.PromotionCode = pgtype.Text{String: quote.Promotion.Code, Valid: true}
		params.PromotionKind = pgtype.Text{String: string(quote.Promotion.Kind), Valid: true}
		params.PromotionValue = catalog.DecimalToNumeric(quote.Promotion.Value)
	}
	if notes := strings.TrimSpace(opts.Notes); notes != "" {
		params.Notes = pgtype.Text{String: notes, Valid: true}
	}
	if tableID != "" {
		params.TableID = pgtype.Text{String: tableID, Valid: true}
	} else {
		params.CustomerID = pgtype.UUID{Bytes: *opts.CustomerID, Valid: true}
	}
	if opts.ReservationID != nil {
		params.ReservationID = pgtype.UUID{Bytes: *opts.ReservationID, Valid: true}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, persistenceErr("begin tx", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)

	order, err := store.CreateOrder(ctx, params)
	if err != nil {
		return nil, persistenceErr("create order", err)
	}

	lines := make([]database.OrderLine, 0, c.LineCount())
	for _, l := range c.Lines() {
		line, err := store.CreateOrderLine(ctx, database.CreateOrderLineParams{
			OrderID:    order.ID,
			MenuItemID: l.MenuItemID,
			Name:       l.Name,
			Category:   l.Category,
			Price:      catalog.DecimalToNumeric(l.Price),
			Quantity:   l.Quantity,
			Subtotal:   catalog.DecimalToNumeric(l.Subtotal()),
		})
		if err != nil {
			return nil, persistenceErr("create order line", err)
		}
		lines = append(lines, line)
	}

	if quote != nil {
		if err := s.redeem(ctx, store, quote.Promotion); err != nil {
			return nil, err
		}
	}

	var linked *database.Reservation
	if opts.ReservationID != nil {
		res, err := linkReservation(ctx, store, *opts.ReservationID, order.ID, fee)
		if err != nil {
			return nil, err
		}
		linked = &res
	}

	payment, err := store.CreatePayment(ctx, database.CreatePaymentParams{
		OrderID: order.ID,
		Method:  opts.PaymentMethod,
		Amount:  catalog.DecimalToNumeric(final),
	})
	if err != nil {
		return nil, persistenceErr("create payment", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, persistenceErr("commit tx", err)
	}

	publishOrder(s.publisher, events.TypeOrderCreated, order)
	if linked != nil {
		publish(s.publisher, events.TypeReservationUpdated, linked.ID, linked.Status, linked)
	}
	if quote != nil {
		publish(s.publisher, events.TypePromotionUpdated, quote.Promotion.ID, "", quote.Promotion)
	}

	return &CheckoutResult{Order: order, Lines: lines, Payment: payment, Reservation: linked}, nil
}

func (s *CheckoutService) checkReservation(ctx context.Context, actor Actor, id uuid.UUID) error {
	res, err := retryRead(ctx, s.backoff, "get reservation", func() (database.Reservation, error) {
		return s.store.GetReservation(ctx, id)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &LinkedEntityNotFoundError{Entity: "reservation", ID: id}
		}
		return err
	}
	if !canAccessReservation(actor, res) {
		return ErrForbidden
	}
	return checkReservationLinkable(res, uuid.Nil)
}

// redeem consumes one use of p. A concurrent checkout may have taken the last
// use since validation; that surfaces as exhausted and aborts the transaction.
// redeem consumes one use of p. The update only matches a promotion that is
// still active, unexpired and under its cap, so a miss is re-read to report
// which of those changed since the quote.
func (s *CheckoutService) redeem(ctx context.Context, store CheckoutStore, p Promotion) error {
	_, err := store.RedeemPromotion(ctx, p.ID)
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		row, lookupErr := store.GetPromotionByCode(ctx, p.Code)
		if lookupErr != nil {
			return &PromotionInvalidError{Code: p.Code, Reason: PromotionExhausted}
		}
		if err := s.promotions.checkRedeemable(promotionFromRow(row)); err != nil {
			return err
		}
		return &PromotionInvalidError{Code: p.Code, Reason: PromotionExhausted}
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.ConstraintName == "promotions_uses_within_cap" {
		return &PromotionInvalidError{Code: p.Code, Reason: PromotionExhausted}
	}
	return persistenceErr("redeem promotion", err)
}

// CartFromCatalog builds a cart from requested quantities, rejecting unknown
// items and non-positive quantities.
func CartFromCatalog(snap catalog.Snapshot, items []CartItem) (*cart.Cart, error) {
	c := cart.New()
	for _, it := range items {
		if it.Quantity <= 0 {
			return nil, ErrInvalidQuantity
		}
		item, ok := snap[it.MenuItemID]
		if !ok {
			return nil, &LinkedEntityNotFoundError{Entity: "menu_item", ID: it.MenuItemID}
		}
		c.Add(item, it.Quantity)
	}
	if c.IsEmpty() {
		return nil, ErrEmptyCart
	}
	return c, nil
}

// CartItem is one requested line before pricing.
type CartItem struct {
	MenuItemID uuid.UUID
	Quantity   int32
}

// CartItemIDs returns the distinct menu item IDs in items.
func CartItemIDs(items []CartItem) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(items))
	ids := make([]uuid.UUID, 0, len(items))
	for _, it := range items {
		if _, ok := seen[it.MenuItemID]; ok {
			continue
		}
		seen[it.MenuItemID] = struct{}{}
		ids = append(ids, it.MenuItemID)
	}
	return ids
}
