package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/comanda-app/api/internal/catalog"
	"github.com/comanda-app/api/internal/database"
	"github.com/comanda-app/api/internal/enum"
	"github.com/comanda-app/api/internal/events"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

// allowedTransitions defines valid status transitions.
// Key is current status, value is the set of statuses it can transition to.
// PAID and CANCELLED are terminal and have no entry.
var allowedTransitions = map[string][]string{
	enum.OrderStatusPending:   {enum.OrderStatusPreparing, enum.OrderStatusCancelled},
	enum.OrderStatusPreparing: {enum.OrderStatusReady},
	enum.OrderStatusReady:     {enum.OrderStatusPaid},
}

// IsValidOrderStatus checks if the given status is a known order status.
func IsValidOrderStatus(s string) bool {
	switch s {
	case enum.OrderStatusPending,
		enum.OrderStatusPreparing,
		enum.OrderStatusReady,
		enum.OrderStatusPaid,
		enum.OrderStatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether no transition leaves s.
func IsTerminal(s string) bool {
	return s == enum.OrderStatusPaid || s == enum.OrderStatusCancelled
}

// ValidateTransition checks the edge from current to next.
func ValidateTransition(current, next string) error {
	for _, s := range allowedTransitions[current] {
		if s == next {
			return nil
		}
	}
	return &StateTransitionError{From: current, To: next}
}

// authorizeTransition applies the role rules on top of a legal edge.
func authorizeTransition(actor Actor, o database.Order, next string) error {
	if actor.IsStaff() {
		return nil
	}
	switch next {
	case enum.OrderStatusCancelled, enum.OrderStatusPaid:
		if actor.owns(o) {
			return nil
		}
	}
	return ErrForbidden
}

// LifecycleStore defines the DB methods needed to move orders between states.
// Satisfied by *database.Queries (and its WithTx variant).
type LifecycleStore interface {
	GetOrder(ctx context.Context, id uuid.UUID) (database.Order, error)
	GetOrderForUpdate(ctx context.Context, id uuid.UUID) (database.Order, error)
	ListOrders(ctx context.Context, arg database.ListOrdersParams) ([]database.Order, error)
	ListOrderLinesByOrder(ctx context.Context, orderID uuid.UUID) ([]database.OrderLine, error)
	ListPaymentsByOrder(ctx context.Context, orderID uuid.UUID) ([]database.Payment, error)
	UpdateOrderStatus(ctx context.Context, arg database.UpdateOrderStatusParams) (database.Order, error)
	MarkOrderPaid(ctx context.Context, arg database.MarkOrderPaidParams) (database.Order, error)
	ForceCancelOrder(ctx context.Context, id uuid.UUID) (database.Order, error)
	GetPendingPaymentByOrder(ctx context.Context, orderID uuid.UUID) (database.Payment, error)
	CompletePayment(ctx context.Context, arg database.CompletePaymentParams) (database.Payment, error)
	FailPendingPaymentsByOrder(ctx context.Context, orderID uuid.UUID) error
	RefundPromotion(ctx context.Context, id uuid.UUID) (database.Promotion, error)
}

// NewLifecycleStore creates a LifecycleStore from a DBTX (pool or tx).
type NewLifecycleStore func(db database.DBTX) LifecycleStore

// OrderDetail is an order with its frozen lines and payments.
type OrderDetail struct {
	Order    database.Order
	Lines    []database.OrderLine
	Payments []database.Payment
}

// PaymentCompletion describes how a READY order was settled.
type PaymentCompletion struct {
	Method         string // defaults to the order's payment method
	Reference      string // card reference; simulated when empty
	AmountReceived string // CASH only; defaults to the exact total
}

// PaymentResult is the paid order and its completed payment.
type PaymentResult struct {
	Order   database.Order
	Payment database.Payment
}

// ListOrdersFilter narrows ListOrders.
type ListOrdersFilter struct {
	Status string
	Limit  int32
	Offset int32
}

// LifecycleService drives orders through PENDING → PREPARING → READY → PAID
// and PENDING → CANCELLED.
type LifecycleService struct {
	store          LifecycleStore
	pool           TxBeginner
	newStore       NewLifecycleStore
	publisher      EventPublisher
	refundOnCancel bool
	backoff        ReadBackOff
}

// NewLifecycleService creates a new LifecycleService. When refundOnCancel is
// set, cancelling an order that redeemed a promotion gives the use back.
func NewLifecycleService(store LifecycleStore, pool TxBeginner, newStore NewLifecycleStore, publisher EventPublisher, refundOnCancel bool) *LifecycleService {
	return &LifecycleService{
		store:          store,
		pool:           pool,
		newStore:       newStore,
		publisher:      publisher,
		refundOnCancel: refundOnCancel,
	}
}

// Transition moves an order to target. The edge is validated against the
// persisted status and the write only lands if that status is unchanged.
func (s *LifecycleService) Transition(ctx context.Context, actor Actor, orderID uuid.UUID, target string) (database.Order, error) {
	if !IsValidOrderStatus(target) {
		return database.Order{}, fmt.Errorf("%w: invalid status %q", ErrValidation, target)
	}
	switch target {
	case enum.OrderStatusCancelled:
		return s.Cancel(ctx, actor, orderID)
	case enum.OrderStatusPaid:
		res, err := s.CompletePayment(ctx, actor, orderID, PaymentCompletion{})
		if err != nil {
			return database.Order{}, err
		}
		return res.Order, nil
	}

	current, err := s.getOrder(ctx, orderID)
	if err != nil {
		return database.Order{}, err
	}
	if err := ValidateTransition(current.Status, target); err != nil {
		return database.Order{}, err
	}
	if err := authorizeTransition(actor, current, target); err != nil {
		return database.Order{}, err
	}

	updated, err := s.store.UpdateOrderStatus(ctx, database.UpdateOrderStatusParams{
		ID:             orderID,
		Status:         target,
		ExpectedStatus: current.Status,
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return database.Order{}, s.staleTransition(ctx, s.store, orderID, target)
		}
		return database.Order{}, persistenceErr("update order status", err)
	}

	publishOrder(s.publisher, events.TypeOrderStatusChanged, updated)
	return updated, nil
}

// Cancel moves a PENDING order to CANCELLED. Customers may only cancel their
// own orders. The linked reservation, if any, is left untouched.
func (s *LifecycleService) Cancel(ctx context.Context, actor Actor, orderID uuid.UUID) (database.Order, error) {
	current, err := s.getOrder(ctx, orderID)
	if err != nil {
		return database.Order{}, err
	}
	if err := ValidateTransition(current.Status, enum.OrderStatusCancelled); err != nil {
		return database.Order{}, err
	}
	if err := authorizeTransition(actor, current, enum.OrderStatusCancelled); err != nil {
		return database.Order{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return database.Order{}, persistenceErr("begin tx", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)
	cancelled, err := store.UpdateOrderStatus(ctx, database.UpdateOrderStatusParams{
		ID:             orderID,
		Status:         enum.OrderStatusCancelled,
		ExpectedStatus: enum.OrderStatusPending,
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Re-read outside the aborted write to report the real status.
			return database.Order{}, s.staleTransition(ctx, s.store, orderID, enum.OrderStatusCancelled)
		}
		return database.Order{}, persistenceErr("cancel order", err)
	}
	if err := s.afterCancel(ctx, store, cancelled); err != nil {
		return database.Order{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return database.Order{}, persistenceErr("commit tx", err)
	}

	publishOrder(s.publisher, events.TypeOrderStatusChanged, cancelled)
	return cancelled, nil
}

// forceCancel cancels any non-terminal order inside the caller's transaction.
// It reports false when the order was already terminal or does not exist.
func (s *LifecycleService) forceCancel(ctx context.Context, store LifecycleStore, orderID uuid.UUID) (database.Order, bool, error) {
	cancelled, err := store.ForceCancelOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return database.Order{}, false, nil
		}
		return database.Order{}, false, persistenceErr("force cancel order", err)
	}
	if err := s.afterCancel(ctx, store, cancelled); err != nil {
		return database.Order{}, false, err
	}
	return cancelled, true, nil
}

func (s *LifecycleService) afterCancel(ctx context.Context, store LifecycleStore, o database.Order) error {
	if err := store.FailPendingPaymentsByOrder(ctx, o.ID); err != nil {
		return persistenceErr("fail pending payments", err)
	}
	if s.refundOnCancel && o.PromotionID.Valid {
		if _, err := store.RefundPromotion(ctx, uuid.UUID(o.PromotionID.Bytes)); err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return persistenceErr("refund promotion", err)
		}
	}
	return nil
}

// CompletePayment settles a READY order and moves it to PAID. Staff can
// record cash or card; a customer may only complete a card payment on their
// own order.
func (s *LifecycleService) CompletePayment(ctx context.Context, actor Actor, orderID uuid.UUID, req PaymentCompletion) (*PaymentResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, persistenceErr("begin tx", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)

	// Lock the order row so concurrent payments serialize.
	order, err := store.GetOrderForUpdate(ctx, orderID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, persistenceErr("get order for update", err)
	}
	if err := ValidateTransition(order.Status, enum.OrderStatusPaid); err != nil {
		return nil, err
	}
	if err := authorizeTransition(actor, order, enum.OrderStatusPaid); err != nil {
		return nil, err
	}

	method := req.Method
	if method == "" {
		method = order.PaymentMethod
	}
	if !IsValidPaymentMethod(method) {
		return nil, ErrInvalidPaymentMethod
	}
	if !actor.IsStaff() && method != enum.PaymentMethodCard {
		return nil, ErrForbidden
	}

	total := catalog.NumericToDecimal(order.FinalTotal)
	var amountReceived, changeAmount pgtype.Numeric
	reference := req.Reference

	switch method {
	case enum.PaymentMethodCash:
		received := total
		if req.AmountReceived != "" {
			received, err = decimal.NewFromString(req.AmountReceived)
			if err != nil {
				return nil, fmt.Errorf("%w: invalid amount_received", ErrValidation)
			}
		}
		if received.LessThan(total) {
			return nil, ErrInsufficientAmount
		}
		amountReceived = catalog.DecimalToNumeric(received)
		changeAmount = catalog.DecimalToNumeric(received.Sub(total))
	case enum.PaymentMethodCard:
		if reference == "" {
			reference = "SIM-" + uuid.NewString()
		}
	}

	pending, err := store.GetPendingPaymentByOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, persistenceErr("get pending payment", err)
	}

	ref := pgtype.Text{}
	if reference != "" {
		ref = pgtype.Text{String: reference, Valid: true}
	}
	payment, err := store.CompletePayment(ctx, database.CompletePaymentParams{
		ID:             pending.ID,
		Method:         method,
		Reference:      ref,
		AmountReceived: amountReceived,
		ChangeAmount:   changeAmount,
		ProcessedBy:    pgtype.UUID{Bytes: actor.ID, Valid: true},
	})
	if err != nil {
		return nil, persistenceErr("complete payment", err)
	}

	paymentRef := reference
	if paymentRef == "" {
		paymentRef = payment.ID.String()
	}
	paid, err := store.MarkOrderPaid(ctx, database.MarkOrderPaidParams{
		ID:         orderID,
		PaymentRef: pgtype.Text{String: paymentRef, Valid: true},
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, s.staleTransition(ctx, store, orderID, enum.OrderStatusPaid)
		}
		return nil, persistenceErr("mark order paid", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, persistenceErr("commit tx", err)
	}

	publishOrder(s.publisher, events.TypeOrderStatusChanged, paid)
	return &PaymentResult{Order: paid, Payment: payment}, nil
}

// GetOrder returns an order with its lines and payments. Customers can only
// read their own orders.
func (s *LifecycleService) GetOrder(ctx context.Context, actor Actor, orderID uuid.UUID) (*OrderDetail, error) {
	order, err := s.getOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !actor.IsStaff() && !actor.owns(order) {
		return nil, ErrForbidden
	}

	lines, err := retryRead(ctx, s.backoff, "list order lines", func() ([]database.OrderLine, error) {
		return s.store.ListOrderLinesByOrder(ctx, orderID)
	})
	if err != nil {
		return nil, err
	}
	payments, err := retryRead(ctx, s.backoff, "list payments", func() ([]database.Payment, error) {
		return s.store.ListPaymentsByOrder(ctx, orderID)
	})
	if err != nil {
		return nil, err
	}
	return &OrderDetail{Order: order, Lines: lines, Payments: payments}, nil
}

// ListOrders lists orders newest first. Customers only see orders they own
// or placed, matching what GetOrder lets them read.
func (s *LifecycleService) ListOrders(ctx context.Context, actor Actor, f ListOrdersFilter) ([]database.Order, error) {
	params := database.ListOrdersParams{Limit: f.Limit, Offset: f.Offset}
	if f.Status != "" {
		if !IsValidOrderStatus(f.Status) {
			return nil, fmt.Errorf("%w: invalid status %q", ErrValidation, f.Status)
		}
		params.Status = pgtype.Text{String: f.Status, Valid: true}
	}
	if !actor.IsStaff() {
		params.OwnerID = pgtype.UUID{Bytes: actor.ID, Valid: true}
	}
	return retryRead(ctx, s.backoff, "list orders", func() ([]database.Order, error) {
		return s.store.ListOrders(ctx, params)
	})
}

func (s *LifecycleService) getOrder(ctx context.Context, orderID uuid.UUID) (database.Order, error) {
	order, err := retryRead(ctx, s.backoff, "get order", func() (database.Order, error) {
		return s.store.GetOrder(ctx, orderID)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return database.Order{}, ErrOrderNotFound
		}
		return database.Order{}, err
	}
	return order, nil
}

// staleTransition is called when a precondition update matched no rows:
// the status changed between our read and write. Report against what is
// persisted now.
func (s *LifecycleService) staleTransition(ctx context.Context, store LifecycleStore, orderID uuid.UUID, target string) error {
	latest, err := store.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrOrderNotFound
		}
		return persistenceErr("get order", err)
	}
	return &StateTransitionError{From: latest.Status, To: target}
}

// IsValidPaymentMethod checks if the given method is accepted.
func IsValidPaymentMethod(m string) bool {
	switch m {
	case enum.PaymentMethodCash, enum.PaymentMethodCard:
		return true
	}
	return false
}

// orderEventPayload is the public shape pushed to subscribers.
type orderEventPayload struct {
	ID            uuid.UUID `json:"id"`
	Status        string    `json:"status"`
	FinalTotal    string    `json:"final_total"`
	TableID       *string   `json:"table_id,omitempty"`
	CustomerID    *string   `json:"customer_id,omitempty"`
	ReservationID *string   `json:"reservation_id,omitempty"`
}

func publishOrder(p EventPublisher, typ string, o database.Order) {
	payload := orderEventPayload{
		ID:         o.ID,
		Status:     o.Status,
		FinalTotal: catalog.NumericToDecimal(o.FinalTotal).StringFixed(2),
	}
	if o.TableID.Valid {
		payload.TableID = &o.TableID.String
	}
	if o.CustomerID.Valid {
		s := uuid.UUID(o.CustomerID.Bytes).String()
		payload.CustomerID = &s
	}
	if o.ReservationID.Valid {
		s := uuid.UUID(o.ReservationID.Bytes).String()
		payload.ReservationID = &s
	}
	publish(p, typ, o.ID, o.Status, payload)
}
