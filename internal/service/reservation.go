package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/comanda-app/api/internal/catalog"
	"github.com/comanda-app/api/internal/database"
	"github.com/comanda-app/api/internal/enum"
	"github.com/comanda-app/api/internal/events"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

// DefaultReservationFee is added to an order placed against a reservation.
var DefaultReservationFee = decimal.RequireFromString("5.00")

// reservationLinkStore is the subset used to attach an order to a reservation.
type reservationLinkStore interface {
	GetReservation(ctx context.Context, id uuid.UUID) (database.Reservation, error)
	LinkReservationOrder(ctx context.Context, arg database.LinkReservationOrderParams) (database.Reservation, error)
}

// ReservationStore defines the DB methods needed by ReservationService.
// Satisfied by *database.Queries (and its WithTx variant).
type ReservationStore interface {
	LifecycleStore
	reservationLinkStore
	CreateReservation(ctx context.Context, arg database.CreateReservationParams) (database.Reservation, error)
	GetReservationForUpdate(ctx context.Context, id uuid.UUID) (database.Reservation, error)
	CancelReservation(ctx context.Context, id uuid.UUID) (database.Reservation, error)
}

// NewReservationStore creates a ReservationStore from a DBTX (pool or tx).
type NewReservationStore func(db database.DBTX) ReservationStore

// CreateReservationRequest holds the fields for booking a table.
type CreateReservationRequest struct {
	TableID     string
	ScheduledAt time.Time
	PartySize   int32
	Location    string
}

// ReservationCancellation is the result of cancelling a reservation. Order is
// set only when a linked order was cancelled with it.
type ReservationCancellation struct {
	Reservation database.Reservation
	Order       *database.Order
}

// ReservationService books tables and keeps them in step with their orders.
type ReservationService struct {
	store     ReservationStore
	pool      TxBeginner
	newStore  NewReservationStore
	lifecycle *LifecycleService
	publisher EventPublisher
	fee       decimal.Decimal
	backoff   ReadBackOff
}

// NewReservationService creates a new ReservationService.
func NewReservationService(store ReservationStore, pool TxBeginner, newStore NewReservationStore, lifecycle *LifecycleService, publisher EventPublisher, fee decimal.Decimal) *ReservationService {
	return &ReservationService{
		store:     store,
		pool:      pool,
		newStore:  newStore,
		lifecycle: lifecycle,
		publisher: publisher,
		fee:       fee,
	}
}

// CreateReservation books a table. Customers book for themselves.
func (s *ReservationService) CreateReservation(ctx context.Context, actor Actor, req CreateReservationRequest) (database.Reservation, error) {
	tableID := strings.TrimSpace(req.TableID)
	if tableID == "" {
		return database.Reservation{}, ErrInvalidTableID
	}
	if req.PartySize <= 0 {
		return database.Reservation{}, ErrInvalidPartySize
	}
	if req.ScheduledAt.IsZero() {
		return database.Reservation{}, fmt.Errorf("%w: scheduled_at is required", ErrValidation)
	}

	customerID := pgtype.UUID{}
	if !actor.IsStaff() {
		customerID = pgtype.UUID{Bytes: actor.ID, Valid: true}
	}

	res, err := s.store.CreateReservation(ctx, database.CreateReservationParams{
		TableID:     tableID,
		CustomerID:  customerID,
		ScheduledAt: req.ScheduledAt,
		PartySize:   req.PartySize,
		Location:    strings.TrimSpace(req.Location),
		BaseFee:     catalog.DecimalToNumeric(s.fee),
	})
	if err != nil {
		return database.Reservation{}, persistenceErr("create reservation", err)
	}

	publish(s.publisher, events.TypeReservationUpdated, res.ID, res.Status, res)
	return res, nil
}

// GetReservation returns a reservation by ID. Customers can only read their own.
func (s *ReservationService) GetReservation(ctx context.Context, actor Actor, id uuid.UUID) (database.Reservation, error) {
	res, err := retryRead(ctx, s.backoff, "get reservation", func() (database.Reservation, error) {
		return s.store.GetReservation(ctx, id)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return database.Reservation{}, ErrReservationNotFound
		}
		return database.Reservation{}, err
	}
	if !canAccessReservation(actor, res) {
		return database.Reservation{}, ErrForbidden
	}
	return res, nil
}

// LinkOrder attaches orderID to a reservation and moves it to
// PENDING_CONFIRMATION with fee as its base fee.
func (s *ReservationService) LinkOrder(ctx context.Context, reservationID, orderID uuid.UUID, fee decimal.Decimal) (database.Reservation, error) {
	res, err := linkReservation(ctx, s.store, reservationID, orderID, fee)
	if err != nil {
		return database.Reservation{}, err
	}
	publish(s.publisher, events.TypeReservationUpdated, res.ID, res.Status, res)
	return res, nil
}

// CancelReservation cancels a reservation. A linked order that is not yet
// PAID or CANCELLED is cancelled in the same transaction, whatever its status.
// Cancelling an already cancelled reservation is a no-op.
func (s *ReservationService) CancelReservation(ctx context.Context, actor Actor, id uuid.UUID) (*ReservationCancellation, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, persistenceErr("begin tx", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)

	res, err := store.GetReservationForUpdate(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrReservationNotFound
		}
		return nil, persistenceErr("get reservation for update", err)
	}
	if !canAccessReservation(actor, res) {
		return nil, ErrForbidden
	}
	if res.Status == enum.ReservationStatusCancelled {
		return &ReservationCancellation{Reservation: res}, nil
	}

	cancelled, err := store.CancelReservation(ctx, id)
	if err != nil {
		return nil, persistenceErr("cancel reservation", err)
	}

	result := &ReservationCancellation{Reservation: cancelled}
	if cancelled.LinkedOrderID.Valid {
		order, ok, err := s.lifecycle.forceCancel(ctx, store, uuid.UUID(cancelled.LinkedOrderID.Bytes))
		if err != nil {
			return nil, err
		}
		if ok {
			result.Order = &order
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, persistenceErr("commit tx", err)
	}

	publish(s.publisher, events.TypeReservationUpdated, cancelled.ID, cancelled.Status, cancelled)
	if result.Order != nil {
		publishOrder(s.publisher, events.TypeOrderStatusChanged, *result.Order)
	}
	return result, nil
}

// CancelOrder cancels an order on behalf of actor. The reservation the order
// is linked to stays as it is.
func (s *ReservationService) CancelOrder(ctx context.Context, actor Actor, orderID uuid.UUID) (database.Order, error) {
	return s.lifecycle.Cancel(ctx, actor, orderID)
}

func canAccessReservation(actor Actor, res database.Reservation) bool {
	if actor.IsStaff() {
		return true
	}
	return res.CustomerID.Valid && uuid.UUID(res.CustomerID.Bytes) == actor.ID
}

// checkReservationLinkable validates a reservation before any write.
func checkReservationLinkable(res database.Reservation, orderID uuid.UUID) error {
	if res.Status == enum.ReservationStatusCancelled {
		return ErrReservationUnavailable
	}
	if res.LinkedOrderID.Valid && uuid.UUID(res.LinkedOrderID.Bytes) != orderID {
		return ErrReservationUnavailable
	}
	return nil
}

func linkReservation(ctx context.Context, store reservationLinkStore, reservationID, orderID uuid.UUID, fee decimal.Decimal) (database.Reservation, error) {
	res, err := store.LinkReservationOrder(ctx, database.LinkReservationOrderParams{
		ID:      reservationID,
		OrderID: orderID,
		BaseFee: catalog.DecimalToNumeric(fee),
	})
	if err == nil {
		return res, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return database.Reservation{}, persistenceErr("link reservation", err)
	}

	// The guard rejected the link; find out why.
	current, err := store.GetReservation(ctx, reservationID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return database.Reservation{}, &LinkedEntityNotFoundError{Entity: "reservation", ID: reservationID}
		}
		return database.Reservation{}, persistenceErr("get reservation", err)
	}
	if err := checkReservationLinkable(current, orderID); err != nil {
		return database.Reservation{}, err
	}
	return database.Reservation{}, ErrReservationUnavailable
}
