package database

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

const reservationColumns = `id, table_id, customer_id, scheduled_at, party_size, location, status, has_menu, linked_order_id, base_fee, created_at, updated_at`

func scanReservation(row interface{ Scan(...any) error }) (Reservation, error) {
	var i Reservation
	err := row.Scan(
		&i.ID,
		&i.TableID,
		&i.CustomerID,
		&i.ScheduledAt,
		&i.PartySize,
		&i.Location,
		&i.Status,
		&i.HasMenu,
		&i.LinkedOrderID,
		&i.BaseFee,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const createReservation = `
INSERT INTO reservations (table_id, customer_id, scheduled_at, party_size, location, base_fee)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING ` + reservationColumns

type CreateReservationParams struct {
	TableID     string         `json:"table_id"`
	CustomerID  pgtype.UUID    `json:"customer_id"`
	ScheduledAt time.Time      `json:"scheduled_at"`
	PartySize   int32          `json:"party_size"`
	Location    string         `json:"location"`
	BaseFee     pgtype.Numeric `json:"base_fee"`
}

func (q *Queries) CreateReservation(ctx context.Context, arg CreateReservationParams) (Reservation, error) {
	row := q.db.QueryRow(ctx, createReservation,
		arg.TableID,
		arg.CustomerID,
		arg.ScheduledAt,
		arg.PartySize,
		arg.Location,
		arg.BaseFee,
	)
	return scanReservation(row)
}

const getReservation = `
SELECT ` + reservationColumns + `
FROM reservations
WHERE id = $1
`

func (q *Queries) GetReservation(ctx context.Context, id uuid.UUID) (Reservation, error) {
	return scanReservation(q.db.QueryRow(ctx, getReservation, id))
}

const getReservationForUpdate = `
SELECT ` + reservationColumns + `
FROM reservations
WHERE id = $1
FOR NO KEY UPDATE
`

func (q *Queries) GetReservationForUpdate(ctx context.Context, id uuid.UUID) (Reservation, error) {
	return scanReservation(q.db.QueryRow(ctx, getReservationForUpdate, id))
}

// Returns pgx.ErrNoRows when the reservation is cancelled or linked to another order.
const linkReservationOrder = `
UPDATE reservations
SET has_menu = TRUE,
    linked_order_id = $2,
    status = 'PENDING_CONFIRMATION',
    base_fee = $3,
    updated_at = now()
WHERE id = $1
  AND status <> 'CANCELLED'
  AND (linked_order_id IS NULL OR linked_order_id = $2)
RETURNING ` + reservationColumns

type LinkReservationOrderParams struct {
	ID      uuid.UUID      `json:"id"`
	OrderID uuid.UUID      `json:"order_id"`
	BaseFee pgtype.Numeric `json:"base_fee"`
}

func (q *Queries) LinkReservationOrder(ctx context.Context, arg LinkReservationOrderParams) (Reservation, error) {
	return scanReservation(q.db.QueryRow(ctx, linkReservationOrder, arg.ID, arg.OrderID, arg.BaseFee))
}

const cancelReservation = `
UPDATE reservations
SET status = 'CANCELLED', updated_at = now()
WHERE id = $1 AND status <> 'CANCELLED'
RETURNING ` + reservationColumns

func (q *Queries) CancelReservation(ctx context.Context, id uuid.UUID) (Reservation, error) {
	return scanReservation(q.db.QueryRow(ctx, cancelReservation, id))
}
