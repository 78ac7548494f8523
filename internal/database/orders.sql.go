package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

const orderColumns = `id, status, subtotal, discount_amount, reservation_fee, final_total,
	promotion_id, promotion_code, promotion_kind, promotion_value, payment_method, notes,
	table_id, customer_id, reservation_id, payment_ref, created_by, created_at, ready_at, updated_at`

func scanOrder(row interface{ Scan(...any) error }) (Order, error) {
	var i Order
	err := row.Scan(
		&i.ID,
		&i.Status,
		&i.Subtotal,
		&i.DiscountAmount,
		&i.ReservationFee,
		&i.FinalTotal,
		&i.PromotionID,
		&i.PromotionCode,
		&i.PromotionKind,
		&i.PromotionValue,
		&i.PaymentMethod,
		&i.Notes,
		&i.TableID,
		&i.CustomerID,
		&i.ReservationID,
		&i.PaymentRef,
		&i.CreatedBy,
		&i.CreatedAt,
		&i.ReadyAt,
		&i.UpdatedAt,
	)
	return i, err
}

const createOrder = `
INSERT INTO orders (
    subtotal, discount_amount, reservation_fee, final_total,
    promotion_id, promotion_code, promotion_kind, promotion_value,
    payment_method, notes, table_id, customer_id, reservation_id, created_by
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
RETURNING ` + orderColumns

type CreateOrderParams struct {
	Subtotal       pgtype.Numeric `json:"subtotal"`
	DiscountAmount pgtype.Numeric `json:"discount_amount"`
	ReservationFee pgtype.Numeric `json:"reservation_fee"`
	FinalTotal     pgtype.Numeric `json:"final_total"`
	PromotionID    pgtype.UUID    `json:"promotion_id"`
	PromotionCode  pgtype.Text    `json:"promotion_code"`
	PromotionKind  pgtype.Text    `json:"promotion_kind"`
	PromotionValue pgtype.Numeric `json:"promotion_value"`
	PaymentMethod  string         `json:"payment_method"`
	Notes          pgtype.Text    `json:"notes"`
	TableID        pgtype.Text    `json:"table_id"`
	CustomerID     pgtype.UUID    `json:"customer_id"`
	ReservationID  pgtype.UUID    `json:"reservation_id"`
	CreatedBy      uuid.UUID      `json:"created_by"`
}

func (q *Queries) CreateOrder(ctx context.Context, arg CreateOrderParams) (Order, error) {
	row := q.db.QueryRow(ctx, createOrder,
		arg.Subtotal,
		arg.DiscountAmount,
		arg.ReservationFee,
		arg.FinalTotal,
		arg.PromotionID,
		arg.PromotionCode,
		arg.PromotionKind,
		arg.PromotionValue,
		arg.PaymentMethod,
		arg.Notes,
		arg.TableID,
		arg.CustomerID,
		arg.ReservationID,
		arg.CreatedBy,
	)
	return scanOrder(row)
}

const createOrderLine = `
INSERT INTO order_lines (order_id, menu_item_id, name, category, price, quantity, subtotal)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING id, order_id, menu_item_id, name, category, price, quantity, subtotal
`

type CreateOrderLineParams struct {
	OrderID    uuid.UUID      `json:"order_id"`
	MenuItemID uuid.UUID      `json:"menu_item_id"`
	Name       string         `json:"name"`
	Category   string         `json:"category"`
	Price      pgtype.Numeric `json:"price"`
	Quantity   int32          `json:"quantity"`
	Subtotal   pgtype.Numeric `json:"subtotal"`
}

func (q *Queries) CreateOrderLine(ctx context.Context, arg CreateOrderLineParams) (OrderLine, error) {
	row := q.db.QueryRow(ctx, createOrderLine,
		arg.OrderID,
		arg.MenuItemID,
		arg.Name,
		arg.Category,
		arg.Price,
		arg.Quantity,
		arg.Subtotal,
	)
	var i OrderLine
	err := row.Scan(
		&i.ID,
		&i.OrderID,
		&i.MenuItemID,
		&i.Name,
		&i.Category,
		&i.Price,
		&i.Quantity,
		&i.Subtotal,
	)
	return i, err
}

const listOrderLinesByOrder = `
SELECT id, order_id, menu_item_id, name, category, price, quantity, subtotal
FROM order_lines
WHERE order_id = $1
ORDER BY name
`

func (q *Queries) ListOrderLinesByOrder(ctx context.Context, orderID uuid.UUID) ([]OrderLine, error) {
	rows, err := q.db.Query(ctx, listOrderLinesByOrder, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []OrderLine
	for rows.Next() {
		var i OrderLine
		if err := rows.Scan(
			&i.ID,
			&i.OrderID,
			&i.MenuItemID,
			&i.Name,
			&i.Category,
			&i.Price,
			&i.Quantity,
			&i.Subtotal,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const getOrder = `
SELECT ` + orderColumns + `
FROM orders
WHERE id = $1
`

func (q *Queries) GetOrder(ctx context.Context, id uuid.UUID) (Order, error) {
	return scanOrder(q.db.QueryRow(ctx, getOrder, id))
}

const getOrderForUpdate = `
SELECT ` + orderColumns + `
FROM orders
WHERE id = $1
FOR NO KEY UPDATE
`

func (q *Queries) GetOrderForUpdate(ctx context.Context, id uuid.UUID) (Order, error) {
	return scanOrder(q.db.QueryRow(ctx, getOrderForUpdate, id))
}

const listOrders = `
SELECT ` + orderColumns + `
FROM orders
WHERE ($1::text IS NULL OR status = $1)
  AND ($2::uuid IS NULL OR customer_id = $2 OR created_by = $2)
ORDER BY created_at DESC
LIMIT $3 OFFSET $4
`

type ListOrdersParams struct {
	Status     pgtype.Text `json:"status"`
	OwnerID    pgtype.UUID `json:"owner_id"`
	Limit      int32       `json:"limit"`
	Offset     int32       `json:"offset"`
}

func (q *Queries) ListOrders(ctx context.Context, arg ListOrdersParams) ([]Order, error) {
	rows, err := q.db.Query(ctx, listOrders, arg.Status, arg.OwnerID, arg.Limit, arg.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Order
	for rows.Next() {
		i, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

// UpdateOrderStatus only touches status (and ready_at when moving to READY).
// Returns pgx.ErrNoRows when the persisted status is no longer ExpectedStatus.
const updateOrderStatus = `
UPDATE orders
SET status = $2,
    ready_at = CASE WHEN $2 = 'READY' THEN now() ELSE ready_at END,
    updated_at = now()
WHERE id = $1 AND status = $3
RETURNING ` + orderColumns

type UpdateOrderStatusParams struct {
	ID             uuid.UUID `json:"id"`
	Status         string    `json:"status"`
	ExpectedStatus string    `json:"expected_status"`
}

func (q *Queries) UpdateOrderStatus(ctx context.Context, arg UpdateOrderStatusParams) (Order, error) {
	return scanOrder(q.db.QueryRow(ctx, updateOrderStatus, arg.ID, arg.Status, arg.ExpectedStatus))
}

const markOrderPaid = `
UPDATE orders
SET status = 'PAID', payment_ref = $2, updated_at = now()
WHERE id = $1 AND status = 'READY'
RETURNING ` + orderColumns

type MarkOrderPaidParams struct {
	ID         uuid.UUID   `json:"id"`
	PaymentRef pgtype.Text `json:"payment_ref"`
}

func (q *Queries) MarkOrderPaid(ctx context.Context, arg MarkOrderPaidParams) (Order, error) {
	return scanOrder(q.db.QueryRow(ctx, markOrderPaid, arg.ID, arg.PaymentRef))
}

// ForceCancelOrder cancels any non-terminal order. Used by reservation cascades.
const forceCancelOrder = `
UPDATE orders
SET status = 'CANCELLED', updated_at = now()
WHERE id = $1 AND status NOT IN ('PAID', 'CANCELLED')
RETURNING ` + orderColumns

func (q *Queries) ForceCancelOrder(ctx context.Context, id uuid.UUID) (Order, error) {
	return scanOrder(q.db.QueryRow(ctx, forceCancelOrder, id))
}
