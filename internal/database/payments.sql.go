package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

const paymentColumns = `id, order_id, method, amount, status, reference, amount_received, change_amount, processed_by, processed_at, created_at`

func scanPayment(row interface{ Scan(...any) error }) (Payment, error) {
	var i Payment
	err := row.Scan(
		&i.ID,
		&i.OrderID,
		&i.Method,
		&i.Amount,
		&i.Status,
		&i.Reference,
		&i.AmountReceived,
		&i.ChangeAmount,
		&i.ProcessedBy,
		&i.ProcessedAt,
		&i.CreatedAt,
	)
	return i, err
}

const createPayment = `
INSERT INTO payments (order_id, method, amount)
VALUES ($1, $2, $3)
RETURNING ` + paymentColumns

type CreatePaymentParams struct {
	OrderID uuid.UUID      `json:"order_id"`
	Method  string         `json:"method"`
	Amount  pgtype.Numeric `json:"amount"`
}

func (q *Queries) CreatePayment(ctx context.Context, arg CreatePaymentParams) (Payment, error) {
	return scanPayment(q.db.QueryRow(ctx, createPayment, arg.OrderID, arg.Method, arg.Amount))
}

const getPendingPaymentByOrder = `
SELECT ` + paymentColumns + `
FROM payments
WHERE order_id = $1 AND status = 'PENDING'
ORDER BY created_at
LIMIT 1
FOR UPDATE
`

func (q *Queries) GetPendingPaymentByOrder(ctx context.Context, orderID uuid.UUID) (Payment, error) {
	return scanPayment(q.db.QueryRow(ctx, getPendingPaymentByOrder, orderID))
}

const completePayment = `
UPDATE payments
SET status = 'COMPLETED',
    method = $2,
    reference = $3,
    amount_received = $4,
    change_amount = $5,
    processed_by = $6,
    processed_at = now()
WHERE id = $1 AND status = 'PENDING'
RETURNING ` + paymentColumns

type CompletePaymentParams struct {
	ID             uuid.UUID      `json:"id"`
	Method         string         `json:"method"`
	Reference      pgtype.Text    `json:"reference"`
	AmountReceived pgtype.Numeric `json:"amount_received"`
	ChangeAmount   pgtype.Numeric `json:"change_amount"`
	ProcessedBy    pgtype.UUID    `json:"processed_by"`
}

func (q *Queries) CompletePayment(ctx context.Context, arg CompletePaymentParams) (Payment, error) {
	return scanPayment(q.db.QueryRow(ctx, completePayment,
		arg.ID,
		arg.Method,
		arg.Reference,
		arg.AmountReceived,
		arg.ChangeAmount,
		arg.ProcessedBy,
	))
}

const failPendingPaymentsByOrder = `
UPDATE payments
SET status = 'FAILED', processed_at = now()
WHERE order_id = $1 AND status = 'PENDING'
`

func (q *Queries) FailPendingPaymentsByOrder(ctx context.Context, orderID uuid.UUID) error {
	_, err := q.db.Exec(ctx, failPendingPaymentsByOrder, orderID)
	return err
}

const listPaymentsByOrder = `
SELECT ` + paymentColumns + `
FROM payments
WHERE order_id = $1
ORDER BY created_at
`

func (q *Queries) ListPaymentsByOrder(ctx context.Context, orderID uuid.UUID) ([]Payment, error) {
	rows, err := q.db.Query(ctx, listPaymentsByOrder, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Payment
	for rows.Next() {
		i, err := scanPayment(rows)
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
