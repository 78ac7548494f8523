package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

const menuItemColumns = `id, name, category, unit_price, stock, available, discount_percent, created_at, updated_at`

func scanMenuItem(row interface{ Scan(...any) error }) (MenuItem, error) {
	var i MenuItem
	err := row.Scan(
		&i.ID,
		&i.Name,
		&i.Category,
		&i.UnitPrice,
		&i.Stock,
		&i.Available,
		&i.DiscountPercent,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const createMenuItem = `
INSERT INTO menu_items (name, category, unit_price, stock, available, discount_percent)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING ` + menuItemColumns

type CreateMenuItemParams struct {
	Name            string         `json:"name"`
	Category        string         `json:"category"`
	UnitPrice       pgtype.Numeric `json:"unit_price"`
	Stock           pgtype.Int4    `json:"stock"`
	Available       bool           `json:"available"`
	DiscountPercent pgtype.Numeric `json:"discount_percent"`
}

func (q *Queries) CreateMenuItem(ctx context.Context, arg CreateMenuItemParams) (MenuItem, error) {
	row := q.db.QueryRow(ctx, createMenuItem,
		arg.Name,
		arg.Category,
		arg.UnitPrice,
		arg.Stock,
		arg.Available,
		arg.DiscountPercent,
	)
	return scanMenuItem(row)
}

const listMenuItemsByIDs = `
SELECT ` + menuItemColumns + `
FROM menu_items
WHERE id = ANY($1::uuid[])
`

func (q *Queries) ListMenuItemsByIDs(ctx context.Context, ids []uuid.UUID) ([]MenuItem, error) {
	rows, err := q.db.Query(ctx, listMenuItemsByIDs, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []MenuItem
	for rows.Next() {
		i, err := scanMenuItem(rows)
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

const listMenuItems = `
SELECT ` + menuItemColumns + `
FROM menu_items
ORDER BY category, name
`

func (q *Queries) ListMenuItems(ctx context.Context) ([]MenuItem, error) {
	rows, err := q.db.Query(ctx, listMenuItems)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []MenuItem
	for rows.Next() {
		i, err := scanMenuItem(rows)
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
