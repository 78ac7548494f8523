package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

const promotionColumns = `id, code, kind, value, applicable_categories, active, max_uses, uses_so_far, expires_at, created_at, updated_at`

func scanPromotion(row interface{ Scan(...any) error }) (Promotion, error) {
	var i Promotion
	err := row.Scan(
		&i.ID,
		&i.Code,
		&i.Kind,
		&i.Value,
		&i.ApplicableCategories,
		&i.Active,
		&i.MaxUses,
		&i.UsesSoFar,
		&i.ExpiresAt,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const createPromotion = `
INSERT INTO promotions (code, kind, value, applicable_categories, active, max_uses, expires_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING ` + promotionColumns

type CreatePromotionParams struct {
	Code                 string             `json:"code"`
	Kind                 string             `json:"kind"`
	Value                pgtype.Numeric     `json:"value"`
	ApplicableCategories []string           `json:"applicable_categories"`
	Active               bool               `json:"active"`
	MaxUses              int32              `json:"max_uses"`
	ExpiresAt            pgtype.Timestamptz `json:"expires_at"`
}

func (q *Queries) CreatePromotion(ctx context.Context, arg CreatePromotionParams) (Promotion, error) {
	categories := arg.ApplicableCategories
	if categories == nil {
		categories = []string{}
	}
	row := q.db.QueryRow(ctx, createPromotion,
		arg.Code,
		arg.Kind,
		arg.Value,
		categories,
		arg.Active,
		arg.MaxUses,
		arg.ExpiresAt,
	)
	return scanPromotion(row)
}

const getPromotion = `
SELECT ` + promotionColumns + `
FROM promotions
WHERE id = $1
`

func (q *Queries) GetPromotion(ctx context.Context, id uuid.UUID) (Promotion, error) {
	return scanPromotion(q.db.QueryRow(ctx, getPromotion, id))
}

const getPromotionByCode = `
SELECT ` + promotionColumns + `
FROM promotions
WHERE code = $1
`

func (q *Queries) GetPromotionByCode(ctx context.Context, code string) (Promotion, error) {
	return scanPromotion(q.db.QueryRow(ctx, getPromotionByCode, code))
}

const listPromotions = `
SELECT ` + promotionColumns + `
FROM promotions
ORDER BY created_at DESC
`

func (q *Queries) ListPromotions(ctx context.Context) ([]Promotion, error) {
	rows, err := q.db.Query(ctx, listPromotions)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Promotion
	for rows.Next() {
		i, err := scanPromotion(rows)
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

const setPromotionActive = `
UPDATE promotions
SET active = $2, updated_at = now()
WHERE id = $1
RETURNING ` + promotionColumns

type SetPromotionActiveParams struct {
	ID     uuid.UUID `json:"id"`
	Active bool      `json:"active"`
}

func (q *Queries) SetPromotionActive(ctx context.Context, arg SetPromotionActiveParams) (Promotion, error) {
	return scanPromotion(q.db.QueryRow(ctx, setPromotionActive, arg.ID, arg.Active))
}

// Returns pgx.ErrNoRows when the promotion is inactive or already at max_uses.
const redeemPromotion = `
UPDATE promotions
SET uses_so_far = uses_so_far + 1, updated_at = now()
WHERE id = $1 AND active AND uses_so_far < max_uses
  AND (expires_at IS NULL OR expires_at >= now())
RETURNING ` + promotionColumns

func (q *Queries) RedeemPromotion(ctx context.Context, id uuid.UUID) (Promotion, error) {
	return scanPromotion(q.db.QueryRow(ctx, redeemPromotion, id))
}

const refundPromotion = `
UPDATE promotions
SET uses_so_far = uses_so_far - 1, updated_at = now()
WHERE id = $1 AND uses_so_far > 0
RETURNING ` + promotionColumns

func (q *Queries) RefundPromotion(ctx context.Context, id uuid.UUID) (Promotion, error) {
	return scanPromotion(q.db.QueryRow(ctx, refundPromotion, id))
}
