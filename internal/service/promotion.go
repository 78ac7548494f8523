package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/comanda-app/api/internal/cart"
	"github.com/comanda-app/api/internal/catalog"
	"github.com/comanda-app/api/internal/database"
	"github.com/comanda-app/api/internal/enum"
	"github.com/comanda-app/api/internal/events"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

// ErrDuplicatePromotionCode is returned when a code is already taken.
var ErrDuplicatePromotionCode = errors.New("promotion code already exists")

// PromotionKind is the closed set of discount strategies.
type PromotionKind string

const (
	KindPercentage         PromotionKind = enum.PromotionKindPercentage
	KindFixedAmount        PromotionKind = enum.PromotionKindFixedAmount
	KindCategoryPercentage PromotionKind = enum.PromotionKindCategoryPercentage
)

// ParsePromotionKind rejects anything outside the closed set.
func ParsePromotionKind(s string) (PromotionKind, error) {
	switch k := PromotionKind(s); k {
	case KindPercentage, KindFixedAmount, KindCategoryPercentage:
		return k, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPromotionKind, s)
}

// Promotion is a redeemable discount code.
type Promotion struct {
	ID                   uuid.UUID
	Code                 string
	Kind                 PromotionKind
	Value                decimal.Decimal
	ApplicableCategories []string
	Active               bool
	MaxUses              int32
	UsesSoFar            int32
	ExpiresAt            *time.Time
}

func promotionFromRow(row database.Promotion) Promotion {
	p := Promotion{
		ID:                   row.ID,
		Code:                 row.Code,
		Kind:                 PromotionKind(row.Kind),
		Value:                catalog.NumericToDecimal(row.Value),
		ApplicableCategories: row.ApplicableCategories,
		Active:               row.Active,
		MaxUses:              row.MaxUses,
		UsesSoFar:            row.UsesSoFar,
	}
	if row.ExpiresAt.Valid {
		t := row.ExpiresAt.Time
		p.ExpiresAt = &t
	}
	return p
}

// NormalizeCode trims and upper-cases a promotion code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

var hundred = decimal.NewFromInt(100)

// Discount computes the discount p grants on c. The result is never negative
// and never exceeds the cart subtotal. It is derived from the current cart on
// every call, so callers re-run it after any cart mutation.
func Discount(p Promotion, c *cart.Cart) (decimal.Decimal, error) {
	subtotal := c.Subtotal()
	var d decimal.Decimal

	switch p.Kind {
	case KindPercentage:
		d = subtotal.Mul(p.Value).Div(hundred)
	case KindFixedAmount:
		d = decimal.Min(subtotal, p.Value)
	case KindCategoryPercentage:
		d = decimal.Zero
		for _, line := range c.Lines() {
			if !inCategories(line.Category, p.ApplicableCategories) {
				continue
			}
			d = d.Add(line.Subtotal().Mul(p.Value).Div(hundred))
		}
	default:
		return decimal.Zero, fmt.Errorf("%w: %q", ErrUnknownPromotionKind, p.Kind)
	}

	d = d.Round(2)
	if d.IsNegative() {
		return decimal.Zero, nil
	}
	if d.GreaterThan(subtotal) {
		return subtotal, nil
	}
	return d, nil
}

func inCategories(category string, set []string) bool {
	for _, c := range set {
		if strings.EqualFold(strings.TrimSpace(c), strings.TrimSpace(category)) {
			return true
		}
	}
	return false
}

// PromotionQuote is the result of validating a code against a cart.
type PromotionQuote struct {
	Promotion      Promotion
	Subtotal       decimal.Decimal
	DiscountAmount decimal.Decimal
}

// PromotionLookup is the read needed to validate a code.
type PromotionLookup interface {
	GetPromotionByCode(ctx context.Context, code string) (database.Promotion, error)
}

// PromotionStore defines the DB methods needed by PromotionService.
// Satisfied by *database.Queries.
type PromotionStore interface {
	PromotionLookup
	GetPromotion(ctx context.Context, id uuid.UUID) (database.Promotion, error)
	ListPromotions(ctx context.Context) ([]database.Promotion, error)
	CreatePromotion(ctx context.Context, arg database.CreatePromotionParams) (database.Promotion, error)
	SetPromotionActive(ctx context.Context, arg database.SetPromotionActiveParams) (database.Promotion, error)
}

// PromotionService validates codes against carts and handles promotion admin.
type PromotionService struct {
	store     PromotionStore
	publisher EventPublisher
	now       func() time.Time
	backoff   ReadBackOff
}

// NewPromotionService creates a new PromotionService.
func NewPromotionService(store PromotionStore, publisher EventPublisher) *PromotionService {
	return &PromotionService{store: store, publisher: publisher, now: time.Now}
}

// ApplyCode validates code against c without redeeming it. Calling it any
// number of times never consumes a use.
func (s *PromotionService) ApplyCode(ctx context.Context, code string, c *cart.Cart) (*PromotionQuote, error) {
	return s.applyCode(ctx, s.store, code, c)
}

func (s *PromotionService) applyCode(ctx context.Context, lookup PromotionLookup, code string, c *cart.Cart) (*PromotionQuote, error) {
	normalized := NormalizeCode(code)
	if normalized == "" {
		return nil, &PromotionInvalidError{Code: code, Reason: PromotionNotFound}
	}

	row, err := retryRead(ctx, s.backoff, "get promotion", func() (database.Promotion, error) {
		return lookup.GetPromotionByCode(ctx, normalized)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &PromotionInvalidError{Code: normalized, Reason: PromotionNotFound}
		}
		return nil, err
	}

	p := promotionFromRow(row)
	if err := s.checkRedeemable(p); err != nil {
		return nil, err
	}

	d, err := Discount(p, c)
	if err != nil {
		return nil, err
	}
	return &PromotionQuote{Promotion: p, Subtotal: c.Subtotal(), DiscountAmount: d}, nil
}

func (s *PromotionService) checkRedeemable(p Promotion) error {
	if !p.Active {
		return &PromotionInvalidError{Code: p.Code, Reason: PromotionInactive}
	}
	if p.ExpiresAt != nil && p.ExpiresAt.Before(s.now()) {
		return &PromotionInvalidError{Code: p.Code, Reason: PromotionExpired}
	}
	if p.UsesSoFar >= p.MaxUses {
		return &PromotionInvalidError{Code: p.Code, Reason: PromotionExhausted}
	}
	return nil
}

// CreatePromotionRequest is the validated input for a new promotion.
type CreatePromotionRequest struct {
	Code                 string
	Kind                 string
	Value                string
	ApplicableCategories []string
	MaxUses              int32
	ExpiresAt            *time.Time
	Active               bool
}

// CreatePromotion stores a new code in upper case.
func (s *PromotionService) CreatePromotion(ctx context.Context, req CreatePromotionRequest) (Promotion, error) {
	code := NormalizeCode(req.Code)
	if code == "" {
		return Promotion{}, fmt.Errorf("%w: code is required", ErrInvalidPromotion)
	}
	kind, err := ParsePromotionKind(req.Kind)
	if err != nil {
		return Promotion{}, fmt.Errorf("%w: %w", ErrInvalidPromotion, err)
	}
	value, err := decimal.NewFromString(req.Value)
	if err != nil || value.IsNegative() {
		return Promotion{}, fmt.Errorf("%w: value must be a non-negative number", ErrInvalidPromotion)
	}
	if kind != KindFixedAmount && value.GreaterThan(hundred) {
		return Promotion{}, fmt.Errorf("%w: percentage must be <= 100", ErrInvalidPromotion)
	}
	if kind == KindCategoryPercentage && len(req.ApplicableCategories) == 0 {
		return Promotion{}, fmt.Errorf("%w: applicable_categories is required", ErrInvalidPromotion)
	}
	if req.MaxUses < 0 {
		return Promotion{}, fmt.Errorf("%w: max_uses must be >= 0", ErrInvalidPromotion)
	}

	expires := pgtype.Timestamptz{}
	if req.ExpiresAt != nil {
		expires = pgtype.Timestamptz{Time: *req.ExpiresAt, Valid: true}
	}

	row, err := s.store.CreatePromotion(ctx, database.CreatePromotionParams{
		Code:                 code,
		Kind:                 string(kind),
		Value:                catalog.DecimalToNumeric(value),
		ApplicableCategories: req.ApplicableCategories,
		Active:               req.Active,
		MaxUses:              req.MaxUses,
		ExpiresAt:            expires,
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Promotion{}, ErrDuplicatePromotionCode
		}
		return Promotion{}, persistenceErr("create promotion", err)
	}

	p := promotionFromRow(row)
	publish(s.publisher, events.TypePromotionUpdated, p.ID, "", p)
	return p, nil
}

// SetActive toggles a promotion on or off.
func (s *PromotionService) SetActive(ctx context.Context, id uuid.UUID, active bool) (Promotion, error) {
	row, err := s.store.SetPromotionActive(ctx, database.SetPromotionActiveParams{ID: id, Active: active})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Promotion{}, ErrPromotionNotFound
		}
		return Promotion{}, persistenceErr("set promotion active", err)
	}
	p := promotionFromRow(row)
	publish(s.publisher, events.TypePromotionUpdated, p.ID, "", p)
	return p, nil
}

// GetPromotion returns a promotion by ID.
func (s *PromotionService) GetPromotion(ctx context.Context, id uuid.UUID) (Promotion, error) {
	row, err := retryRead(ctx, s.backoff, "get promotion", func() (database.Promotion, error) {
		return s.store.GetPromotion(ctx, id)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Promotion{}, ErrPromotionNotFound
		}
		return Promotion{}, err
	}
	return promotionFromRow(row), nil
}

// ListPromotions returns every promotion, newest first.
func (s *PromotionService) ListPromotions(ctx context.Context) ([]Promotion, error) {
	rows, err := retryRead(ctx, s.backoff, "list promotions", func() ([]database.Promotion, error) {
		return s.store.ListPromotions(ctx)
	})
	if err != nil {
		return nil, err
	}
	out := make([]Promotion, len(rows))
	for i, r := range rows {
		out[i] = promotionFromRow(r)
	}
	return out, nil
}
