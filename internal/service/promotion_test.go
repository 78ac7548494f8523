package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/comanda-app/api/internal/cart"
	"github.com/comanda-app/api/internal/database"
	"github.com/comanda-app/api/internal/events"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestPromotionService(store *mockStore) (*PromotionService, *recordingPublisher) {
	pub := &recordingPublisher{}
	svc := NewPromotionService(store, pub)
	svc.now = func() time.Time { return fixedNow }
	svc.backoff = noRetry
	return svc, pub
}

func promoRow(code, kind, value string) database.Promotion {
	return database.Promotion{
		ID:        uuid.New(),
		Code:      code,
		Kind:      kind,
		Value:     makeNumeric(value),
		Active:    true,
		MaxUses:   100,
		UsesSoFar: 0,
	}
}

func storeWithPromotion(row database.Promotion) *mockStore {
	return &mockStore{
		getPromotionByCodeFn: func(ctx context.Context, code string) (database.Promotion, error) {
			if code == row.Code {
				return row, nil
			}
			return database.Promotion{}, pgx.ErrNoRows
		},
	}
}

// cartOf25 has a subtotal of 25.00 split across two categories.
func cartOf25() *cart.Cart {
	c := cart.New()
	c.Add(menuItem("Burger", "food", "10.00", nil), 2)
	c.Add(menuItem("Lemonade", "drinks", "5.00", nil), 1)
	return c
}

// =====================
// Discount
// =====================

func TestDiscount_Percentage(t *testing.T) {
	p := promotionFromRow(promoRow("TEN", "PERCENTAGE", "10"))
	c := cartOf25()

	d, err := Discount(p, c)
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if !d.Equal(dec("2.50")) {
		t.Errorf("expected discount 2.50, got %s", d)
	}
	if final := c.Subtotal().Sub(d); !final.Equal(dec("22.50")) {
		t.Errorf("expected final 22.50, got %s", final)
	}
}

func TestDiscount_FixedAmountCappedAtSubtotal(t *testing.T) {
	p := promotionFromRow(promoRow("TENOFF", "FIXED_AMOUNT", "10"))
	c := cart.New()
	c.Add(menuItem("Fries", "food", "4.00", nil), 2)

	d, err := Discount(p, c)
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if !d.Equal(dec("8")) {
		t.Errorf("expected discount 8, got %s", d)
	}
	if final := c.Subtotal().Sub(d); !final.IsZero() {
		t.Errorf("expected final 0, got %s", final)
	}
}

func TestDiscount_CategoryPercentage(t *testing.T) {
	row := promoRow("DRINKS20", "CATEGORY_PERCENTAGE", "20")
	row.ApplicableCategories = []string{"Drinks"}
	p := promotionFromRow(row)

	c := cart.New()
	c.Add(menuItem("Coffee", "drinks", "5.00", nil), 2)
	c.Add(menuItem("Steak", "food", "20.00", nil), 1)

	d, err := Discount(p, c)
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if !d.Equal(dec("2.00")) {
		t.Errorf("expected discount 2.00, got %s", d)
	}
	if final := c.Subtotal().Sub(d); !final.Equal(dec("28.00")) {
		t.Errorf("expected final 28.00, got %s", final)
	}
}

func TestDiscount_CategoryPercentageNoMatch(t *testing.T) {
	row := promoRow("DESSERT", "CATEGORY_PERCENTAGE", "50")
	row.ApplicableCategories = []string{"dessert"}
	d, err := Discount(promotionFromRow(row), cartOf25())
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if !d.IsZero() {
		t.Errorf("expected zero discount, got %s", d)
	}
}

func TestDiscount_NeverExceedsSubtotal(t *testing.T) {
	tests := []struct {
		kind  string
		value string
	}{
		{"PERCENTAGE", "100"},
		{"PERCENTAGE", "150"},
		{"FIXED_AMOUNT", "1000"},
		{"FIXED_AMOUNT", "0"},
	}
	for _, tt := range tests {
		t.Run(tt.kind+"_"+tt.value, func(t *testing.T) {
			c := cartOf25()
			d, err := Discount(promotionFromRow(promoRow("X", tt.kind, tt.value)), c)
			if err != nil {
				t.Fatalf("expected no error, got: %v", err)
			}
			if d.IsNegative() || d.GreaterThan(c.Subtotal()) {
				t.Errorf("discount %s out of [0, %s]", d, c.Subtotal())
			}
		})
	}
}

func TestDiscount_RecomputedAfterCartChange(t *testing.T) {
	p := promotionFromRow(promoRow("TEN", "PERCENTAGE", "10"))
	c := cartOf25()

	before, _ := Discount(p, c)
	for _, l := range c.Lines() {
		if l.Category == "drinks" {
			c.Remove(l.MenuItemID)
		}
	}
	after, _ := Discount(p, c)

	if !before.Equal(dec("2.50")) || !after.Equal(dec("2.00")) {
		t.Errorf("expected 2.50 then 2.00, got %s then %s", before, after)
	}
}

func TestDiscount_UnknownKind(t *testing.T) {
	p := promotionFromRow(promoRow("BOGO", "BUY_ONE_GET_ONE", "100"))
	_, err := Discount(p, cartOf25())
	if !errors.Is(err, ErrUnknownPromotionKind) {
		t.Fatalf("expected ErrUnknownPromotionKind, got: %v", err)
	}
}

// =====================
// ApplyCode
// =====================

func TestApplyCode_NormalizesAndNeverRedeems(t *testing.T) {
	row := promoRow("SUMMER10", "PERCENTAGE", "10")
	store := storeWithPromotion(row)
	// redeemPromotionFn is nil: any redemption panics.
	svc, _ := newTestPromotionService(store)

	for i := 0; i < 3; i++ {
		q, err := svc.ApplyCode(context.Background(), "  summer10 ", cartOf25())
		if err != nil {
			t.Fatalf("expected no error, got: %v", err)
		}
		if !q.DiscountAmount.Equal(dec("2.50")) {
			t.Errorf("expected discount 2.50, got %s", q.DiscountAmount)
		}
		if q.Promotion.Code != "SUMMER10" {
			t.Errorf("expected code SUMMER10, got %q", q.Promotion.Code)
		}
	}
}

func TestApplyCode_Rejections(t *testing.T) {
	yesterday := fixedNow.Add(-24 * time.Hour)
	tomorrow := fixedNow.Add(24 * time.Hour)

	tests := []struct {
		name   string
		code   string
		mutate func(*database.Promotion)
		reason PromotionInvalidReason
	}{
		{
			name:   "unknown code",
			code:   "NOPE",
			mutate: func(p *database.Promotion) {},
			reason: PromotionNotFound,
		},
		{
			name:   "blank code",
			code:   "   ",
			mutate: func(p *database.Promotion) {},
			reason: PromotionNotFound,
		},
		{
			name:   "inactive",
			code:   "PROMO",
			mutate: func(p *database.Promotion) { p.Active = false },
			reason: PromotionInactive,
		},
		{
			name: "expired",
			code: "PROMO",
			mutate: func(p *database.Promotion) {
				p.ExpiresAt = pgtype.Timestamptz{Time: yesterday, Valid: true}
			},
			reason: PromotionExpired,
		},
		{
			name: "exhausted",
			code: "PROMO",
			mutate: func(p *database.Promotion) {
				p.MaxUses = 5
				p.UsesSoFar = 5
			},
			reason: PromotionExhausted,
		},
		{
			name: "inactive reported before expired",
			code: "PROMO",
			mutate: func(p *database.Promotion) {
				p.Active = false
				p.ExpiresAt = pgtype.Timestamptz{Time: yesterday, Valid: true}
			},
			reason: PromotionInactive,
		},
		{
			name: "expired reported before exhausted",
			code: "PROMO",
			mutate: func(p *database.Promotion) {
				p.ExpiresAt = pgtype.Timestamptz{Time: yesterday, Valid: true}
				p.MaxUses = 0
			},
			reason: PromotionExpired,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			row := promoRow("PROMO", "PERCENTAGE", "10")
			row.ExpiresAt = pgtype.Timestamptz{Time: tomorrow, Valid: true}
			tt.mutate(&row)
			svc, _ := newTestPromotionService(storeWithPromotion(row))

			_, err := svc.ApplyCode(context.Background(), tt.code, cartOf25())
			var pe *PromotionInvalidError
			if !errors.As(err, &pe) {
				t.Fatalf("expected *PromotionInvalidError, got: %v", err)
			}
			if pe.Reason != tt.reason {
				t.Errorf("expected reason %s, got %s", tt.reason, pe.Reason)
			}
		})
	}
}

func TestApplyCode_StoreFailure(t *testing.T) {
	store := &mockStore{
		getPromotionByCodeFn: func(ctx context.Context, code string) (database.Promotion, error) {
			return database.Promotion{}, errors.New("connection refused")
		},
	}
	svc, _ := newTestPromotionService(store)

	_, err := svc.ApplyCode(context.Background(), "ANY", cartOf25())
	var pe *PersistenceError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *PersistenceError, got: %v", err)
	}
}

// =====================
// Admin
// =====================

func TestCreatePromotion_UppercasesCode(t *testing.T) {
	var got database.CreatePromotionParams
	store := &mockStore{
		createPromotionFn: func(ctx context.Context, arg database.CreatePromotionParams) (database.Promotion, error) {
			got = arg
			return database.Promotion{
				ID:      uuid.New(),
				Code:    arg.Code,
				Kind:    arg.Kind,
				Value:   arg.Value,
				Active:  arg.Active,
				MaxUses: arg.MaxUses,
			}, nil
		},
	}
	svc, pub := newTestPromotionService(store)

	p, err := svc.CreatePromotion(context.Background(), CreatePromotionRequest{
		Code:    " spring ",
		Kind:    "PERCENTAGE",
		Value:   "15",
		MaxUses: 10,
		Active:  true,
	})
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if got.Code != "SPRING" || p.Code != "SPRING" {
		t.Errorf("expected stored code SPRING, got %q", got.Code)
	}
	if !numericEquals(got.Value, "15") {
		t.Errorf("expected value 15, got %v", got.Value)
	}
	if types := pub.types(); len(types) != 1 || types[0] != events.TypePromotionUpdated {
		t.Errorf("expected one promotion.updated event, got %v", types)
	}
}

func TestCreatePromotion_Validation(t *testing.T) {
	tests := []struct {
		name string
		req  CreatePromotionRequest
	}{
		{"empty code", CreatePromotionRequest{Code: " ", Kind: "PERCENTAGE", Value: "10", MaxUses: 1}},
		{"unknown kind", CreatePromotionRequest{Code: "A", Kind: "BOGO", Value: "10", MaxUses: 1}},
		{"bad value", CreatePromotionRequest{Code: "A", Kind: "FIXED_AMOUNT", Value: "abc", MaxUses: 1}},
		{"negative value", CreatePromotionRequest{Code: "A", Kind: "FIXED_AMOUNT", Value: "-1", MaxUses: 1}},
		{"percentage over 100", CreatePromotionRequest{Code: "A", Kind: "PERCENTAGE", Value: "101", MaxUses: 1}},
		{"category without categories", CreatePromotionRequest{Code: "A", Kind: "CATEGORY_PERCENTAGE", Value: "10", MaxUses: 1}},
		{"negative max uses", CreatePromotionRequest{Code: "A", Kind: "FIXED_AMOUNT", Value: "1", MaxUses: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := newTestPromotionService(&mockStore{})
			_, err := svc.CreatePromotion(context.Background(), tt.req)
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("expected ErrValidation, got: %v", err)
			}
		})
	}
}

func TestCreatePromotion_DuplicateCode(t *testing.T) {
	store := &mockStore{
		createPromotionFn: func(ctx context.Context, arg database.CreatePromotionParams) (database.Promotion, error) {
			return database.Promotion{}, &pgconn.PgError{Code: "23505"}
		},
	}
	svc, _ := newTestPromotionService(store)

	_, err := svc.CreatePromotion(context.Background(), CreatePromotionRequest{
		Code: "DUP", Kind: "FIXED_AMOUNT", Value: "5", MaxUses: 1,
	})
	if !errors.Is(err, ErrDuplicatePromotionCode) {
		t.Fatalf("expected ErrDuplicatePromotionCode, got: %v", err)
	}
}

func TestSetActive_NotFound(t *testing.T) {
	store := &mockStore{
		setPromotionActiveFn: func(ctx context.Context, arg database.SetPromotionActiveParams) (database.Promotion, error) {
			return database.Promotion{}, pgx.ErrNoRows
		},
	}
	svc, _ := newTestPromotionService(store)

	_, err := svc.SetActive(context.Background(), uuid.New(), false)
	if !errors.Is(err, ErrPromotionNotFound) {
		t.Fatalf("expected ErrPromotionNotFound, got: %v", err)
	}
}
