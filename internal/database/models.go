package database

import (
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

type MenuItem struct {
	ID              uuid.UUID      `json:"id"`
	Name            string         `json:"name"`
	Category        string         `json:"category"`
	UnitPrice       pgtype.Numeric `json:"unit_price"`
	Stock           pgtype.Int4    `json:"stock"`
	Available       bool           `json:"available"`
	DiscountPercent pgtype.Numeric `json:"discount_percent"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

type Promotion struct {
	ID                   uuid.UUID          `json:"id"`
	Code                 string             `json:"code"`
	Kind                 string             `json:"kind"`
	Value                pgtype.Numeric     `json:"value"`
	ApplicableCategories []string           `json:"applicable_categories"`
	Active               bool               `json:"active"`
	MaxUses              int32              `json:"max_uses"`
	UsesSoFar            int32              `json:"uses_so_far"`
	ExpiresAt            pgtype.Timestamptz `json:"expires_at"`
	CreatedAt            time.Time          `json:"created_at"`
	UpdatedAt            time.Time          `json:"updated_at"`
}

type Reservation struct {
	ID            uuid.UUID      `json:"id"`
	TableID       string         `json:"table_id"`
	CustomerID    pgtype.UUID    `json:"customer_id"`
	ScheduledAt   time.Time      `json:"scheduled_at"`
	PartySize     int32          `json:"party_size"`
	Location      string         `json:"location"`
	Status        string         `json:"status"`
	HasMenu       bool           `json:"has_menu"`
	LinkedOrderID pgtype.UUID    `json:"linked_order_id"`
	BaseFee       pgtype.Numeric `json:"base_fee"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

type Order struct {
	ID             uuid.UUID          `json:"id"`
	Status         string             `json:"status"`
	Subtotal       pgtype.Numeric     `json:"subtotal"`
	DiscountAmount pgtype.Numeric     `json:"discount_amount"`
	ReservationFee pgtype.Numeric     `json:"reservation_fee"`
	FinalTotal     pgtype.Numeric     `json:"final_total"`
	PromotionID    pgtype.UUID        `json:"promotion_id"`
	PromotionCode  pgtype.Text        `json:"promotion_code"`
	PromotionKind  pgtype.Text        `json:"promotion_kind"`
	PromotionValue pgtype.Numeric     `json:"promotion_value"`
	PaymentMethod  string             `json:"payment_method"`
	Notes          pgtype.Text        `json:"notes"`
	TableID        pgtype.Text        `json:"table_id"`
	CustomerID     pgtype.UUID        `json:"customer_id"`
	ReservationID  pgtype.UUID        `json:"reservation_id"`
	PaymentRef     pgtype.Text        `json:"payment_ref"`
	CreatedBy      uuid.UUID          `json:"created_by"`
	CreatedAt      time.Time          `json:"created_at"`
	ReadyAt        pgtype.Timestamptz `json:"ready_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

type OrderLine struct {
	ID         uuid.UUID      `json:"id"`
	OrderID    uuid.UUID      `json:"order_id"`
	MenuItemID uuid.UUID      `json:"menu_item_id"`
	Name       string         `json:"name"`
	Category   string         `json:"category"`
	Price      pgtype.Numeric `json:"price"`
	Quantity   int32          `json:"quantity"`
	Subtotal   pgtype.Numeric `json:"subtotal"`
}

type Payment struct {
	ID             uuid.UUID          `json:"id"`
	OrderID        uuid.UUID          `json:"order_id"`
	Method         string             `json:"method"`
	Amount         pgtype.Numeric     `json:"amount"`
	Status         string             `json:"status"`
	Reference      pgtype.Text        `json:"reference"`
	AmountReceived pgtype.Numeric     `json:"amount_received"`
	ChangeAmount   pgtype.Numeric     `json:"change_amount"`
	ProcessedBy    pgtype.UUID        `json:"processed_by"`
	ProcessedAt    pgtype.Timestamptz `json:"processed_at"`
	CreatedAt      time.Time          `json:"created_at"`
}
