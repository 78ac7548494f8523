package enum

// ── Group A: State machines (CHECK constrained in DB) ──

const (
	OrderStatusPending   = "PENDING"
	OrderStatusPreparing = "PREPARING"
	OrderStatusReady     = "READY"
	OrderStatusPaid      = "PAID"
	OrderStatusCancelled = "CANCELLED"
)

const (
	ReservationStatusPending             = "PENDING"
	ReservationStatusPendingConfirmation = "PENDING_CONFIRMATION"
	ReservationStatusConfirmed           = "CONFIRMED"
	ReservationStatusCancelled           = "CANCELLED"
)

const (
	PaymentStatusPending   = "PENDING"
	PaymentStatusCompleted = "COMPLETED"
	PaymentStatusFailed    = "FAILED"
)

// ── Group C: Borderline (CHECK constrained in DB) ──

const (
	RoleCustomer = "CUSTOMER"
	RoleStaff    = "STAFF"
)

const (
	PromotionKindPercentage         = "PERCENTAGE"
	PromotionKindFixedAmount        = "FIXED_AMOUNT"
	PromotionKindCategoryPercentage = "CATEGORY_PERCENTAGE"
)

// ── Group B: Configurable labels (no DB constraint) ──

const (
	PaymentMethodCash = "CASH"
	PaymentMethodCard = "CARD"
)
