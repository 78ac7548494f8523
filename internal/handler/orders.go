package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/comanda-app/api/internal/cart"
	"github.com/comanda-app/api/internal/database"
	"github.com/comanda-app/api/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// CheckoutServicer defines the service methods needed to place orders.
// Satisfied by *service.CheckoutService; narrow interface for testability.
type CheckoutServicer interface {
	CatalogLoader
	CreateOrder(ctx context.Context, actor service.Actor, c *cart.Cart, opts service.CheckoutOptions) (*service.CheckoutResult, error)
}

// LifecycleServicer defines the service methods needed by order read/update handlers.
// Satisfied by *service.LifecycleService.
type LifecycleServicer interface {
	GetOrder(ctx context.Context, actor service.Actor, orderID uuid.UUID) (*service.OrderDetail, error)
	ListOrders(ctx context.Context, actor service.Actor, f service.ListOrdersFilter) ([]database.Order, error)
	Transition(ctx context.Context, actor service.Actor, orderID uuid.UUID, target string) (database.Order, error)
	Cancel(ctx context.Context, actor service.Actor, orderID uuid.UUID) (database.Order, error)
}

// OrderHandler handles order endpoints.
type OrderHandler struct {
	checkout  CheckoutServicer
	lifecycle LifecycleServicer
}

// NewOrderHandler creates a new OrderHandler.
func NewOrderHandler(checkout CheckoutServicer, lifecycle LifecycleServicer) *OrderHandler {
	return &OrderHandler{checkout: checkout, lifecycle: lifecycle}
}

// RegisterRoutes registers order endpoints on the given Chi router.
// Expected to be mounted at /orders.
func (h *OrderHandler) RegisterRoutes(r chi.Router) {
	r.Post("/", h.Create)
	r.Get("/", h.List)
	r.Get("/{id}", h.Get)
	r.Patch("/{id}/status", h.UpdateStatus)
	r.Delete("/{id}", h.Cancel)
}

// --- Request / Response types ---

type createOrderRequest struct {
	Items         []cartItemRequest `json:"items"`
	PromotionCode string            `json:"promotion_code"`
	ReservationID string            `json:"reservation_id"`
	PaymentMethod string            `json:"payment_method"`
	Notes         string            `json:"notes"`
	TableID       string            `json:"table_id"`
	CustomerID    string            `json:"customer_id"`
}

type orderResponse struct {
	ID             uuid.UUID  `json:"id"`
	Status         string     `json:"status"`
	Subtotal       string     `json:"subtotal"`
	DiscountAmount string     `json:"discount_amount"`
	ReservationFee string     `json:"reservation_fee"`
	FinalTotal     string     `json:"final_total"`
	PromotionCode  *string    `json:"promotion_code"`
	PromotionKind  *string    `json:"promotion_kind"`
	PromotionValue *string    `json:"promotion_value"`
	PaymentMethod  string     `json:"payment_method"`
	Notes          *string    `json:"notes"`
	TableID        *string    `json:"table_id"`
	CustomerID     *string    `json:"customer_id"`
	ReservationID  *string    `json:"reservation_id"`
	PaymentRef     *string    `json:"payment_ref"`
	CreatedBy      uuid.UUID  `json:"created_by"`
	CreatedAt      time.Time  `json:"created_at"`
	ReadyAt        *time.Time `json:"ready_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

type orderLineResponse struct {
	ID         uuid.UUID `json:"id"`
	MenuItemID uuid.UUID `json:"menu_item_id"`
	Name       string    `json:"name"`
	Category   string    `json:"category"`
	Price      string    `json:"price"`
	Quantity   int32     `json:"quantity"`
	Subtotal   string    `json:"subtotal"`
}

// orderDetailResponse extends orderResponse with lines and payments for the GET detail endpoint.
type orderDetailResponse struct {
	orderResponse
	Lines    []orderLineResponse `json:"lines"`
	Payments []paymentResponse   `json:"payments"`
}

// createOrderResponse adds the linked reservation, if any.
type createOrderResponse struct {
	orderDetailResponse
	Reservation *reservationResponse `json:"reservation,omitempty"`
}

// orderListResponse wraps a list of orders with pagination metadata.
type orderListResponse struct {
	Orders []orderResponse `json:"orders"`
	Limit  int             `json:"limit"`
	Offset int             `json:"offset"`
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

// --- Handlers ---

// Create handles POST /orders.
func (h *OrderHandler) Create(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(w, r)
	if !ok {
		return
	}

	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	opts := service.CheckoutOptions{
		PromotionCode: req.PromotionCode,
		PaymentMethod: strings.ToUpper(strings.TrimSpace(req.PaymentMethod)),
		Notes:         req.Notes,
		TableID:       req.TableID,
	}
	if req.ReservationID != "" {
		id, err := uuid.Parse(req.ReservationID)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid reservation_id"})
			return
		}
		opts.ReservationID = &id
	}
	if req.CustomerID != "" {
		id, err := uuid.Parse(req.CustomerID)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid customer_id"})
			return
		}
		opts.CustomerID = &id
	}

	c, ok := buildCart(w, r, h.checkout, req.Items)
	if !ok {
		return
	}

	result, err := h.checkout.CreateOrder(r.Context(), actor, c, opts)
	if err != nil {
		writeServiceError(w, "create order", err)
		return
	}

	resp := createOrderResponse{
		orderDetailResponse: toOrderDetailResponse(result.Order, result.Lines, []database.Payment{result.Payment}),
	}
	if result.Reservation != nil {
		res := toReservationResponse(*result.Reservation)
		resp.Reservation = &res
	}
	writeJSON(w, http.StatusCreated, resp)
}

// List handles GET /orders.
func (h *OrderHandler) List(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(w, r)
	if !ok {
		return
	}

	limit, offset := parsePagination(r)
	orders, err := h.lifecycle.ListOrders(r.Context(), actor, service.ListOrdersFilter{
		Status: strings.ToUpper(r.URL.Query().Get("status")),
		Limit:  int32(limit),
		Offset: int32(offset),
	})
	if err != nil {
		writeServiceError(w, "list orders", err)
		return
	}

	resp := make([]orderResponse, len(orders))
	for i, o := range orders {
		resp[i] = toOrderResponse(o)
	}

	writeJSON(w, http.StatusOK, orderListResponse{
		Orders: resp,
		Limit:  limit,
		Offset: offset,
	})
}

// Get handles GET /orders/{id}.
func (h *OrderHandler) Get(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(w, r)
	if !ok {
		return
	}

	orderID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid order ID"})
		return
	}

	detail, err := h.lifecycle.GetOrder(r.Context(), actor, orderID)
	if err != nil {
		writeServiceError(w, "get order", err)
		return
	}

	writeJSON(w, http.StatusOK, toOrderDetailResponse(detail.Order, detail.Lines, detail.Payments))
}

// UpdateStatus handles PATCH /orders/{id}/status.
func (h *OrderHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(w, r)
	if !ok {
		return
	}

	orderID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid order ID"})
		return
	}

	var req updateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.Status == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "status is required"})
		return
	}

	updated, err := h.lifecycle.Transition(r.Context(), actor, orderID, strings.ToUpper(req.Status))
	if err != nil {
		writeServiceError(w, "update order status", err)
		return
	}

	writeJSON(w, http.StatusOK, toOrderResponse(updated))
}

// Cancel handles DELETE /orders/{id}.
// Only PENDING orders can be cancelled.
func (h *OrderHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(w, r)
	if !ok {
		return
	}

	orderID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid order ID"})
		return
	}

	cancelled, err := h.lifecycle.Cancel(r.Context(), actor, orderID)
	if err != nil {
		writeServiceError(w, "cancel order", err)
		return
	}

	writeJSON(w, http.StatusOK, toOrderResponse(cancelled))
}

// --- Helpers ---

func toOrderResponse(o database.Order) orderResponse {
	return orderResponse{
		ID:             o.ID,
		Status:         o.Status,
		Subtotal:       numericToString(o.Subtotal),
		DiscountAmount: numericToString(o.DiscountAmount),
		ReservationFee: numericToString(o.ReservationFee),
		FinalTotal:     numericToString(o.FinalTotal),
		PromotionCode:  textPtr(o.PromotionCode),
		PromotionKind:  textPtr(o.PromotionKind),
		PromotionValue: numericPtr(o.PromotionValue),
		PaymentMethod:  o.PaymentMethod,
		Notes:          textPtr(o.Notes),
		TableID:        textPtr(o.TableID),
		CustomerID:     uuidPtr(o.CustomerID),
		ReservationID:  uuidPtr(o.ReservationID),
		PaymentRef:     textPtr(o.PaymentRef),
		CreatedBy:      o.CreatedBy,
		CreatedAt:      o.CreatedAt,
		ReadyAt:        timePtr(o.ReadyAt),
		UpdatedAt:      o.UpdatedAt,
	}
}

func toOrderDetailResponse(o database.Order, lines []database.OrderLine, payments []database.Payment) orderDetailResponse {
	resp := orderDetailResponse{
		orderResponse: toOrderResponse(o),
		Lines:         make([]orderLineResponse, len(lines)),
		Payments:      make([]paymentResponse, len(payments)),
	}
	for i, l := range lines {
		resp.Lines[i] = orderLineResponse{
			ID:         l.ID,
			MenuItemID: l.MenuItemID,
			Name:       l.Name,
			Category:   l.Category,
			Price:      numericToString(l.Price),
			Quantity:   l.Quantity,
			Subtotal:   numericToString(l.Subtotal),
		}
	}
	for i, p := range payments {
		resp.Payments[i] = toPaymentResponse(p)
	}
	return resp
}
