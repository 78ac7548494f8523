package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/comanda-app/api/internal/database"
	"github.com/comanda-app/api/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// PaymentServicer defines the service methods needed by payment handlers.
// Satisfied by *service.LifecycleService.
type PaymentServicer interface {
	CompletePayment(ctx context.Context, actor service.Actor, orderID uuid.UUID, req service.PaymentCompletion) (*service.PaymentResult, error)
	GetOrder(ctx context.Context, actor service.Actor, orderID uuid.UUID) (*service.OrderDetail, error)
}

// PaymentHandler handles payment endpoints.
type PaymentHandler struct {
	svc PaymentServicer
}

// NewPaymentHandler creates a new PaymentHandler.
func NewPaymentHandler(svc PaymentServicer) *PaymentHandler {
	return &PaymentHandler{svc: svc}
}

// RegisterRoutes registers payment endpoints on the given Chi router.
// Expected to be mounted at /orders/{id}/payments
func (h *PaymentHandler) RegisterRoutes(r chi.Router) {
	r.Post("/", h.Complete)
	r.Get("/", h.List)
}

// --- Request / Response types ---

type completePaymentRequest struct {
	Method         string `json:"method"`
	Reference      string `json:"reference"`
	AmountReceived string `json:"amount_received"`
}

type paymentResponse struct {
	ID             uuid.UUID  `json:"id"`
	OrderID        uuid.UUID  `json:"order_id"`
	Method         string     `json:"method"`
	Amount         string     `json:"amount"`
	Status         string     `json:"status"`
	Reference      *string    `json:"reference"`
	AmountReceived *string    `json:"amount_received"`
	ChangeAmount   *string    `json:"change_amount"`
	ProcessedBy    *string    `json:"processed_by"`
	ProcessedAt    *time.Time `json:"processed_at"`
	CreatedAt      time.Time  `json:"created_at"`
}

type paymentResultResponse struct {
	Order   orderResponse   `json:"order"`
	Payment paymentResponse `json:"payment"`
}

// --- Handlers ---

// Complete handles POST /orders/{id}/payments. It settles the pending
// payment of a READY order and marks the order PAID. An empty body pays the
// exact total with the order's payment method.
func (h *PaymentHandler) Complete(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(w, r)
	if !ok {
		return
	}

	orderID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid order ID"})
		return
	}

	var req completePaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	result, err := h.svc.CompletePayment(r.Context(), actor, orderID, service.PaymentCompletion{
		Method:         strings.ToUpper(strings.TrimSpace(req.Method)),
		Reference:      strings.TrimSpace(req.Reference),
		AmountReceived: strings.TrimSpace(req.AmountReceived),
	})
	if err != nil {
		writeServiceError(w, "complete payment", err)
		return
	}

	writeJSON(w, http.StatusOK, paymentResultResponse{
		Order:   toOrderResponse(result.Order),
		Payment: toPaymentResponse(result.Payment),
	})
}

// List handles GET /orders/{id}/payments.
func (h *PaymentHandler) List(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(w, r)
	if !ok {
		return
	}

	orderID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid order ID"})
		return
	}

	detail, err := h.svc.GetOrder(r.Context(), actor, orderID)
	if err != nil {
		writeServiceError(w, "list payments", err)
		return
	}

	resp := make([]paymentResponse, len(detail.Payments))
	for i, p := range detail.Payments {
		resp[i] = toPaymentResponse(p)
	}
	writeJSON(w, http.StatusOK, resp)
}

// --- Helpers ---

func toPaymentResponse(p database.Payment) paymentResponse {
	return paymentResponse{
		ID:             p.ID,
		OrderID:        p.OrderID,
		Method:         p.Method,
		Amount:         numericToString(p.Amount),
		Status:         p.Status,
		Reference:      textPtr(p.Reference),
		AmountReceived: numericPtr(p.AmountReceived),
		ChangeAmount:   numericPtr(p.ChangeAmount),
		ProcessedBy:    uuidPtr(p.ProcessedBy),
		ProcessedAt:    timePtr(p.ProcessedAt),
		CreatedAt:      p.CreatedAt,
	}
}
