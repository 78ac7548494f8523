package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/comanda-app/api/internal/database"
	"github.com/comanda-app/api/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// ReservationServicer defines the service methods needed by reservation handlers.
// Satisfied by *service.ReservationService.
type ReservationServicer interface {
	CreateReservation(ctx context.Context, actor service.Actor, req service.CreateReservationRequest) (database.Reservation, error)
	GetReservation(ctx context.Context, actor service.Actor, id uuid.UUID) (database.Reservation, error)
	CancelReservation(ctx context.Context, actor service.Actor, id uuid.UUID) (*service.ReservationCancellation, error)
}

// ReservationHandler handles table reservation endpoints.
type ReservationHandler struct {
	svc ReservationServicer
}

// NewReservationHandler creates a new ReservationHandler.
func NewReservationHandler(svc ReservationServicer) *ReservationHandler {
	return &ReservationHandler{svc: svc}
}

// RegisterRoutes registers reservation endpoints on the given Chi router.
// Expected to be mounted at /reservations.
func (h *ReservationHandler) RegisterRoutes(r chi.Router) {
	r.Post("/", h.Create)
	r.Get("/{id}", h.Get)
	r.Delete("/{id}", h.Cancel)
}

// --- Request / Response types ---

type createReservationRequest struct {
	TableID     string    `json:"table_id"`
	ScheduledAt time.Time `json:"scheduled_at"`
	PartySize   int32     `json:"party_size"`
	Location    string    `json:"location"`
}

type reservationResponse struct {
	ID            uuid.UUID `json:"id"`
	TableID       string    `json:"table_id"`
	CustomerID    *string   `json:"customer_id"`
	ScheduledAt   time.Time `json:"scheduled_at"`
	PartySize     int32     `json:"party_size"`
	Location      string    `json:"location"`
	Status        string    `json:"status"`
	HasMenu       bool      `json:"has_menu"`
	LinkedOrderID *string   `json:"linked_order_id"`
	BaseFee       string    `json:"base_fee"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type cancelReservationResponse struct {
	Reservation reservationResponse `json:"reservation"`
	Order       *orderResponse      `json:"order,omitempty"`
}

// --- Handlers ---

// Create handles POST /reservations.
func (h *ReservationHandler) Create(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(w, r)
	if !ok {
		return
	}

	var req createReservationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	res, err := h.svc.CreateReservation(r.Context(), actor, service.CreateReservationRequest{
		TableID:     req.TableID,
		ScheduledAt: req.ScheduledAt,
		PartySize:   req.PartySize,
		Location:    req.Location,
	})
	if err != nil {
		writeServiceError(w, "create reservation", err)
		return
	}

	writeJSON(w, http.StatusCreated, toReservationResponse(res))
}

// Get handles GET /reservations/{id}.
func (h *ReservationHandler) Get(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(w, r)
	if !ok {
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid reservation ID"})
		return
	}

	res, err := h.svc.GetReservation(r.Context(), actor, id)
	if err != nil {
		writeServiceError(w, "get reservation", err)
		return
	}

	writeJSON(w, http.StatusOK, toReservationResponse(res))
}

// Cancel handles DELETE /reservations/{id}. A linked order that has not been
// paid is cancelled with it.
func (h *ReservationHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(w, r)
	if !ok {
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid reservation ID"})
		return
	}

	result, err := h.svc.CancelReservation(r.Context(), actor, id)
	if err != nil {
		writeServiceError(w, "cancel reservation", err)
		return
	}

	resp := cancelReservationResponse{Reservation: toReservationResponse(result.Reservation)}
	if result.Order != nil {
		o := toOrderResponse(*result.Order)
		resp.Order = &o
	}
	writeJSON(w, http.StatusOK, resp)
}

// --- Helpers ---

func toReservationResponse(res database.Reservation) reservationResponse {
	return reservationResponse{
		ID:            res.ID,
		TableID:       res.TableID,
		CustomerID:    uuidPtr(res.CustomerID),
		ScheduledAt:   res.ScheduledAt,
		PartySize:     res.PartySize,
		Location:      res.Location,
		Status:        res.Status,
		HasMenu:       res.HasMenu,
		LinkedOrderID: uuidPtr(res.LinkedOrderID),
		BaseFee:       numericToString(res.BaseFee),
		CreatedAt:     res.CreatedAt,
		UpdatedAt:     res.UpdatedAt,
	}
}
