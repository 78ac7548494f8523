package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/comanda-app/api/internal/cart"
	"github.com/comanda-app/api/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// PromotionServicer defines the service methods needed by promotion handlers.
// Satisfied by *service.PromotionService.
type PromotionServicer interface {
	ApplyCode(ctx context.Context, code string, c *cart.Cart) (*service.PromotionQuote, error)
	ListPromotions(ctx context.Context) ([]service.Promotion, error)
	GetPromotion(ctx context.Context, id uuid.UUID) (service.Promotion, error)
	CreatePromotion(ctx context.Context, req service.CreatePromotionRequest) (service.Promotion, error)
	SetActive(ctx context.Context, id uuid.UUID, active bool) (service.Promotion, error)
}

// PromotionHandler handles promotion endpoints.
type PromotionHandler struct {
	svc     PromotionServicer
	catalog CatalogLoader
}

// NewPromotionHandler creates a new PromotionHandler.
func NewPromotionHandler(svc PromotionServicer, catalog CatalogLoader) *PromotionHandler {
	return &PromotionHandler{svc: svc, catalog: catalog}
}

// RegisterRoutes registers endpoints open to any authenticated caller.
// Expected to be mounted at /promotions.
func (h *PromotionHandler) RegisterRoutes(r chi.Router) {
	r.Post("/validate", h.Validate)
}

// RegisterAdminRoutes registers staff-only promotion management endpoints.
// Expected to be mounted at /promotions behind RequireRole(STAFF).
func (h *PromotionHandler) RegisterAdminRoutes(r chi.Router) {
	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Get("/{id}", h.Get)
	r.Patch("/{id}/active", h.SetActive)
}

// --- Request / Response types ---

type validatePromotionRequest struct {
	Code  string            `json:"code"`
	Items []cartItemRequest `json:"items"`
}

type validatePromotionResponse struct {
	Code           string `json:"code"`
	Kind           string `json:"kind"`
	Value          string `json:"value"`
	Subtotal       string `json:"subtotal"`
	DiscountAmount string `json:"discount_amount"`
	Total          string `json:"total"`
}

type createPromotionRequest struct {
	Code                 string     `json:"code"`
	Kind                 string     `json:"kind"`
	Value                string     `json:"value"`
	ApplicableCategories []string   `json:"applicable_categories"`
	MaxUses              int32      `json:"max_uses"`
	ExpiresAt            *time.Time `json:"expires_at"`
	Active               *bool      `json:"active"`
}

type setActiveRequest struct {
	Active *bool `json:"active"`
}

type promotionResponse struct {
	ID                   uuid.UUID  `json:"id"`
	Code                 string     `json:"code"`
	Kind                 string     `json:"kind"`
	Value                string     `json:"value"`
	ApplicableCategories []string   `json:"applicable_categories"`
	Active               bool       `json:"active"`
	MaxUses              int32      `json:"max_uses"`
	UsesSoFar            int32      `json:"uses_so_far"`
	ExpiresAt            *time.Time `json:"expires_at"`
}

// --- Handlers ---

// Validate handles POST /promotions/validate. It previews the discount for
// a cart and never consumes a use.
func (h *PromotionHandler) Validate(w http.ResponseWriter, r *http.Request) {
	var req validatePromotionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if strings.TrimSpace(req.Code) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "code is required"})
		return
	}

	c, ok := buildCart(w, r, h.catalog, req.Items)
	if !ok {
		return
	}

	q, err := h.svc.ApplyCode(r.Context(), req.Code, c)
	if err != nil {
		writeServiceError(w, "validate promotion", err)
		return
	}

	writeJSON(w, http.StatusOK, validatePromotionResponse{
		Code:           q.Promotion.Code,
		Kind:           string(q.Promotion.Kind),
		Value:          q.Promotion.Value.String(),
		Subtotal:       q.Subtotal.StringFixed(2),
		DiscountAmount: q.DiscountAmount.StringFixed(2),
		Total:          q.Subtotal.Sub(q.DiscountAmount).StringFixed(2),
	})
}

// List handles GET /promotions.
func (h *PromotionHandler) List(w http.ResponseWriter, r *http.Request) {
	promos, err := h.svc.ListPromotions(r.Context())
	if err != nil {
		writeServiceError(w, "list promotions", err)
		return
	}

	resp := make([]promotionResponse, len(promos))
	for i, p := range promos {
		resp[i] = toPromotionResponse(p)
	}
	writeJSON(w, http.StatusOK, resp)
}

// Get handles GET /promotions/{id}.
func (h *PromotionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid promotion ID"})
		return
	}

	p, err := h.svc.GetPromotion(r.Context(), id)
	if err != nil {
		writeServiceError(w, "get promotion", err)
		return
	}

	writeJSON(w, http.StatusOK, toPromotionResponse(p))
}

// Create handles POST /promotions.
func (h *PromotionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createPromotionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}

	p, err := h.svc.CreatePromotion(r.Context(), service.CreatePromotionRequest{
		Code:                 req.Code,
		Kind:                 strings.ToUpper(strings.TrimSpace(req.Kind)),
		Value:                req.Value,
		ApplicableCategories: req.ApplicableCategories,
		MaxUses:              req.MaxUses,
		ExpiresAt:            req.ExpiresAt,
		Active:               active,
	})
	if err != nil {
		writeServiceError(w, "create promotion", err)
		return
	}

	writeJSON(w, http.StatusCreated, toPromotionResponse(p))
}

// SetActive handles PATCH /promotions/{id}/active.
func (h *PromotionHandler) SetActive(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid promotion ID"})
		return
	}

	var req setActiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.Active == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "active is required"})
		return
	}

	p, err := h.svc.SetActive(r.Context(), id, *req.Active)
	if err != nil {
		writeServiceError(w, "set promotion active", err)
		return
	}

	writeJSON(w, http.StatusOK, toPromotionResponse(p))
}

// --- Helpers ---

func toPromotionResponse(p service.Promotion) promotionResponse {
	cats := p.ApplicableCategories
	if cats == nil {
		cats = []string{}
	}
	return promotionResponse{
		ID:                   p.ID,
		Code:                 p.Code,
		Kind:                 string(p.Kind),
		Value:                p.Value.String(),
		ApplicableCategories: cats,
		Active:               p.Active,
		MaxUses:              p.MaxUses,
		UsesSoFar:            p.UsesSoFar,
		ExpiresAt:            p.ExpiresAt,
	}
}
