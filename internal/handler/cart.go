package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/comanda-app/api/internal/cart"
	"github.com/comanda-app/api/internal/catalog"
	"github.com/comanda-app/api/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// CatalogLoader reads the menu items a request refers to.
// Satisfied by *service.CheckoutService.
type CatalogLoader interface {
	LoadCatalog(ctx context.Context, ids []uuid.UUID) (catalog.Snapshot, error)
}

// QuoteServicer prices a cart without writing anything.
// Satisfied by *service.CheckoutService.
type QuoteServicer interface {
	CatalogLoader
	Quote(ctx context.Context, c *cart.Cart, code string, withReservation bool) (*service.Quote, error)
}

// CartHandler handles cart preview endpoints.
type CartHandler struct {
	svc QuoteServicer
}

// NewCartHandler creates a new CartHandler.
func NewCartHandler(svc QuoteServicer) *CartHandler {
	return &CartHandler{svc: svc}
}

// RegisterRoutes registers cart endpoints on the given Chi router.
// Expected to be mounted at /cart.
func (h *CartHandler) RegisterRoutes(r chi.Router) {
	r.Post("/quote", h.Quote)
}

// --- Request / Response types ---

type cartItemRequest struct {
	MenuItemID string `json:"menu_item_id"`
	Quantity   int32  `json:"quantity"`
}

type quoteRequest struct {
	Items           []cartItemRequest `json:"items"`
	PromotionCode   string            `json:"promotion_code"`
	WithReservation bool              `json:"with_reservation"`
}

type cartLineResponse struct {
	MenuItemID uuid.UUID `json:"menu_item_id"`
	Name       string    `json:"name"`
	Category   string    `json:"category"`
	Price      string    `json:"price"`
	Quantity   int32     `json:"quantity"`
	Subtotal   string    `json:"subtotal"`
}

type appliedPromotionResponse struct {
	Code  string `json:"code"`
	Kind  string `json:"kind"`
	Value string `json:"value"`
}

type quoteResponse struct {
	Lines          []cartLineResponse        `json:"lines"`
	Subtotal       string                    `json:"subtotal"`
	Promotion      *appliedPromotionResponse `json:"promotion"`
	DiscountAmount string                    `json:"discount_amount"`
	ReservationFee string                    `json:"reservation_fee"`
	FinalTotal     string                    `json:"final_total"`
}

// --- Handlers ---

// Quote handles POST /cart/quote.
func (h *CartHandler) Quote(w http.ResponseWriter, r *http.Request) {
	var req quoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	c, ok := buildCart(w, r, h.svc, req.Items)
	if !ok {
		return
	}

	q, err := h.svc.Quote(r.Context(), c, req.PromotionCode, req.WithReservation)
	if err != nil {
		writeServiceError(w, "quote cart", err)
		return
	}

	resp := quoteResponse{
		Lines:          make([]cartLineResponse, len(q.Lines)),
		Subtotal:       q.Subtotal.StringFixed(2),
		DiscountAmount: q.DiscountAmount.StringFixed(2),
		ReservationFee: q.ReservationFee.StringFixed(2),
		FinalTotal:     q.FinalTotal.StringFixed(2),
	}
	for i, l := range q.Lines {
		resp.Lines[i] = cartLineResponse{
			MenuItemID: l.MenuItemID,
			Name:       l.Name,
			Category:   l.Category,
			Price:      l.Price.StringFixed(2),
			Quantity:   l.Quantity,
			Subtotal:   l.Subtotal().StringFixed(2),
		}
	}
	if q.Promotion != nil {
		resp.Promotion = &appliedPromotionResponse{
			Code:  q.Promotion.Code,
			Kind:  string(q.Promotion.Kind),
			Value: q.Promotion.Value.String(),
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// --- Helpers ---

// parseCartItems validates the raw request lines.
func parseCartItems(items []cartItemRequest) ([]service.CartItem, string) {
	if len(items) == 0 {
		return nil, "items are required"
	}
	out := make([]service.CartItem, len(items))
	for i, item := range items {
		id, err := uuid.Parse(item.MenuItemID)
		if err != nil {
			return nil, formatItemError(i, "invalid menu_item_id")
		}
		if item.Quantity <= 0 {
			return nil, formatItemError(i, "quantity must be > 0")
		}
		out[i] = service.CartItem{MenuItemID: id, Quantity: item.Quantity}
	}
	return out, ""
}

// buildCart loads the referenced menu items and assembles a cart. It writes
// the error response itself and returns false on failure.
func buildCart(w http.ResponseWriter, r *http.Request, loader CatalogLoader, items []cartItemRequest) (*cart.Cart, bool) {
	parsed, msg := parseCartItems(items)
	if msg != "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
		return nil, false
	}

	snap, err := loader.LoadCatalog(r.Context(), service.CartItemIDs(parsed))
	if err != nil {
		writeServiceError(w, "load catalog", err)
		return nil, false
	}

	c, err := service.CartFromCatalog(snap, parsed)
	if err != nil {
		writeServiceError(w, "build cart", err)
		return nil, false
	}
	return c, true
}
