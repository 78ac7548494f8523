package handler

import (
	"context"
	"log"
	"net/http"
	"strings"

	"github.com/comanda-app/api/internal/catalog"
	"github.com/comanda-app/api/internal/database"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// MenuStore defines the database methods needed by menu handlers.
// Satisfied by *database.Queries; narrow interface for testability.
type MenuStore interface {
	ListMenuItems(ctx context.Context) ([]database.MenuItem, error)
	ListMenuItemsByIDs(ctx context.Context, ids []uuid.UUID) ([]database.MenuItem, error)
}

// MenuHandler serves the catalog read-only. Menu items are managed by the
// catalog owner, not through this API.
type MenuHandler struct {
	store MenuStore
}

// NewMenuHandler creates a new MenuHandler.
func NewMenuHandler(store MenuStore) *MenuHandler {
	return &MenuHandler{store: store}
}

// RegisterRoutes registers menu endpoints on the given Chi router.
// Expected to be mounted at /menu
func (h *MenuHandler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.List)
	r.Get("/{id}", h.Get)
}

// --- Response types ---

type menuItemResponse struct {
	ID              uuid.UUID `json:"id"`
	Name            string    `json:"name"`
	Category        string    `json:"category"`
	UnitPrice       string    `json:"unit_price"`
	DiscountPercent *string   `json:"discount_percent"`
	EffectivePrice  string    `json:"effective_price"`
	Stock           *int32    `json:"stock"`
	Available       bool      `json:"available"`
}

func toMenuItemResponse(row database.MenuItem) menuItemResponse {
	item := catalog.FromRow(row)
	resp := menuItemResponse{
		ID:             item.ID,
		Name:           item.Name,
		Category:       item.Category,
		UnitPrice:      item.UnitPrice.StringFixed(2),
		EffectivePrice: item.EffectivePrice().StringFixed(2),
		Stock:          item.Stock,
		Available:      item.Available,
	}
	if item.DiscountPercent != nil {
		s := item.DiscountPercent.String()
		resp.DiscountPercent = &s
	}
	return resp
}

// --- Handlers ---

// List returns every menu item, optionally filtered by ?category=.
func (h *MenuHandler) List(w http.ResponseWriter, r *http.Request) {
	items, err := h.store.ListMenuItems(r.Context())
	if err != nil {
		log.Printf("ERROR: list menu items: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	category := strings.TrimSpace(r.URL.Query().Get("category"))
	resp := make([]menuItemResponse, 0, len(items))
	for _, it := range items {
		if category != "" && !strings.EqualFold(it.Category, category) {
			continue
		}
		resp = append(resp, toMenuItemResponse(it))
	}

	writeJSON(w, http.StatusOK, resp)
}

// Get returns a single menu item by ID.
func (h *MenuHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid menu item ID"})
		return
	}

	items, err := h.store.ListMenuItemsByIDs(r.Context(), []uuid.UUID{id})
	if err != nil {
		log.Printf("ERROR: get menu item: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	if len(items) == 0 {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "menu item not found"})
		return
	}

	writeJSON(w, http.StatusOK, toMenuItemResponse(items[0]))
}
