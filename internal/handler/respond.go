package handler

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/comanda-app/api/internal/middleware"
	"github.com/comanda-app/api/internal/service"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("ERROR: failed to encode JSON response: %v", err)
	}
}

// actorFromRequest returns the authenticated caller. It writes a 401 and
// returns false when the request carries no claims.
func actorFromRequest(w http.ResponseWriter, r *http.Request) (service.Actor, bool) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
		return service.Actor{}, false
	}
	return service.ActorFromClaims(claims), true
}

// writeServiceError maps an order engine error to an HTTP response.
// Unexpected errors are logged with op and reported as 500.
func writeServiceError(w http.ResponseWriter, op string, err error) {
	var (
		stockErr   *service.StockInsufficientError
		promoErr   *service.PromotionInvalidError
		transErr   *service.StateTransitionError
		linkErr    *service.LinkedEntityNotFoundError
		persistErr *service.PersistenceError
	)

	switch {
	case errors.Is(err, service.ErrValidation):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.As(err, &stockErr):
		writeJSON(w, http.StatusConflict, map[string]interface{}{
			"error":        err.Error(),
			"menu_item_id": stockErr.ItemID,
			"name":         stockErr.Name,
			"available":    stockErr.Available,
		})
	case errors.As(err, &promoErr):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"error":  err.Error(),
			"code":   promoErr.Code,
			"reason": string(promoErr.Reason),
		})
	case errors.As(err, &transErr):
		writeJSON(w, http.StatusConflict, map[string]string{
			"error": err.Error(),
			"from":  transErr.From,
			"to":    transErr.To,
		})
	case errors.As(err, &linkErr):
		writeJSON(w, http.StatusNotFound, map[string]interface{}{
			"error":  err.Error(),
			"entity": linkErr.Entity,
			"id":     linkErr.ID,
		})
	case errors.Is(err, service.ErrOrderNotFound),
		errors.Is(err, service.ErrPromotionNotFound),
		errors.Is(err, service.ErrReservationNotFound),
		errors.Is(err, service.ErrPaymentNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, service.ErrForbidden):
		writeJSON(w, http.StatusForbidden, map[string]string{"error": err.Error()})
	case errors.Is(err, service.ErrDuplicatePromotionCode):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.As(err, &persistErr):
		log.Printf("WARNING: %s: %v", op, err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "temporarily unavailable, please retry"})
	default:
		log.Printf("ERROR: %s: %v", op, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
	}
}

// --- Conversion helpers ---

func numericToString(n pgtype.Numeric) string {
	if !n.Valid {
		return "0.00"
	}
	val, err := n.Value()
	if err != nil || val == nil {
		return "0.00"
	}
	d, err := decimal.NewFromString(val.(string))
	if err != nil {
		return "0.00"
	}
	return d.StringFixed(2)
}

func numericPtr(n pgtype.Numeric) *string {
	if !n.Valid {
		return nil
	}
	s := numericToString(n)
	return &s
}

func textPtr(t pgtype.Text) *string {
	if !t.Valid {
		return nil
	}
	s := t.String
	return &s
}

func uuidPtr(u pgtype.UUID) *string {
	if !u.Valid {
		return nil
	}
	s := uuid.UUID(u.Bytes).String()
	return &s
}

func timePtr(t pgtype.Timestamptz) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func formatItemError(idx int, msg string) string {
	return "items[" + strconv.Itoa(idx) + "]: " + msg
}

// parsePagination reads limit (default 20, max 100) and offset from the query.
func parsePagination(r *http.Request) (int, int) {
	limit := 20
	if s := r.URL.Query().Get("limit"); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v > 0 {
			limit = v
		}
	}
	if limit > 100 {
		limit = 100
	}

	offset := 0
	if s := r.URL.Query().Get("offset"); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v >= 0 {
			offset = v
		}
	}
	return limit, offset
}
