package handler_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/comanda-app/api/internal/auth"
	"github.com/comanda-app/api/internal/catalog"
	"github.com/comanda-app/api/internal/enum"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

const testJWTSecret = "test-secret-for-handlers"

func doAuthRequest(t *testing.T, router http.Handler, method, path string, body interface{}, claims *auth.Claims) *httptest.ResponseRecorder {
	t.Helper()

	var req *http.Request
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		req = httptest.NewRequest(method, path, bytes.NewReader(b))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}

	if claims != nil {
		// Generate a real JWT token from claims
		token, err := auth.GenerateToken(testJWTSecret, claims.UserID, claims.Role, time.Hour)
		if err != nil {
			t.Fatalf("generate token: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var resp map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp
}

func staffClaims() *auth.Claims {
	return &auth.Claims{UserID: uuid.New(), Role: enum.RoleStaff}
}

func customerClaims() *auth.Claims {
	return &auth.Claims{UserID: uuid.New(), Role: enum.RoleCustomer}
}

func makeNumeric(s string) pgtype.Numeric {
	var n pgtype.Numeric
	_ = n.Scan(s)
	return n
}

func testMenuItem(name, category, price string) catalog.MenuItem {
	return catalog.MenuItem{
		ID:        uuid.New(),
		Name:      name,
		Category:  category,
		UnitPrice: decimal.RequireFromString(price),
		Available: true,
	}
}
