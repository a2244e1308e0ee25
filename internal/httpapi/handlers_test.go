package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"kasirtoko/backend/internal/cache"
	"kasirtoko/backend/internal/domain"
	"kasirtoko/backend/internal/report"
	"kasirtoko/backend/internal/service"
	"kasirtoko/backend/internal/store/memory"
)

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	repo := memory.NewSeeded()
	reports := report.NewAggregator(repo, cache.NoopReportCache{}, time.Minute, time.UTC)
	svc := service.New(repo, reports)
	auth := NewAuthManager("test-secret-key", time.Hour, repo)

	return New(svc, auth, "*")
}

func loginAs(t *testing.T, handler http.Handler, username string, password string) string {
	t.Helper()

	payload, _ := json.Marshal(map[string]string{
		"username": username,
		"password": password,
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("login as %s failed: %d %s", username, rec.Code, rec.Body.String())
	}

	var resp domain.LoginResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	return resp.AccessToken
}

func doJSON(t *testing.T, handler http.Handler, method string, path string, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestHandleLogin_InvalidCredentials(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	payload, _ := json.Marshal(map[string]string{
		"username": "admin",
		"password": "wrongpassword",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestHandleLogin_RateLimit(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	// The loginLimiter allows 5 attempts per minute.
	// Fire 6 requests from the same "IP" (httptest uses RemoteAddr "192.0.2.1:1234").
	payload, _ := json.Marshal(map[string]string{
		"username": "admin",
		"password": "badpass",
	})

	var lastCode int
	for i := 0; i < 6; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
		req.Header.Set("Content-Type", "application/json")
		req.RemoteAddr = "192.0.2.1:1234"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		lastCode = rec.Code
	}

	if lastCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after 6 attempts, got %d", lastCode)
	}
}

func TestHandleItems_RequiresAuth(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/items", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestHandleItems_CashierCanListButNotCreate(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginAs(t, handler, "cashier", "cashier123")

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/items", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var list domain.ItemListResponse
	if err := json.NewDecoder(rec.Body).Decode(&list); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(list.Items) == 0 {
		t.Fatalf("expected seeded items in response")
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/items", token, domain.ItemCreateRequest{
		Name: "Martabak", PriceCents: 2200000, Stock: 10,
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for cashier create, got %d", rec.Code)
	}
}

func TestItemLifecycleAsAdmin(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginAs(t, handler, "admin", "admin123")

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/items", token, domain.ItemCreateRequest{
		Name: "Sate Ayam", PriceCents: 1800000, Stock: 25,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var created domain.ItemResponse
	if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if created.Item.ID < 1 {
		t.Fatalf("expected assigned item id, got %d", created.Item.ID)
	}

	newPrice := int64(1900000)
	rec = doJSON(t, handler, http.MethodPut, fmt.Sprintf("/api/v1/items/%d", created.Item.ID), token, domain.ItemUpdateRequest{
		PriceCents: &newPrice,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodPost, fmt.Sprintf("/api/v1/items/%d/stock", created.Item.ID), token, domain.StockAdjustRequest{Delta: 5})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for stock adjust, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var adjusted domain.ItemResponse
	if err := json.NewDecoder(rec.Body).Decode(&adjusted); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if adjusted.Item.Stock != 30 {
		t.Fatalf("expected stock 30, got %d", adjusted.Item.Stock)
	}

	rec = doJSON(t, handler, http.MethodDelete, fmt.Sprintf("/api/v1/items/%d", created.Item.ID), token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for delete, got %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodDelete, fmt.Sprintf("/api/v1/items/%d", created.Item.ID), token, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for repeat delete, got %d", rec.Code)
	}
}

func TestTransactionCreateAndConflict(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginAs(t, handler, "cashier", "cashier123")

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/transactions", token, domain.TransactionCreateRequest{
		Items: []domain.CartLine{{ItemID: 1, Quantity: 2}},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var created domain.TransactionResponse
	if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if created.Transaction.Status != domain.TxStatusCompleted || created.Transaction.TotalCents == 0 {
		t.Fatalf("unexpected transaction: %+v", created.Transaction)
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/transactions", token, domain.TransactionCreateRequest{
		Items: []domain.CartLine{{ItemID: 1, Quantity: 100000}},
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for oversell, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/transactions", token, domain.TransactionCreateRequest{
		Items: []domain.CartLine{{ItemID: 9999, Quantity: 1}},
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown item, got %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/transactions", token, domain.TransactionCreateRequest{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty cart, got %d", rec.Code)
	}
}

func TestVoidTransactionFlow(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	cashierToken := loginAs(t, handler, "cashier", "cashier123")
	adminToken := loginAs(t, handler, "admin", "admin123")

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/transactions", cashierToken, domain.TransactionCreateRequest{
		Items: []domain.CartLine{{ItemID: 2, Quantity: 1}},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("sale failed: %d %s", rec.Code, rec.Body.String())
	}
	var created domain.TransactionResponse
	if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	txID := created.Transaction.ID

	voidPath := fmt.Sprintf("/api/v1/transactions/%d/void", txID)

	rec = doJSON(t, handler, http.MethodPost, voidPath, cashierToken, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for cashier void, got %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodPost, voidPath, adminToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for void, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var voided domain.VoidResponse
	if err := json.NewDecoder(rec.Body).Decode(&voided); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if voided.Transaction.Status != domain.TxStatusVoided {
		t.Fatalf("expected voided status, got %s", voided.Transaction.Status)
	}

	rec = doJSON(t, handler, http.MethodPost, voidPath, adminToken, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for double void, got %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/transactions/424242/void", adminToken, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown transaction, got %d", rec.Code)
	}
}

func TestDailyReportEndpoint(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	cashierToken := loginAs(t, handler, "cashier", "cashier123")
	adminToken := loginAs(t, handler, "admin", "admin123")

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/daily-report", cashierToken, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for cashier report, got %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/daily-report?date=not-a-date", adminToken, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed date, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/daily-report?view=sideways", adminToken, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown view, got %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/daily-report", adminToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var daily domain.DailyReport
	if err := json.NewDecoder(rec.Body).Decode(&daily); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if daily.Summary.Timezone == "" {
		t.Fatalf("expected timezone in summary, got %+v", daily.Summary)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/daily-report?view=timeline", adminToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for timeline view, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}
