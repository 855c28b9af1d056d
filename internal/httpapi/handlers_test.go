package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"nexora/backend/internal/domain"
	"nexora/backend/internal/service"
	"nexora/backend/internal/store/memory"
)

const testAdminSecret = "test-admin-secret-0123456789abcdef"

type fixedRates struct{}

func (fixedRates) CurrentRate(_ context.Context) (*domain.RateResponse, error) {
	rate := decimal.RequireFromString("3.7")
	return &domain.RateResponse{Rate: rate, Source: "test", FetchedAt: time.Now().UTC()}, nil
}

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	repo := memory.NewSeeded()
	svc := service.New(repo, fixedRates{}, nil, logger)
	auth := NewAuthManager("test-secret-key", time.Hour, repo)

	return New(svc, auth, "*", testAdminSecret, logger)
}

func loginToken(t *testing.T, handler http.Handler) string {
	t.Helper()

	payload, _ := json.Marshal(map[string]string{
		"username": "admin",
		"password": "admin123",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("login failed: %d %s", rec.Code, rec.Body.String())
	}
	var resp domain.LoginResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	return resp.AccessToken
}

func csrfToken(t *testing.T, handler http.Handler) string {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/csrf-token", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("csrf token fetch failed: %d", rec.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode csrf response: %v", err)
	}
	return body["csrf_token"]
}

// adminRequest sends an authenticated, CSRF-protected JSON request.
func adminRequest(t *testing.T, handler http.Handler, method, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()

	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+loginToken(t, handler))
	req.Header.Set("X-CSRF-Token", csrfToken(t, handler))
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

func TestPublicOrderCreate(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	payload, _ := json.Marshal(map[string]any{
		"full_name":      "Dana Levi",
		"phone":          "050-1234567",
		"city":           "Haifa",
		"amount_usdt":    "250",
		"payment_method": "BIT",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var body struct {
		Order domain.Order `json:"order"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Order.ID == "" || body.Order.Status != domain.OrderStatusNew {
		t.Fatalf("unexpected order: %+v", body.Order)
	}
}

func TestPublicOrderCreate_RejectsBadPaymentMethod(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	payload, _ := json.Marshal(map[string]any{
		"full_name":      "Dana Levi",
		"phone":          "050-1234567",
		"city":           "Haifa",
		"amount_usdt":    "250",
		"payment_method": "WIRE",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestOrderList_RequiresAuth(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestInventory_RequiresAuth(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/inventory", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestOrderLifecycleOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	rec := adminRequest(t, handler, http.MethodPost, "/api/v1/inventory/batches", map[string]any{
		"amount_usdt":            "1000",
		"buy_price_ils_per_usdt": "4.0",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("add batch: expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	orderPayload, _ := json.Marshal(map[string]any{
		"full_name":      "Dana Levi",
		"phone":          "050-1234567",
		"city":           "Haifa",
		"amount_usdt":    "300",
		"payment_method": "CASH_MEETUP",
	})
	orderReq := httptest.NewRequest(http.MethodPost, "/api/v1/orders", bytes.NewReader(orderPayload))
	orderReq.Header.Set("Content-Type", "application/json")
	orderRec := httptest.NewRecorder()
	handler.ServeHTTP(orderRec, orderReq)
	if orderRec.Code != http.StatusCreated {
		t.Fatalf("create order: expected 201, got %d", orderRec.Code)
	}
	var created struct {
		Order domain.Order `json:"order"`
	}
	if err := json.NewDecoder(orderRec.Body).Decode(&created); err != nil {
		t.Fatalf("decode order: %v", err)
	}

	completePath := "/api/v1/orders/" + created.Order.ID + "/complete"
	rec = adminRequest(t, handler, http.MethodPost, completePath, map[string]any{
		"sell_price_ils_per_usdt": "4.5",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("complete: expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var completed struct {
		Order domain.Order `json:"order"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&completed); err != nil {
		t.Fatalf("decode completed order: %v", err)
	}
	if completed.Order.Status != domain.OrderStatusCompleted {
		t.Fatalf("status = %q, want completed", completed.Order.Status)
	}
	if completed.Order.ProfitIls == nil || !completed.Order.ProfitIls.Equal(decimal.RequireFromString("150")) {
		t.Fatalf("profit_ils = %v, want 150", completed.Order.ProfitIls)
	}

	// Completing again conflicts with the terminal state.
	rec = adminRequest(t, handler, http.MethodPost, completePath, map[string]any{
		"sell_price_ils_per_usdt": "4.5",
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("second complete: expected 409, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

// completeSeededOrder funds inventory, creates an order through the public
// form, and completes it, returning the completed order id.
func completeSeededOrder(t *testing.T, handler http.Handler) string {
	t.Helper()

	rec := adminRequest(t, handler, http.MethodPost, "/api/v1/inventory/batches", map[string]any{
		"amount_usdt":            "500",
		"buy_price_ils_per_usdt": "4.0",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("add batch: expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	payload, _ := json.Marshal(map[string]any{
		"full_name":      "Dana Levi",
		"phone":          "050-1234567",
		"city":           "Haifa",
		"amount_usdt":    "100",
		"payment_method": "BIT",
	})
	orderReq := httptest.NewRequest(http.MethodPost, "/api/v1/orders", bytes.NewReader(payload))
	orderReq.Header.Set("Content-Type", "application/json")
	orderRec := httptest.NewRecorder()
	handler.ServeHTTP(orderRec, orderReq)
	if orderRec.Code != http.StatusCreated {
		t.Fatalf("create order: expected 201, got %d", orderRec.Code)
	}
	var created struct {
		Order domain.Order `json:"order"`
	}
	if err := json.NewDecoder(orderRec.Body).Decode(&created); err != nil {
		t.Fatalf("decode order: %v", err)
	}

	rec = adminRequest(t, handler, http.MethodPost, "/api/v1/orders/"+created.Order.ID+"/complete", map[string]any{
		"sell_price_ils_per_usdt": "4.5",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("complete: expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	return created.Order.ID
}

func TestProfitReportRangeIncludesToDay(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	completeSeededOrder(t, handler)

	// A range whose bare-date bounds both name the completion day must
	// include the order: "to" covers the whole named day.
	today := time.Now().UTC().Format("2006-01-02")
	req := httptest.NewRequest(http.MethodGet, "/api/v1/reports/profits?from="+today+"&to="+today, nil)
	req.Header.Set("Authorization", "Bearer "+loginToken(t, handler))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("report: expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var body struct {
		Orders []domain.Order `json:"orders"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if len(body.Orders) != 1 {
		t.Fatalf("orders = %d, want 1 when to names the completion day", len(body.Orders))
	}
}

func TestProfitExportDefaultsToCurrentMonth(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	completeSeededOrder(t, handler)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/export/profits", nil)
	req.Header.Set("Authorization", "Bearer "+loginToken(t, handler))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("export: expected 200, got %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); got != "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet" {
		t.Fatalf("content type = %q, want xlsx for an order completed this month", got)
	}
}

func TestProfitExport_NoData(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/export/profits", nil)
	req.Header.Set("Authorization", "Bearer "+loginToken(t, handler))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["no_data"] != true {
		t.Fatalf("expected no_data:true, got %v", body)
	}
}

func TestAdminReset(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	post := func(secret, confirm string) *httptest.ResponseRecorder {
		payload, _ := json.Marshal(map[string]string{"confirm": confirm})
		req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/reset", bytes.NewReader(payload))
		req.Header.Set("Content-Type", "application/json")
		if secret != "" {
			req.Header.Set("X-Admin-Secret", secret)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	if rec := post("", domain.ResetConfirmText); rec.Code != http.StatusForbidden {
		t.Fatalf("missing secret: expected 403, got %d", rec.Code)
	}
	if rec := post("wrong-secret", domain.ResetConfirmText); rec.Code != http.StatusForbidden {
		t.Fatalf("wrong secret: expected 403, got %d", rec.Code)
	}
	if rec := post(testAdminSecret, "yes please"); rec.Code != http.StatusForbidden {
		t.Fatalf("wrong confirm: expected 403, got %d", rec.Code)
	}

	rec := post(testAdminSecret, domain.ResetConfirmText)
	if rec.Code != http.StatusOK {
		t.Fatalf("reset: expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["success"] != true {
		t.Fatalf("expected success:true, got %v", body)
	}
}
