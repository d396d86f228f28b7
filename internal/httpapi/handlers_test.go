package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"bukukas/backend/internal/service"
	"bukukas/backend/internal/store/memory"
)

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	repo := memory.NewSeeded()
	svc := service.New(repo, nil, nil, time.Second, nil)
	auth := NewAuthManager("test-secret-key", time.Hour, repo)

	return New(svc, auth, "*", nil)
}

func doJSON(t *testing.T, handler http.Handler, method, path, token string, payload any) *httptest.ResponseRecorder {
	t.Helper()

	var body *bytes.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func login(t *testing.T, handler http.Handler, username, password string) string {
	t.Helper()

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"username": username,
		"password": password,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login %s: expected 200, got %d (body: %s)", username, rec.Code, rec.Body.String())
	}

	var body struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode login body: %v", err)
	}
	if body.AccessToken == "" {
		t.Fatalf("expected access token in login response")
	}
	return body.AccessToken
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	rec := doJSON(t, handler, http.MethodGet, "/healthz", "", nil)
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

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"username": "admin",
		"password": "wrongpassword",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestHandleLogin_RateLimit(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	// The loginLimiter allows 5 attempts per minute; httptest requests share
	// RemoteAddr 192.0.2.1, so the sixth must be rejected.
	var last *httptest.ResponseRecorder
	for i := 0; i < 6; i++ {
		last = doJSON(t, handler, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
			"username": "admin",
			"password": "badpass",
		})
	}
	if last.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 on sixth attempt, got %d", last.Code)
	}
}

func TestUnauthenticatedRequestRejected(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/financial/cash-flow", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/financial/cash-flow", "not-a-real-token", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for garbage token, got %d", rec.Code)
	}
}

func TestSessionLifecycleOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	managerToken := login(t, handler, "manager", "manager123")
	cashierToken := login(t, handler, "cashier", "cashier123")

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/cash-sessions/open", managerToken, map[string]string{})
	if rec.Code != http.StatusCreated {
		t.Fatalf("open: expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/financial/expenses", cashierToken, map[string]any{
		"description": "galon air",
		"amount":      "25000",
		"category":    "supplies",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expense: expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/cash-sessions/current", managerToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("current: expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var current struct {
		Session struct {
			IsOpen        bool   `json:"is_open"`
			TotalExpenses string `json:"total_expenses"`
		} `json:"session"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&current); err != nil {
		t.Fatalf("decode current session: %v", err)
	}
	if !current.Session.IsOpen {
		t.Fatalf("expected open session")
	}
	if current.Session.TotalExpenses != "25000" {
		t.Fatalf("expected total 25000, got %s", current.Session.TotalExpenses)
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/cash-sessions/close", managerToken, map[string]string{})
	if rec.Code != http.StatusOK {
		t.Fatalf("close: expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/cash-sessions/current", managerToken, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("current after close: expected 404, got %d", rec.Code)
	}
}

func TestOpenSessionTwiceReturnsConflict(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	managerToken := login(t, handler, "manager", "manager123")

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/cash-sessions/open", managerToken, map[string]string{})
	if rec.Code != http.StatusCreated {
		t.Fatalf("first open: expected 201, got %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/cash-sessions/open", managerToken, map[string]string{})
	if rec.Code != http.StatusConflict {
		t.Fatalf("second open: expected 409, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestCashierCannotOpenSession(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	cashierToken := login(t, handler, "cashier", "cashier123")

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/cash-sessions/open", cashierToken, map[string]string{})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestExpenseWithoutOpenSession(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	cashierToken := login(t, handler, "cashier", "cashier123")

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/financial/expenses", cashierToken, map[string]any{
		"description": "galon air",
		"amount":      "25000",
		"category":    "supplies",
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestCashFlowRoundTrip(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	managerToken := login(t, handler, "manager", "manager123")

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/financial/cash-flow", managerToken, map[string]any{
		"type":        "INCOME",
		"description": "penjualan tunai",
		"amount":      "5000000",
		"category":    "sales",
		"date":        "2024-01-10",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("record flow: expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/financial/cash-flow?startDate=2024-01-01&endDate=2024-01-31", managerToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list flows: expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var listed struct {
		Flows []struct {
			Amount string `json:"amount"`
			Type   string `json:"type"`
		} `json:"cash_flows"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&listed); err != nil {
		t.Fatalf("decode flow list: %v", err)
	}
	if len(listed.Flows) != 1 || listed.Flows[0].Amount != "5000000" {
		t.Fatalf("unexpected flow list: %+v", listed.Flows)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/financial/cash-flow/report?startDate=2024-01-01&endDate=2024-01-31", managerToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("report: expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var report struct {
		TotalIncome string `json:"total_income"`
		NetCashFlow string `json:"net_cash_flow"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if report.TotalIncome != "5000000" || report.NetCashFlow != "5000000" {
		t.Fatalf("unexpected report figures: %+v", report)
	}
}

func TestReportRejectsBadWindow(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	managerToken := login(t, handler, "manager", "manager123")

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/financial/cash-flow/report?startDate=2024-01-31&endDate=2024-01-01", managerToken, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/financial/cash-flow/report", managerToken, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing window, got %d", rec.Code)
	}
}

func TestCrossStoreQueryForbidden(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	managerToken := login(t, handler, "manager", "manager123")

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/financial/cash-flow?store_id=store-002", managerToken, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestConsolidatedReportAdminOnly(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	managerToken := login(t, handler, "manager", "manager123")
	rec := doJSON(t, handler, http.MethodGet, "/api/v1/financial/consolidated-report?startDate=2024-01-01&endDate=2024-01-31", managerToken, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("manager: expected 403, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	adminToken := login(t, handler, "admin", "admin123")
	rec = doJSON(t, handler, http.MethodGet, "/api/v1/financial/consolidated-report?startDate=2024-01-01&endDate=2024-01-31", adminToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("admin: expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var report struct {
		TotalStores int `json:"total_stores"`
		Stores      []struct {
			StoreID string `json:"store_id"`
		} `json:"stores"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&report); err != nil {
		t.Fatalf("decode consolidated report: %v", err)
	}
	if report.TotalStores != 2 || len(report.Stores) != 2 {
		t.Fatalf("expected both seeded stores in report, got %+v", report)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	managerToken := login(t, handler, "manager", "manager123")

	rec := doJSON(t, handler, http.MethodDelete, "/api/v1/cash-sessions/open", managerToken, nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}
